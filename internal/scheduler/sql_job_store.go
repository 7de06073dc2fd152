package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/retry"

	"github.com/google/uuid"
)

type SqlJobStore struct {
	database          *sql.DB
	queryTimeout      time.Duration
	visibilityTimeout time.Duration
	providerSettings  map[domain.Provider]config.ProviderSettings
}

func NewSqlJobStore(cfg *config.Config, database *sql.DB) (*SqlJobStore, error) {
	return &SqlJobStore{
		database:          database,
		queryTimeout:      cfg.SyncDatabaseQueryTimeout,
		visibilityTimeout: cfg.SchedulerVisibilityTimeout,
		providerSettings:  cfg.Providers,
	}, nil
}

func (js *SqlJobStore) maxAttemptsForQueue(queue string) int {
	if settings, ok := js.providerSettings[ProviderFromQueue(queue)]; ok {
		return settings.MaxAttempts
	}
	return retry.DefaultMaxAttempts
}

func (js *SqlJobStore) Enqueue(ctx context.Context, queue string, operation string, args interface{}) (string, error) {

	ctx, cancel := context.WithTimeout(ctx, js.queryTimeout)
	defer cancel()

	serializedArgs, err := json.Marshal(args)
	if err != nil {
		logger.LogError("Unable to marshal job args", err)
		return "", err
	}

	jobID := uuid.NewString()
	correlationID := uuid.NewString()

	_, err = js.database.ExecContext(ctx,
		`INSERT INTO crm_sync_jobs (id, queue, operation, args, status, attempts, max_attempts, run_after, correlation_id)
         VALUES ($1, $2, $3, $4, $5, 0, $6, NOW(), $7)`,
		jobID, queue, operation, serializedArgs, StatusQueued, js.maxAttemptsForQueue(queue), correlationID)
	if err != nil {
		logger.LogError("SQL insert failed", err)
		return "", err
	}

	metrics.enqueuedJobCounter.WithLabelValues(queue).Inc()

	return jobID, nil
}

// Claim hands one runnable job to the caller.  SKIP LOCKED keeps concurrent
// workers from fighting over the same row, and the visibility timeout makes
// an abandoned claim reappear instead of vanishing.
func (js *SqlJobStore) Claim(ctx context.Context, queue string) (Job, error) {

	ctx, cancel := context.WithTimeout(ctx, js.queryTimeout)
	defer cancel()

	var job Job

	err := js.database.QueryRowContext(ctx,
		`UPDATE crm_sync_jobs
         SET status = $3, locked_until = NOW() + $2 * INTERVAL '1 second', updated_at = NOW()
         WHERE id = (
             SELECT id FROM crm_sync_jobs
             WHERE queue = $1
               AND run_after <= NOW()
               AND (status = 'queued' OR status = 'retrying'
                    OR (status = 'running' AND locked_until < NOW()))
             ORDER BY run_after
             FOR UPDATE SKIP LOCKED
             LIMIT 1)
         RETURNING id, queue, operation, args, attempts, max_attempts, correlation_id, created_at`,
		queue, js.visibilityTimeout.Seconds(), StatusRunning).Scan(
		&job.ID, &job.Queue, &job.Operation, &job.Args, &job.Attempts,
		&job.MaxAttempts, &job.CorrelationID, &job.CreatedAt)

	if err == sql.ErrNoRows {
		return job, ErrNoJobs
	}
	if err != nil {
		logger.LogError("SQL claim failed", err)
		return job, err
	}

	job.Status = StatusRunning

	return job, nil
}

func (js *SqlJobStore) Requeue(ctx context.Context, jobID string, delay time.Duration) error {

	ctx, cancel := context.WithTimeout(ctx, js.queryTimeout)
	defer cancel()

	_, err := js.database.ExecContext(ctx,
		`UPDATE crm_sync_jobs
         SET status = $2, run_after = NOW() + $3 * INTERVAL '1 second', locked_until = NULL, updated_at = NOW()
         WHERE id = $1`,
		jobID, StatusQueued, delay.Seconds())
	if err != nil {
		logger.LogError("SQL update failed", err)
	}

	return err
}

func (js *SqlJobStore) MarkRetrying(ctx context.Context, jobID string, delay time.Duration, lastError string) error {

	ctx, cancel := context.WithTimeout(ctx, js.queryTimeout)
	defer cancel()

	_, err := js.database.ExecContext(ctx,
		`UPDATE crm_sync_jobs
         SET status = $2, attempts = attempts + 1, run_after = NOW() + $3 * INTERVAL '1 second',
             locked_until = NULL, last_error = $4, updated_at = NOW()
         WHERE id = $1`,
		jobID, StatusRetrying, delay.Seconds(), lastError)
	if err != nil {
		logger.LogError("SQL update failed", err)
	}

	return err
}

func (js *SqlJobStore) MarkFailed(ctx context.Context, jobID string, lastError string) error {

	ctx, cancel := context.WithTimeout(ctx, js.queryTimeout)
	defer cancel()

	_, err := js.database.ExecContext(ctx,
		`UPDATE crm_sync_jobs
         SET status = $2, attempts = attempts + 1, locked_until = NULL, last_error = $3, updated_at = NOW()
         WHERE id = $1`,
		jobID, StatusFailed, lastError)
	if err != nil {
		logger.LogError("SQL update failed", err)
	}

	return err
}

func (js *SqlJobStore) MarkSucceeded(ctx context.Context, jobID string) error {

	ctx, cancel := context.WithTimeout(ctx, js.queryTimeout)
	defer cancel()

	_, err := js.database.ExecContext(ctx,
		`UPDATE crm_sync_jobs
         SET status = $2, locked_until = NULL, updated_at = NOW()
         WHERE id = $1`,
		jobID, StatusSucceeded)
	if err != nil {
		logger.LogError("SQL update failed", err)
	}

	return err
}
