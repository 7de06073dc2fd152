package sync_repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlWebhookEventStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlWebhookEventStore(cfg *config.Config, database *sql.DB) (*SqlWebhookEventStore, error) {
	return &SqlWebhookEventStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

// Insert records a pending webhook event.  The (provider, event_id) unique
// constraint is the dedup key - a redelivery comes back as ErrDuplicateEvent.
func (wes *SqlWebhookEventStore) Insert(ctx context.Context, event domain.WebhookEvent) error {

	callDurationTimer := prometheus.NewTimer(metrics.webhookEventInsertDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, wes.queryTimeout)
	defer cancel()

	_, err := wes.database.ExecContext(ctx,
		`INSERT INTO crm_webhook_events (provider, workspace_id, event_id, object_type, payload, status)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		event.Provider, event.WorkspaceID, event.EventID, event.ObjectType,
		event.Payload, domain.WebhookEventStatusPending)

	if err != nil {
		var pqError *pq.Error
		if errors.As(err, &pqError) && string(pqError.Code) == pgerrcode.UniqueViolation {
			metrics.duplicateWebhookEventCounter.Inc()
			logger.Log.WithFields(logrus.Fields{
				"provider": event.Provider,
				"event_id": event.EventID}).Debug("Ignoring redelivered webhook event")
			return ErrDuplicateEvent
		}
		logger.LogError("SQL insert failed", err)
		return err
	}

	return nil
}

func (wes *SqlWebhookEventStore) Get(ctx context.Context, provider domain.Provider, eventID string) (domain.WebhookEvent, error) {

	ctx, cancel := context.WithTimeout(ctx, wes.queryTimeout)
	defer cancel()

	event := domain.WebhookEvent{
		Provider: provider,
		EventID:  eventID,
	}

	var processedAt sql.NullTime

	err := wes.database.QueryRowContext(ctx,
		`SELECT workspace_id, object_type, payload, status, created_at, processed_at FROM crm_webhook_events
         WHERE provider = $1 AND event_id = $2`,
		provider, eventID).Scan(&event.WorkspaceID, &event.ObjectType, &event.Payload, &event.Status, &event.CreatedAt, &processedAt)

	if err == sql.ErrNoRows {
		return event, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return event, err
	}

	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}

	return event, nil
}

func (wes *SqlWebhookEventStore) MarkProcessed(ctx context.Context, provider domain.Provider, eventID string) error {
	return wes.markStatus(ctx, provider, eventID, domain.WebhookEventStatusProcessed, "")
}

func (wes *SqlWebhookEventStore) MarkError(ctx context.Context, provider domain.Provider, eventID string, message string) error {
	return wes.markStatus(ctx, provider, eventID, domain.WebhookEventStatusError, message)
}

func (wes *SqlWebhookEventStore) markStatus(ctx context.Context, provider domain.Provider, eventID string, status domain.WebhookEventStatus, message string) error {

	ctx, cancel := context.WithTimeout(ctx, wes.queryTimeout)
	defer cancel()

	results, err := wes.database.ExecContext(ctx,
		`UPDATE crm_webhook_events
         SET status = $3, error_message = NULLIF($4, ''), processed_at = NOW()
         WHERE provider = $1 AND event_id = $2`,
		provider, eventID, status, message)
	if err != nil {
		logger.LogError("SQL update failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		logger.LogError("Unable to determine rows affected", err)
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
