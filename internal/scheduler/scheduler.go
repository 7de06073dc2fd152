package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/ratelimit"
	"github.com/voxlane/crm-connector/internal/retry"
	"github.com/voxlane/crm-connector/internal/sync_repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Scheduler runs workers over provider-scoped queues.  Every task checks the
// rate limiter before any outbound work, consults the retry policy on
// failure, and is terminally logged and alerted when the attempt budget runs
// out.
type Scheduler struct {
	cfg      *config.Config
	store    JobStore
	limiter  ratelimit.Limiter
	policy   *retry.Policy
	syncLog  sync_repository.SyncLogWriter
	alerts   FailureReporter
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

func NewScheduler(cfg *config.Config, store JobStore, limiter ratelimit.Limiter, policy *retry.Policy,
	syncLog sync_repository.SyncLogWriter, alerts FailureReporter) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		limiter:  limiter,
		policy:   policy,
		syncLog:  syncLog,
		alerts:   alerts,
		handlers: make(map[string]TaskHandler),
	}
}

func (s *Scheduler) RegisterHandler(operation string, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[operation] = handler
}

func (s *Scheduler) handlerFor(operation string) (TaskHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handler, ok := s.handlers[operation]
	return handler, ok
}

// StartWorkers launches worker goroutines for each queue and blocks until the
// context is cancelled.
func (s *Scheduler) StartWorkers(ctx context.Context, queues []string) {

	var wg sync.WaitGroup

	for _, queue := range queues {
		workers := s.cfg.MaxConcurrentSyncs
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(queue string) {
				defer wg.Done()
				s.runWorker(ctx, queue)
			}(queue)
		}
	}

	logger.Log.WithFields(logrus.Fields{"queues": queues}).Info("Scheduler workers started")

	wg.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, queue string) {

	ticker := time.NewTicker(s.cfg.SchedulerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			job, err := s.store.Claim(ctx, queue)
			if errors.Is(err, ErrNoJobs) {
				break
			}
			if err != nil {
				logger.LogError("Unable to claim a job", err)
				break
			}

			s.dispatch(ctx, job)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job Job) {

	provider := ProviderFromQueue(job.Queue)

	log := logger.Log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"queue":          job.Queue,
		"operation":      job.Operation,
		"attempt":        job.Attempts,
		"correlation_id": job.CorrelationID})

	granted, err := s.limiter.Acquire(ctx, provider)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Rate limiter unavailable, deferring job")
		s.requeue(ctx, job, s.cfg.SchedulerPollInterval)
		return
	}

	if !granted {
		wait, err := s.limiter.TimeUntilNextToken(ctx, provider)
		if err != nil || wait <= 0 {
			wait = s.cfg.SchedulerPollInterval
		}
		metrics.rateLimitDeferralCount.WithLabelValues(job.Queue).Inc()
		if s.alerts != nil {
			s.alerts.ReportRateLimitDenial(ctx, provider)
		}
		log.WithFields(logrus.Fields{"wait": wait}).Debug("Token bucket empty, deferring job")
		s.requeue(ctx, job, wait)
		return
	}

	handler, ok := s.handlerFor(job.Operation)
	if !ok {
		s.fail(ctx, job, provider, errors.New("no handler registered for operation "+job.Operation))
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTaskTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.taskDuration.WithLabelValues(job.Queue, job.Operation))
	taskErr := handler(taskCtx, job)
	timer.ObserveDuration()

	if taskErr == nil {
		metrics.succeededJobCounter.WithLabelValues(job.Queue).Inc()
		if err := s.store.MarkSucceeded(ctx, job.ID); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("Unable to mark job succeeded")
		}
		return
	}

	attempt := job.Attempts + 1

	if crmclient.IsRetryable(taskErr) && !s.policy.IsTerminal(provider, attempt) {
		delay := s.policy.NextDelay(provider, attempt)
		metrics.retriedJobCounter.WithLabelValues(job.Queue).Inc()
		log.WithFields(logrus.Fields{"error": taskErr, "delay": delay}).Warn("Task failed, retrying")
		if err := s.store.MarkRetrying(ctx, job.ID, delay, taskErr.Error()); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("Unable to mark job retrying")
		}
		return
	}

	s.fail(ctx, job, provider, taskErr)
}

func (s *Scheduler) requeue(ctx context.Context, job Job, delay time.Duration) {
	if err := s.store.Requeue(ctx, job.ID, delay); err != nil {
		logger.LogError("Unable to requeue job", err)
	}
}

// fail ends a job terminally: the status flips to failed, a sync log error
// entry is written, and alerting is notified.  Recovery is a manual resync.
func (s *Scheduler) fail(ctx context.Context, job Job, provider domain.Provider, cause error) {

	metrics.failedJobCounter.WithLabelValues(job.Queue).Inc()

	logger.Log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"queue":          job.Queue,
		"operation":      job.Operation,
		"correlation_id": job.CorrelationID,
		"error":          cause}).Error("Task failed terminally")

	if err := s.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.LogError("Unable to mark job failed", err)
	}

	s.writeFailureLog(ctx, job, provider, cause)

	if s.alerts != nil {
		s.alerts.ReportSyncFailure(ctx, provider)
	}
}

func (s *Scheduler) writeFailureLog(ctx context.Context, job Job, provider domain.Provider, cause error) {

	// Jobs carry their addressing in the args payload.
	var addressing struct {
		WorkspaceID string `json:"workspace_id"`
		ObjectType  string `json:"object_type"`
	}
	json.Unmarshal(job.Args, &addressing)

	err := s.syncLog.Write(ctx, domain.SyncLogEntry{
		WorkspaceID:   domain.WorkspaceID(addressing.WorkspaceID),
		Provider:      provider,
		Level:         domain.SyncLogLevelError,
		ObjectType:    domain.ObjectType(addressing.ObjectType),
		CorrelationID: job.CorrelationID,
		Message:       "task failed terminally: " + cause.Error(),
		Payload:       map[string]interface{}{"job_id": job.ID, "operation": job.Operation, "attempts": job.Attempts + 1},
	})
	if err != nil {
		logger.LogError("Unable to write sync log entry", err)
	}
}
