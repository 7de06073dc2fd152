package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusRetrying  JobStatus = "retrying"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// ErrNoJobs is returned by Claim when the queue has nothing runnable.
var ErrNoJobs = errors.New("no runnable jobs")

// Job is one independently retryable unit of work.
type Job struct {
	ID            string
	Queue         string
	Operation     string
	Args          json.RawMessage
	Status        JobStatus
	Attempts      int
	MaxAttempts   int
	RunAfter      time.Time
	CorrelationID string
	LastError     string
	CreatedAt     time.Time
}

// JobStore is the durable at-least-once task queue.  Claimed jobs carry a
// visibility timeout: an abandoned job reappears when locked_until expires,
// so a task is never silently dropped.
type JobStore interface {
	Enqueue(ctx context.Context, queue string, operation string, args interface{}) (string, error)
	Claim(ctx context.Context, queue string) (Job, error)
	// Requeue defers a job without consuming an attempt.  Used for
	// rate-limit denials, which are scheduling deferrals, not failures.
	Requeue(ctx context.Context, jobID string, delay time.Duration) error
	MarkRetrying(ctx context.Context, jobID string, delay time.Duration, lastError string) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
	MarkSucceeded(ctx context.Context, jobID string) error
}

// TaskHandler executes one operation.  The scheduler classifies any returned
// error to decide between retry and terminal failure.
type TaskHandler func(ctx context.Context, job Job) error

// FailureReporter receives terminal failures and rate-limit denials so the
// alerting engine can watch thresholds.
type FailureReporter interface {
	ReportSyncFailure(ctx context.Context, provider domain.Provider)
	ReportRateLimitDenial(ctx context.Context, provider domain.Provider)
}

// QueueName builds the per-family, per-provider queue name.  Scoping queues
// by provider keeps a throttled provider from starving the others.
func QueueName(family string, provider domain.Provider) string {
	return family + "." + provider.String()
}

// ProviderFromQueue recovers the provider tag from a queue name.
func ProviderFromQueue(queue string) domain.Provider {
	if idx := strings.LastIndex(queue, "."); idx >= 0 {
		return domain.Provider(queue[idx+1:])
	}
	return domain.Provider(queue)
}
