package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/retry"
)

func init() {
	logger.InitLogger()
}

type fakeJobStore struct {
	jobs       map[string]*Job
	requeues   int
	nextNumber int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*Job)}
}

func (f *fakeJobStore) Enqueue(ctx context.Context, queue string, operation string, args interface{}) (string, error) {
	f.nextNumber++
	id := "job-" + string(rune('0'+f.nextNumber))
	serializedArgs, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	f.jobs[id] = &Job{ID: id, Queue: queue, Operation: operation, Args: serializedArgs, Status: StatusQueued}
	return id, nil
}

func (f *fakeJobStore) Claim(ctx context.Context, queue string) (Job, error) {
	for _, job := range f.jobs {
		if job.Queue == queue && (job.Status == StatusQueued || job.Status == StatusRetrying) {
			job.Status = StatusRunning
			return *job, nil
		}
	}
	return Job{}, ErrNoJobs
}

func (f *fakeJobStore) Requeue(ctx context.Context, jobID string, delay time.Duration) error {
	f.requeues++
	f.jobs[jobID].Status = StatusQueued
	return nil
}

func (f *fakeJobStore) MarkRetrying(ctx context.Context, jobID string, delay time.Duration, lastError string) error {
	job := f.jobs[jobID]
	job.Status = StatusRetrying
	job.Attempts++
	job.LastError = lastError
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	job := f.jobs[jobID]
	job.Status = StatusFailed
	job.Attempts++
	job.LastError = lastError
	return nil
}

func (f *fakeJobStore) MarkSucceeded(ctx context.Context, jobID string) error {
	f.jobs[jobID].Status = StatusSucceeded
	return nil
}

type fakeLimiter struct {
	granted bool
	wait    time.Duration
}

func (f *fakeLimiter) Acquire(ctx context.Context, provider domain.Provider) (bool, error) {
	return f.granted, nil
}

func (f *fakeLimiter) TimeUntilNextToken(ctx context.Context, provider domain.Provider) (time.Duration, error) {
	return f.wait, nil
}

type fakeFailureReporter struct {
	syncFailures     int
	rateLimitDenials int
}

func (f *fakeFailureReporter) ReportSyncFailure(ctx context.Context, provider domain.Provider) {
	f.syncFailures++
}

func (f *fakeFailureReporter) ReportRateLimitDenial(ctx context.Context, provider domain.Provider) {
	f.rateLimitDenials++
}

type fakeLogWriter struct {
	entries []domain.SyncLogEntry
}

func (f *fakeLogWriter) Write(ctx context.Context, entry domain.SyncLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func testPolicy() *retry.Policy {
	return retry.NewPolicyWithSeed(map[domain.Provider]retry.Settings{
		domain.ProviderHubspot: {MaxAttempts: 3, BackoffBase: 2.0, BackoffMax: time.Minute},
	}, 42)
}

func newTestScheduler(store JobStore, limiter *fakeLimiter, alerts *fakeFailureReporter, syncLog *fakeLogWriter) *Scheduler {
	return NewScheduler(config.GetConfig(), store, limiter, testPolicy(), syncLog, alerts)
}

func TestDispatchSuccessMarksJobSucceeded(t *testing.T) {

	store := newFakeJobStore()
	scheduler := newTestScheduler(store, &fakeLimiter{granted: true}, &fakeFailureReporter{}, &fakeLogWriter{})

	handled := 0
	scheduler.RegisterHandler("pull_delta", func(ctx context.Context, job Job) error {
		handled++
		return nil
	})

	queue := QueueName("sync", domain.ProviderHubspot)
	jobID, _ := store.Enqueue(context.TODO(), queue, "pull_delta", nil)
	job, _ := store.Claim(context.TODO(), queue)

	scheduler.dispatch(context.TODO(), job)

	if handled != 1 {
		t.Fatalf("expected the handler to run once, but it ran %d times", handled)
	}
	if store.jobs[jobID].Status != StatusSucceeded {
		t.Fatalf("expected the job to be succeeded, but got %s", store.jobs[jobID].Status)
	}
}

func TestRateLimitDenialRequeuesWithoutConsumingAnAttempt(t *testing.T) {

	store := newFakeJobStore()
	alerts := &fakeFailureReporter{}
	scheduler := newTestScheduler(store, &fakeLimiter{granted: false, wait: time.Second}, alerts, &fakeLogWriter{})

	handled := 0
	scheduler.RegisterHandler("pull_delta", func(ctx context.Context, job Job) error {
		handled++
		return nil
	})

	queue := QueueName("sync", domain.ProviderHubspot)
	jobID, _ := store.Enqueue(context.TODO(), queue, "pull_delta", nil)
	job, _ := store.Claim(context.TODO(), queue)

	scheduler.dispatch(context.TODO(), job)

	if handled != 0 {
		t.Fatal("expected the handler not to run while throttled")
	}
	if store.requeues != 1 {
		t.Fatalf("expected one requeue, but got %d", store.requeues)
	}
	if store.jobs[jobID].Attempts != 0 {
		t.Fatalf("expected a deferral to consume no attempts, but got %d", store.jobs[jobID].Attempts)
	}
	if store.jobs[jobID].Status != StatusQueued {
		t.Fatalf("expected the job to be back in the queue, but got %s", store.jobs[jobID].Status)
	}
	if alerts.rateLimitDenials != 1 {
		t.Fatalf("expected one rate limit denial report, but got %d", alerts.rateLimitDenials)
	}
}

func TestPermanentlyFailingJobRetriesToTheCeilingThenAlertsOnce(t *testing.T) {

	store := newFakeJobStore()
	alerts := &fakeFailureReporter{}
	syncLog := &fakeLogWriter{}
	scheduler := newTestScheduler(store, &fakeLimiter{granted: true}, alerts, syncLog)

	attempts := 0
	scheduler.RegisterHandler("push_outcomes", func(ctx context.Context, job Job) error {
		attempts++
		return crmclient.NewTransientError(errors.New("provider timeout"))
	})

	queue := QueueName("sync", domain.ProviderHubspot)
	jobID, _ := store.Enqueue(context.TODO(), queue, "push_outcomes", map[string]interface{}{"workspace_id": "ws_1"})

	// Drive the job until it leaves the retry loop.
	for i := 0; i < 10; i++ {
		job, err := store.Claim(context.TODO(), queue)
		if errors.Is(err, ErrNoJobs) {
			break
		}
		scheduler.dispatch(context.TODO(), job)
	}

	if attempts != 3 {
		t.Fatalf("expected exactly three attempts, but got %d", attempts)
	}
	if store.jobs[jobID].Status != StatusFailed {
		t.Fatalf("expected the job to be failed, but got %s", store.jobs[jobID].Status)
	}
	if alerts.syncFailures != 1 {
		t.Fatalf("expected exactly one terminal failure alert, but got %d", alerts.syncFailures)
	}

	errorEntries := 0
	for _, entry := range syncLog.entries {
		if entry.Level == domain.SyncLogLevelError {
			errorEntries++
		}
	}
	if errorEntries != 1 {
		t.Fatalf("expected exactly one error sync log entry, but got %d", errorEntries)
	}
	if syncLog.entries[0].WorkspaceID != "ws_1" {
		t.Fatalf("expected the log entry to carry the job's workspace, but got %s", syncLog.entries[0].WorkspaceID)
	}
}

func TestNonRetryableErrorFailsImmediately(t *testing.T) {

	store := newFakeJobStore()
	alerts := &fakeFailureReporter{}
	scheduler := newTestScheduler(store, &fakeLimiter{granted: true}, alerts, &fakeLogWriter{})

	attempts := 0
	scheduler.RegisterHandler("push_outcomes", func(ctx context.Context, job Job) error {
		attempts++
		return crmclient.NewMalformedError(errors.New("field rejected"))
	})

	queue := QueueName("sync", domain.ProviderHubspot)
	jobID, _ := store.Enqueue(context.TODO(), queue, "push_outcomes", nil)
	job, _ := store.Claim(context.TODO(), queue)

	scheduler.dispatch(context.TODO(), job)

	if attempts != 1 {
		t.Fatalf("expected a single attempt, but got %d", attempts)
	}
	if store.jobs[jobID].Status != StatusFailed {
		t.Fatalf("expected the job to be failed, but got %s", store.jobs[jobID].Status)
	}
	if alerts.syncFailures != 1 {
		t.Fatalf("expected one terminal failure alert, but got %d", alerts.syncFailures)
	}
}

func TestQueueNames(t *testing.T) {

	testCases := []struct {
		family   string
		provider domain.Provider
		expected string
	}{
		{"sync", domain.ProviderHubspot, "sync.hubspot"},
		{"webhook", domain.ProviderZoho, "webhook.zoho"},
		{"outcomes", domain.ProviderSalesforce, "outcomes.salesforce"},
	}

	for _, tc := range testCases {
		queue := QueueName(tc.family, tc.provider)
		if queue != tc.expected {
			t.Errorf("expected queue name %s, but got %s", tc.expected, queue)
		}
		if ProviderFromQueue(queue) != tc.provider {
			t.Errorf("expected to recover provider %s from %s", tc.provider, queue)
		}
	}
}
