package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/sync_repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const OperationProcessWebhook = "process_webhook"

var ErrMalformedPayload = errors.New("webhook payload is malformed")

// JobEnqueuer hands processing work to the scheduler.  Defined here so the
// webhook package does not depend on the scheduler implementation.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queue string, operation string, args interface{}) (string, error)
}

// RecordApplier is the slice of the sync service webhook processing reuses.
type RecordApplier interface {
	ApplyRemoteRecord(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, record crmclient.RemoteRecord, correlationID string) error
}

// LatencyObserver receives end-to-end webhook processing latencies so the
// alerting engine can watch the p95.
type LatencyObserver interface {
	ObserveWebhookLatency(ctx context.Context, provider domain.Provider, latency time.Duration)
}

// eventEnvelope is the normalized notification shape.  Provider-specific
// receivers reduce native payloads to this form before ingestion.
type eventEnvelope struct {
	EventID     string                 `json:"event_id"`
	WorkspaceID string                 `json:"workspace_id"`
	ObjectType  string                 `json:"object_type"`
	RemoteID    string                 `json:"remote_id"`
	Etag        string                 `json:"etag"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Fields      map[string]interface{} `json:"fields"`
}

// ProcessArgs is the job payload for a deferred webhook processing task.
type ProcessArgs struct {
	Provider domain.Provider `json:"provider"`
	EventID  string          `json:"event_id"`
}

type Service struct {
	verifier *Verifier
	events   sync_repository.WebhookEventStore
	jobs     JobEnqueuer
	applier  RecordApplier
	latency  LatencyObserver
}

func NewService(verifier *Verifier, events sync_repository.WebhookEventStore, jobs JobEnqueuer, applier RecordApplier, latency LatencyObserver) *Service {
	return &Service{
		verifier: verifier,
		events:   events,
		jobs:     jobs,
		applier:  applier,
		latency:  latency,
	}
}

// Ingest accepts one provider notification.  The event row's unique
// (provider, event_id) constraint silently absorbs exact redeliveries, and
// the ack is returned as soon as the processing job is enqueued so slow
// downstream work never exhausts the provider's retry timer.
func (s *Service) Ingest(ctx context.Context, provider domain.Provider, headers http.Header, body []byte) error {

	if err := s.verifier.Verify(provider, headers, body); err != nil {
		metrics.rejectedEventCounter.With(prometheus_labels(provider)).Inc()
		return err
	}

	envelope, err := parseEnvelope(body)
	if err != nil {
		metrics.malformedEventCounter.With(prometheus_labels(provider)).Inc()
		return err
	}

	err = s.events.Insert(ctx, domain.WebhookEvent{
		Provider:    provider,
		WorkspaceID: domain.WorkspaceID(envelope.WorkspaceID),
		EventID:     envelope.EventID,
		ObjectType:  domain.ObjectType(envelope.ObjectType),
		Payload:     body,
	})
	if errors.Is(err, sync_repository.ErrDuplicateEvent) {
		// Redelivery of an event already accepted.  Ack it again.
		return nil
	}
	if err != nil {
		return err
	}

	metrics.acceptedEventCounter.With(prometheus_labels(provider)).Inc()

	_, err = s.jobs.Enqueue(ctx, queueName(provider), OperationProcessWebhook,
		ProcessArgs{Provider: provider, EventID: envelope.EventID})
	if err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"provider": provider,
		"event_id": envelope.EventID}).Debug("Accepted a webhook event")

	return nil
}

// Process runs as a scheduled task: it folds the stored event into local
// storage through the sync service's record-apply path, then marks the event.
func (s *Service) Process(ctx context.Context, provider domain.Provider, eventID string) error {

	event, err := s.events.Get(ctx, provider, eventID)
	if err != nil {
		return err
	}

	if event.Status == domain.WebhookEventStatusProcessed {
		return nil
	}

	envelope, err := parseEnvelope(event.Payload)
	if err != nil {
		s.markError(ctx, provider, eventID, err)
		return err
	}

	record := crmclient.RemoteRecord{
		RemoteID:  domain.RemoteID(envelope.RemoteID),
		Etag:      envelope.Etag,
		UpdatedAt: envelope.UpdatedAt,
		Fields:    envelope.Fields,
	}

	correlationID := uuid.NewString()

	err = s.applier.ApplyRemoteRecord(ctx, event.WorkspaceID, provider, event.ObjectType, record, correlationID)
	if err != nil {
		s.markError(ctx, provider, eventID, err)
		return err
	}

	if err := s.events.MarkProcessed(ctx, provider, eventID); err != nil {
		return err
	}

	elapsed := time.Since(event.CreatedAt)
	metrics.processingLatency.With(prometheus_labels(provider)).Observe(elapsed.Seconds())
	if s.latency != nil {
		s.latency.ObserveWebhookLatency(ctx, provider, elapsed)
	}

	return nil
}

func (s *Service) markError(ctx context.Context, provider domain.Provider, eventID string, cause error) {
	if err := s.events.MarkError(ctx, provider, eventID, cause.Error()); err != nil {
		logger.LogError("Unable to mark webhook event as errored", err)
	}
}

func parseEnvelope(body []byte) (eventEnvelope, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return envelope, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	if envelope.EventID == "" || envelope.WorkspaceID == "" || envelope.ObjectType == "" || envelope.RemoteID == "" {
		return envelope, fmt.Errorf("%w: missing required envelope fields", ErrMalformedPayload)
	}
	return envelope, nil
}

func queueName(provider domain.Provider) string {
	return "webhook." + provider.String()
}
