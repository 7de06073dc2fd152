package sync

import (
	"context"
	"errors"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/sync_repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	operationPullDelta    = "pull_delta"
	operationPushOutcomes = "push_outcomes"
	operationBackfill     = "backfill"
)

// CrmSyncService orchestrates pull-delta, push-outcomes and backfill against
// the uniform provider client interface.  All operations are idempotent:
// retries collapse onto stored idempotency results and the entity link
// uniqueness invariants.
type CrmSyncService struct {
	cfg         *config.Config
	clients     *crmclient.Registry
	cursors     sync_repository.SyncCursorStore
	links       sync_repository.EntityLinkStore
	syncLog     sync_repository.SyncLogWriter
	idempotency sync_repository.IdempotencyKeyStore
	connections sync_repository.ProviderConnectionStore
	locals      LocalRecordStore
	fieldMapper *FieldMapper
	alerts      ConnectionFailureReporter
	owner       string
}

func NewCrmSyncService(cfg *config.Config, clients *crmclient.Registry, cursors sync_repository.SyncCursorStore,
	links sync_repository.EntityLinkStore, syncLog sync_repository.SyncLogWriter,
	idempotency sync_repository.IdempotencyKeyStore, connections sync_repository.ProviderConnectionStore,
	locals LocalRecordStore, fieldMapper *FieldMapper, alerts ConnectionFailureReporter, owner string) *CrmSyncService {
	return &CrmSyncService{
		cfg:         cfg,
		clients:     clients,
		cursors:     cursors,
		links:       links,
		syncLog:     syncLog,
		idempotency: idempotency,
		connections: connections,
		locals:      locals,
		fieldMapper: fieldMapper,
		alerts:      alerts,
		owner:       owner,
	}
}

// PullDelta pages through the provider's changes since the stored cursor and
// applies each record locally.  The cursor only advances after a full page
// has been committed, so a crash mid-page reprocesses the page instead of
// skipping records.
func (s *CrmSyncService) PullDelta(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType) (PullResult, error) {
	return s.pull(ctx, workspace, provider, objectType, operationPullDelta, 0)
}

// Backfill is a first-time cursor-less pull in bounded pages.  Re-running it
// is safe: the entity link invariants absorb already-seen records.
func (s *CrmSyncService) Backfill(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, pageLimit int) (PullResult, error) {
	return s.pull(ctx, workspace, provider, objectType, operationBackfill, pageLimit)
}

func (s *CrmSyncService) pull(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, operation string, pageLimit int) (PullResult, error) {

	correlationID := uuid.NewString()

	log := logger.Log.WithFields(logrus.Fields{
		"workspace":      workspace,
		"provider":       provider,
		"object_type":    objectType,
		"operation":      operation,
		"correlation_id": correlationID})

	client, err := s.clients.Lookup(provider)
	if err != nil {
		s.writeLog(ctx, workspace, provider, domain.SyncLogLevelError, objectType, domain.SyncDirectionPull, correlationID, err.Error(), nil)
		return PullResult{}, err
	}

	settings := s.cfg.Providers[provider]

	key := sync_repository.CursorKey{WorkspaceID: workspace, Provider: provider, ObjectType: objectType}

	cursor, err := s.cursors.Claim(ctx, key, s.owner, s.cfg.CursorClaimTTL)
	if err != nil {
		if errors.Is(err, sync_repository.ErrCursorLocked) {
			log.Debug("Another runner holds the cursor, backing off")
		}
		return PullResult{}, err
	}
	defer s.cursors.Release(context.WithoutCancel(ctx), key, s.owner)

	since := cursor.SinceTS
	pageToken := cursor.PageAfter
	if pageToken == "" {
		// A fresh run resumes from the provider token the last run stored.
		pageToken = cursor.CursorToken
	}
	if operation == operationBackfill {
		// A backfill ignores the bookmark and walks from the beginning.
		since = time.Time{}
		pageToken = ""
	}

	// The token we claimed stays the compare-and-swap observation even when
	// the backfill ignores the bookmark itself.
	observedToken := cursor.CursorToken

	result := PullResult{Cursor: cursor}
	pages := 0

	for {
		page, err := s.listChanged(ctx, client, settings, objectType, since, pageToken)
		if err != nil {
			s.recordFailure(ctx, workspace, provider, objectType, domain.SyncDirectionPull, correlationID, err)
			return result, err
		}

		newestSeen := since
		for _, record := range page.Records {
			if err := s.ApplyRemoteRecord(ctx, workspace, provider, objectType, record, correlationID); err != nil {
				s.recordFailure(ctx, workspace, provider, objectType, domain.SyncDirectionPull, correlationID, err)
				return result, err
			}
			result.Count++
			metrics.pulledRecordCounter.With(prometheus_labels(provider)).Inc()

			if record.UpdatedAt.After(newestSeen) {
				newestSeen = record.UpdatedAt
			}
		}

		// The page is durably committed, move the bookmark.
		next := domain.SyncCursor{
			WorkspaceID: workspace,
			Provider:    provider,
			ObjectType:  objectType,
			SinceTS:     newestSeen,
			CursorToken: page.NextCursor,
		}
		if page.HasMore {
			next.SinceTS = since
			next.PageAfter = page.NextCursor
		}

		if err := s.cursors.Advance(ctx, key, observedToken, next); err != nil {
			s.recordFailure(ctx, workspace, provider, objectType, domain.SyncDirectionPull, correlationID, err)
			return result, err
		}

		observedToken = next.CursorToken
		pageToken = page.NextCursor
		cursor = next
		result.Cursor = cursor
		pages++

		if !page.HasMore {
			break
		}
		if pageLimit > 0 && pages >= pageLimit {
			log.WithFields(logrus.Fields{"pages": pages}).Debug("Page limit reached, stopping")
			break
		}
	}

	result.Success = true

	if s.alerts != nil {
		s.alerts.ReportConnectionSuccess(ctx, workspace, provider)
	}

	s.writeLog(ctx, workspace, provider, domain.SyncLogLevelInfo, objectType, domain.SyncDirectionPull, correlationID,
		"pull completed", map[string]interface{}{"operation": operation, "count": result.Count, "pages": pages})

	log.WithFields(logrus.Fields{"count": result.Count}).Debug("Pull completed")

	return result, nil
}

func (s *CrmSyncService) listChanged(ctx context.Context, client crmclient.Client, settings config.ProviderSettings, objectType domain.ObjectType, since time.Time, pageAfter string) (crmclient.Page, error) {
	callCtx, cancel := context.WithTimeout(ctx, settings.CallTimeout)
	defer cancel()
	return client.ListChanged(callCtx, objectType, since, pageAfter, settings.SyncPageSize)
}

// ApplyRemoteRecord folds one changed remote record into local storage and
// the entity link map.  Webhook processing reuses this path, bypassing
// cursors.
func (s *CrmSyncService) ApplyRemoteRecord(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, record crmclient.RemoteRecord, correlationID string) error {

	mappedFields, err := s.fieldMapper.ToLocal(ctx, workspace, provider, objectType, record.Fields)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	link, err := s.links.GetByRemote(ctx, provider, record.RemoteID)
	if err != nil && !errors.Is(err, sync_repository.ErrNotFound) {
		return err
	}

	if errors.Is(err, sync_repository.ErrNotFound) {
		localID, err := s.locals.Save(ctx, workspace, objectType, LocalRecord{Fields: mappedFields, UpdatedAt: record.UpdatedAt})
		if err != nil {
			return err
		}

		return s.links.Upsert(ctx, domain.EntityLink{
			WorkspaceID: workspace,
			Provider:    provider,
			ObjectType:  objectType,
			LocalID:     localID,
			RemoteID:    record.RemoteID,
			RemoteEtag:  record.Etag,
			LastSyncAt:  now,
		})
	}

	local, err := s.locals.Get(ctx, workspace, objectType, link.LocalID)
	if err != nil {
		return err
	}

	merged, changed := mergeRemoteIntoLocal(local, mappedFields, record.UpdatedAt)
	if changed {
		local.Fields = merged
		if _, err := s.locals.Save(ctx, workspace, objectType, local); err != nil {
			return err
		}
	}

	link.RemoteEtag = record.Etag
	link.LastSyncAt = now
	return s.links.Upsert(ctx, link)
}

// PushOutcomes writes one call outcome to the provider with at-most-one-effect
// semantics: the idempotency digest is checked before the write and the
// result is persisted after it, so an identical retry returns the stored
// result without touching the provider.
func (s *CrmSyncService) PushOutcomes(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, callID string, outcome OutcomeData) (PushResult, error) {

	correlationID := uuid.NewString()

	log := logger.Log.WithFields(logrus.Fields{
		"workspace":      workspace,
		"provider":       provider,
		"object_type":    outcome.ObjectType,
		"call_id":        callID,
		"correlation_id": correlationID})

	client, err := s.clients.Lookup(provider)
	if err != nil {
		s.writeLog(ctx, workspace, provider, domain.SyncLogLevelError, outcome.ObjectType, domain.SyncDirectionPush, correlationID, err.Error(), nil)
		return PushResult{}, err
	}

	settings := s.cfg.Providers[provider]

	mappedFields, err := s.fieldMapper.ToProvider(ctx, workspace, provider, outcome.ObjectType, outcome.Fields)
	if err != nil {
		s.recordFailure(ctx, workspace, provider, outcome.ObjectType, domain.SyncDirectionPush, correlationID, err)
		return PushResult{}, err
	}

	digest, err := idempotencyDigest(workspace, provider, outcome.ObjectType, operationPushOutcomes, outcome.LocalID, mappedFields)
	if err != nil {
		return PushResult{}, err
	}

	if prior, err := s.idempotency.Get(ctx, digest); err == nil {
		metrics.replayedPushCounter.With(prometheus_labels(provider)).Inc()
		log.Debug("Identical write already applied, returning the stored result")
		return PushResult{Success: prior.Succeeded, RemoteID: prior.RemoteID, RemoteEtag: prior.RemoteEtag, Replayed: true}, nil
	} else if !errors.Is(err, sync_repository.ErrNotFound) {
		return PushResult{}, err
	}

	link, err := s.links.GetByLocal(ctx, workspace, provider, outcome.ObjectType, outcome.LocalID)
	if err != nil && !errors.Is(err, sync_repository.ErrNotFound) {
		return PushResult{}, err
	}
	linked := err == nil

	var remoteID domain.RemoteID
	var remoteEtag string

	callCtx, cancel := context.WithTimeout(ctx, settings.CallTimeout)
	defer cancel()

	if linked {
		remoteID = link.RemoteID
		remoteEtag, err = client.Update(callCtx, outcome.ObjectType, link.RemoteID, mappedFields, link.RemoteEtag)
	} else {
		remoteID, err = client.Create(callCtx, outcome.ObjectType, mappedFields)
	}

	if err != nil {
		s.recordFailure(ctx, workspace, provider, outcome.ObjectType, domain.SyncDirectionPush, correlationID, err)
		return PushResult{}, err
	}

	metrics.pushedWriteCounter.With(prometheus_labels(provider)).Inc()

	if s.alerts != nil {
		s.alerts.ReportConnectionSuccess(ctx, workspace, provider)
	}

	err = s.links.Upsert(ctx, domain.EntityLink{
		WorkspaceID: workspace,
		Provider:    provider,
		ObjectType:  outcome.ObjectType,
		LocalID:     outcome.LocalID,
		RemoteID:    remoteID,
		RemoteEtag:  remoteEtag,
		LastSyncAt:  time.Now().UTC(),
	})
	if err != nil {
		s.recordFailure(ctx, workspace, provider, outcome.ObjectType, domain.SyncDirectionPush, correlationID, err)
		return PushResult{}, err
	}

	err = s.idempotency.Put(ctx, sync_repository.IdempotencyRecord{
		Digest:      digest,
		WorkspaceID: workspace,
		Provider:    provider,
		ObjectType:  outcome.ObjectType,
		Operation:   operationPushOutcomes,
		RemoteID:    remoteID,
		RemoteEtag:  remoteEtag,
		Succeeded:   true,
	})
	if err != nil {
		return PushResult{}, err
	}

	s.writeLog(ctx, workspace, provider, domain.SyncLogLevelInfo, outcome.ObjectType, domain.SyncDirectionPush, correlationID,
		"outcome pushed", map[string]interface{}{"call_id": callID, "remote_id": remoteID.String(), "created": !linked})

	log.WithFields(logrus.Fields{"remote_id": remoteID}).Debug("Outcome pushed")

	return PushResult{Success: true, RemoteID: remoteID, RemoteEtag: remoteEtag}, nil
}

// recordFailure classifies the error, writes the sync log entry and, for auth
// failures, flips the provider connection and notifies alerting.
func (s *CrmSyncService) recordFailure(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, direction domain.SyncDirection, correlationID string, failure error) {

	class := crmclient.Classify(failure)

	metrics.syncFailureCounter.WithLabelValues(provider.String(), class.String()).Inc()

	if errors.Is(failure, sync_repository.ErrLinkConflict) {
		metrics.linkConflictCounter.With(prometheus_labels(provider)).Inc()
	}

	s.writeLog(ctx, workspace, provider, domain.SyncLogLevelError, objectType, direction, correlationID,
		failure.Error(), map[string]interface{}{"error_class": class.String()})

	if class == crmclient.ClassAuth {
		if err := s.connections.UpdateStatus(ctx, workspace, provider, domain.ConnectionStatusError); err != nil {
			logger.LogErrorWithWorkspaceAndProvider("Unable to flip provider connection status", err, workspace, provider)
		}
		if s.alerts != nil {
			s.alerts.ReportConnectionFailure(ctx, workspace, provider)
		}
	}
}

func (s *CrmSyncService) writeLog(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, level domain.SyncLogLevel, objectType domain.ObjectType, direction domain.SyncDirection, correlationID string, message string, payload map[string]interface{}) {
	err := s.syncLog.Write(ctx, domain.SyncLogEntry{
		WorkspaceID:   workspace,
		Provider:      provider,
		Level:         level,
		ObjectType:    objectType,
		Direction:     direction,
		CorrelationID: correlationID,
		Message:       message,
		Payload:       payload,
	})
	if err != nil {
		logger.LogErrorWithWorkspaceAndProvider("Unable to write sync log entry", err, workspace, provider)
	}
}
