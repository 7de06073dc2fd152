package sync_repository

import (
	"context"
	"errors"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrCursorLocked is returned when another runner holds the cursor claim
	// for the same (workspace, provider, object_type).
	ErrCursorLocked = errors.New("sync cursor is claimed by another runner")

	// ErrStaleCursor is returned when a conditional advance observes a cursor
	// that moved underneath the caller.
	ErrStaleCursor = errors.New("sync cursor changed since it was read")

	// ErrLinkConflict is returned when an entity link upsert would violate the
	// one-to-one identity mapping.  The conflict is surfaced, never repaired.
	ErrLinkConflict = errors.New("entity link conflicts with an existing mapping")

	// ErrDuplicateEvent is returned when a webhook event with the same
	// (provider, event_id) has already been recorded.
	ErrDuplicateEvent = errors.New("webhook event already recorded")
)

// CursorKey identifies one sync bookmark.
type CursorKey struct {
	WorkspaceID domain.WorkspaceID
	Provider    domain.Provider
	ObjectType  domain.ObjectType
}

type SyncCursorStore interface {
	Get(ctx context.Context, key CursorKey) (domain.SyncCursor, error)
	// Claim takes the single-runner lease on a cursor, creating the row if
	// this is the first sync for the key.  A second runner gets
	// ErrCursorLocked until the lease expires or is released.
	Claim(ctx context.Context, key CursorKey, owner string, ttl time.Duration) (domain.SyncCursor, error)
	// Advance conditionally moves the cursor.  The write only lands if the
	// stored cursor token still matches observedToken.
	Advance(ctx context.Context, key CursorKey, observedToken string, next domain.SyncCursor) error
	Release(ctx context.Context, key CursorKey, owner string) error
}

type EntityLinkStore interface {
	GetByLocal(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, localID domain.LocalID) (domain.EntityLink, error)
	GetByRemote(ctx context.Context, provider domain.Provider, remoteID domain.RemoteID) (domain.EntityLink, error)
	Upsert(ctx context.Context, link domain.EntityLink) error
}

type SyncLogWriter interface {
	Write(ctx context.Context, entry domain.SyncLogEntry) error
}

type WebhookEventStore interface {
	Insert(ctx context.Context, event domain.WebhookEvent) error
	Get(ctx context.Context, provider domain.Provider, eventID string) (domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, provider domain.Provider, eventID string) error
	MarkError(ctx context.Context, provider domain.Provider, eventID string, message string) error
}

// IdempotencyRecord persists the computed idempotency digest together with the
// result of the remote write it guarded.
type IdempotencyRecord struct {
	Digest      string
	WorkspaceID domain.WorkspaceID
	Provider    domain.Provider
	ObjectType  domain.ObjectType
	Operation   string
	RemoteID    domain.RemoteID
	RemoteEtag  string
	Succeeded   bool
	CreatedAt   time.Time
}

type IdempotencyKeyStore interface {
	Get(ctx context.Context, digest string) (IdempotencyRecord, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type ProviderConnectionStore interface {
	Get(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) (domain.ProviderConnection, error)
	UpdateStatus(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, status domain.ConnectionStatus) error
}

// FieldMappingStore reads the externally-owned field mapping configuration.
type FieldMappingStore interface {
	Get(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType) (domain.FieldMapping, error)
}
