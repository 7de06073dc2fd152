package sync

import (
	"context"
	"errors"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

// ErrLocalRecordNotFound is returned by a LocalRecordStore when an entity
// link points at a record the platform no longer has.
var ErrLocalRecordNotFound = errors.New("local record not found")

// LocalRecord is the platform's view of one syncable record, reduced to the
// canonical field set plus per-field modification times for conflict
// resolution.
type LocalRecord struct {
	LocalID        domain.LocalID
	Fields         map[string]interface{}
	FieldUpdatedAt map[string]time.Time
	UpdatedAt      time.Time
}

// LocalRecordStore is the boundary to the platform's own record storage.
// Contacts, companies and deals live in the wider platform's database; this
// service only reads and writes them through this interface.
type LocalRecordStore interface {
	Get(ctx context.Context, workspace domain.WorkspaceID, objectType domain.ObjectType, localID domain.LocalID) (LocalRecord, error)
	// Save creates the record when LocalID is empty and updates it otherwise.
	// The (possibly newly assigned) local id is returned either way.
	Save(ctx context.Context, workspace domain.WorkspaceID, objectType domain.ObjectType, record LocalRecord) (domain.LocalID, error)
}

// ConnectionFailureReporter receives auth failures so consecutive breaches
// can raise a connection alert.  A successful provider call breaks the
// streak.
type ConnectionFailureReporter interface {
	ReportConnectionFailure(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider)
	ReportConnectionSuccess(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider)
}

// OutcomeData is a call outcome produced by the voice platform, addressed to
// one CRM record.
type OutcomeData struct {
	LocalID    domain.LocalID         `json:"local_id"`
	ObjectType domain.ObjectType      `json:"object_type"`
	Fields     map[string]interface{} `json:"fields"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type PullResult struct {
	Success bool
	Count   int
	Cursor  domain.SyncCursor
}

type PushResult struct {
	Success    bool
	RemoteID   domain.RemoteID
	RemoteEtag string
	// Replayed is set when the result was served from the idempotency store
	// without touching the provider.
	Replayed bool
}
