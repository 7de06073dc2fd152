package domain

import (
	"time"
)

type WorkspaceID string

func (wid WorkspaceID) String() string {
	return string(wid)
}

type Provider string

func (p Provider) String() string {
	return string(p)
}

const (
	ProviderHubspot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
	ProviderZoho       Provider = "zoho"
)

// KnownProviders lists the CRM providers this service can talk to.
var KnownProviders = []Provider{ProviderHubspot, ProviderSalesforce, ProviderZoho}

func IsKnownProvider(p Provider) bool {
	for _, known := range KnownProviders {
		if p == known {
			return true
		}
	}
	return false
}

type ObjectType string

func (ot ObjectType) String() string {
	return string(ot)
}

const (
	ObjectTypeContact  ObjectType = "contact"
	ObjectTypeCompany  ObjectType = "company"
	ObjectTypeDeal     ObjectType = "deal"
	ObjectTypeActivity ObjectType = "activity"
)

type LocalID string

func (lid LocalID) String() string {
	return string(lid)
}

type RemoteID string

func (rid RemoteID) String() string {
	return string(rid)
}

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// ProviderConnection is the OAuth-backed link between a workspace and a CRM
// provider.  Token acquisition and refresh are handled by an external flow;
// this service only reads the row and flips the status on auth failures.
type ProviderConnection struct {
	WorkspaceID           WorkspaceID
	Provider              Provider
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	ExpiresAt             time.Time
	Scopes                []string
	Status                ConnectionStatus
}

// EntityLink maps a local record to its remote CRM counterpart.  The pair
// (workspace, provider, object_type, local_id) and the pair
// (provider, remote_id) are both unique - a strict one-to-one mapping.
type EntityLink struct {
	WorkspaceID WorkspaceID
	Provider    Provider
	ObjectType  ObjectType
	LocalID     LocalID
	RemoteID    RemoteID
	RemoteEtag  string
	LastSyncAt  time.Time
}

// SyncCursor is the durable bookmark for incremental pulls.  Exactly one row
// exists per (workspace, provider, object_type).  It is advanced only after a
// full page has been durably committed.
type SyncCursor struct {
	WorkspaceID WorkspaceID
	Provider    Provider
	ObjectType  ObjectType
	SinceTS     time.Time
	CursorToken string
	PageAfter   string
}

// FieldMapping is externally owned, read-only configuration describing how
// canonical local fields translate to a provider's field names and picklist
// values.
type FieldMapping struct {
	WorkspaceID WorkspaceID
	Provider    Provider
	ObjectType  ObjectType
	// Mapping is local canonical field name -> provider field name.
	Mapping map[string]string
	// PicklistTranslation is local field name -> (local value -> provider value).
	PicklistTranslation map[string]map[string]string
}

type SyncDirection string

const (
	SyncDirectionPush SyncDirection = "push"
	SyncDirectionPull SyncDirection = "pull"
)

type SyncLogLevel string

const (
	SyncLogLevelInfo  SyncLogLevel = "info"
	SyncLogLevelWarn  SyncLogLevel = "warn"
	SyncLogLevelError SyncLogLevel = "error"
)

// SyncLogEntry is an append-only record of a single sync attempt.
type SyncLogEntry struct {
	WorkspaceID   WorkspaceID
	Provider      Provider
	Level         SyncLogLevel
	ObjectType    ObjectType
	Direction     SyncDirection
	CorrelationID string
	Message       string
	Payload       map[string]interface{}
	CreatedAt     time.Time
}

type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusError     WebhookEventStatus = "error"
)

// WebhookEvent is an inbound provider notification.  The (provider, event_id)
// pair is the dedup key - redeliveries collapse onto the first row.
type WebhookEvent struct {
	Provider    Provider
	WorkspaceID WorkspaceID
	EventID     string
	ObjectType  ObjectType
	Payload     []byte
	Status      WebhookEventStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
