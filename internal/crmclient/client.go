package crmclient

import (
	"context"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

// RemoteRecord is one changed record as reported by a provider, already
// reduced to a flat field set.
type RemoteRecord struct {
	RemoteID  domain.RemoteID
	Etag      string
	UpdatedAt time.Time
	Fields    map[string]interface{}
}

// Page is one bounded slice of changed records plus the opaque cursor to
// request the next slice.
type Page struct {
	Records    []RemoteRecord
	NextCursor string
	HasMore    bool
}

// Client is the uniform capability set this service requires from every CRM
// provider.  One implementation exists per provider; the sync service never
// sees provider wire formats.
type Client interface {
	ListChanged(ctx context.Context, objectType domain.ObjectType, since time.Time, cursor string, limit int) (Page, error)
	Create(ctx context.Context, objectType domain.ObjectType, fields map[string]interface{}) (domain.RemoteID, error)
	Update(ctx context.Context, objectType domain.ObjectType, remoteID domain.RemoteID, fields map[string]interface{}, preconditionEtag string) (string, error)
}
