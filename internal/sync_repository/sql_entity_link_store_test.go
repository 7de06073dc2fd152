//go:build sql
// +build sql

package sync_repository

import (
	"context"
	"testing"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/db"
)

func TestSqlEntityLinkStoreEnforcesOneToOneMapping(t *testing.T) {

	cfg := config.GetConfig()

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		t.Fatal("Unable to connect to database: ", err)
	}

	linkStore, err := NewSqlEntityLinkStore(cfg, database)
	if err != nil {
		t.Fatal("unexpected error while creating the SqlEntityLinkStore", err)
	}

	link := domain.EntityLink{
		WorkspaceID: "link-test-ws-1",
		Provider:    domain.ProviderHubspot,
		ObjectType:  domain.ObjectTypeContact,
		LocalID:     "link-test-local-1",
		RemoteID:    "link-test-remote-1",
		RemoteEtag:  "etag-1",
		LastSyncAt:  time.Now().UTC(),
	}

	if err := linkStore.Upsert(context.TODO(), link); err != nil {
		t.Fatal("unexpected error while upserting an entity link", err)
	}

	// Refreshing the same pairing is fine.
	link.RemoteEtag = "etag-2"
	if err := linkStore.Upsert(context.TODO(), link); err != nil {
		t.Fatal("unexpected error while refreshing an entity link", err)
	}

	// A different remote record for the same local record is rejected.
	conflicting := link
	conflicting.RemoteID = "link-test-remote-other"
	if err := linkStore.Upsert(context.TODO(), conflicting); err != ErrLinkConflict {
		t.Fatal("expected a link conflict, got", err)
	}

	// A different local record for the same remote record is rejected.
	conflicting = link
	conflicting.LocalID = "link-test-local-other"
	if err := linkStore.Upsert(context.TODO(), conflicting); err != ErrLinkConflict {
		t.Fatal("expected a link conflict, got", err)
	}

	// A remote record stays claimed across workspaces.
	conflicting = link
	conflicting.WorkspaceID = "link-test-ws-2"
	conflicting.LocalID = "link-test-local-2"
	if err := linkStore.Upsert(context.TODO(), conflicting); err != ErrLinkConflict {
		t.Fatal("expected a cross-workspace link conflict, got", err)
	}

	found, err := linkStore.GetByLocal(context.TODO(), link.WorkspaceID, link.Provider, link.ObjectType, link.LocalID)
	if err != nil {
		t.Fatal("unexpected error while looking up an entity link", err)
	}
	if found.RemoteID != link.RemoteID || found.RemoteEtag != "etag-2" {
		t.Fatal("stored entity link does not match expected entity link", found, link)
	}

	byRemote, err := linkStore.GetByRemote(context.TODO(), link.Provider, link.RemoteID)
	if err != nil {
		t.Fatal("unexpected error while looking up an entity link by remote id", err)
	}
	if byRemote.LocalID != link.LocalID {
		t.Fatal("reverse lookup returned the wrong local record", byRemote, link)
	}
}

func TestSqlWebhookEventStoreDeduplicatesRedeliveries(t *testing.T) {

	cfg := config.GetConfig()

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		t.Fatal("Unable to connect to database: ", err)
	}

	eventStore, err := NewSqlWebhookEventStore(cfg, database)
	if err != nil {
		t.Fatal("unexpected error while creating the SqlWebhookEventStore", err)
	}

	event := domain.WebhookEvent{
		Provider:    domain.ProviderZoho,
		WorkspaceID: "webhook-test-ws-1",
		EventID:     "webhook-test-evt-1",
		ObjectType:  domain.ObjectTypeContact,
		Payload:     []byte(`{"id":"remote-1"}`),
	}

	if err := eventStore.Insert(context.TODO(), event); err != nil {
		t.Fatal("unexpected error while inserting a webhook event", err)
	}

	if err := eventStore.Insert(context.TODO(), event); err != ErrDuplicateEvent {
		t.Fatal("expected a duplicate event error, got", err)
	}

	if err := eventStore.MarkProcessed(context.TODO(), event.Provider, event.EventID); err != nil {
		t.Fatal("unexpected error while marking a webhook event processed", err)
	}

	stored, err := eventStore.Get(context.TODO(), event.Provider, event.EventID)
	if err != nil {
		t.Fatal("unexpected error while reading a webhook event", err)
	}
	if stored.Status != domain.WebhookEventStatusProcessed {
		t.Fatalf("expected event status to be processed, but got %s", stored.Status)
	}
	if stored.ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}
}
