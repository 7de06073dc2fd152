package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/sync_repository"
)

func init() {
	logger.InitLogger()
}

type serviceFixture struct {
	service     *CrmSyncService
	client      *fakeClient
	cursors     *fakeCursorStore
	links       *fakeLinkStore
	syncLog     *fakeSyncLogWriter
	idempotency *fakeIdempotencyStore
	connections *fakeConnectionStore
	locals      *fakeLocalRecordStore
	mappings    *identityMappingStore
	alerts      *fakeAlertReporter
}

func newServiceFixture(t *testing.T, mappedFields []string) *serviceFixture {
	t.Helper()

	fixture := &serviceFixture{
		client:      &fakeClient{},
		cursors:     newFakeCursorStore(),
		links:       newFakeLinkStore(),
		syncLog:     &fakeSyncLogWriter{},
		idempotency: newFakeIdempotencyStore(),
		connections: newFakeConnectionStore(),
		locals:      newFakeLocalRecordStore(),
		mappings:    &identityMappingStore{fields: mappedFields},
		alerts:      &fakeAlertReporter{},
	}

	registry := crmclient.NewRegistry()
	registry.Register(domain.ProviderHubspot, fixture.client)

	cfg := config.GetConfig()

	fixture.service = NewCrmSyncService(cfg, registry, fixture.cursors, fixture.links, fixture.syncLog,
		fixture.idempotency, fixture.connections, fixture.locals,
		NewFieldMapper(cfg, fixture.mappings), fixture.alerts, "test-runner")

	return fixture
}

func TestPushOutcomesCreatesRemoteRecordAndLinkExactlyOnce(t *testing.T) {

	fixture := newServiceFixture(t, []string{"call_result", "notes"})

	fixture.locals.records["ws_1/contact/local_42"] = LocalRecord{LocalID: "local_42"}

	outcome := OutcomeData{
		LocalID:    "local_42",
		ObjectType: domain.ObjectTypeContact,
		Fields:     map[string]interface{}{"call_result": "answered", "notes": "left voicemail follow-up"},
		OccurredAt: time.Now(),
	}

	result, err := fixture.service.PushOutcomes(context.TODO(), "ws_1", domain.ProviderHubspot, "call_7", outcome)
	if err != nil {
		t.Fatal("unexpected error while pushing an outcome", err)
	}
	if !result.Success || result.Replayed {
		t.Fatal("expected a fresh successful push, got", result)
	}
	if result.RemoteID != "hs_999" {
		t.Fatalf("expected remote id hs_999, but got %s", result.RemoteID)
	}
	if fixture.client.createCalls != 1 {
		t.Fatalf("expected exactly one remote create, but got %d", fixture.client.createCalls)
	}

	link, err := fixture.links.GetByLocal(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact, "local_42")
	if err != nil {
		t.Fatal("expected an entity link to exist after the push", err)
	}
	if link.RemoteID != "hs_999" {
		t.Fatalf("expected the link to point at hs_999, but got %s", link.RemoteID)
	}

	// An identical retry returns the stored result without a remote write.
	repeat, err := fixture.service.PushOutcomes(context.TODO(), "ws_1", domain.ProviderHubspot, "call_7", outcome)
	if err != nil {
		t.Fatal("unexpected error while repeating a push", err)
	}
	if !repeat.Replayed || !repeat.Success {
		t.Fatal("expected the repeat push to be replayed from the idempotency store, got", repeat)
	}
	if repeat.RemoteID != "hs_999" {
		t.Fatalf("expected the replayed result to carry hs_999, but got %s", repeat.RemoteID)
	}
	if fixture.client.createCalls != 1 || fixture.client.updateCalls != 0 {
		t.Fatalf("expected no further remote writes, got %d creates and %d updates",
			fixture.client.createCalls, fixture.client.updateCalls)
	}

	afterRepeat, err := fixture.links.GetByLocal(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact, "local_42")
	if err != nil {
		t.Fatal("unexpected error while rereading the entity link", err)
	}
	if afterRepeat != link {
		t.Fatal("expected the entity link to be unchanged by the repeat push", afterRepeat, link)
	}
}

func TestPushOutcomesUpdatesLinkedRecordWithEtagPrecondition(t *testing.T) {

	fixture := newServiceFixture(t, []string{"call_result"})

	fixture.links.links[localKey("ws_1", domain.ProviderHubspot, domain.ObjectTypeContact, "local_42")] = domain.EntityLink{
		WorkspaceID: "ws_1",
		Provider:    domain.ProviderHubspot,
		ObjectType:  domain.ObjectTypeContact,
		LocalID:     "local_42",
		RemoteID:    "hs_999",
		RemoteEtag:  "etag-old",
	}

	outcome := OutcomeData{
		LocalID:    "local_42",
		ObjectType: domain.ObjectTypeContact,
		Fields:     map[string]interface{}{"call_result": "answered"},
	}

	result, err := fixture.service.PushOutcomes(context.TODO(), "ws_1", domain.ProviderHubspot, "call_8", outcome)
	if err != nil {
		t.Fatal("unexpected error while pushing an outcome", err)
	}
	if fixture.client.updateCalls != 1 || fixture.client.createCalls != 0 {
		t.Fatalf("expected one update and no creates, got %d updates and %d creates",
			fixture.client.updateCalls, fixture.client.createCalls)
	}
	if result.RemoteID != "hs_999" {
		t.Fatalf("expected the existing remote id, but got %s", result.RemoteID)
	}

	link, _ := fixture.links.GetByLocal(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact, "local_42")
	if link.RemoteEtag != "etag-1" {
		t.Fatalf("expected the link etag to be refreshed, but got %s", link.RemoteEtag)
	}
}

func TestPushOutcomesAuthFailureFlipsConnectionAndReportsAlert(t *testing.T) {

	fixture := newServiceFixture(t, []string{"call_result"})
	fixture.client.createErr = crmclient.NewAuthError(errors.New("token revoked"))

	outcome := OutcomeData{
		LocalID:    "local_42",
		ObjectType: domain.ObjectTypeContact,
		Fields:     map[string]interface{}{"call_result": "answered"},
	}

	_, err := fixture.service.PushOutcomes(context.TODO(), "ws_1", domain.ProviderHubspot, "call_9", outcome)
	if err == nil {
		t.Fatal("expected the push to fail")
	}

	connection, err := fixture.connections.Get(context.TODO(), "ws_1", domain.ProviderHubspot)
	if err != nil {
		t.Fatal("expected the connection status to have been written", err)
	}
	if connection.Status != domain.ConnectionStatusError {
		t.Fatalf("expected the connection to be flipped to error, but got %s", connection.Status)
	}
	if fixture.alerts.connectionFailures != 1 {
		t.Fatalf("expected exactly one connection failure report, but got %d", fixture.alerts.connectionFailures)
	}
	if fixture.syncLog.countAtLevel(domain.SyncLogLevelError) != 1 {
		t.Fatal("expected an error sync log entry")
	}
}

func TestPullDeltaCreatesLocalRecordsAndLinks(t *testing.T) {

	fixture := newServiceFixture(t, []string{"email", "name"})
	fixture.client.pages = []crmclient.Page{
		{
			Records: []crmclient.RemoteRecord{
				{RemoteID: "hs_1", Etag: "e1", UpdatedAt: time.Now(), Fields: map[string]interface{}{"email": "a@example.com"}},
				{RemoteID: "hs_2", Etag: "e2", UpdatedAt: time.Now(), Fields: map[string]interface{}{"email": "b@example.com"}},
			},
			NextCursor: "cursor-1",
			HasMore:    false,
		},
	}

	result, err := fixture.service.PullDelta(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact)
	if err != nil {
		t.Fatal("unexpected error while pulling deltas", err)
	}
	if !result.Success || result.Count != 2 {
		t.Fatal("expected two records applied, got", result)
	}

	if len(fixture.locals.records) != 2 {
		t.Fatalf("expected two local records, but got %d", len(fixture.locals.records))
	}
	if len(fixture.links.links) != 2 {
		t.Fatalf("expected two entity links, but got %d", len(fixture.links.links))
	}

	key := sync_repository.CursorKey{WorkspaceID: "ws_1", Provider: domain.ProviderHubspot, ObjectType: domain.ObjectTypeContact}
	cursor, err := fixture.cursors.Get(context.TODO(), key)
	if err != nil {
		t.Fatal("expected the cursor to exist", err)
	}
	if cursor.CursorToken != "cursor-1" {
		t.Fatalf("expected the cursor to have advanced to cursor-1, but got %s", cursor.CursorToken)
	}
	if _, stillLocked := fixture.cursors.locked[key]; stillLocked {
		t.Fatal("expected the cursor claim to be released")
	}
	if fixture.alerts.connectionSuccesses != 1 {
		t.Fatalf("expected the successful pull to report connection health, but got %d reports", fixture.alerts.connectionSuccesses)
	}
}

func TestPullDeltaResumesFromStoredProviderToken(t *testing.T) {

	fixture := newServiceFixture(t, []string{"email"})

	key := sync_repository.CursorKey{WorkspaceID: "ws_1", Provider: domain.ProviderHubspot, ObjectType: domain.ObjectTypeContact}
	fixture.cursors.cursors[key] = domain.SyncCursor{
		WorkspaceID: "ws_1",
		Provider:    domain.ProviderHubspot,
		ObjectType:  domain.ObjectTypeContact,
		SinceTS:     time.Now().Add(-time.Hour),
		CursorToken: "cursor-9",
	}

	fixture.client.pages = []crmclient.Page{
		{
			Records: []crmclient.RemoteRecord{
				{RemoteID: "hs_1", Etag: "e1", UpdatedAt: time.Now(), Fields: map[string]interface{}{"email": "a@example.com"}},
			},
			NextCursor: "cursor-10",
		},
	}

	if _, err := fixture.service.PullDelta(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact); err != nil {
		t.Fatal("unexpected error while pulling deltas", err)
	}

	if len(fixture.client.listCursors) == 0 || fixture.client.listCursors[0] != "cursor-9" {
		t.Fatalf("expected the first provider call to resume from cursor-9, but got %v", fixture.client.listCursors)
	}
	if cursor := fixture.cursors.cursors[key]; cursor.CursorToken != "cursor-10" {
		t.Fatalf("expected the cursor to have advanced to cursor-10, but got %s", cursor.CursorToken)
	}
}

func TestBackfillSucceedsOverAPreviouslyAdvancedCursor(t *testing.T) {

	fixture := newServiceFixture(t, []string{"email"})

	// A prior delta run left a provider token behind.
	key := sync_repository.CursorKey{WorkspaceID: "ws_1", Provider: domain.ProviderHubspot, ObjectType: domain.ObjectTypeContact}
	fixture.cursors.cursors[key] = domain.SyncCursor{
		WorkspaceID: "ws_1",
		Provider:    domain.ProviderHubspot,
		ObjectType:  domain.ObjectTypeContact,
		SinceTS:     time.Now().Add(-time.Hour),
		CursorToken: "cursor-9",
	}

	fixture.client.pages = []crmclient.Page{
		{
			Records: []crmclient.RemoteRecord{
				{RemoteID: "hs_1", Etag: "e1", UpdatedAt: time.Now(), Fields: map[string]interface{}{"email": "a@example.com"}},
			},
			NextCursor: "backfill-1",
		},
	}

	result, err := fixture.service.Backfill(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact, 0)
	if err != nil {
		t.Fatal("unexpected error while backfilling over an existing cursor", err)
	}
	if !result.Success {
		t.Fatal("expected the backfill to succeed, got", result)
	}

	if len(fixture.client.listCursors) == 0 || fixture.client.listCursors[0] != "" {
		t.Fatalf("expected the backfill to start from the beginning, but got cursors %v", fixture.client.listCursors)
	}
	if cursor := fixture.cursors.cursors[key]; cursor.CursorToken != "backfill-1" {
		t.Fatalf("expected the cursor to have advanced to backfill-1, but got %s", cursor.CursorToken)
	}
}

func TestPullDeltaReprocessingAPageCreatesNoDuplicateLinks(t *testing.T) {

	fixture := newServiceFixture(t, []string{"email"})

	page := crmclient.Page{
		Records: []crmclient.RemoteRecord{
			{RemoteID: "hs_1", Etag: "e1", UpdatedAt: time.Now(), Fields: map[string]interface{}{"email": "a@example.com"}},
		},
	}

	// The same page served twice models a crash after processing but before
	// the cursor advanced.
	fixture.client.pages = []crmclient.Page{page, page}

	if _, err := fixture.service.PullDelta(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact); err != nil {
		t.Fatal("unexpected error on the first pull", err)
	}
	if _, err := fixture.service.PullDelta(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact); err != nil {
		t.Fatal("unexpected error on the second pull", err)
	}

	if len(fixture.links.links) != 1 {
		t.Fatalf("expected a single entity link after reprocessing, but got %d", len(fixture.links.links))
	}
	if len(fixture.locals.records) != 1 {
		t.Fatalf("expected a single local record after reprocessing, but got %d", len(fixture.locals.records))
	}
}

func TestPullDeltaBacksOffWhenCursorIsClaimed(t *testing.T) {

	fixture := newServiceFixture(t, []string{"email"})

	key := sync_repository.CursorKey{WorkspaceID: "ws_1", Provider: domain.ProviderHubspot, ObjectType: domain.ObjectTypeContact}
	fixture.cursors.locked[key] = "another-runner"

	_, err := fixture.service.PullDelta(context.TODO(), "ws_1", domain.ProviderHubspot, domain.ObjectTypeContact)
	if !errors.Is(err, sync_repository.ErrCursorLocked) {
		t.Fatal("expected a cursor locked error, got", err)
	}
	if fixture.client.listCalls != 0 {
		t.Fatal("expected no provider calls while the cursor is held elsewhere")
	}
}
