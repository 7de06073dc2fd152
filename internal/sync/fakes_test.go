package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/sync_repository"
)

type fakeCursorStore struct {
	cursors map[sync_repository.CursorKey]domain.SyncCursor
	locked  map[sync_repository.CursorKey]string
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{
		cursors: make(map[sync_repository.CursorKey]domain.SyncCursor),
		locked:  make(map[sync_repository.CursorKey]string),
	}
}

func (f *fakeCursorStore) Get(ctx context.Context, key sync_repository.CursorKey) (domain.SyncCursor, error) {
	cursor, ok := f.cursors[key]
	if !ok {
		return domain.SyncCursor{}, sync_repository.ErrNotFound
	}
	return cursor, nil
}

func (f *fakeCursorStore) Claim(ctx context.Context, key sync_repository.CursorKey, owner string, ttl time.Duration) (domain.SyncCursor, error) {
	if holder, ok := f.locked[key]; ok && holder != owner {
		return domain.SyncCursor{}, sync_repository.ErrCursorLocked
	}
	f.locked[key] = owner
	cursor, ok := f.cursors[key]
	if !ok {
		cursor = domain.SyncCursor{WorkspaceID: key.WorkspaceID, Provider: key.Provider, ObjectType: key.ObjectType}
		f.cursors[key] = cursor
	}
	return cursor, nil
}

func (f *fakeCursorStore) Advance(ctx context.Context, key sync_repository.CursorKey, observedToken string, next domain.SyncCursor) error {
	if f.cursors[key].CursorToken != observedToken {
		return sync_repository.ErrStaleCursor
	}
	f.cursors[key] = next
	return nil
}

func (f *fakeCursorStore) Release(ctx context.Context, key sync_repository.CursorKey, owner string) error {
	if f.locked[key] == owner {
		delete(f.locked, key)
	}
	return nil
}

type fakeLinkStore struct {
	links map[string]domain.EntityLink
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{links: make(map[string]domain.EntityLink)}
}

func localKey(workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, localID domain.LocalID) string {
	return fmt.Sprintf("%s/%s/%s/%s", workspace, provider, objectType, localID)
}

func (f *fakeLinkStore) GetByLocal(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, localID domain.LocalID) (domain.EntityLink, error) {
	link, ok := f.links[localKey(workspace, provider, objectType, localID)]
	if !ok {
		return domain.EntityLink{}, sync_repository.ErrNotFound
	}
	return link, nil
}

func (f *fakeLinkStore) GetByRemote(ctx context.Context, provider domain.Provider, remoteID domain.RemoteID) (domain.EntityLink, error) {
	for _, link := range f.links {
		if link.Provider == provider && link.RemoteID == remoteID {
			return link, nil
		}
	}
	return domain.EntityLink{}, sync_repository.ErrNotFound
}

func (f *fakeLinkStore) Upsert(ctx context.Context, link domain.EntityLink) error {
	key := localKey(link.WorkspaceID, link.Provider, link.ObjectType, link.LocalID)
	if existing, ok := f.links[key]; ok && existing.RemoteID != link.RemoteID {
		return sync_repository.ErrLinkConflict
	}
	for otherKey, other := range f.links {
		if otherKey != key && other.Provider == link.Provider && other.RemoteID == link.RemoteID {
			return sync_repository.ErrLinkConflict
		}
	}
	f.links[key] = link
	return nil
}

type fakeSyncLogWriter struct {
	entries []domain.SyncLogEntry
}

func (f *fakeSyncLogWriter) Write(ctx context.Context, entry domain.SyncLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeSyncLogWriter) countAtLevel(level domain.SyncLogLevel) int {
	count := 0
	for _, entry := range f.entries {
		if entry.Level == level {
			count++
		}
	}
	return count
}

type fakeIdempotencyStore struct {
	records map[string]sync_repository.IdempotencyRecord
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{records: make(map[string]sync_repository.IdempotencyRecord)}
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, digest string) (sync_repository.IdempotencyRecord, error) {
	record, ok := f.records[digest]
	if !ok {
		return sync_repository.IdempotencyRecord{}, sync_repository.ErrNotFound
	}
	return record, nil
}

func (f *fakeIdempotencyStore) Put(ctx context.Context, record sync_repository.IdempotencyRecord) error {
	if _, ok := f.records[record.Digest]; !ok {
		f.records[record.Digest] = record
	}
	return nil
}

type fakeConnectionStore struct {
	statuses map[string]domain.ConnectionStatus
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{statuses: make(map[string]domain.ConnectionStatus)}
}

func (f *fakeConnectionStore) Get(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) (domain.ProviderConnection, error) {
	status, ok := f.statuses[string(workspace)+"/"+string(provider)]
	if !ok {
		return domain.ProviderConnection{}, sync_repository.ErrNotFound
	}
	return domain.ProviderConnection{WorkspaceID: workspace, Provider: provider, Status: status}, nil
}

func (f *fakeConnectionStore) UpdateStatus(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, status domain.ConnectionStatus) error {
	f.statuses[string(workspace)+"/"+string(provider)] = status
	return nil
}

type fakeLocalRecordStore struct {
	records map[string]LocalRecord
	nextID  int
}

func newFakeLocalRecordStore() *fakeLocalRecordStore {
	return &fakeLocalRecordStore{records: make(map[string]LocalRecord)}
}

func (f *fakeLocalRecordStore) Get(ctx context.Context, workspace domain.WorkspaceID, objectType domain.ObjectType, localID domain.LocalID) (LocalRecord, error) {
	record, ok := f.records[string(workspace)+"/"+string(objectType)+"/"+string(localID)]
	if !ok {
		return LocalRecord{}, ErrLocalRecordNotFound
	}
	return record, nil
}

func (f *fakeLocalRecordStore) Save(ctx context.Context, workspace domain.WorkspaceID, objectType domain.ObjectType, record LocalRecord) (domain.LocalID, error) {
	if record.LocalID == "" {
		f.nextID++
		record.LocalID = domain.LocalID(fmt.Sprintf("local-%d", f.nextID))
	}
	f.records[string(workspace)+"/"+string(objectType)+"/"+string(record.LocalID)] = record
	return record.LocalID, nil
}

// identityMappingStore returns a mapping where provider names equal local
// names for the given fields.
type identityMappingStore struct {
	fields   []string
	getCalls int
}

func (f *identityMappingStore) Get(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType) (domain.FieldMapping, error) {
	f.getCalls++
	mapping := make(map[string]string, len(f.fields))
	for _, field := range f.fields {
		mapping[field] = field
	}
	return domain.FieldMapping{
		WorkspaceID: workspace,
		Provider:    provider,
		ObjectType:  objectType,
		Mapping:     mapping,
	}, nil
}

type fakeAlertReporter struct {
	connectionFailures  int
	connectionSuccesses int
}

func (f *fakeAlertReporter) ReportConnectionFailure(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) {
	f.connectionFailures++
}

func (f *fakeAlertReporter) ReportConnectionSuccess(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) {
	f.connectionSuccesses++
}

// fakeClient serves scripted pages and records writes.
type fakeClient struct {
	pages       []crmclient.Page
	listCalls   int
	listCursors []string
	createCalls int
	updateCalls int
	nextID      int
	createErr   error
	updateErr   error
}

func (f *fakeClient) ListChanged(ctx context.Context, objectType domain.ObjectType, since time.Time, cursor string, limit int) (crmclient.Page, error) {
	f.listCursors = append(f.listCursors, cursor)
	if f.listCalls >= len(f.pages) {
		f.listCalls++
		return crmclient.Page{}, nil
	}
	page := f.pages[f.listCalls]
	f.listCalls++
	return page, nil
}

func (f *fakeClient) Create(ctx context.Context, objectType domain.ObjectType, fields map[string]interface{}) (domain.RemoteID, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	return domain.RemoteID(fmt.Sprintf("hs_%d", 998+f.nextID)), nil
}

func (f *fakeClient) Update(ctx context.Context, objectType domain.ObjectType, remoteID domain.RemoteID, fields map[string]interface{}, preconditionEtag string) (string, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return fmt.Sprintf("etag-%d", f.updateCalls), nil
}
