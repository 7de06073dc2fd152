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
	"github.com/voxlane/crm-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func TestSqlSyncCursorStoreClaimExcludesSecondRunner(t *testing.T) {

	cfg := config.GetConfig()

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		t.Fatal("Unable to connect to database: ", err)
	}

	cursorStore, err := NewSqlSyncCursorStore(cfg, database)
	if err != nil {
		t.Fatal("unexpected error while creating the SqlSyncCursorStore", err)
	}

	key := CursorKey{
		WorkspaceID: "cursor-test-ws-1",
		Provider:    domain.ProviderHubspot,
		ObjectType:  domain.ObjectTypeContact,
	}

	_, err = cursorStore.Claim(context.TODO(), key, "runner-a", 30*time.Second)
	if err != nil {
		t.Fatal("unexpected error while claiming a cursor", err)
	}
	defer cursorStore.Release(context.TODO(), key, "runner-a")

	_, err = cursorStore.Claim(context.TODO(), key, "runner-b", 30*time.Second)
	if err != ErrCursorLocked {
		t.Fatal("expected the second runner to be locked out, got", err)
	}

	// Reclaiming under the same owner extends the lease.
	_, err = cursorStore.Claim(context.TODO(), key, "runner-a", 30*time.Second)
	if err != nil {
		t.Fatal("unexpected error while reclaiming a cursor", err)
	}
}

func TestSqlSyncCursorStoreAdvanceIsConditional(t *testing.T) {

	cfg := config.GetConfig()

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		t.Fatal("Unable to connect to database: ", err)
	}

	cursorStore, err := NewSqlSyncCursorStore(cfg, database)
	if err != nil {
		t.Fatal("unexpected error while creating the SqlSyncCursorStore", err)
	}

	key := CursorKey{
		WorkspaceID: "cursor-test-ws-2",
		Provider:    domain.ProviderSalesforce,
		ObjectType:  domain.ObjectTypeDeal,
	}

	claimed, err := cursorStore.Claim(context.TODO(), key, "runner-a", 30*time.Second)
	if err != nil {
		t.Fatal("unexpected error while claiming a cursor", err)
	}
	defer cursorStore.Release(context.TODO(), key, "runner-a")

	next := domain.SyncCursor{
		WorkspaceID: key.WorkspaceID,
		Provider:    key.Provider,
		ObjectType:  key.ObjectType,
		SinceTS:     time.Now().UTC(),
		CursorToken: "token-1",
	}

	err = cursorStore.Advance(context.TODO(), key, claimed.CursorToken, next)
	if err != nil {
		t.Fatal("unexpected error while advancing a cursor", err)
	}

	// The same observed token again no longer matches the stored row.
	err = cursorStore.Advance(context.TODO(), key, claimed.CursorToken, next)
	if err != ErrStaleCursor {
		t.Fatal("expected a stale cursor error, got", err)
	}

	updated, err := cursorStore.Get(context.TODO(), key)
	if err != nil {
		t.Fatal("unexpected error while reading a cursor", err)
	}

	if updated.CursorToken != "token-1" {
		t.Fatalf("expected cursor token to be token-1, but got %s", updated.CursorToken)
	}
}
