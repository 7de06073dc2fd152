package sync_repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/platform/logger"
)

type SqlIdempotencyKeyStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlIdempotencyKeyStore(cfg *config.Config, database *sql.DB) (*SqlIdempotencyKeyStore, error) {
	return &SqlIdempotencyKeyStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (iks *SqlIdempotencyKeyStore) Get(ctx context.Context, digest string) (IdempotencyRecord, error) {

	ctx, cancel := context.WithTimeout(ctx, iks.queryTimeout)
	defer cancel()

	record := IdempotencyRecord{
		Digest: digest,
	}

	var remoteEtag sql.NullString

	err := iks.database.QueryRowContext(ctx,
		`SELECT workspace_id, provider, object_type, operation, remote_id, remote_etag, succeeded, created_at
         FROM crm_idempotency_keys
         WHERE digest = $1`,
		digest).Scan(&record.WorkspaceID, &record.Provider, &record.ObjectType, &record.Operation,
		&record.RemoteID, &remoteEtag, &record.Succeeded, &record.CreatedAt)

	if err == sql.ErrNoRows {
		return record, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return record, err
	}

	record.RemoteEtag = remoteEtag.String

	return record, nil
}

// Put stores the result of a guarded remote write.  A concurrent writer can
// land the same digest first; the earlier result wins and this call is a noop.
func (iks *SqlIdempotencyKeyStore) Put(ctx context.Context, record IdempotencyRecord) error {

	ctx, cancel := context.WithTimeout(ctx, iks.queryTimeout)
	defer cancel()

	_, err := iks.database.ExecContext(ctx,
		`INSERT INTO crm_idempotency_keys (digest, workspace_id, provider, object_type, operation, remote_id, remote_etag, succeeded)
         VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
         ON CONFLICT (digest) DO NOTHING`,
		record.Digest, record.WorkspaceID, record.Provider, record.ObjectType,
		record.Operation, record.RemoteID, record.RemoteEtag, record.Succeeded)

	if err != nil {
		logger.LogError("SQL insert failed", err)
	}

	return err
}
