package sync_repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlSyncCursorStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlSyncCursorStore(cfg *config.Config, database *sql.DB) (*SqlSyncCursorStore, error) {
	return &SqlSyncCursorStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (scs *SqlSyncCursorStore) Get(ctx context.Context, key CursorKey) (domain.SyncCursor, error) {

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	cursor := domain.SyncCursor{
		WorkspaceID: key.WorkspaceID,
		Provider:    key.Provider,
		ObjectType:  key.ObjectType,
	}

	var sinceTS sql.NullTime
	var cursorToken sql.NullString
	var pageAfter sql.NullString

	err := scs.database.QueryRowContext(ctx,
		`SELECT since_ts, cursor_token, page_after FROM crm_sync_cursors
         WHERE workspace_id = $1 AND provider = $2 AND object_type = $3`,
		key.WorkspaceID, key.Provider, key.ObjectType).Scan(&sinceTS, &cursorToken, &pageAfter)

	if err == sql.ErrNoRows {
		return cursor, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return cursor, err
	}

	if sinceTS.Valid {
		cursor.SinceTS = sinceTS.Time
	}
	cursor.CursorToken = cursorToken.String
	cursor.PageAfter = pageAfter.String

	return cursor, nil
}

func (scs *SqlSyncCursorStore) Claim(ctx context.Context, key CursorKey, owner string, ttl time.Duration) (domain.SyncCursor, error) {

	callDurationTimer := prometheus.NewTimer(metrics.cursorClaimDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	log := logger.Log.WithFields(logrus.Fields{
		"workspace":   key.WorkspaceID,
		"provider":    key.Provider,
		"object_type": key.ObjectType})

	_, err := scs.database.ExecContext(ctx,
		`INSERT INTO crm_sync_cursors (workspace_id, provider, object_type)
         VALUES ($1, $2, $3)
         ON CONFLICT (workspace_id, provider, object_type) DO NOTHING`,
		key.WorkspaceID, key.Provider, key.ObjectType)
	if err != nil {
		logger.LogError("SQL insert failed", err)
		return domain.SyncCursor{}, err
	}

	cursor := domain.SyncCursor{
		WorkspaceID: key.WorkspaceID,
		Provider:    key.Provider,
		ObjectType:  key.ObjectType,
	}

	var sinceTS sql.NullTime
	var cursorToken sql.NullString
	var pageAfter sql.NullString

	// The conditional update is the lease: a second runner sees zero rows
	// until locked_until expires.
	err = scs.database.QueryRowContext(ctx,
		`UPDATE crm_sync_cursors
         SET locked_by = $4, locked_until = NOW() + $5 * INTERVAL '1 second'
         WHERE workspace_id = $1 AND provider = $2 AND object_type = $3
           AND (locked_until IS NULL OR locked_until < NOW() OR locked_by = $4)
         RETURNING since_ts, cursor_token, page_after`,
		key.WorkspaceID, key.Provider, key.ObjectType, owner, ttl.Seconds()).Scan(&sinceTS, &cursorToken, &pageAfter)

	if err == sql.ErrNoRows {
		metrics.cursorClaimContentionCounter.Inc()
		log.Debug("Cursor is claimed by another runner")
		return domain.SyncCursor{}, ErrCursorLocked
	}
	if err != nil {
		logger.LogError("SQL update failed", err)
		return domain.SyncCursor{}, err
	}

	if sinceTS.Valid {
		cursor.SinceTS = sinceTS.Time
	}
	cursor.CursorToken = cursorToken.String
	cursor.PageAfter = pageAfter.String

	log.Debug("Claimed a sync cursor")
	return cursor, nil
}

func (scs *SqlSyncCursorStore) Advance(ctx context.Context, key CursorKey, observedToken string, next domain.SyncCursor) error {

	callDurationTimer := prometheus.NewTimer(metrics.cursorAdvanceDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	var sinceTS interface{}
	if !next.SinceTS.IsZero() {
		sinceTS = next.SinceTS
	}

	results, err := scs.database.ExecContext(ctx,
		`UPDATE crm_sync_cursors
         SET since_ts = $4, cursor_token = $5, page_after = $6, updated_at = NOW()
         WHERE workspace_id = $1 AND provider = $2 AND object_type = $3
           AND cursor_token IS NOT DISTINCT FROM NULLIF($7, '')`,
		key.WorkspaceID, key.Provider, key.ObjectType,
		sinceTS, nullIfEmpty(next.CursorToken), nullIfEmpty(next.PageAfter), observedToken)
	if err != nil {
		logger.LogError("SQL update failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		logger.LogError("Unable to determine rows affected", err)
		return err
	}

	if rowsAffected == 0 {
		return ErrStaleCursor
	}

	return nil
}

func (scs *SqlSyncCursorStore) Release(ctx context.Context, key CursorKey, owner string) error {

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	_, err := scs.database.ExecContext(ctx,
		`UPDATE crm_sync_cursors
         SET locked_by = NULL, locked_until = NULL
         WHERE workspace_id = $1 AND provider = $2 AND object_type = $3 AND locked_by = $4`,
		key.WorkspaceID, key.Provider, key.ObjectType, owner)
	if err != nil {
		logger.LogError("SQL update failed", err)
	}

	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
