package sync_repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlEntityLinkStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlEntityLinkStore(cfg *config.Config, database *sql.DB) (*SqlEntityLinkStore, error) {
	return &SqlEntityLinkStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (els *SqlEntityLinkStore) GetByLocal(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, localID domain.LocalID) (domain.EntityLink, error) {

	callDurationTimer := prometheus.NewTimer(metrics.entityLinkLookupDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, els.queryTimeout)
	defer cancel()

	link := domain.EntityLink{
		WorkspaceID: workspace,
		Provider:    provider,
		ObjectType:  objectType,
		LocalID:     localID,
	}

	var remoteEtag sql.NullString

	err := els.database.QueryRowContext(ctx,
		`SELECT remote_id, remote_etag, last_sync_at FROM crm_entity_links
         WHERE workspace_id = $1 AND provider = $2 AND object_type = $3 AND local_id = $4`,
		workspace, provider, objectType, localID).Scan(&link.RemoteID, &remoteEtag, &link.LastSyncAt)

	if err == sql.ErrNoRows {
		return link, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return link, err
	}

	link.RemoteEtag = remoteEtag.String

	return link, nil
}

func (els *SqlEntityLinkStore) GetByRemote(ctx context.Context, provider domain.Provider, remoteID domain.RemoteID) (domain.EntityLink, error) {

	callDurationTimer := prometheus.NewTimer(metrics.entityLinkLookupDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, els.queryTimeout)
	defer cancel()

	link := domain.EntityLink{
		Provider: provider,
		RemoteID: remoteID,
	}

	var remoteEtag sql.NullString

	err := els.database.QueryRowContext(ctx,
		`SELECT workspace_id, object_type, local_id, remote_etag, last_sync_at FROM crm_entity_links
         WHERE provider = $1 AND remote_id = $2`,
		provider, remoteID).Scan(&link.WorkspaceID, &link.ObjectType, &link.LocalID, &remoteEtag, &link.LastSyncAt)

	if err == sql.ErrNoRows {
		return link, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return link, err
	}

	link.RemoteEtag = remoteEtag.String

	return link, nil
}

// Upsert creates or refreshes a link.  Both uniqueness invariants are
// enforced in one statement: the ON CONFLICT arm only updates a row that
// already points at the same remote record, and the (provider, remote_id)
// unique index rejects an insert that would alias a second local record.
func (els *SqlEntityLinkStore) Upsert(ctx context.Context, link domain.EntityLink) error {

	callDurationTimer := prometheus.NewTimer(metrics.entityLinkUpsertDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, els.queryTimeout)
	defer cancel()

	log := logger.Log.WithFields(logrus.Fields{
		"workspace":   link.WorkspaceID,
		"provider":    link.Provider,
		"object_type": link.ObjectType,
		"local_id":    link.LocalID,
		"remote_id":   link.RemoteID})

	results, err := els.database.ExecContext(ctx,
		`INSERT INTO crm_entity_links (workspace_id, provider, object_type, local_id, remote_id, remote_etag, last_sync_at)
         VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
         ON CONFLICT (workspace_id, provider, object_type, local_id)
         DO UPDATE SET remote_etag = NULLIF($6, ''), last_sync_at = $7
         WHERE crm_entity_links.remote_id = EXCLUDED.remote_id`,
		link.WorkspaceID, link.Provider, link.ObjectType, link.LocalID,
		link.RemoteID, link.RemoteEtag, link.LastSyncAt)

	if err != nil {
		var pqError *pq.Error
		if errors.As(err, &pqError) && string(pqError.Code) == pgerrcode.UniqueViolation {
			metrics.entityLinkConflictCounter.Inc()
			log.Warn("Entity link upsert rejected - remote record is already linked")
			return ErrLinkConflict
		}
		logger.LogError("SQL upsert failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		logger.LogError("Unable to determine rows affected", err)
		return err
	}

	// Zero rows means the local record is already linked to a different
	// remote record.  Surface it, do not guess which mapping is right.
	if rowsAffected == 0 {
		metrics.entityLinkConflictCounter.Inc()
		log.Warn("Entity link upsert rejected - local record is linked to a different remote record")
		return ErrLinkConflict
	}

	log.Debug("Upserted an entity link")
	return nil
}
