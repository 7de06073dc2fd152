package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/google/uuid"
)

// SqlLocalRecordStore keeps the canonical record copies this service syncs
// against.  Deployments that embed the connector next to the platform
// database point this at the platform's own tables instead.
type SqlLocalRecordStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlLocalRecordStore(cfg *config.Config, database *sql.DB) (*SqlLocalRecordStore, error) {
	return &SqlLocalRecordStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (lrs *SqlLocalRecordStore) Get(ctx context.Context, workspace domain.WorkspaceID, objectType domain.ObjectType, localID domain.LocalID) (LocalRecord, error) {

	ctx, cancel := context.WithTimeout(ctx, lrs.queryTimeout)
	defer cancel()

	record := LocalRecord{LocalID: localID}

	var rawFields []byte
	var rawFieldTimes []byte

	err := lrs.database.QueryRowContext(ctx,
		`SELECT fields, field_updated_at, updated_at FROM crm_local_records
         WHERE workspace_id = $1 AND object_type = $2 AND local_id = $3`,
		workspace, objectType, localID).Scan(&rawFields, &rawFieldTimes, &record.UpdatedAt)

	if err == sql.ErrNoRows {
		return record, ErrLocalRecordNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return record, err
	}

	if err := json.Unmarshal(rawFields, &record.Fields); err != nil {
		logger.LogError("Unable to unmarshal local record fields", err)
		return record, err
	}

	if len(rawFieldTimes) > 0 {
		if err := json.Unmarshal(rawFieldTimes, &record.FieldUpdatedAt); err != nil {
			logger.LogError("Unable to unmarshal local record field timestamps", err)
			return record, err
		}
	}

	return record, nil
}

func (lrs *SqlLocalRecordStore) Save(ctx context.Context, workspace domain.WorkspaceID, objectType domain.ObjectType, record LocalRecord) (domain.LocalID, error) {

	ctx, cancel := context.WithTimeout(ctx, lrs.queryTimeout)
	defer cancel()

	localID := record.LocalID
	if localID == "" {
		localID = domain.LocalID(uuid.NewString())
	}

	rawFields, err := json.Marshal(record.Fields)
	if err != nil {
		logger.LogError("Unable to marshal local record fields", err)
		return localID, err
	}

	rawFieldTimes, err := json.Marshal(record.FieldUpdatedAt)
	if err != nil {
		logger.LogError("Unable to marshal local record field timestamps", err)
		return localID, err
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = lrs.database.ExecContext(ctx,
		`INSERT INTO crm_local_records
             (workspace_id, object_type, local_id, fields, field_updated_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (workspace_id, object_type, local_id)
             DO UPDATE SET fields = EXCLUDED.fields,
                           field_updated_at = EXCLUDED.field_updated_at,
                           updated_at = EXCLUDED.updated_at`,
		workspace, objectType, localID, rawFields, rawFieldTimes, updatedAt)

	if err != nil {
		logger.LogError("SQL insert failed", err)
		return localID, err
	}

	return localID, nil
}
