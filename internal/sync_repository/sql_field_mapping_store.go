package sync_repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
)

type SqlFieldMappingStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlFieldMappingStore(cfg *config.Config, database *sql.DB) (*SqlFieldMappingStore, error) {
	return &SqlFieldMappingStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (fms *SqlFieldMappingStore) Get(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType) (domain.FieldMapping, error) {

	ctx, cancel := context.WithTimeout(ctx, fms.queryTimeout)
	defer cancel()

	mapping := domain.FieldMapping{
		WorkspaceID: workspace,
		Provider:    provider,
		ObjectType:  objectType,
	}

	var rawMapping []byte
	var rawPicklist []byte

	err := fms.database.QueryRowContext(ctx,
		`SELECT mapping, picklist_translation FROM crm_field_mappings
         WHERE workspace_id = $1 AND provider = $2 AND object_type = $3`,
		workspace, provider, objectType).Scan(&rawMapping, &rawPicklist)

	if err == sql.ErrNoRows {
		return mapping, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return mapping, err
	}

	if err := json.Unmarshal(rawMapping, &mapping.Mapping); err != nil {
		logger.LogError("Unable to unmarshal field mapping", err)
		return mapping, err
	}

	if len(rawPicklist) > 0 {
		if err := json.Unmarshal(rawPicklist, &mapping.PicklistTranslation); err != nil {
			logger.LogError("Unable to unmarshal picklist translation", err)
			return mapping, err
		}
	}

	return mapping, nil
}
