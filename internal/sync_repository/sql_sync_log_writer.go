package sync_repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

type SqlSyncLogWriter struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlSyncLogWriter(cfg *config.Config, database *sql.DB) (*SqlSyncLogWriter, error) {
	return &SqlSyncLogWriter{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (slw *SqlSyncLogWriter) Write(ctx context.Context, entry domain.SyncLogEntry) error {

	ctx, cancel := context.WithTimeout(ctx, slw.queryTimeout)
	defer cancel()

	var payload interface{}
	if entry.Payload != nil {
		serialized, err := json.Marshal(entry.Payload)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to marshal sync log payload")
			return err
		}
		payload = string(serialized)
	}

	_, err := slw.database.ExecContext(ctx,
		`INSERT INTO crm_sync_logs (workspace_id, provider, level, object_type, direction, correlation_id, message, payload)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.WorkspaceID, entry.Provider, entry.Level, entry.ObjectType,
		entry.Direction, entry.CorrelationID, entry.Message, payload)

	if err != nil {
		logger.LogError("SQL insert failed", err)
	}

	return err
}
