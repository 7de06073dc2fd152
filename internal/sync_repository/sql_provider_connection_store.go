package sync_repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type SqlProviderConnectionStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlProviderConnectionStore(cfg *config.Config, database *sql.DB) (*SqlProviderConnectionStore, error) {
	return &SqlProviderConnectionStore{
		database:     database,
		queryTimeout: cfg.SyncDatabaseQueryTimeout,
	}, nil
}

func (pcs *SqlProviderConnectionStore) Get(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) (domain.ProviderConnection, error) {

	ctx, cancel := context.WithTimeout(ctx, pcs.queryTimeout)
	defer cancel()

	connection := domain.ProviderConnection{
		WorkspaceID: workspace,
		Provider:    provider,
	}

	var expiresAt sql.NullTime

	err := pcs.database.QueryRowContext(ctx,
		`SELECT encrypted_access_token, encrypted_refresh_token, expires_at, scopes, status
         FROM provider_connections
         WHERE workspace_id = $1 AND provider = $2`,
		workspace, provider).Scan(&connection.EncryptedAccessToken, &connection.EncryptedRefreshToken,
		&expiresAt, pq.Array(&connection.Scopes), &connection.Status)

	if err == sql.ErrNoRows {
		return connection, ErrNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return connection, err
	}

	if expiresAt.Valid {
		connection.ExpiresAt = expiresAt.Time
	}

	return connection, nil
}

func (pcs *SqlProviderConnectionStore) UpdateStatus(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, status domain.ConnectionStatus) error {

	ctx, cancel := context.WithTimeout(ctx, pcs.queryTimeout)
	defer cancel()

	results, err := pcs.database.ExecContext(ctx,
		`UPDATE provider_connections SET status = $3, updated_at = NOW()
         WHERE workspace_id = $1 AND provider = $2`,
		workspace, provider, status)
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
		return ErrNotFound
	}

	logger.Log.WithFields(logrus.Fields{
		"workspace": workspace,
		"provider":  provider,
		"status":    status}).Info("Updated provider connection status")

	return nil
}
