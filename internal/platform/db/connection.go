package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/voxlane/crm-connector/internal/config"

	_ "github.com/lib/pq"
)

func InitializeDatabaseConnection(cfg *config.Config) (*sql.DB, error) {

	if cfg.SyncDatabaseImpl != "postgres" {
		return nil, errors.New("Invalid SQL database impl requested: " + cfg.SyncDatabaseImpl)
	}

	psqlConnectionInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s TimeZone=UTC",
		cfg.SyncDatabaseHost,
		cfg.SyncDatabasePort,
		cfg.SyncDatabaseUser,
		cfg.SyncDatabasePassword,
		cfg.SyncDatabaseName)

	sslSettings, err := buildPostgresSslConfigString(cfg)
	if err != nil {
		return nil, err
	}

	psqlConnectionInfo += " " + sslSettings

	return sql.Open("postgres", psqlConnectionInfo)
}

func buildPostgresSslConfigString(cfg *config.Config) (string, error) {
	if cfg.SyncDatabaseSslMode == "disable" {
		return "sslmode=disable", nil
	} else if cfg.SyncDatabaseSslMode == "verify-full" {
		return "sslmode=verify-full sslrootcert=" + cfg.SyncDatabaseSslRootCert, nil
	} else {
		return "", errors.New("Invalid SSL configuration for database connection: " + cfg.SyncDatabaseSslMode)
	}
}
