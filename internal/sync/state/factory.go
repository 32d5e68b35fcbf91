package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stacklok/feedsync/database"
	"github.com/stacklok/feedsync/internal/config"
)

// StateDirName is the directory under the data dir holding file-backed state
const StateDirName = "state"

// NewStore creates and initializes the Store selected by the storage configuration.
//
// SQL backends have their schema migrated before the store is returned.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	var store Store

	switch cfg.GetStorageType() {
	case config.StorageTypeFile:
		store = NewFileStore(filepath.Join(cfg.GetDataDir(), StateDirName))
	case config.StorageTypeSQLite, config.StorageTypePostgres:
		dialect, dsn, err := DatabaseTarget(cfg)
		if err != nil {
			return nil, err
		}
		db, err := openMigrated(dialect, dsn)
		if err != nil {
			return nil, err
		}
		store = NewDBStore(db, dialect)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.GetStorageType())
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.GetStorageType(), err)
	}

	slog.Info("Coordination store ready", "type", cfg.GetStorageType())
	return store, nil
}

// DatabaseTarget returns the dialect and DSN of the configured SQL backend.
// The sqlite parent directory is created if missing.
func DatabaseTarget(cfg *config.Config) (dialect, dsn string, err error) {
	switch cfg.GetStorageType() {
	case config.StorageTypeSQLite:
		path := cfg.GetSQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return "", "", fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		return database.DialectSQLite, database.SQLiteDSN(path), nil
	case config.StorageTypePostgres:
		if cfg.Storage.Postgres == nil {
			return "", "", fmt.Errorf("storage.postgres is required for the postgres backend")
		}
		dsn, err := cfg.Storage.Postgres.GetConnectionString()
		if err != nil {
			return "", "", fmt.Errorf("failed to build postgres connection string: %w", err)
		}
		return database.DialectPostgres, dsn, nil
	default:
		return "", "", fmt.Errorf("storage type %s has no database", cfg.GetStorageType())
	}
}

func openMigrated(dialect, dsn string) (*sql.DB, error) {
	if err := database.MigrateUp(dialect, dsn); err != nil {
		return nil, err
	}
	return database.Open(dialect, dsn)
}
