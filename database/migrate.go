package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

const (
	// DialectSQLite selects the embedded modernc.org/sqlite driver
	DialectSQLite = "sqlite"

	// DialectPostgres selects the pgx driver
	DialectPostgres = "postgres"
)

// DriverName returns the database/sql driver registered for dialect
func DriverName(dialect string) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported database dialect: %s", dialect)
	}
}

// SQLiteDSN returns a DSN for the sqlite file at path that waits on a busy
// database instead of failing immediately.
func SQLiteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open returns a database handle for dialect. SQLite handles are limited to a
// single connection so writers never contend inside one process.
func Open(dialect, dsn string) (*sql.DB, error) {
	driver, err := DriverName(dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// GetMigrate returns a migrate instance for dialect. The instance owns its own
// connection; closing it releases that connection.
func GetMigrate(dialect, dsn string) (*migrate.Migrate, error) {
	db, err := Open(dialect, dsn)
	if err != nil {
		return nil, err
	}

	var driver migratedb.Driver
	switch dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := migrationsSource()
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration
func MigrateUp(dialect, dsn string) error {
	m, err := GetMigrate(dialect, dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Debug("Database schema up to date", "dialect", dialect, "version", version, "dirty", dirty)
	return nil
}

// MigrateDown reverts steps migrations, or all of them when steps is not positive
func MigrateDown(dialect, dsn string, steps int) error {
	m, err := GetMigrate(dialect, dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if steps <= 0 {
		err = m.Down()
	} else {
		err = m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version; zero means no migration has run
func Version(dialect, dsn string) (version uint, dirty bool, err error) {
	m, err := GetMigrate(dialect, dsn)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(m)

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

func closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		slog.Warn("Failed to close migration instance", "error", err)
	}
}
