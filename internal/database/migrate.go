package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/cellscan/internal/config"
)

// Migrations are compiled into the binary, one directory per dialect.
//
//go:embed migrations
var migrationsFS embed.FS

// MigrationsDir returns the embedded directory holding the dialect's files.
func MigrationsDir(dialect string) string {
	return "migrations/" + dialect
}

// newMigrator wires the embedded source for the dialect to the live pool.
func newMigrator(db *sqlx.DB, dialect string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, MigrationsDir(dialect))
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations for %s: %w", dialect, err)
	}

	var driver migratedb.Driver
	switch dialect {
	case config.DriverMySQL:
		driver, err = mysql.WithInstance(db.DB, &mysql.Config{})
	case config.DriverPostgres:
		driver, err = pgxmigrate.WithInstance(db.DB, &pgxmigrate.Config{})
	case config.DriverSQLite:
		driver, err = sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations for the dialect. Uses
// golang-migrate to track which migrations have already been applied, so
// it is safe to call on every startup.
func RunMigrations(db *sqlx.DB, dialect string) error {
	m, err := newMigrator(db, dialect)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("migrations applied",
		slog.String("driver", dialect),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// RollbackMigrations reverts the given number of applied migrations.
func RollbackMigrations(db *sqlx.DB, dialect string, steps int) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}

	m, err := newMigrator(db, dialect)
	if err != nil {
		return err
	}

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		slog.Info("all migrations rolled back", slog.String("driver", dialect))
		return nil
	}
	slog.Info("migrations rolled back",
		slog.String("driver", dialect),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}
