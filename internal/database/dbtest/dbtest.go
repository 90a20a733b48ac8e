// Package dbtest opens throwaway SQLite databases for store tests.
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/cellscan/internal/config"
	"github.com/keyxmakerx/cellscan/internal/database"
)

// Open opens a migrated SQLite database in a per-test temp directory.
// The pool is closed on test cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver:          config.DriverSQLite,
		Name:            filepath.Join(t.TempDir(), "cellscan_test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db, config.DriverSQLite); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}
