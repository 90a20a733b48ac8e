// Package database provides connection setup for the relational store and
// Redis. Connections are created once at startup and shared across the
// application via dependency injection. This package owns the connection
// lifecycle (open, configure pool, ping, close) and the schema migrations.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	// SQL drivers -- imported for the side effect of registering them.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/keyxmakerx/cellscan/internal/config"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DriverName maps a configured dialect to the database/sql driver name.
func DriverName(dialect string) string {
	switch dialect {
	case config.DriverPostgres:
		return "pgx"
	case config.DriverSQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// Open creates a new connection pool for the configured dialect. It pings
// the database to verify connectivity before returning.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverName(cfg.Driver), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", cfg.Driver, err)
	}

	// Configure connection pool settings to prevent connection exhaustion
	// and stale connections under load.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// SQLite allows a single writer; more connections only add lock contention.
	if cfg.Driver == config.DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	// Retry with exponential backoff -- the database may still be starting
	// up when the app container launches.
	const maxRetries = 10
	backoff := 1 * time.Second
	var pingErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()

		if pingErr == nil {
			return db, nil
		}

		if attempt == maxRetries {
			break
		}

		slog.Warn("database not ready, retrying...",
			slog.String("driver", cfg.Driver),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("pinging %s after %d attempts: %w", cfg.Driver, maxRetries, pingErr)
}
