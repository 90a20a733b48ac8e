// Package main is the entry point for the CellScan server. It loads
// configuration, establishes database connections, wires together the
// classifier and plugins, and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/keyxmakerx/cellscan/internal/app"
	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/classifier"
	"github.com/keyxmakerx/cellscan/internal/config"
	"github.com/keyxmakerx/cellscan/internal/database"
	"github.com/keyxmakerx/cellscan/internal/jobs"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		slog.Error("cellscan exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "cellscan",
		Usage: "malaria cell image classification server",
		// Running the binary without a subcommand starts the server.
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run migrations and start the HTTP server",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply pending database migrations and exit",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "rollback",
						Usage: "revert `N` applied migrations instead of migrating up",
					},
				},
				Action: migrateCmd,
			},
			{
				Name:  "user",
				Usage: "manage user accounts",
				Subcommands: []*cli.Command{
					{
						Name:      "disable",
						Usage:     "block an account from signing in; its sessions stop working",
						ArgsUsage: "<username>",
						Action:    func(c *cli.Context) error { return setUserActive(c, false) },
					},
					{
						Name:      "enable",
						Usage:     "let a disabled account sign in again",
						ArgsUsage: "<username>",
						Action:    func(c *cli.Context) error { return setUserActive(c, true) },
					},
				},
			},
		},
	}
}

// serve runs the web server until SIGINT or SIGTERM.
func serve(c *cli.Context) error {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit("failed to load config: "+err.Error(), 1)
	}

	// Configure structured logging based on environment.
	setupLogging(cfg)

	slog.Info("starting CellScan",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.Database.Driver),
	)

	// --- Connect to the relational store ---
	db, err := database.Open(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		return err
	}
	defer db.Close()
	slog.Info("connected to database", slog.String("driver", cfg.Database.Driver))

	if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		return err
	}

	// --- Connect to Redis (optional) ---
	rdb, err := database.NewRedis(c.Context, cfg.Redis)
	switch {
	case errors.Is(err, database.ErrRedisDisabled):
		slog.Info("redis not configured, sessions stored in the database")
	case err != nil:
		slog.Error("failed to connect to Redis", slog.Any("error", err))
		return err
	default:
		defer rdb.Close()
		slog.Info("connected to Redis")
	}

	// --- Model server ---
	clf := classifier.NewModelServer(cfg.Model.ServerURL, cfg.Model.Name, cfg.Model.ImageSize, cfg.Model.Timeout)
	if !clf.Ready(c.Context) {
		// Not fatal: the model may still be loading. /healthz reports it.
		slog.Warn("model server not ready",
			slog.String("url", cfg.Model.ServerURL),
			slog.String("model", cfg.Model.Name),
		)
	}

	// --- Create Application ---
	application := app.New(cfg, db, rdb, clf)

	// Register all routes (public, plugin, API).
	application.RegisterRoutes()

	// --- Background jobs ---
	scheduler := jobs.NewScheduler()
	if err := scheduler.AddSessionSweep(cfg.Auth.CleanupSchedule, application.AuthService); err != nil {
		slog.Error("invalid session cleanup schedule",
			slog.String("schedule", cfg.Auth.CleanupSchedule),
			slog.Any("error", err),
		)
		return err
	}
	scheduler.Start()

	// --- Graceful Shutdown ---
	// Listen for interrupt/term signals to drain connections cleanly.
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("error", err))
			stopScheduler(scheduler)
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down server...")

		// Give in-flight requests 10 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := application.Echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced shutdown", slog.Any("error", err))
		}
	}

	stopScheduler(scheduler)
	slog.Info("server stopped")
	return nil
}

func stopScheduler(s *jobs.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("background jobs did not finish", slog.Any("error", err))
	}
}

// migrateCmd applies or rolls back migrations without starting the server.
func migrateCmd(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit("failed to load config: "+err.Error(), 1)
	}
	setupLogging(cfg)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if steps := c.Int("rollback"); steps > 0 {
		return database.RollbackMigrations(db, cfg.Database.Driver, steps)
	}
	return database.RunMigrations(db, cfg.Database.Driver)
}

// setUserActive enables or disables the account named by the only argument.
func setUserActive(c *cli.Context, active bool) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: cellscan user "+c.Command.Name+" <username>", 2)
	}
	username := c.Args().First()

	cfg, err := config.Load()
	if err != nil {
		return cli.Exit("failed to load config: "+err.Error(), 1)
	}
	setupLogging(cfg)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := auth.NewAuthService(
		auth.NewUserRepository(db),
		auth.NewSQLSessionStore(db),
		auth.NewHasher(cfg.Auth.HashAlgorithm),
		cfg.Auth.IdleTimeout,
		cfg.Auth.AbsoluteTimeout,
	)
	if err := svc.SetActive(c.Context, username, active); err != nil {
		if apperror.SafeCode(err) == http.StatusNotFound {
			return cli.Exit("no such user: "+username, 1)
		}
		return err
	}
	return nil
}

// setupLogging configures the global slog logger based on the environment.
// Development uses text format for readability. Production uses JSON for
// structured log aggregation. LOG_LEVEL overrides the level either way.
func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
