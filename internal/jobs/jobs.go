// Package jobs runs background maintenance on a cron schedule. The only job
// today is the expired-session sweep.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single sweep so a stuck store cannot pile up runs.
const sweepTimeout = 30 * time.Second

// SessionPurger deletes expired sessions and reports how many went.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler wraps a cron runner. Jobs recover from panics and are skipped
// while a previous run of the same job is still going.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a stopped scheduler.
func NewScheduler() *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// AddSessionSweep schedules p.PurgeExpired on spec, which accepts standard
// five-field cron expressions and descriptors such as "@every 15m".
func (s *Scheduler) AddSessionSweep(spec string, p SessionPurger) error {
	if _, err := s.cron.AddFunc(spec, func() { SweepSessions(context.Background(), p) }); err != nil {
		return fmt.Errorf("scheduling session sweep %q: %w", spec, err)
	}
	slog.Info("session sweep scheduled", slog.String("schedule", spec))
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to finish: %w", ctx.Err())
	}
}

// SweepSessions runs one purge and logs the outcome.
func SweepSessions(ctx context.Context, p SessionPurger) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		slog.Error("session sweep failed", slog.Any("error", err))
		return
	}
	slog.Info("expired sessions purged",
		slog.Int64("deleted", n),
		slog.Duration("took", time.Since(start)),
	)
}

// slogLogger adapts cron's logger interface to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
