// Package maintenance runs the low-traffic maintenance cycle: sleep until
// the agency's quietest ten-minute window, re-ingest the static feed, and
// reindex only if the ingest actually touched rows.
package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"arrivals.transitcore.dev/internal/clock"
	"arrivals.transitcore.dev/internal/index"
	"arrivals.transitcore.dev/internal/logging"
	"arrivals.transitcore.dev/internal/store"
)

// Ingester is the subset of *ingest.Ingester the scheduler depends on.
type Ingester interface {
	Sync(ctx context.Context) (int, error)
}

// AlertCleaner is the subset of *realtime.Reconciler the scheduler depends
// on for the alert-GC pass that runs alongside reindexing.
type AlertCleaner interface {
	CleanupAlerts(ctx context.Context) error
}

// Scheduler drives the maintenance cycle described in the spec: wait for
// the quiet window, ingest, and conditionally reindex.
type Scheduler struct {
	store       *store.Store
	ingester    Ingester
	stopIndex   *index.StopIndexBuilder
	stopTimeIdx *index.StopTimeIndexBuilder
	alerts      AlertCleaner
	clock       clock.Clock
	logger      *slog.Logger
}

func NewScheduler(
	st *store.Store,
	ingester Ingester,
	stopIndex *index.StopIndexBuilder,
	stopTimeIdx *index.StopTimeIndexBuilder,
	alerts AlertCleaner,
	c clock.Clock,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:       st,
		ingester:    ingester,
		stopIndex:   stopIndex,
		stopTimeIdx: stopTimeIdx,
		alerts:      alerts,
		clock:       c,
		logger:      logger,
	}
}

// Run loops until ctx is cancelled: sleep to the next occurrence of the
// maintenance minute-of-day, run one cycle, repeat.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		minuteOfDay, err := s.readMaintenanceMinute(ctx)
		if err != nil {
			logging.LogError(s.logger, "read maintenance window failed", err)
			minuteOfDay = 180 // 03:00 fallback, matches spec's default quiet guess
		}

		wait := s.durationUntil(minuteOfDay)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runCycle(ctx)
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	affected, err := s.ingester.Sync(ctx)
	if err != nil {
		logging.LogError(s.logger, "maintenance ingest failed", err)
		return
	}

	if affected > 0 {
		if err := s.stopIndex.Rebuild(ctx); err != nil {
			logging.LogError(s.logger, "maintenance stop index rebuild failed", err)
		}
		if err := s.stopTimeIdx.Rebuild(ctx); err != nil {
			logging.LogError(s.logger, "maintenance stop-time index rebuild failed", err)
		}
	}

	if err := s.alerts.CleanupAlerts(ctx); err != nil {
		logging.LogError(s.logger, "maintenance alert cleanup failed", err)
	}

	logging.LogOperation(s.logger, "maintenance cycle complete", "rows_affected", affected)
}

func (s *Scheduler) readMaintenanceMinute(ctx context.Context) (int, error) {
	var minute int
	err := s.store.Pooled.QueryRowContext(ctx, "SELECT minute_of_day FROM maintenance_time WHERE id = 1").Scan(&minute)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("maintenance window not yet computed")
	}
	return minute, err
}

// durationUntil computes the wait until the next occurrence of
// minuteOfDay, wrapping past midnight when today's occurrence has passed.
func (s *Scheduler) durationUntil(minuteOfDay int) time.Duration {
	now := s.clock.Now()
	todayTarget := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		Add(time.Duration(minuteOfDay) * time.Minute)
	if !todayTarget.After(now) {
		todayTarget = todayTarget.Add(24 * time.Hour)
	}
	return todayTarget.Sub(now)
}
