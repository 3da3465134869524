package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arrivals.transitcore.dev/internal/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIngester struct {
	affected int
	err      error
}

func (f *fakeIngester) Sync(ctx context.Context) (int, error) { return f.affected, f.err }

type fakeAlertCleaner struct {
	called bool
	err    error
}

func (f *fakeAlertCleaner) CleanupAlerts(ctx context.Context) error {
	f.called = true
	return f.err
}

func TestDurationUntilWrapsToNextDay(t *testing.T) {
	now := time.Date(2024, 2, 5, 4, 0, 0, 0, time.UTC) // 04:00, target already passed today
	s := &Scheduler{clock: clock.Frozen{At: now}}

	d := s.durationUntil(180) // 03:00

	require.Equal(t, 23*time.Hour, d)
}

func TestDurationUntilSameDayWhenStillAhead(t *testing.T) {
	now := time.Date(2024, 2, 5, 1, 0, 0, 0, time.UTC) // 01:00, target later today
	s := &Scheduler{clock: clock.Frozen{At: now}}

	d := s.durationUntil(180) // 03:00

	require.Equal(t, 2*time.Hour, d)
}

func TestRunCycleSkipsReindexWhenIngestIsNoop(t *testing.T) {
	ingester := &fakeIngester{affected: 0}
	alerts := &fakeAlertCleaner{}
	s := &Scheduler{
		ingester: ingester,
		alerts:   alerts,
		clock:    clock.Real{},
		logger:   discardLogger(),
	}

	// runCycle calls stopIndex/stopTimeIdx.Rebuild only when affected > 0;
	// with affected == 0 neither builder is touched, so leaving them nil
	// must not panic.
	require.NotPanics(t, func() { s.runCycle(context.Background()) })
	require.True(t, alerts.called, "alert cleanup must run after a successful ingest even when it inserted no rows")
}

func TestRunCycleStopsBeforeReindexOnIngestError(t *testing.T) {
	ingester := &fakeIngester{err: errors.New("fetch failed")}
	alerts := &fakeAlertCleaner{}
	s := &Scheduler{
		ingester: ingester,
		alerts:   alerts,
		clock:    clock.Real{},
		logger:   discardLogger(),
	}

	s.runCycle(context.Background())

	require.False(t, alerts.called, "a failed ingest must abort the cycle before alert cleanup")
}
