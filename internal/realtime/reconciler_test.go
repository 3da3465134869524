package realtime

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arrivals.transitcore.dev/internal/clock"
	"arrivals.transitcore.dev/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedAgencyRouteTrip(t *testing.T, st *store.Store, tz string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.Direct.ExecContext(ctx, `INSERT INTO agency (agency_id, name, url, timezone, import_id) VALUES ('a1','Agency','http://a','`+tz+`',1)`)
	require.NoError(t, err)
	_, err = st.Direct.ExecContext(ctx, `INSERT INTO route (route_id, agency_id, short_name, long_name, type, import_id) VALUES ('r1','a1','1','Main',3,1)`)
	require.NoError(t, err)
	_, err = st.Direct.ExecContext(ctx, `INSERT INTO trip (trip_id, service_id, route_id, import_id) VALUES ('t1','s1','r1',1)`)
	require.NoError(t, err)
}

func TestComputeDelayMsPrefersExplicitDelay(t *testing.T) {
	delay := 90
	ev := &StopTimeEvent{Delay: &delay}
	ms, ok := computeDelayMs(ev, 1_000_000)
	require.True(t, ok)
	require.Equal(t, int64(90_000), ms)
}

func TestComputeDelayMsFallsBackToAbsoluteTime(t *testing.T) {
	absolute := flexibleSeconds(1_500)
	ev := &StopTimeEvent{Time: &absolute}
	ms, ok := computeDelayMs(ev, 1_000_000) // base = 1_000s in ms
	require.True(t, ok)
	require.Equal(t, int64(1_500_000-1_000_000), ms)
}

func TestComputeDelayMsAbsentIsUndefined(t *testing.T) {
	_, ok := computeDelayMs(nil, 0)
	require.False(t, ok)
}

func TestApplyStopTimeUpdatesPropagatesForward(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var runID int64
	err := st.Pooled.QueryRowContext(ctx, `
		INSERT INTO trip_run (trip_id, route_id, start_date, start_timestamp) VALUES ('t1','r1','20240205', 0)
		RETURNING id
	`).Scan(&runID)
	require.NoError(t, err)

	base := int64(0)
	for seq, offset := range []int64{0, 60_000, 120_000} {
		_, err := st.Pooled.ExecContext(ctx, `
			INSERT INTO stop_time_index (trip_run_id, trip_id, stop_id, stop_sequence, arrival_timestamp, departure_timestamp)
			VALUES (?, 't1', ?, ?, ?, ?)
		`, runID, "s"+string(rune('1'+seq)), seq+1, base+offset, base+offset)
		require.NoError(t, err)
	}

	delay := 60
	updates := oneOrMany[StopTimeUpdate]{
		{StopSequence: intPtr(2), Arrival: &StopTimeEvent{Delay: &delay}},
	}

	tx, err := st.Pooled.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, applyStopTimeUpdates(ctx, tx, runID, updates))
	require.NoError(t, tx.Commit())

	rows, err := st.Pooled.QueryContext(ctx, `
		SELECT stop_sequence, updated_arrival_timestamp FROM stop_time_index WHERE trip_run_id = ? ORDER BY stop_sequence
	`, runID)
	require.NoError(t, err)
	defer rows.Close()

	var got []struct {
		seq     int
		updated sql.NullInt64
	}
	for rows.Next() {
		var r struct {
			seq     int
			updated sql.NullInt64
		}
		require.NoError(t, rows.Scan(&r.seq, &r.updated))
		got = append(got, r)
	}

	require.Len(t, got, 3)
	require.False(t, got[0].updated.Valid, "sequence 1 precedes the update, should be untouched")
	require.True(t, got[1].updated.Valid)
	require.Equal(t, int64(120_000), got[1].updated.Int64)
	require.True(t, got[2].updated.Valid)
	require.Equal(t, int64(180_000), got[2].updated.Int64)
}

func intPtr(v int) *int { return &v }

func TestHandleDuplicatedTripShiftsStopsRelativeToNewStart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgencyRouteTrip(t, st, "Pacific/Auckland")

	_, err := st.Direct.ExecContext(ctx, `
		INSERT INTO stop_time (trip_id, stop_sequence, stop_id, arrival_time, departure_time, import_id) VALUES
		('t1', 1, 'sA', '10:00:00', '10:00:00', 1),
		('t1', 2, 'sB', '10:01:00', '10:01:00', 1)
	`)
	require.NoError(t, err)

	tu := &TripUpdate{
		Trip: TripDescriptor{
			TripID:               "t1",
			StartDate:            "20240205",
			StartTime:            "10:30:00",
			ScheduleRelationship: "DUPLICATED",
		},
	}

	tx, err := st.Pooled.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, handleDuplicatedTrip(ctx, tx, tu, time.Now()))
	require.NoError(t, tx.Commit())

	rows, err := st.Pooled.QueryContext(ctx, `
		SELECT sti.stop_id, sti.arrival_timestamp FROM stop_time_index sti
		JOIN trip_run tr ON tr.id = sti.trip_run_id
		WHERE tr.schedule_relationship = ?
		ORDER BY sti.stop_sequence
	`, scheduleRelationDuplicated)
	require.NoError(t, err)
	defer rows.Close()

	var stops []string
	var timestamps []int64
	for rows.Next() {
		var stopID string
		var ts int64
		require.NoError(t, rows.Scan(&stopID, &ts))
		stops = append(stops, stopID)
		timestamps = append(timestamps, ts)
	}
	require.Equal(t, []string{"sA", "sB"}, stops)
	require.Equal(t, timestamps[1]-timestamps[0], int64(60_000))
}

func TestFindTripRunResolvesClosestStart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgencyRouteTrip(t, st, "UTC")

	for _, ts := range []int64{1_000_000, 2_000_000, 10_000_000} {
		_, err := st.Pooled.ExecContext(ctx, `
			INSERT INTO trip_run (trip_id, route_id, start_date, start_timestamp) VALUES ('t1', 'r1', '20240205', ?)
		`, ts)
		require.NoError(t, err)
	}

	tx, err := st.Pooled.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	runID, err := findTripRun(ctx, tx, TripDescriptor{TripID: "t1"}, time.UnixMilli(2_100_000))
	require.NoError(t, err)

	var gotStart int64
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT start_timestamp FROM trip_run WHERE id = ?", runID).Scan(&gotStart))
	require.Equal(t, int64(2_000_000), gotStart)
}

func TestCleanupAlertsDeletesExpiredAndOrphaned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC)

	_, err := st.Pooled.ExecContext(ctx, `INSERT INTO alert (alert_id, header, timestamp) VALUES ('keep', 'still active', ?)`, now.UnixMilli())
	require.NoError(t, err)
	_, err = st.Pooled.ExecContext(ctx, `INSERT INTO alert_active_period (alert_id, start_timestamp, end_timestamp) VALUES ('keep', ?, ?)`,
		now.Add(-time.Hour).UnixMilli(), now.Add(time.Hour).UnixMilli())
	require.NoError(t, err)

	_, err = st.Pooled.ExecContext(ctx, `INSERT INTO alert (alert_id, header, timestamp) VALUES ('expired', 'gone', ?)`, now.UnixMilli())
	require.NoError(t, err)
	_, err = st.Pooled.ExecContext(ctx, `INSERT INTO alert_active_period (alert_id, start_timestamp, end_timestamp) VALUES ('expired', ?, ?)`,
		now.Add(-2*time.Hour).UnixMilli(), now.Add(-time.Hour).UnixMilli())
	require.NoError(t, err)
	_, err = st.Pooled.ExecContext(ctx, `INSERT INTO alert_informed_entity (alert_id, route_id) VALUES ('expired', 'r1')`)
	require.NoError(t, err)

	r := NewReconciler(st, Config{}, clock.Frozen{At: now}, nil)
	require.NoError(t, r.CleanupAlerts(ctx))

	var count int
	require.NoError(t, st.Pooled.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert WHERE alert_id = 'expired'").Scan(&count))
	require.Zero(t, count)
	require.NoError(t, st.Pooled.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_informed_entity WHERE alert_id = 'expired'").Scan(&count))
	require.Zero(t, count)
	require.NoError(t, st.Pooled.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert WHERE alert_id = 'keep'").Scan(&count))
	require.Equal(t, 1, count)
}
