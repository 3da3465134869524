package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arrivals.transitcore.dev/internal/index"
	"arrivals.transitcore.dev/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	spatial := index.NewSpatialIndex()
	return NewService(st, spatial), st
}

func seedStop(t *testing.T, st *store.Store, id, code string, lat, lon float64) {
	t.Helper()
	_, err := st.Direct.ExecContext(context.Background(), `
		INSERT INTO stop (stop_id, stop_code, stop_name, stop_lat, stop_lon, import_id) VALUES (?, ?, ?, ?, ?, 1)
	`, id, code, "Stop "+id, lat, lon)
	require.NoError(t, err)
}

func TestNearestStopsByCodeIgnoresRadius(t *testing.T) {
	s, st := newTestService(t)
	seedStop(t, st, "s1", "C1", -36.85, 174.76)

	zero := 0.0
	results, err := s.NearestStops(context.Background(), &zero, &zero, 100, "C1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "s1", results[0].StopID)
}

func TestNearestStopsOrdersByDistanceAndCaps(t *testing.T) {
	s, st := newTestService(t)
	centerLat, centerLon := -36.85, 174.76
	// six stops at increasing offsets; only five should come back, nearest first
	for i := 1; i <= 6; i++ {
		seedStop(t, st, "s"+string(rune('0'+i)), "", centerLat+float64(i)*0.001, centerLon)
	}
	require.NoError(t, s.spatial.Rebuild(context.Background(), st.Pooled))

	results, err := s.NearestStops(context.Background(), &centerLat, &centerLon, 2000, "")
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), maxNearestStops)
	for i := 1; i < len(results); i++ {
		prevDist := (results[i-1].Lat - centerLat) * (results[i-1].Lat - centerLat)
		currDist := (results[i].Lat - centerLat) * (results[i].Lat - centerLat)
		require.LessOrEqual(t, prevDist, currDist, "results must be nearest-first")
	}
}

func TestNearestStopsComposesCodeAndProximityExcludingMatch(t *testing.T) {
	s, st := newTestService(t)
	centerLat, centerLon := -36.85, 174.76
	seedStop(t, st, "a", "A", centerLat, centerLon)
	seedStop(t, st, "b", "B", centerLat+0.0005, centerLon)
	require.NoError(t, s.spatial.Rebuild(context.Background(), st.Pooled))

	// code "notfound" resolves no exact/fuzzy match, but lat/lon are still
	// supplied directly, so the proximity search still runs (S1).
	results, err := s.NearestStops(context.Background(), &centerLat, &centerLon, 2000, "notfound")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// when the code does resolve, that stop is never duplicated among the
	// nearby results even though it also falls inside the radius.
	results, err = s.NearestStops(context.Background(), &centerLat, &centerLon, 2000, "A")
	require.NoError(t, err)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.StopID)
	}
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestStopsByCodeFallsBackToFTSOnNoExactMatch(t *testing.T) {
	s, st := newTestService(t)
	seedStop(t, st, "s1", "4018-7ef4a7b7", -36.85, 174.76)

	// no exact stop_code equals "4018"; the FTS5 prefix fallback should
	// still resolve it via the trigger-populated stops_fts index.
	results, err := s.stopsByCode(context.Background(), "4018")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "s1", results[0].StopID)
}

func TestArrivalsForStopWindowAndFields(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	now := time.Date(2024, 2, 5, 8, 0, 0, 0, time.UTC)

	_, err := st.Direct.ExecContext(ctx, `INSERT INTO agency (agency_id, timezone, import_id) VALUES ('a1','UTC',1)`)
	require.NoError(t, err)
	_, err = st.Direct.ExecContext(ctx, `INSERT INTO route (route_id, agency_id, short_name, import_id) VALUES ('r1','a1','R1',1)`)
	require.NoError(t, err)
	_, err = st.Direct.ExecContext(ctx, `INSERT INTO trip (trip_id, service_id, route_id, trip_headsign, import_id) VALUES ('t1','s1','r1','Downtown',1)`)
	require.NoError(t, err)
	_, err = st.Direct.ExecContext(ctx, `INSERT INTO stop_time (trip_id, stop_sequence, stop_id, arrival_time, departure_time, stop_headsign, import_id) VALUES ('t1', 1, 'stopA', '08:30:00', '08:30:00', 'Downtown via Queen St', 1)`)
	require.NoError(t, err)

	runs := []int64{}
	for _, start := range []int64{now.Add(30 * time.Minute).UnixMilli(), now.Add(-time.Hour).UnixMilli(), now.Add(25 * time.Hour).UnixMilli()} {
		var id int64
		err := st.Direct.QueryRowContext(ctx, `
			INSERT INTO trip_run (trip_id, route_id, start_date, start_timestamp) VALUES ('t1','r1','20240205', ?) RETURNING id
		`, start).Scan(&id)
		require.NoError(t, err)
		runs = append(runs, id)
	}
	// runs[0]: within window (now+30m); runs[1]: before window (past); runs[2]: outside window (>24h out)
	for i, runID := range runs {
		_, err := st.Direct.ExecContext(ctx, `
			INSERT INTO stop_time_index (trip_run_id, trip_id, stop_id, stop_sequence, arrival_timestamp, departure_timestamp)
			VALUES (?, 't1', 'stopA', 1, ?, ?)
		`, runID, []int64{now.Add(30 * time.Minute).UnixMilli(), now.Add(-time.Hour).UnixMilli(), now.Add(25 * time.Hour).UnixMilli()}[i],
			[]int64{now.Add(30 * time.Minute).UnixMilli(), now.Add(-time.Hour).UnixMilli(), now.Add(25 * time.Hour).UnixMilli()}[i])
		require.NoError(t, err)
	}

	results, err := s.ArrivalsForStop(ctx, "stopA", now)
	require.NoError(t, err)
	require.Len(t, results, 1, "only the in-window arrival should be returned")
	require.Equal(t, "t1", results[0].TripID)
	require.Equal(t, "R1", results[0].RouteShortName)
	require.Equal(t, "Downtown via Queen St", results[0].StopHeadsign)
	require.False(t, results[0].UpdatedArrivalTimestamp.Valid)
}
