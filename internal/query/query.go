// Package query implements the stop-centric read API: nearest-stops
// lookup, routes serving a stop, and upcoming arrivals at a stop.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"arrivals.transitcore.dev/internal/geo"
	"arrivals.transitcore.dev/internal/index"
	"arrivals.transitcore.dev/internal/store"
)

const (
	maxNearestStops = 5
	maxArrivals     = 50
	arrivalsWindow  = 24 * time.Hour
)

// Service answers the three read-path queries the HTTP API exposes.
type Service struct {
	store   *store.Store
	spatial *index.SpatialIndex
}

func NewService(st *store.Store, spatial *index.SpatialIndex) *Service {
	return &Service{store: st, spatial: spatial}
}

// StopResult is a single stop returned by NearestStops.
type StopResult struct {
	StopID string
	Code   string
	Name   string
	Lat    float64
	Lon    float64
}

// RouteResult is a single route serving a stop.
type RouteResult struct {
	RouteID   string
	ShortName string
	LongName  string
}

// ArrivalResult is a single upcoming arrival at a stop, matching the
// upstream StopArrival contract: trip, stop position within it, the route's
// short name, the stop's own headsign override, the run's start time, the
// scheduled arrival, and the realtime-adjusted arrival when one exists.
type ArrivalResult struct {
	TripID                  string
	StopSequence            int
	RouteShortName          string
	StopHeadsign            string
	StartTimestamp          int64
	ArrivalTimestamp        int64
	UpdatedArrivalTimestamp sql.NullInt64
}

// NearestStops composes two independent resolutions, matching the upstream
// get_stops handler: an exact/fuzzy stop_code match, and a bounding-box +
// squared-Euclidean proximity search, capped at five. When code is set and
// no lat/lon was given, the code match's own location seeds the proximity
// search; the code match is never duplicated in the proximity results.
func (s *Service) NearestStops(ctx context.Context, lat, lon *float64, radiusMeters float64, code string) ([]StopResult, error) {
	var out []StopResult
	var codeMatch *StopResult

	if code != "" {
		matches, err := s.stopsByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			out = append(out, matches[0])
			codeMatch = &matches[0]
			if lat == nil && lon == nil {
				seedLat, seedLon := matches[0].Lat, matches[0].Lon
				lat, lon = &seedLat, &seedLon
			}
		}
	}

	if lat != nil && lon != nil {
		nearby, err := s.nearestByLocation(ctx, *lat, *lon, radiusMeters)
		if err != nil {
			return nil, err
		}
		for _, n := range nearby {
			if codeMatch != nil && (n.Code == code || n.StopID == codeMatch.StopID) {
				continue
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Service) nearestByLocation(ctx context.Context, lat, lon, radiusMeters float64) ([]StopResult, error) {
	box := geo.BoundsForRadius(lat, lon, radiusMeters)
	candidates := s.spatial.QueryBounds(box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)

	type ranked struct {
		stopID string
		dist   float64
	}
	ranks := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		ranks = append(ranks, ranked{stopID: c.StopID, dist: geo.SquaredDelta(lat, lon, c.Lat, c.Lon)})
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].dist < ranks[j].dist })
	if len(ranks) > maxNearestStops {
		ranks = ranks[:maxNearestStops]
	}

	ids := make([]string, len(ranks))
	for i, r := range ranks {
		ids[i] = r.stopID
	}
	rows, err := s.fetchStopsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]StopResult, len(rows))
	for _, r := range rows {
		byID[r.StopID] = r
	}
	out := make([]StopResult, 0, len(ranks))
	for _, r := range ranks {
		if sr, ok := byID[r.stopID]; ok {
			out = append(out, sr)
		}
	}
	return out, nil
}

// stopsByCode resolves an exact stop_code match first; if none exists, it
// falls back to a prefix search over the stops_fts FTS5 index against both
// stop_code and stop_name, so a near-miss code or a name fragment still
// resolves something behind the same query param.
func (s *Service) stopsByCode(ctx context.Context, code string) ([]StopResult, error) {
	rows, err := s.store.Pooled.QueryContext(ctx, `
		SELECT stop_id, COALESCE(stop_code, ''), COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0)
		FROM stop WHERE stop_code = ?
	`, code)
	if err != nil {
		return nil, err
	}
	out, err := scanStops(rows)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}
	return s.stopsByFTS(ctx, code)
}

func (s *Service) stopsByFTS(ctx context.Context, query string) ([]StopResult, error) {
	rows, err := s.store.Pooled.QueryContext(ctx, `
		SELECT stop.stop_id, COALESCE(stop.stop_code, ''), COALESCE(stop.stop_name, ''), COALESCE(stop.stop_lat, 0), COALESCE(stop.stop_lon, 0)
		FROM stops_fts
		JOIN stop ON stop.stop_id = stops_fts.stop_id
		WHERE stops_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsMatchExpr(query), maxNearestStops)
	if err != nil {
		return nil, err
	}
	return scanStops(rows)
}

// ftsMatchExpr quotes query as an FTS5 phrase with trailing-token prefix
// matching, so punctuation in a stop code (e.g. "4018-7ef4a7b7") is taken
// literally instead of being parsed as FTS5 query syntax.
func ftsMatchExpr(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"*`
}

func (s *Service) fetchStopsByID(ctx context.Context, ids []string) ([]StopResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT stop_id, COALESCE(stop_code, ''), COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0)
		FROM stop WHERE stop_id IN (%s)
	`, placeholders)
	rows, err := s.store.Pooled.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanStops(rows)
}

func scanStops(rows *sql.Rows) ([]StopResult, error) {
	defer rows.Close()
	var out []StopResult
	for rows.Next() {
		var r StopResult
		if err := rows.Scan(&r.StopID, &r.Code, &r.Name, &r.Lat, &r.Lon); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoutesForStop returns every route with at least one scheduled stop_time
// at stopID.
func (s *Service) RoutesForStop(ctx context.Context, stopID string) ([]RouteResult, error) {
	rows, err := s.store.Pooled.QueryContext(ctx, `
		SELECT DISTINCT r.route_id, COALESCE(r.short_name, ''), COALESCE(r.long_name, '')
		FROM stop_time st
		JOIN trip t ON t.trip_id = st.trip_id
		JOIN route r ON r.route_id = t.route_id
		WHERE st.stop_id = ?
		ORDER BY r.route_id
	`, stopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RouteResult
	for rows.Next() {
		var r RouteResult
		if err := rows.Scan(&r.RouteID, &r.ShortName, &r.LongName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArrivalsForStop returns up to fifty upcoming arrivals at stopID within
// [now, now+24h), ordered by the realtime-adjusted arrival timestamp when
// one exists, else the scheduled one.
func (s *Service) ArrivalsForStop(ctx context.Context, stopID string, now time.Time) ([]ArrivalResult, error) {
	windowStart := now.UnixMilli()
	windowEnd := now.Add(arrivalsWindow).UnixMilli()

	rows, err := s.store.Pooled.QueryContext(ctx, `
		SELECT sti.trip_id, sti.stop_sequence, COALESCE(r.short_name, ''), COALESCE(st.stop_headsign, ''),
		       tr.start_timestamp, sti.arrival_timestamp, sti.updated_arrival_timestamp
		FROM stop_time_index sti
		JOIN trip_run tr ON tr.id = sti.trip_run_id
		JOIN route r ON r.route_id = tr.route_id
		LEFT JOIN stop_time st ON st.trip_id = sti.trip_id AND st.stop_sequence = sti.stop_sequence
		WHERE sti.stop_id = ?
		  AND COALESCE(sti.updated_arrival_timestamp, sti.arrival_timestamp) >= ?
		  AND COALESCE(sti.updated_arrival_timestamp, sti.arrival_timestamp) < ?
		ORDER BY COALESCE(sti.updated_arrival_timestamp, sti.arrival_timestamp) ASC
		LIMIT ?
	`, stopID, windowStart, windowEnd, maxArrivals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArrivalResult
	for rows.Next() {
		var r ArrivalResult
		if err := rows.Scan(&r.TripID, &r.StopSequence, &r.RouteShortName, &r.StopHeadsign,
			&r.StartTimestamp, &r.ArrivalTimestamp, &r.UpdatedArrivalTimestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
