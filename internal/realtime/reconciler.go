package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/twpayne/go-polyline"

	"arrivals.transitcore.dev/internal/clock"
	"arrivals.transitcore.dev/internal/gtfstime"
	"arrivals.transitcore.dev/internal/logging"
	"arrivals.transitcore.dev/internal/store"
)

// ErrNotFound is returned by find-trip-run and its callers when no TripRun
// matches the requested descriptor.
var ErrNotFound = errors.New("realtime: not found")

// Config names the three upstream realtime endpoints. Alerts is optional;
// the other two are required by appconf validation.
type Config struct {
	TripUpdatesURL       string
	VehiclePositionsURL  string
	AlertsURL            string
	AuthHeaderName       string
	AuthHeaderValue      string
}

// Reconciler is the long-running poll-diff-apply loop described in the
// spec's realtime reconciliation section.
type Reconciler struct {
	store  *store.Store
	cfg    Config
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger

	lastHeaderTimestamp flexibleSeconds
}

func NewReconciler(st *store.Store, cfg Config, c clock.Clock, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		clock:  c,
		logger: logger,
	}
}

// Run polls the realtime feed until ctx is cancelled, applying one batch
// per successful poll with forward progress.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := r.fetchMerged(ctx)
		if err != nil {
			logging.LogError(r.logger, "realtime feed fetch failed", err)
			if !sleepCtx(ctx, 30*time.Second) {
				return
			}
			continue
		}

		if msg.Header.Timestamp <= r.lastHeaderTimestamp {
			if !sleepCtx(ctx, 15*time.Second) {
				return
			}
			continue
		}
		r.lastHeaderTimestamp = msg.Header.Timestamp

		if err := r.applyBatch(ctx, msg); err != nil {
			logging.LogError(r.logger, "realtime batch apply failed", err)
		}

		if !sleepCtx(ctx, 31*time.Second) {
			return
		}
	}
}

// CleanupAlerts deletes expired active periods, then orphaned alerts, per
// the alert-GC law: every surviving alert has at least one active period
// ending in the future.
func (r *Reconciler) CleanupAlerts(ctx context.Context) error {
	return r.store.WithPooledTx(ctx, func(tx *sql.Tx) error {
		now := r.clock.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx, "DELETE FROM alert_active_period WHERE end_timestamp < ?", now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM alert WHERE alert_id NOT IN (SELECT DISTINCT alert_id FROM alert_active_period)
		`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM alert_informed_entity WHERE alert_id NOT IN (SELECT alert_id FROM alert)
		`)
		return err
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Reconciler) fetchFeed(ctx context.Context, url string) (FeedMessage, error) {
	if url == "" {
		return FeedMessage{}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FeedMessage{}, err
	}
	if r.cfg.AuthHeaderName != "" {
		req.Header.Set(r.cfg.AuthHeaderName, r.cfg.AuthHeaderValue)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return FeedMessage{}, err
	}
	defer logging.SafeCloseWithLogging(r.logger, resp.Body, "realtime feed response body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FeedMessage{}, fmt.Errorf("realtime: feed %s returned status %d", url, resp.StatusCode)
	}

	var msg FeedMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return FeedMessage{}, fmt.Errorf("realtime: decode feed %s: %w", url, err)
	}
	return msg, nil
}

// fetchMerged fetches the three realtime endpoints in parallel and merges
// their entities into a single batch, matching the teacher's
// parallel-fetch-then-swap pattern.
func (r *Reconciler) fetchMerged(ctx context.Context) (FeedMessage, error) {
	var tripMsg, vehicleMsg, alertMsg FeedMessage
	var tripErr, vehicleErr, alertErr error

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); tripMsg, tripErr = r.fetchFeed(ctx, r.cfg.TripUpdatesURL) }()
	go func() { defer wg.Done(); vehicleMsg, vehicleErr = r.fetchFeed(ctx, r.cfg.VehiclePositionsURL) }()
	go func() { defer wg.Done(); alertMsg, alertErr = r.fetchFeed(ctx, r.cfg.AlertsURL) }()
	wg.Wait()

	if tripErr != nil {
		return FeedMessage{}, tripErr
	}
	if vehicleErr != nil {
		return FeedMessage{}, vehicleErr
	}
	if alertErr != nil && r.cfg.AlertsURL != "" {
		return FeedMessage{}, alertErr
	}

	merged := FeedMessage{
		Header: FeedHeader{Timestamp: maxTimestamp(tripMsg.Header.Timestamp, vehicleMsg.Header.Timestamp, alertMsg.Header.Timestamp)},
	}
	merged.Entities = append(merged.Entities, tripMsg.Entities...)
	merged.Entities = append(merged.Entities, vehicleMsg.Entities...)
	merged.Entities = append(merged.Entities, alertMsg.Entities...)
	return merged, nil
}

func maxTimestamp(values ...flexibleSeconds) flexibleSeconds {
	var max flexibleSeconds
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

// applyBatch runs the whole feed through a single transaction, dispatching
// each entity by its first-set slot in order {alert, trip_update, vehicle,
// shape}. Each entity runs under its own savepoint: a handler error is
// logged and the entity's writes are rolled back to that savepoint; it
// never aborts the transaction.
func (r *Reconciler) applyBatch(ctx context.Context, msg FeedMessage) error {
	return r.store.WithPooledTx(ctx, func(tx *sql.Tx) error {
		now := r.clock.Now()
		for _, e := range msg.Entities {
			if _, err := tx.ExecContext(ctx, "SAVEPOINT entity"); err != nil {
				return err
			}
			var err error
			switch {
			case e.Alert != nil:
				err = handleAlert(ctx, tx, e.ID, e.Alert, now)
			case e.TripUpdate != nil:
				err = handleTripUpdate(ctx, tx, e.TripUpdate, now)
			case e.VehiclePosition != nil:
				err = handleVehiclePosition(ctx, tx, e.VehiclePosition, now)
			case e.Shape != nil:
				err = handleShape(ctx, tx, e.Shape)
			}
			if err != nil {
				logging.LogError(r.logger, "realtime entity skipped", err, "entity_id", e.ID)
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO entity"); rbErr != nil {
					return rbErr
				}
			}
			if _, err := tx.ExecContext(ctx, "RELEASE entity"); err != nil {
				return err
			}
		}
		return nil
	})
}

const (
	scheduleRelationScheduled  = 0
	scheduleRelationCanceled   = 3
	scheduleRelationDuplicated = 6
	scheduleRelationDeleted    = 7
)

func scheduleRelationshipCode(sr string) int {
	switch strings.ToUpper(sr) {
	case "CANCELED", "CANCELLED":
		return scheduleRelationCanceled
	case "DELETED":
		return scheduleRelationDeleted
	default:
		return scheduleRelationScheduled
	}
}

func handleTripUpdate(ctx context.Context, tx *sql.Tx, tu *TripUpdate, now time.Time) error {
	sr := strings.ToUpper(tu.Trip.ScheduleRelationship)

	switch sr {
	case "", "SCHEDULED", "CANCELED", "CANCELLED", "DELETED":
		runID, err := findTripRun(ctx, tx, tu.Trip, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE trip_run SET schedule_relationship = ? WHERE id = ?",
			scheduleRelationshipCode(sr), runID); err != nil {
			return err
		}
		if err := attachVehicle(ctx, tx, tu.Vehicle, runID); err != nil {
			return err
		}
		return applyStopTimeUpdates(ctx, tx, runID, tu.StopTimeUpdates)
	case "DUPLICATED":
		return handleDuplicatedTrip(ctx, tx, tu, now)
	default:
		return fmt.Errorf("realtime: unsupported schedule_relationship %q", tu.Trip.ScheduleRelationship)
	}
}

func handleDuplicatedTrip(ctx context.Context, tx *sql.Tx, tu *TripUpdate, now time.Time) error {
	td := tu.Trip
	if td.TripID == "" || td.StartDate == "" || td.StartTime == "" {
		return fmt.Errorf("realtime: duplicated trip update missing trip_id/start_date/start_time")
	}

	var routeID string
	if err := tx.QueryRowContext(ctx, "SELECT route_id FROM trip WHERE trip_id = ?", td.TripID).Scan(&routeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var timezone string
	if err := tx.QueryRowContext(ctx, `
		SELECT a.timezone FROM route r JOIN agency a ON a.agency_id = r.agency_id WHERE r.route_id = ?
	`, routeID).Scan(&timezone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("realtime: load timezone %q: %w", timezone, err)
	}

	startInstant, err := gtfstime.ParseInstant(td.StartDate, td.StartTime, loc)
	if err != nil {
		return fmt.Errorf("realtime: parse duplicated trip start: %w", err)
	}
	startTimestamp := startInstant.UnixMilli()

	var existingID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM trip_run WHERE trip_id = ? AND start_timestamp = ?",
		td.TripID, startTimestamp).Scan(&existingID)
	if err == nil {
		return nil // already duplicated, reuse existing run
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT stop_id, stop_sequence, arrival_time, departure_time
		FROM stop_time WHERE trip_id = ? ORDER BY stop_sequence ASC
	`, td.TripID)
	if err != nil {
		return err
	}
	type sourceStop struct {
		stopID    string
		sequence  int
		arrival   sql.NullString
		departure sql.NullString
	}
	var sourceStops []sourceStop
	for rows.Next() {
		var s sourceStop
		if err := rows.Scan(&s.stopID, &s.sequence, &s.arrival, &s.departure); err != nil {
			rows.Close()
			return err
		}
		sourceStops = append(sourceStops, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	if len(sourceStops) == 0 {
		return fmt.Errorf("realtime: source trip %s has no stop times to duplicate", td.TripID)
	}

	firstDeparture := firstNonEmptyStr(sourceStops[0].departure, sourceStops[0].arrival)
	firstDepartureSecs, err := gtfstime.ParseTimeOfDay(firstDeparture)
	if err != nil {
		return fmt.Errorf("realtime: parse source first departure: %w", err)
	}

	var directionID interface{}
	if td.DirectionID != nil {
		directionID = *td.DirectionID
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO trip_run (trip_id, route_id, direction_id, start_date, start_timestamp, schedule_relationship)
		VALUES (?, ?, ?, ?, ?, ?)
	`, td.TripID, routeID, directionID, td.StartDate, startTimestamp, scheduleRelationDuplicated)
	if err != nil {
		return err
	}
	newRunID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stop_time_index (trip_run_id, trip_id, stop_id, stop_sequence, arrival_timestamp, departure_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range sourceStops {
		departureStr := firstNonEmptyStr(s.departure, s.arrival)
		secs, err := gtfstime.ParseTimeOfDay(departureStr)
		if err != nil {
			return fmt.Errorf("realtime: parse stop time for duplicated trip: %w", err)
		}
		shiftMs := int64(secs-firstDepartureSecs) * 1000
		newTimestamp := startTimestamp + shiftMs
		if _, err := stmt.ExecContext(ctx, newRunID, td.TripID, s.stopID, s.sequence, newTimestamp, newTimestamp); err != nil {
			return err
		}
	}
	return nil
}

func attachVehicle(ctx context.Context, tx *sql.Tx, vd *VehicleDescriptor, runID int64) error {
	if vd == nil || vd.ID == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vehicle (vehicle_id, label, license_plate) VALUES (?, ?, ?)
		ON CONFLICT (vehicle_id) DO NOTHING
	`, vd.ID, vd.Label, vd.LicensePlate); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "UPDATE trip_run SET vehicle_id = ? WHERE id = ?", vd.ID, runID)
	return err
}

type stopTimeIndexRow struct {
	stopSequence        int
	arrivalTimestamp    int64
	departureTimestamp int64
}

func lookupStopTimeIndexRow(ctx context.Context, tx *sql.Tx, runID int64, u StopTimeUpdate) (stopTimeIndexRow, error) {
	var row stopTimeIndexRow
	var err error
	switch {
	case u.StopSequence != nil:
		err = tx.QueryRowContext(ctx, `
			SELECT stop_sequence, arrival_timestamp, departure_timestamp
			FROM stop_time_index WHERE trip_run_id = ? AND stop_sequence = ?
		`, runID, *u.StopSequence).Scan(&row.stopSequence, &row.arrivalTimestamp, &row.departureTimestamp)
	case u.StopID != "":
		err = tx.QueryRowContext(ctx, `
			SELECT stop_sequence, arrival_timestamp, departure_timestamp
			FROM stop_time_index WHERE trip_run_id = ? AND stop_id = ?
		`, runID, u.StopID).Scan(&row.stopSequence, &row.arrivalTimestamp, &row.departureTimestamp)
	default:
		return row, fmt.Errorf("realtime: stop_time_update missing both stop_sequence and stop_id")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return row, ErrNotFound
	}
	return row, err
}

func computeDelayMs(event *StopTimeEvent, baseTimestampMs int64) (int64, bool) {
	if event == nil {
		return 0, false
	}
	if event.Delay != nil {
		return int64(*event.Delay) * 1000, true
	}
	if event.Time != nil {
		return event.Time.Millis() - baseTimestampMs, true
	}
	return 0, false
}

// applyStopTimeUpdates applies each incoming per-stop update, resolved by
// stop_sequence or stop_id scoped to runID, propagating the resulting delay
// forward: an arrival delay affects this stop and every later one;
// a departure delay affects only strictly later stops.
func applyStopTimeUpdates(ctx context.Context, tx *sql.Tx, runID int64, updates oneOrMany[StopTimeUpdate]) error {
	sorted := make([]StopTimeUpdate, len(updates))
	copy(sorted, updates)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := 0, 0
		if sorted[i].StopSequence != nil {
			si = *sorted[i].StopSequence
		}
		if sorted[j].StopSequence != nil {
			sj = *sorted[j].StopSequence
		}
		return si < sj
	})

	for _, u := range sorted {
		row, err := lookupStopTimeIndexRow(ctx, tx, runID, u)
		if err != nil {
			return fmt.Errorf("realtime: resolve stop_time_update: %w", err)
		}

		if delayMs, ok := computeDelayMs(u.Arrival, row.arrivalTimestamp); ok {
			if _, err := tx.ExecContext(ctx, `
				UPDATE stop_time_index SET updated_arrival_timestamp = arrival_timestamp + ?
				WHERE trip_run_id = ? AND stop_sequence >= ?
			`, delayMs, runID, row.stopSequence); err != nil {
				return err
			}
		}
		if delayMs, ok := computeDelayMs(u.Departure, row.departureTimestamp); ok {
			if _, err := tx.ExecContext(ctx, `
				UPDATE stop_time_index SET updated_arrival_timestamp = departure_timestamp + ?
				WHERE trip_run_id = ? AND stop_sequence > ?
			`, delayMs, runID, row.stopSequence); err != nil {
				return err
			}
		}
	}
	return nil
}

func handleVehiclePosition(ctx context.Context, tx *sql.Tx, vp *VehiclePosition, now time.Time) error {
	if vp.Vehicle == nil || vp.Vehicle.ID == "" {
		return fmt.Errorf("realtime: vehicle position missing vehicle id")
	}

	var lat, lon, bearing, speed interface{}
	if vp.Position != nil {
		if vp.Position.Latitude != nil {
			lat = *vp.Position.Latitude
		}
		if vp.Position.Longitude != nil {
			lon = *vp.Position.Longitude
		}
		if vp.Position.Bearing != nil {
			bearing = float64(*vp.Position.Bearing)
		}
		if vp.Position.Speed != nil {
			speed = *vp.Position.Speed
		}
	}

	ts := now.UnixMilli()
	if vp.Timestamp != nil {
		ts = vp.Timestamp.Millis()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vehicle (vehicle_id, label, license_plate, lat, lon, bearing, speed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			label = excluded.label, license_plate = excluded.license_plate,
			lat = excluded.lat, lon = excluded.lon,
			bearing = excluded.bearing, speed = excluded.speed, timestamp = excluded.timestamp
	`, vp.Vehicle.ID, vp.Vehicle.Label, vp.Vehicle.LicensePlate, lat, lon, bearing, speed, ts); err != nil {
		return err
	}

	if vp.Trip != nil {
		runID, err := findTripRun(ctx, tx, *vp.Trip, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE trip_run SET vehicle_id = ? WHERE id = ?", vp.Vehicle.ID, runID); err != nil {
			return err
		}
	}
	return nil
}

func handleAlert(ctx context.Context, tx *sql.Tx, alertID string, alert *Alert, now time.Time) error {
	if alertID == "" {
		return fmt.Errorf("realtime: alert entity missing id")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM alert_informed_entity WHERE alert_id = ?", alertID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM alert_active_period WHERE alert_id = ?", alertID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM alert WHERE alert_id = ?", alertID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alert (alert_id, cause, effect, header, description, timestamp) VALUES (?, ?, ?, ?, ?, ?)
	`, alertID, alert.Cause, alert.Effect, alert.HeaderText.English(), alert.DescriptionText.English(), now.UnixMilli()); err != nil {
		return err
	}

	for _, ie := range alert.InformedEntity {
		var tripRunID sql.NullInt64
		if ie.Trip != nil {
			if runID, err := findTripRun(ctx, tx, *ie.Trip, now); err == nil {
				tripRunID = sql.NullInt64{Int64: runID, Valid: true}
			}
		}
		var directionID interface{}
		if ie.DirectionID != nil {
			directionID = *ie.DirectionID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alert_informed_entity (alert_id, agency_id, route_id, stop_id, direction_id, trip_run_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, alertID, nullableStr(ie.AgencyID), nullableStr(ie.RouteID), nullableStr(ie.StopID), directionID, tripRunID); err != nil {
			return err
		}
	}

	for _, period := range alert.ActivePeriod {
		start := int64(0)
		if period.Start != nil {
			start = period.Start.Millis()
		}
		end := now.Add(24 * time.Hour).UnixMilli()
		if period.End != nil {
			end = period.End.Millis()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alert_active_period (alert_id, start_timestamp, end_timestamp) VALUES (?, ?, ?)
		`, alertID, start, end); err != nil {
			return err
		}
	}
	return nil
}

func handleShape(ctx context.Context, tx *sql.Tx, shape *ShapeUpdate) error {
	if shape.ShapeID == "" {
		return fmt.Errorf("realtime: shape entity missing shape_id")
	}
	coords, _, err := polyline.DecodeCoords([]byte(shape.EncodedPolyline))
	if err != nil {
		return fmt.Errorf("realtime: decode polyline: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM shape WHERE shape_id = ?", shape.ShapeID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO shape (shape_id, shape_pt_sequence, shape_pt_lat, shape_pt_lon, import_id)
		VALUES (?, ?, ?, ?, 0)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range coords {
		if len(c) < 2 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, shape.ShapeID, i+1, c[0], c[1]); err != nil {
			return err
		}
	}
	return nil
}

// findTripRun implements the spec's find-trip-run resolution: resolve the
// route and its agency timezone, compute the target instant from now
// overridden by the descriptor's start_date/start_time, then pick the
// TripRun minimizing |start_timestamp - target|, constrained by whichever
// of {trip_id, route_id, direction_id, start_date} the descriptor sets.
func findTripRun(ctx context.Context, tx *sql.Tx, td TripDescriptor, now time.Time) (int64, error) {
	routeID := td.RouteID
	if td.TripID != "" && routeID == "" {
		if err := tx.QueryRowContext(ctx, "SELECT route_id FROM trip WHERE trip_id = ?", td.TripID).Scan(&routeID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
	}
	if routeID == "" {
		return 0, ErrNotFound
	}

	var timezone string
	if err := tx.QueryRowContext(ctx, `
		SELECT a.timezone FROM route r JOIN agency a ON a.agency_id = r.agency_id WHERE r.route_id = ?
	`, routeID).Scan(&timezone); err != nil {
		return 0, ErrNotFound
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, fmt.Errorf("realtime: load timezone %q: %w", timezone, err)
	}

	instant := now.In(loc)
	if td.StartDate != "" {
		year, month, day, err := gtfstime.ParseDate(td.StartDate)
		if err != nil {
			return 0, err
		}
		instant = time.Date(year, time.Month(month), day, instant.Hour(), instant.Minute(), instant.Second(), 0, loc)
	}
	if td.StartTime != "" {
		secs, err := gtfstime.ParseTimeOfDay(td.StartTime)
		if err != nil {
			return 0, err
		}
		base := time.Date(instant.Year(), instant.Month(), instant.Day(), 0, 0, 0, 0, loc)
		instant = base.Add(time.Duration(secs) * time.Second)
	}
	target := instant.UnixMilli()

	var conds []string
	var args []interface{}
	if td.TripID != "" {
		conds = append(conds, "trip_id = ?")
		args = append(args, td.TripID)
	}
	conds = append(conds, "route_id = ?")
	args = append(args, routeID)
	if td.DirectionID != nil {
		conds = append(conds, "direction_id = ?")
		args = append(args, *td.DirectionID)
	}
	if td.StartDate != "" {
		conds = append(conds, "start_date = ?")
		args = append(args, td.StartDate)
	}

	query := fmt.Sprintf(
		"SELECT id FROM trip_run WHERE %s ORDER BY ABS(start_timestamp - ?) ASC LIMIT 1",
		strings.Join(conds, " AND "),
	)
	args = append(args, target)

	var id int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func firstNonEmptyStr(values ...sql.NullString) string {
	for _, v := range values {
		if v.Valid && v.String != "" {
			return v.String
		}
	}
	return ""
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
