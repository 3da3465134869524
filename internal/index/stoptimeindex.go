package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"arrivals.transitcore.dev/internal/clock"
	"arrivals.transitcore.dev/internal/gtfstime"
	"arrivals.transitcore.dev/internal/logging"
	"arrivals.transitcore.dev/internal/store"
)

const (
	maxIndexDays = 60
	histogramBins = 144
	binWidthMs    = 10 * 60 * 1000
)

// weekdayColumns maps a stdlib time.Weekday (Sunday=0) to the Calendar
// boolean column that governs it.
var weekdayColumns = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// StopTimeIndexBuilder rebuilds StopTimeIndex, TripRun, and MaintenanceTime
// by expanding the calendar forward.
type StopTimeIndexBuilder struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

func NewStopTimeIndexBuilder(st *store.Store, c clock.Clock, logger *slog.Logger) *StopTimeIndexBuilder {
	return &StopTimeIndexBuilder{store: st, clock: c, logger: logger}
}

type scheduleRow struct {
	stopID         string
	stopSequence   int
	tripID         string
	arrivalTime    sql.NullString
	departureTime  sql.NullString
	agencyTimezone string
	routeID        string
	directionID    sql.NullInt64
}

// Rebuild expands the calendar up to 60 days forward (or to the last
// covered calendar date, whichever comes first), materializing one
// StopTimeIndex row per (trip-run, stop) and one TripRun row per (trip,
// service-date), and recomputes the quietest ten-minute window of the day.
func (b *StopTimeIndexBuilder) Rebuild(ctx context.Context) error {
	return b.store.WithDirectTx(ctx, func(tx *sql.Tx) error {
		lastCovered, err := lastCoveredDate(ctx, tx)
		if err != nil {
			return fmt.Errorf("discover last covered date: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM trip_run"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS stop_time_index"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE stop_time_index (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				trip_run_id INTEGER NOT NULL,
				trip_id TEXT NOT NULL,
				stop_id TEXT NOT NULL,
				stop_sequence INTEGER NOT NULL,
				arrival_timestamp INTEGER NOT NULL,
				departure_timestamp INTEGER NOT NULL,
				updated_arrival_timestamp INTEGER
			)`); err != nil {
			return err
		}

		locCache := map[string]*time.Location{}
		resolveLoc := func(tz string) (*time.Location, error) {
			if loc, ok := locCache[tz]; ok {
				return loc, nil
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("load timezone %q: %w", tz, err)
			}
			locCache[tz] = loc
			return loc, nil
		}

		var histogram [histogramBins]int

		startDate, err := gtfstime.AddDays(gtfstime.Today(b.clock.Now(), time.UTC), -1)
		if err != nil {
			return err
		}

		stmtRun, err := tx.PrepareContext(ctx, `
			INSERT INTO trip_run (trip_id, route_id, direction_id, start_date, start_timestamp, schedule_relationship)
			VALUES (?, ?, ?, ?, ?, 0)`)
		if err != nil {
			return err
		}
		defer stmtRun.Close()

		stmtIdx, err := tx.PrepareContext(ctx, `
			INSERT INTO stop_time_index (trip_run_id, trip_id, stop_id, stop_sequence, arrival_timestamp, departure_timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmtIdx.Close()

		d := startDate
		daysIndexed := 0
		for daysIndexed < maxIndexDays {
			if lastCovered != "" && gtfstime.Compare(d, lastCovered) > 0 {
				break
			}

			if err := b.indexDay(ctx, tx, d, resolveLoc, stmtRun, stmtIdx, &histogram); err != nil {
				return fmt.Errorf("index day %s: %w", d, err)
			}
			daysIndexed++

			next, err := gtfstime.AddDays(d, 1)
			if err != nil {
				return err
			}
			d = next
		}

		if _, err := tx.ExecContext(ctx, "CREATE INDEX idx_stop_time_index_stop_arrival ON stop_time_index (stop_id, arrival_timestamp)"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "CREATE INDEX idx_stop_time_index_run_seq ON stop_time_index (trip_run_id, stop_sequence)"); err != nil {
			return err
		}

		quietBin := 0
		for i, count := range histogram {
			if count < histogram[quietBin] {
				quietBin = i
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO maintenance_time (id, minute_of_day) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET minute_of_day = excluded.minute_of_day`,
			quietBin*10); err != nil {
			return err
		}

		logging.LogOperation(b.logger, "stop-time index rebuilt", "days_indexed", daysIndexed)
		return nil
	})
}

func (b *StopTimeIndexBuilder) indexDay(
	ctx context.Context, tx *sql.Tx, d string,
	resolveLoc func(string) (*time.Location, error),
	stmtRun, stmtIdx *sql.Stmt,
	histogram *[histogramBins]int,
) error {
	weekday, err := gtfstime.Weekday(d)
	if err != nil {
		return err
	}
	col := weekdayColumns[int(weekday)]

	query := fmt.Sprintf(`
		SELECT st.stop_id, st.stop_sequence, st.trip_id, st.arrival_time, st.departure_time,
		       a.timezone, t.route_id, t.direction_id
		FROM stop_time st
		JOIN trip t ON t.trip_id = st.trip_id
		JOIN route r ON r.route_id = t.route_id
		JOIN agency a ON a.agency_id = r.agency_id
		WHERE t.service_id IN (
			SELECT service_id FROM calendar
			WHERE start_date <= ? AND end_date >= ? AND %s = 1
				AND service_id NOT IN (
					SELECT service_id FROM calendar_date WHERE date = ? AND exception_type = 2
				)
			UNION
			SELECT service_id FROM calendar_date WHERE date = ? AND exception_type = 1
		)
		ORDER BY st.trip_id ASC, st.stop_sequence ASC`, col)

	rows, err := tx.QueryContext(ctx, query, d, d, d, d)
	if err != nil {
		return err
	}
	defer rows.Close()

	var currentTripID string
	var currentRunID int64

	for rows.Next() {
		var r scheduleRow
		if err := rows.Scan(&r.stopID, &r.stopSequence, &r.tripID, &r.arrivalTime, &r.departureTime,
			&r.agencyTimezone, &r.routeID, &r.directionID); err != nil {
			return err
		}

		loc, err := resolveLoc(r.agencyTimezone)
		if err != nil {
			return err
		}

		if r.tripID != currentTripID {
			if r.stopSequence != 1 {
				return fmt.Errorf("invariant violation: trip %s's first indexed row has stop_sequence %d, not 1", r.tripID, r.stopSequence)
			}
			departure := firstNonEmpty(r.departureTime, r.arrivalTime)
			startInstant, err := gtfstime.ParseInstant(d, departure, loc)
			if err != nil {
				return fmt.Errorf("parse start time for trip %s: %w", r.tripID, err)
			}
			res, err := stmtRun.ExecContext(ctx, r.tripID, r.routeID, nullableInt(r.directionID), d, startInstant.UnixMilli())
			if err != nil {
				return err
			}
			currentRunID, err = res.LastInsertId()
			if err != nil {
				return err
			}
			currentTripID = r.tripID
		}

		arrivalRaw := firstNonEmpty(r.arrivalTime, r.departureTime)
		departureRaw := firstNonEmpty(r.departureTime, r.arrivalTime)

		arrivalInstant, err := gtfstime.ParseInstant(d, arrivalRaw, loc)
		if err != nil {
			return fmt.Errorf("parse arrival time for trip %s stop %s: %w", r.tripID, r.stopID, err)
		}
		departureInstant, err := gtfstime.ParseInstant(d, departureRaw, loc)
		if err != nil {
			return fmt.Errorf("parse departure time for trip %s stop %s: %w", r.tripID, r.stopID, err)
		}

		if _, err := stmtIdx.ExecContext(ctx, currentRunID, r.tripID, r.stopID, r.stopSequence,
			arrivalInstant.UnixMilli(), departureInstant.UnixMilli()); err != nil {
			return err
		}

		bin := int((arrivalInstant.UnixMilli() % (24 * 60 * 60 * 1000)) / binWidthMs)
		if bin < 0 {
			bin += histogramBins
		}
		histogram[bin]++
	}
	return rows.Err()
}

func lastCoveredDate(ctx context.Context, tx *sql.Tx) (string, error) {
	var maxCalendarDate, maxCalendarEnd sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT MAX(date) FROM calendar_date").Scan(&maxCalendarDate); err != nil {
		return "", err
	}
	if err := tx.QueryRowContext(ctx, "SELECT MAX(end_date) FROM calendar").Scan(&maxCalendarEnd); err != nil {
		return "", err
	}
	switch {
	case maxCalendarDate.Valid && maxCalendarEnd.Valid:
		if gtfstime.Compare(maxCalendarDate.String, maxCalendarEnd.String) >= 0 {
			return maxCalendarDate.String, nil
		}
		return maxCalendarEnd.String, nil
	case maxCalendarDate.Valid:
		return maxCalendarDate.String, nil
	case maxCalendarEnd.Valid:
		return maxCalendarEnd.String, nil
	default:
		return "", nil
	}
}

func firstNonEmpty(values ...sql.NullString) string {
	for _, v := range values {
		if v.Valid && v.String != "" {
			return v.String
		}
	}
	return ""
}

func nullableInt(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}
