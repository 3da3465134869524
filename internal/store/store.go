// Package store owns the embedded SQLite database: schema migrations and
// the two connection handles described in the spec's concurrency model — a
// single-connection direct handle for bulk ingest and index rebuilds, and a
// pooled handle for serving reads and short realtime writes.
//
// The direct handle is opened through github.com/mattn/go-sqlite3, the cgo
// driver, which must be built with the `sqlite_vtable` and `sqlite_csv`
// build tags so that `CREATE VIRTUAL TABLE ... USING csv(...)` is available
// to the static ingester; go-sqlite3 compiles in FTS5 by default, which is
// what lets the stop/stops_fts sync triggers fire correctly regardless of
// which handle performs the write. The pooled handle is opened through
// modernc.org/sqlite, a pure-Go driver also built with FTS5 support, used
// for concurrent serving so cgo's OS-thread pinning never contends with
// the bulk worker.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Store bundles both handles against the same WAL-mode database file.
type Store struct {
	// Direct is the single-connection cgo handle used exclusively by the
	// static ingester and the two index builders.
	Direct *sql.DB
	// Pooled is the multi-connection pure-Go handle used by the query
	// layer and the realtime reconciler.
	Pooled *sql.DB
}

// Open opens both handles against path, applying WAL mode and
// synchronous=NORMAL pragmas, and returns a Store ready for Migrate.
func Open(path string) (*Store, error) {
	direct, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("store: open direct handle: %w", err)
	}
	direct.SetMaxOpenConns(1)
	direct.SetMaxIdleConns(1)

	pooled, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		direct.Close()
		return nil, fmt.Errorf("store: open pooled handle: %w", err)
	}
	pooled.SetMaxOpenConns(8)

	return &Store{Direct: direct, Pooled: pooled}, nil
}

// Close closes both handles.
func (s *Store) Close() error {
	err1 := s.Direct.Close()
	err2 := s.Pooled.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Migrate applies the four ordered migrations over the direct handle. It is
// idempotent: every statement uses CREATE ... IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := s.Direct.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
	}
	return nil
}

var migrations = []string{
	migrationSchedule,
	migrationDerived,
	migrationRealtime,
	migrationSecondaryIndexes,
}

// migrationSchedule creates the schedule tables ingested from the static
// feed, plus the Import generation table and the synthetic Service table.
const migrationSchedule = `
CREATE TABLE IF NOT EXISTS import (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_last_modified TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feed_info (
	publisher_name TEXT,
	publisher_url TEXT,
	lang TEXT,
	version TEXT,
	import_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agency (
	agency_id TEXT PRIMARY KEY,
	name TEXT,
	url TEXT,
	timezone TEXT NOT NULL,
	import_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar (
	service_id TEXT PRIMARY KEY,
	monday INTEGER NOT NULL,
	tuesday INTEGER NOT NULL,
	wednesday INTEGER NOT NULL,
	thursday INTEGER NOT NULL,
	friday INTEGER NOT NULL,
	saturday INTEGER NOT NULL,
	sunday INTEGER NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	import_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_date (
	service_id TEXT NOT NULL,
	date TEXT NOT NULL,
	exception_type INTEGER NOT NULL,
	import_id INTEGER NOT NULL,
	PRIMARY KEY (service_id, date)
);

CREATE TABLE IF NOT EXISTS service (
	service_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS route (
	route_id TEXT PRIMARY KEY,
	agency_id TEXT,
	short_name TEXT,
	long_name TEXT,
	type INTEGER,
	color TEXT,
	text_color TEXT,
	import_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trip (
	trip_id TEXT PRIMARY KEY,
	service_id TEXT NOT NULL,
	route_id TEXT NOT NULL,
	shape_id TEXT,
	direction_id INTEGER,
	trip_headsign TEXT,
	block_id TEXT,
	import_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stop (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stop_id TEXT NOT NULL UNIQUE,
	stop_code TEXT,
	stop_name TEXT,
	stop_lat REAL,
	stop_lon REAL,
	parent_station TEXT,
	wheelchair_boarding INTEGER,
	import_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stop_time (
	trip_id TEXT NOT NULL,
	stop_sequence INTEGER NOT NULL,
	stop_id TEXT NOT NULL,
	arrival_time TEXT,
	departure_time TEXT,
	stop_headsign TEXT,
	pickup_type INTEGER,
	drop_off_type INTEGER,
	import_id INTEGER NOT NULL,
	PRIMARY KEY (trip_id, stop_sequence)
);

CREATE TABLE IF NOT EXISTS shape (
	shape_id TEXT NOT NULL,
	shape_pt_sequence INTEGER NOT NULL,
	shape_pt_lat REAL NOT NULL,
	shape_pt_lon REAL NOT NULL,
	import_id INTEGER NOT NULL,
	PRIMARY KEY (shape_id, shape_pt_sequence)
);
`

// migrationDerived creates the tables rebuilt by the stop index builder and
// the stop-time index builder.
const migrationDerived = `
CREATE TABLE IF NOT EXISTS stop_index (
	stop_id TEXT PRIMARY KEY,
	min_lat REAL NOT NULL,
	max_lat REAL NOT NULL,
	min_lon REAL NOT NULL,
	max_lon REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS trip_run (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trip_id TEXT NOT NULL,
	route_id TEXT NOT NULL,
	direction_id INTEGER,
	start_date TEXT NOT NULL,
	start_timestamp INTEGER NOT NULL,
	vehicle_id TEXT,
	schedule_relationship INTEGER NOT NULL DEFAULT 0,
	UNIQUE (trip_id, start_timestamp)
);

CREATE TABLE IF NOT EXISTS stop_time_index (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trip_run_id INTEGER NOT NULL,
	trip_id TEXT NOT NULL,
	stop_id TEXT NOT NULL,
	stop_sequence INTEGER NOT NULL,
	arrival_timestamp INTEGER NOT NULL,
	departure_timestamp INTEGER NOT NULL,
	updated_arrival_timestamp INTEGER
);

CREATE TABLE IF NOT EXISTS maintenance_time (
	id INTEGER PRIMARY KEY,
	minute_of_day INTEGER NOT NULL
);
`

// migrationRealtime creates the tables owned by the realtime reconciler.
const migrationRealtime = `
CREATE TABLE IF NOT EXISTS vehicle (
	vehicle_id TEXT PRIMARY KEY,
	label TEXT,
	license_plate TEXT,
	lat REAL,
	lon REAL,
	bearing REAL,
	speed REAL,
	timestamp INTEGER
);

CREATE TABLE IF NOT EXISTS alert (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL UNIQUE,
	cause TEXT,
	effect TEXT,
	header TEXT,
	description TEXT,
	timestamp INTEGER
);

CREATE TABLE IF NOT EXISTS alert_informed_entity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL,
	agency_id TEXT,
	route_id TEXT,
	stop_id TEXT,
	direction_id INTEGER,
	trip_run_id INTEGER
);

CREATE TABLE IF NOT EXISTS alert_active_period (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL,
	start_timestamp INTEGER NOT NULL,
	end_timestamp INTEGER NOT NULL
);
`

// migrationSecondaryIndexes creates the index layer the query layer and
// reconciler depend on for acceptable performance, plus the FTS5 virtual
// table backing stop-code/name search (served from the pooled handle).
const migrationSecondaryIndexes = `
CREATE INDEX IF NOT EXISTS idx_stop_time_index_stop_arrival ON stop_time_index (stop_id, arrival_timestamp);
CREATE INDEX IF NOT EXISTS idx_stop_time_index_run_seq ON stop_time_index (trip_run_id, stop_sequence);
CREATE INDEX IF NOT EXISTS idx_trip_service ON trip (service_id);
CREATE INDEX IF NOT EXISTS idx_stop_time_trip ON stop_time (trip_id);
CREATE INDEX IF NOT EXISTS idx_alert_informed_entity_alert ON alert_informed_entity (alert_id);
CREATE INDEX IF NOT EXISTS idx_alert_active_period_alert ON alert_active_period (alert_id);
CREATE INDEX IF NOT EXISTS idx_alert_active_period_end ON alert_active_period (end_timestamp);

CREATE VIRTUAL TABLE IF NOT EXISTS stops_fts USING fts5(stop_id UNINDEXED, stop_code, stop_name);

-- stops_fts is a standalone (non-external-content) FTS5 index, so it is
-- kept in sync with stop via triggers rather than by the ingester writing
-- to it directly; this lets every writer of the stop table (bulk ingest,
-- future manual edits) feed search without knowing stops_fts exists.
CREATE TRIGGER IF NOT EXISTS trg_stop_fts_ai AFTER INSERT ON stop BEGIN
	DELETE FROM stops_fts WHERE stop_id = new.stop_id;
	INSERT INTO stops_fts (stop_id, stop_code, stop_name) VALUES (new.stop_id, COALESCE(new.stop_code, ''), COALESCE(new.stop_name, ''));
END;

CREATE TRIGGER IF NOT EXISTS trg_stop_fts_au AFTER UPDATE ON stop BEGIN
	DELETE FROM stops_fts WHERE stop_id = old.stop_id;
	INSERT INTO stops_fts (stop_id, stop_code, stop_name) VALUES (new.stop_id, COALESCE(new.stop_code, ''), COALESCE(new.stop_name, ''));
END;

CREATE TRIGGER IF NOT EXISTS trg_stop_fts_ad AFTER DELETE ON stop BEGIN
	DELETE FROM stops_fts WHERE stop_id = old.stop_id;
END;
`
