// Package ingest implements the static schedule ingester: fetch the remote
// archive, load each of its nine files into the live schema via a CSV
// virtual table, and retire rows from older import generations.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arrivals.transitcore.dev/internal/clock"
	"arrivals.transitcore.dev/internal/logging"
	"arrivals.transitcore.dev/internal/store"
)

// Ingester downloads and loads the static feed.
type Ingester struct {
	store      *store.Store
	staticURL  string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// New constructs an Ingester against the given store and remote archive URL.
func New(st *store.Store, staticURL string, c clock.Clock, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:      st,
		staticURL:  staticURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		clock:      c,
		logger:     logger,
	}
}

// knownFiles is the fixed set of recognized archive members; everything
// else in the zip is ignored.
var knownFiles = map[string]bool{
	"feed_info.txt": true, "agency.txt": true, "calendar.txt": true,
	"calendar_dates.txt": true, "routes.txt": true, "trips.txt": true,
	"shapes.txt": true, "stops.txt": true, "stop_times.txt": true,
}

// Sync fetches the remote archive, loads it if the server reports a new
// Last-Modified value, and returns the number of rows affected. An
// unchanged Last-Modified is a no-op returning (0, nil).
func (ing *Ingester) Sync(ctx context.Context) (int, error) {
	lastModified, err := ing.currentLastModified(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: read last import: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ing.staticURL, nil)
	if err != nil {
		return 0, fmt.Errorf("ingest: build request: %w", err)
	}

	resp, err := ing.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ingest: fetch archive: %w", err)
	}
	defer logging.SafeCloseWithLogging(ing.logger, resp.Body, "gtfs archive response body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("ingest: archive fetch status %d", resp.StatusCode)
	}

	serverLastModified := resp.Header.Get("Last-Modified")
	if serverLastModified != "" && serverLastModified == lastModified {
		return 0, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("ingest: read archive body: %w", err)
	}

	scratchDir, err := os.MkdirTemp("", "gtfs-ingest-*")
	if err != nil {
		return 0, fmt.Errorf("ingest: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	if err := extractZip(body, scratchDir); err != nil {
		return 0, fmt.Errorf("ingest: extract archive: %w", err)
	}

	var affected int64
	err = ing.store.WithDirectTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO import (file_last_modified, created_at) VALUES (NULL, ?)", ing.clock.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("insert import row: %w", err)
		}
		generation, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for _, spec := range fileSpecs {
			n, err := upsertFile(ctx, tx, scratchDir, spec, generation)
			if err != nil {
				return fmt.Errorf("load %s: %w", spec.fileName, err)
			}
			affected += n
		}

		if err := refreshServiceTable(ctx, tx); err != nil {
			return fmt.Errorf("refresh service table: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE import SET file_last_modified = ? WHERE id = ?", serverLastModified, generation); err != nil {
			return fmt.Errorf("update import row: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.LogOperation(ing.logger, "gtfs static ingest complete", "rows_affected", affected)
	return int(affected), nil
}

func (ing *Ingester) currentLastModified(ctx context.Context) (string, error) {
	var lastModified sql.NullString
	err := ing.store.Direct.QueryRowContext(ctx,
		"SELECT file_last_modified FROM import ORDER BY id DESC LIMIT 1").Scan(&lastModified)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return lastModified.String, nil
}

func extractZip(body []byte, destDir string) error {
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return err
	}
	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if !knownFiles[name] {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		dest, err := os.Create(filepath.Join(destDir, name))
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(dest, rc)
		rc.Close()
		closeErr := dest.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}

// columnMap pairs a CSV header column with the live table column it feeds.
type columnMap struct {
	csvColumn  string
	liveColumn string
}

// fileSpec describes how one archive member loads into its live table.
type fileSpec struct {
	fileName    string
	liveTable   string
	columns     []columnMap
	conflictKey []string // live column names; empty means a plain insert (feed_info)
}

// fileSpecs is deliberately ordered FK-safe per the ingest protocol: feed
// info first (no dependencies), then agency, then the calendar family, then
// routes, trips, shapes, stops, and finally stop_times which references
// both trips and stops.
var fileSpecs = []fileSpec{
	{
		fileName:  "feed_info.txt",
		liveTable: "feed_info",
		columns: []columnMap{
			{"feed_publisher_name", "publisher_name"},
			{"feed_publisher_url", "publisher_url"},
			{"feed_lang", "lang"},
			{"feed_version", "version"},
		},
	},
	{
		fileName:  "agency.txt",
		liveTable: "agency",
		columns: []columnMap{
			{"agency_id", "agency_id"},
			{"agency_name", "name"},
			{"agency_url", "url"},
			{"agency_timezone", "timezone"},
		},
		conflictKey: []string{"agency_id"},
	},
	{
		fileName:  "calendar.txt",
		liveTable: "calendar",
		columns: []columnMap{
			{"service_id", "service_id"},
			{"monday", "monday"},
			{"tuesday", "tuesday"},
			{"wednesday", "wednesday"},
			{"thursday", "thursday"},
			{"friday", "friday"},
			{"saturday", "saturday"},
			{"sunday", "sunday"},
			{"start_date", "start_date"},
			{"end_date", "end_date"},
		},
		conflictKey: []string{"service_id"},
	},
	{
		fileName:  "calendar_dates.txt",
		liveTable: "calendar_date",
		columns: []columnMap{
			{"service_id", "service_id"},
			{"date", "date"},
			{"exception_type", "exception_type"},
		},
		conflictKey: []string{"service_id", "date"},
	},
	{
		fileName:  "routes.txt",
		liveTable: "route",
		columns: []columnMap{
			{"route_id", "route_id"},
			{"agency_id", "agency_id"},
			{"route_short_name", "short_name"},
			{"route_long_name", "long_name"},
			{"route_type", "type"},
			{"route_color", "color"},
			{"route_text_color", "text_color"},
		},
		conflictKey: []string{"route_id"},
	},
	{
		fileName:  "trips.txt",
		liveTable: "trip",
		columns: []columnMap{
			{"trip_id", "trip_id"},
			{"service_id", "service_id"},
			{"route_id", "route_id"},
			{"shape_id", "shape_id"},
			{"direction_id", "direction_id"},
			{"trip_headsign", "trip_headsign"},
			{"block_id", "block_id"},
		},
		conflictKey: []string{"trip_id"},
	},
	{
		fileName:  "shapes.txt",
		liveTable: "shape",
		columns: []columnMap{
			{"shape_id", "shape_id"},
			{"shape_pt_sequence", "shape_pt_sequence"},
			{"shape_pt_lat", "shape_pt_lat"},
			{"shape_pt_lon", "shape_pt_lon"},
		},
		conflictKey: []string{"shape_id", "shape_pt_sequence"},
	},
	{
		fileName:  "stops.txt",
		liveTable: "stop",
		columns: []columnMap{
			{"stop_id", "stop_id"},
			{"stop_code", "stop_code"},
			{"stop_name", "stop_name"},
			{"stop_lat", "stop_lat"},
			{"stop_lon", "stop_lon"},
			{"parent_station", "parent_station"},
			{"wheelchair_boarding", "wheelchair_boarding"},
		},
		conflictKey: []string{"stop_id"},
	},
	{
		fileName:  "stop_times.txt",
		liveTable: "stop_time",
		columns: []columnMap{
			{"trip_id", "trip_id"},
			{"stop_sequence", "stop_sequence"},
			{"stop_id", "stop_id"},
			{"arrival_time", "arrival_time"},
			{"departure_time", "departure_time"},
			{"stop_headsign", "stop_headsign"},
			{"pickup_type", "pickup_type"},
			{"drop_off_type", "drop_off_type"},
		},
		conflictKey: []string{"trip_id", "stop_sequence"},
	},
}

// upsertFile registers a temporary CSV virtual table over the extracted
// file and merges it into its live table within tx, then deletes rows left
// behind by older import generations. A missing (optional) file still runs
// the generation cleanup so stale rows don't linger forever.
func upsertFile(ctx context.Context, tx *sql.Tx, dir string, spec fileSpec, generation int64) (int64, error) {
	path := filepath.Join(dir, spec.fileName)
	if _, err := os.Stat(path); err != nil {
		return 0, deleteOlderGeneration(ctx, tx, spec.liveTable, generation)
	}

	vtable := "stg_" + strings.TrimSuffix(spec.fileName, ".txt")
	createVTable := fmt.Sprintf(
		`CREATE VIRTUAL TABLE temp.%s USING csv(filename=%s, header=true)`,
		vtable, sqlLiteral(path),
	)
	if _, err := tx.ExecContext(ctx, createVTable); err != nil {
		return 0, fmt.Errorf("create csv virtual table: %w", err)
	}
	defer tx.ExecContext(ctx, "DROP TABLE temp."+vtable)

	liveCols := make([]string, len(spec.columns))
	selectExprs := make([]string, len(spec.columns))
	for i, c := range spec.columns {
		liveCols[i] = c.liveColumn
		selectExprs[i] = fmt.Sprintf("NULLIF(%s, '')", c.csvColumn)
	}

	insertCols := strings.Join(append(append([]string{}, liveCols...), "import_id"), ", ")
	selectList := strings.Join(selectExprs, ", ")

	var onConflict string
	if len(spec.conflictKey) > 0 {
		sets := make([]string, 0, len(liveCols)+1)
		for _, c := range liveCols {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		sets = append(sets, "import_id = excluded.import_id")
		onConflict = fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(spec.conflictKey, ", "), strings.Join(sets, ", "))
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s, ? FROM temp.%s WHERE true%s",
		spec.liveTable, insertCols, selectList, vtable, onConflict,
	)
	res, err := tx.ExecContext(ctx, insertSQL, generation)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", spec.liveTable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	if err := deleteOlderGeneration(ctx, tx, spec.liveTable, generation); err != nil {
		return 0, err
	}
	return affected, nil
}

func deleteOlderGeneration(ctx context.Context, tx *sql.Tx, table string, generation int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE import_id < ?", table), generation)
	if err != nil {
		return fmt.Errorf("delete older generation from %s: %w", table, err)
	}
	return nil
}

// refreshServiceTable populates Service with the union of every service_id
// appearing in Calendar or CalendarDate, and drops any service_id no longer
// referenced by either.
func refreshServiceTable(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO service (service_id)
		SELECT service_id FROM calendar
		UNION
		SELECT service_id FROM calendar_date
	`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM service WHERE service_id NOT IN (
			SELECT service_id FROM calendar
			UNION
			SELECT service_id FROM calendar_date
		)
	`)
	return err
}

// sqlLiteral quotes path as a single-quoted SQL string literal.
func sqlLiteral(path string) string {
	return "'" + strings.ReplaceAll(path, "'", "''") + "'"
}
