package index

import (
	"context"
	"database/sql"
	"log/slog"

	"arrivals.transitcore.dev/internal/geo"
	"arrivals.transitcore.dev/internal/logging"
	"arrivals.transitcore.dev/internal/store"
)

const stopRadiusMeters = 1000.0

// StopIndexBuilder rebuilds the stop_index table and the in-memory
// SpatialIndex that accelerates it.
type StopIndexBuilder struct {
	store    *store.Store
	spatial  *SpatialIndex
	logger   *slog.Logger
}

// NewStopIndexBuilder constructs a builder sharing spatial with the query
// layer so a rebuild is immediately visible to /stops.
func NewStopIndexBuilder(st *store.Store, spatial *SpatialIndex, logger *slog.Logger) *StopIndexBuilder {
	return &StopIndexBuilder{store: st, spatial: spatial, logger: logger}
}

// Rebuild truncates and repopulates stop_index from every stop with
// coordinates, then reloads the in-memory R-tree.
func (b *StopIndexBuilder) Rebuild(ctx context.Context) error {
	err := b.store.WithDirectTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM stop_index"); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT stop_id, stop_lat, stop_lon FROM stop WHERE stop_lat IS NOT NULL AND stop_lon IS NOT NULL`)
		if err != nil {
			return err
		}
		defer rows.Close()

		type candidate struct {
			stopID   string
			lat, lon float64
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.stopID, &c.lat, &c.lon); err != nil {
				return err
			}
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stop_index (stop_id, min_lat, max_lat, min_lon, max_lon)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range candidates {
			box := geo.BoundsForRadius(c.lat, c.lon, stopRadiusMeters)
			if _, err := stmt.ExecContext(ctx, c.stopID, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := b.spatial.Rebuild(ctx, b.store.Pooled); err != nil {
		return err
	}

	logging.LogOperation(b.logger, "stop index rebuilt")
	return nil
}
