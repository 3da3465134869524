// Package index rebuilds the two derived indexes described in the spec: a
// per-stop bounding-box index accelerated in memory by an R-tree, and the
// materialized stop-time occurrence index plus its maintenance window.
package index

import (
	"context"
	"database/sql"
	"sync"

	"github.com/tidwall/rtree"
)

// stopRecord is the payload carried in the R-tree's leaves.
type stopRecord struct {
	StopID string
	Lat    float64
	Lon    float64
}

// SpatialIndex is an in-memory R-tree of stop coordinates read from the
// stop table. It is a read-path accelerator only: the SQL tables remain the
// source of truth, and SpatialIndex is fully rebuilt (never incrementally
// patched) each time the stop index builder runs, hot-swapped under a
// RWMutex the same way the teacher swaps its spatial index.
type SpatialIndex struct {
	mu   sync.RWMutex
	tree *rtree.RTree
}

// NewSpatialIndex returns an empty index; call Rebuild before first use.
func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{tree: &rtree.RTree{}}
}

// Rebuild reloads every stop with coordinates from db (the pooled handle)
// and swaps in a fresh tree.
func (s *SpatialIndex) Rebuild(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT stop_id, stop_lat, stop_lon FROM stop WHERE stop_lat IS NOT NULL AND stop_lon IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := &rtree.RTree{}
	for rows.Next() {
		var rec stopRecord
		if err := rows.Scan(&rec.StopID, &rec.Lat, &rec.Lon); err != nil {
			return err
		}
		point := [2]float64{rec.Lat, rec.Lon}
		next.Insert(point, point, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree = next
	s.mu.Unlock()
	return nil
}

// QueryBounds returns every stop whose point falls within [minLat,maxLat] x
// [minLon,maxLon].
func (s *SpatialIndex) QueryBounds(minLat, maxLat, minLon, maxLon float64) []stopRecord {
	s.mu.RLock()
	tree := s.tree
	s.mu.RUnlock()

	var results []stopRecord
	tree.Search([2]float64{minLat, minLon}, [2]float64{maxLat, maxLon}, func(_, _ [2]float64, data interface{}) bool {
		if rec, ok := data.(stopRecord); ok {
			results = append(results, rec)
		}
		return true
	})
	return results
}
