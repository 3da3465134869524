package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WithDirectTx runs fn inside a transaction on the direct handle with
// foreign-key checks disabled for its duration, per the spec's bulk-ingest
// and index-rebuild resource policy: on any error the transaction is rolled
// back and no partial state is observable.
func (s *Store) WithDirectTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if _, err := s.Direct.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("store: disable foreign keys: %w", err)
	}

	tx, err := s.Direct.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin direct tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit direct tx: %w", err)
	}
	return nil
}

// WithPooledTx runs fn inside a transaction on the pooled handle, used by
// the realtime reconciler (one feed-poll per transaction).
func (s *Store) WithPooledTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Pooled.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin pooled tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit pooled tx: %w", err)
	}
	return nil
}
