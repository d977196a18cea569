package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithTx runs fn inside a transaction. The transaction is injected into the
// context passed to fn, so any repository call made with that context joins
// it. Every multi-row state change in the pipeline (matching, transform,
// sync upserts, review decisions) runs through here so the data model's
// invariants hold for any external reader.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(WithQuerier(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithNested runs fn inside a nested transaction (a savepoint) when the
// context already carries one, so a failure rolls back fn's statements
// without aborting the enclosing transaction. Outside a transaction it
// behaves like WithTx.
func (db *DB) WithNested(ctx context.Context, fn func(ctx context.Context) error) error {
	q, ok := QuerierFrom(ctx)
	if !ok {
		return db.WithTx(ctx, fn)
	}
	outer, ok := q.(pgx.Tx)
	if !ok {
		return db.WithTx(ctx, fn)
	}

	tx, err := outer.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin nested transaction: %w", err)
	}

	if err := fn(WithQuerier(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit nested transaction: %w", err)
	}
	return nil
}
