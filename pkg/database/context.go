package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations repositories need. It is
// satisfied by both *pgxpool.Pool and pgx.Tx, so repository methods run
// against the pool by default and against the enclosing transaction when
// one is active on the context.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type contextKey string

const querierKey contextKey = "querier"

// WithQuerier stores a querier (normally a transaction) on the context.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, querierKey, q)
}

// QuerierFrom returns the querier stored on the context, if any.
func QuerierFrom(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(querierKey).(Querier)
	return q, ok
}

// Querier returns the active querier for the context: the transaction set
// by WithTx when inside one, otherwise the pool itself.
func (db *DB) Querier(ctx context.Context) Querier {
	if q, ok := QuerierFrom(ctx); ok {
		return q
	}
	return db.Pool
}
