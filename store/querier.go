package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxTx aliases pgx.Tx so repositories and Store.Transaction callers share
// one name without importing pgx directly everywhere.
type pgxTx = pgx.Tx

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting repository
// methods accept either a pooled connection or an active transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
