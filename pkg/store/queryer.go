// Package store is the embedded ACID relational store of spec.md §4.1: a
// single modernc.org/sqlite database under $STATE_DIR holding every entity,
// with hand-rolled integer-version migrations and a transaction helper that
// retries on lock contention.
package store

import (
	"context"
	"database/sql"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx. Repository functions in
// this package take a Queryer instead of a concrete type so the same code
// path serves both ad-hoc single-statement calls and multi-statement
// transactions passed through Store.Transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
