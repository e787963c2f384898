package domain

import (
	"context"
	"database/sql"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repository methods can
// run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager runs units of work. fn receives the transaction-bound querier;
// returning an error (or panicking) rolls everything back.
type TxManager interface {
	Reader() Querier
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Querier) error) error
}
