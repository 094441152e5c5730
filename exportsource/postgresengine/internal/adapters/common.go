package adapters

import (
	"context"
)

// DBAdapter is what the export sources need from a database connection:
// paged reads, single-row counts and DDL for the schema.
type DBAdapter interface {
	Query(ctx context.Context, query string) (DBRows, error)
	QueryCount(ctx context.Context, query string) (int, error)
	Exec(ctx context.Context, query string) error
}

// DBRows is the row iterator of a paged read. *sql.Rows and *sqlx.Rows satisfy it as they are.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}
