package config

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresSQLX opens a *sqlx.DB for dsn with the pool settings used in tests and pings it.
func PostgresSQLX(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}

	configurePool(db.DB)

	return db, nil
}
