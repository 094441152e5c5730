package adapters

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// PGXAdapter implements DBAdapter for pgxpool.Pool, with an optional replica for reads.
type PGXAdapter struct {
	pool        *pgxpool.Pool
	replicaPool *pgxpool.Pool
}

func NewPGXAdapter(pool *pgxpool.Pool) *PGXAdapter {
	return &PGXAdapter{pool: pool}
}

func NewPGXAdapterWithReplica(pool *pgxpool.Pool, replica *pgxpool.Pool) *PGXAdapter {
	return &PGXAdapter{pool: pool, replicaPool: replica}
}

// readPool picks the replica for contexts marked with eventual consistency, the primary otherwise.
// Count and page reads of one export run use the same context, so they hit the same server.
func (p *PGXAdapter) readPool(ctx context.Context) *pgxpool.Pool {
	if p.replicaPool != nil && exportsource.GetConsistencyLevel(ctx) == exportsource.EventualConsistency {
		return p.replicaPool
	}

	return p.pool
}

func (p *PGXAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := p.readPool(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}

	return pgxRows{Rows: rows}, nil
}

func (p *PGXAdapter) QueryCount(ctx context.Context, query string) (int, error) {
	var count int64
	if err := p.readPool(ctx).QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, err
	}

	return int(count), nil
}

// Exec runs DDL on the primary.
func (p *PGXAdapter) Exec(ctx context.Context, query string) error {
	_, err := p.pool.Exec(ctx, query)
	return err
}

// pgxRows adapts pgx.Rows, whose Close does not return an error.
type pgxRows struct {
	pgx.Rows
}

func (r pgxRows) Close() error {
	r.Rows.Close()
	return nil
}
