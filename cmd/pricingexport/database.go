package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for the sql and sqlx drivers

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
)

const (
	sqlDriverName          = "postgres"
	defaultMaxIdleConns    = 2
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 5 * time.Minute
)

var errConnectingFailed = errors.New("connecting to the database failed")

// pricingSources is what the commands need from the database: the ordered sources and the schema.
type pricingSources interface {
	All() []exportsource.PagedSource
	CreateSchemaSQL() []string
	EnsureSchema(ctx context.Context) error
	Close()
}

// sourceOpener opens the pricing sources for a database configuration.
type sourceOpener func(ctx context.Context, cfg DatabaseConfig, options ...postgresengine.Option) (pricingSources, error)

type postgresSources struct {
	postgresengine.Sources
	closers []func()
}

func (s postgresSources) Close() {
	for _, closeFn := range s.closers {
		closeFn()
	}
}

// openPostgresSources connects with the configured driver and builds the pricing sources on top of it.
func openPostgresSources(
	ctx context.Context,
	cfg DatabaseConfig,
	options ...postgresengine.Option,
) (pricingSources, error) {

	options = append(options, postgresengine.WithTableNames(cfg.Tables.TableNames()))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	switch cfg.Driver {
	case driverSQL:
		return openSQLDBSources(connectCtx, cfg, options)
	case driverSQLX:
		return openSQLXSources(connectCtx, cfg, options)
	default:
		return openPGXSources(connectCtx, cfg, options)
	}
}

func openPGXSources(ctx context.Context, cfg DatabaseConfig, options []postgresengine.Option) (pricingSources, error) {
	primary, err := newPGXPool(ctx, cfg.DSN, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ReplicaDSN == "" {
		sources, err := postgresengine.NewPricingSourcesFromPGXPool(primary, options...)
		if err != nil {
			primary.Close()
			return nil, err
		}

		return postgresSources{Sources: sources, closers: []func(){primary.Close}}, nil
	}

	replica, err := newPGXPool(ctx, cfg.ReplicaDSN, cfg)
	if err != nil {
		primary.Close()
		return nil, err
	}

	sources, err := postgresengine.NewPricingSourcesFromPGXPoolWithReplica(primary, replica, options...)
	if err != nil {
		primary.Close()
		replica.Close()
		return nil, err
	}

	return postgresSources{Sources: sources, closers: []func(){primary.Close, replica.Close}}, nil
}

func newPGXPool(ctx context.Context, dsn string, cfg DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Join(errConnectingFailed, err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Join(errConnectingFailed, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Join(errConnectingFailed, err)
	}

	return pool, nil
}

func openSQLDBSources(ctx context.Context, cfg DatabaseConfig, options []postgresengine.Option) (pricingSources, error) {
	db, err := sql.Open(sqlDriverName, cfg.DSN)
	if err != nil {
		return nil, errors.Join(errConnectingFailed, err)
	}

	configureSQLDB(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(errConnectingFailed, err)
	}

	sources, err := postgresengine.NewPricingSourcesFromSQLDB(db, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return postgresSources{Sources: sources, closers: []func(){func() { _ = db.Close() }}}, nil
}

func openSQLXSources(ctx context.Context, cfg DatabaseConfig, options []postgresengine.Option) (pricingSources, error) {
	db, err := sqlx.ConnectContext(ctx, sqlDriverName, cfg.DSN)
	if err != nil {
		return nil, errors.Join(errConnectingFailed, err)
	}

	configureSQLDB(db.DB, cfg)

	sources, err := postgresengine.NewPricingSourcesFromSQLX(db, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return postgresSources{Sources: sources, closers: []func(){func() { _ = db.Close() }}}, nil
}

func configureSQLDB(db *sql.DB, cfg DatabaseConfig) {
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)
}
