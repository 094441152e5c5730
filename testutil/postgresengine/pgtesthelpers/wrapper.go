package pgtesthelpers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
	"github.com/AntonStoeckl/composite-export-go/testutil/postgresengine/config"
)

// Adapter type constants
const (
	typePGXPool = "pgx.pool"
	typeSQLDB   = "sql.db"
	typeSQLX    = "sqlx.db"

	envAdapterType = "ADAPTER_TYPE"
	connectTimeout = 5 * time.Second
)

// Wrapper abstracts over the different adapter types.
type Wrapper interface {
	Sources() postgresengine.Sources
	Exec(ctx context.Context, query string) error
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing.
type PGXPoolWrapper struct {
	pool    *pgxpool.Pool
	sources postgresengine.Sources
}

func (w *PGXPoolWrapper) Sources() postgresengine.Sources {
	return w.sources
}

func (w *PGXPoolWrapper) Exec(ctx context.Context, query string) error {
	_, err := w.pool.Exec(ctx, query)
	return err
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing.
type SQLDBWrapper struct {
	db      *sql.DB
	sources postgresengine.Sources
}

func (w *SQLDBWrapper) Sources() postgresengine.Sources {
	return w.sources
}

func (w *SQLDBWrapper) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing.
type SQLXWrapper struct {
	db      *sqlx.DB
	sources postgresengine.Sources
}

func (w *SQLXWrapper) Sources() postgresengine.Sources {
	return w.sources
}

func (w *SQLXWrapper) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapperWithTestConfig creates the wrapper selected by ADAPTER_TYPE, ensures the schema and
// registers Close as test cleanup. The test is skipped if the test database cannot be reached.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	wrapper, err := createWrapper(ctx, options...)
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}

	t.Cleanup(wrapper.Close)

	require.NoError(t, wrapper.Sources().EnsureSchema(ctx), "error creating the schema in test setup")

	return wrapper
}

func createWrapper(ctx context.Context, options ...postgresengine.Option) (Wrapper, error) {
	adapterTypeFromEnv := strings.ToLower(os.Getenv(envAdapterType))

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		pool, err := config.PostgresPGXPool(ctx, config.PostgresPrimaryDSN())
		if err != nil {
			return nil, err
		}

		sources, err := postgresengine.NewPricingSourcesFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
			return nil, err
		}

		return &PGXPoolWrapper{pool: pool, sources: sources}, nil

	case typeSQLDB:
		db, err := config.PostgresSQLDB(ctx, config.PostgresPrimaryDSN())
		if err != nil {
			return nil, err
		}

		sources, err := postgresengine.NewPricingSourcesFromSQLDB(db, options...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		return &SQLDBWrapper{db: db, sources: sources}, nil

	case typeSQLX:
		db, err := config.PostgresSQLX(ctx, config.PostgresPrimaryDSN())
		if err != nil {
			return nil, err
		}

		sources, err := postgresengine.NewPricingSourcesFromSQLX(db, options...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		return &SQLXWrapper{db: db, sources: sources}, nil

	default: // neither one of the known types nor empty
		return nil, fmt.Errorf("unsupported adapter type from env: %s", adapterTypeFromEnv)
	}
}

// CleanUp empties the three pricing tables.
func CleanUp(t testing.TB, wrapper Wrapper) {
	t.Helper()

	names := wrapper.Sources().TableNames()
	query := fmt.Sprintf("TRUNCATE TABLE %s, %s, %s", names.Prices, names.Assignments, names.Pricelists)

	require.NoError(t, wrapper.Exec(context.Background(), query), "error cleaning up the pricing tables")
}
