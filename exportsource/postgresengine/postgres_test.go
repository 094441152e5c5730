package postgresengine_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/composite"
	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
)

var pricelistColumns = []string{"id", "name", "description", "currency", "created_at", "modified_at"}
var assignmentColumns = []string{"id", "pricelist_id", "catalog_id", "store_id", "name", "priority", "start_date", "end_date"}
var priceColumns = []string{"id", "pricelist_id", "product_id", "list", "sale", "min_quantity", "start_date", "end_date"}

func Test_NewPricingSources_ErrorCases(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name        string
		build       func() (postgresengine.Sources, error)
		expectedErr error
	}{
		{
			name: "nil_pgx_pool",
			build: func() (postgresengine.Sources, error) {
				return postgresengine.NewPricingSourcesFromPGXPool(nil)
			},
			expectedErr: exportsource.ErrNilDatabaseConnection,
		},
		{
			name: "nil_pgx_replica",
			build: func() (postgresengine.Sources, error) {
				return postgresengine.NewPricingSourcesFromPGXPoolWithReplica(nil, nil)
			},
			expectedErr: exportsource.ErrNilDatabaseConnection,
		},
		{
			name: "nil_sql_db",
			build: func() (postgresengine.Sources, error) {
				return postgresengine.NewPricingSourcesFromSQLDB(nil)
			},
			expectedErr: exportsource.ErrNilDatabaseConnection,
		},
		{
			name: "nil_sqlx_db",
			build: func() (postgresengine.Sources, error) {
				return postgresengine.NewPricingSourcesFromSQLX(nil)
			},
			expectedErr: exportsource.ErrNilDatabaseConnection,
		},
		{
			name: "empty_table_name",
			build: func() (postgresengine.Sources, error) {
				return postgresengine.NewPricingSourcesFromSQLDB(db, postgresengine.WithTableNames(postgresengine.TableNames{
					Pricelists:  "pl",
					Assignments: "",
					Prices:      "p",
				}))
			},
			expectedErr: exportsource.ErrEmptyTableName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// act
			_, err := tt.build()

			// assert
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func Test_Sources_All_ReturnsTheSourcesInExportOrder(t *testing.T) {
	// setup
	sources, _ := givenSourcesWithMock(t)

	// act
	all := sources.All()

	// assert
	require.Len(t, all, 3)
	assert.Equal(t, "pricelists", all[0].Name())
	assert.Equal(t, "pricelist_assignments", all[1].Name())
	assert.Equal(t, "prices", all[2].Name())
	assert.Equal(t, postgresengine.DefaultTableNames(), sources.TableNames())
}

func Test_TotalCount(t *testing.T) {
	tests := []struct {
		name          string
		source        func(s postgresengine.Sources) exportsource.PagedSource
		query         exportsource.ExportQuery
		expectedQuery string
	}{
		{
			name:          "pricelists_without_object_ids",
			source:        func(s postgresengine.Sources) exportsource.PagedSource { return s.Pricelists },
			query:         exportsource.ExportQuery{},
			expectedQuery: `SELECT COUNT(*) FROM "pricelists"`,
		},
		{
			name:          "pricelists_are_filtered_by_id",
			source:        func(s postgresengine.Sources) exportsource.PagedSource { return s.Pricelists },
			query:         exportsource.ExportQuery{ObjectIDs: []string{"pl-1", "pl-2"}},
			expectedQuery: `SELECT COUNT(*) FROM "pricelists" WHERE ("id" IN ('pl-1', 'pl-2'))`,
		},
		{
			name:          "assignments_are_filtered_by_pricelist_id",
			source:        func(s postgresengine.Sources) exportsource.PagedSource { return s.Assignments },
			query:         exportsource.ExportQuery{ObjectIDs: []string{"pl-1"}},
			expectedQuery: `SELECT COUNT(*) FROM "pricelist_assignments" WHERE ("pricelist_id" IN ('pl-1'))`,
		},
		{
			name:          "prices_are_filtered_by_pricelist_id",
			source:        func(s postgresengine.Sources) exportsource.PagedSource { return s.Prices },
			query:         exportsource.ExportQuery{ObjectIDs: []string{"pl-1", "pl-3"}, Sort: "list:desc"},
			expectedQuery: `SELECT COUNT(*) FROM "prices" WHERE ("pricelist_id" IN ('pl-1', 'pl-3'))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// setup
			sources, mock := givenSourcesWithMock(t)
			mock.ExpectQuery(regexp.QuoteMeta(tt.expectedQuery)).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

			// act
			count, err := tt.source(sources).TotalCount(context.Background(), tt.query)

			// assert
			require.NoError(t, err)
			assert.Equal(t, 42, count)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func Test_FetchPage_Pricelists(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	createdAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "description", "currency", "created_at", "modified_at" FROM "pricelists"`)).
		WillReturnRows(sqlmock.NewRows(pricelistColumns).
			AddRow("pl-1", "Retail", "", "EUR", createdAt, createdAt).
			AddRow("pl-2", "Wholesale", "B2B only", "USD", createdAt, createdAt.Add(time.Hour)))

	// act
	items, err := sources.Pricelists.FetchPage(context.Background(), exportsource.ExportQuery{Take: 50})

	// assert
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, postgresengine.ObjectTypePricelist, items[0].ObjectType)
	assert.Equal(t, "pl-1", items[0].ObjectID)
	assert.Equal(t, "pl-2", items[1].ObjectID)

	var payload postgresengine.Pricelist
	require.NoError(t, jsoniter.Unmarshal(items[1].PayloadJSON, &payload))
	assert.Equal(t, "Wholesale", payload.Name)
	assert.Equal(t, "B2B only", payload.Description)
	assert.Equal(t, "USD", payload.Currency)
	assert.True(t, createdAt.Equal(payload.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_FetchPage_Assignments(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "pricelist_assignments" WHERE ("pricelist_id" IN ('pl-1'))`)).
		WillReturnRows(sqlmock.NewRows(assignmentColumns).
			AddRow("as-1", "pl-1", "catalog-1", "", "Default", int64(10), start, nil))

	// act
	items, err := sources.Assignments.FetchPage(context.Background(), exportsource.ExportQuery{Take: 10, ObjectIDs: []string{"pl-1"}})

	// assert
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, postgresengine.ObjectTypePricelistAssignment, items[0].ObjectType)

	var payload map[string]any
	require.NoError(t, jsoniter.Unmarshal(items[0].PayloadJSON, &payload))
	assert.Equal(t, "pl-1", payload["pricelist_id"])
	assert.Equal(t, "catalog-1", payload["catalog_id"])
	assert.EqualValues(t, 10, payload["priority"])
	assert.Contains(t, payload, "start_date")
	assert.NotContains(t, payload, "end_date")
	assert.NotContains(t, payload, "store_id")
}

func Test_FetchPage_Prices(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "prices"`)).
		WillReturnRows(sqlmock.NewRows(priceColumns).
			AddRow("pr-1", "pl-1", "product-1", 19.99, nil, int64(1), nil, nil).
			AddRow("pr-2", "pl-1", "product-1", 17.5, 15.0, int64(10), nil, nil))

	// act
	items, err := sources.Prices.FetchPage(context.Background(), exportsource.ExportQuery{Take: 2})

	// assert
	require.NoError(t, err)
	require.Len(t, items, 2)

	var first, second postgresengine.Price
	require.NoError(t, jsoniter.Unmarshal(items[0].PayloadJSON, &first))
	require.NoError(t, jsoniter.Unmarshal(items[1].PayloadJSON, &second))

	assert.InDelta(t, 19.99, first.List, 0.0001)
	assert.Nil(t, first.Sale)
	require.NotNil(t, second.Sale)
	assert.InDelta(t, 15.0, *second.Sale, 0.0001)
	assert.Equal(t, 10, second.MinQuantity)
}

func Test_FetchPage_RendersSortAndWindow(t *testing.T) {
	tests := []struct {
		name          string
		query         exportsource.ExportQuery
		expectedQuery string
	}{
		{
			name:          "empty_sort_orders_by_id",
			query:         exportsource.ExportQuery{Skip: 20, Take: 10},
			expectedQuery: `FROM "prices" ORDER BY "id" ASC LIMIT 10 OFFSET 20`,
		},
		{
			name:          "id_tiebreaker_is_appended",
			query:         exportsource.ExportQuery{Skip: 5, Take: 5, Sort: "List:DESC;product_id"},
			expectedQuery: `FROM "prices" ORDER BY "list" DESC, "product_id" ASC, "id" ASC LIMIT 5 OFFSET 5`,
		},
		{
			name:          "explicit_id_is_not_repeated",
			query:         exportsource.ExportQuery{Skip: 1, Take: 3, Sort: "id:desc"},
			expectedQuery: `FROM "prices" ORDER BY "id" DESC LIMIT 3 OFFSET 1`,
		},
		{
			name:          "object_ids_come_before_order",
			query:         exportsource.ExportQuery{Skip: 2, Take: 2, ObjectIDs: []string{"pl-9"}},
			expectedQuery: `FROM "prices" WHERE ("pricelist_id" IN ('pl-9')) ORDER BY "id" ASC LIMIT 2 OFFSET 2`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// setup
			sources, mock := givenSourcesWithMock(t)
			mock.ExpectQuery(regexp.QuoteMeta(tt.expectedQuery)).WillReturnRows(sqlmock.NewRows(priceColumns))

			// act
			items, err := sources.Prices.FetchPage(context.Background(), tt.query)

			// assert
			require.NoError(t, err)
			assert.Empty(t, items)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func Test_FetchPage_When_TakeIsZero(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)

	// act
	items, err := sources.Prices.FetchPage(context.Background(), exportsource.ExportQuery{Skip: 10})

	// assert
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet(), "the database must not be queried")
}

func Test_Query_When_SortColumnIsNotAllowed(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	query := exportsource.ExportQuery{Take: 10, Sort: "currency"}

	// act
	_, fetchErr := sources.Prices.FetchPage(context.Background(), query)
	_, countErr := sources.Prices.TotalCount(context.Background(), query)

	// assert
	assert.ErrorIs(t, fetchErr, exportsource.ErrInvalidSortExpression)
	assert.ErrorIs(t, countErr, exportsource.ErrInvalidSortExpression)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Query_When_DatabaseFails(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(dbErr)
	mock.ExpectQuery(`SELECT "id"`).WillReturnError(dbErr)

	// act
	_, countErr := sources.Pricelists.TotalCount(context.Background(), exportsource.ExportQuery{})
	_, fetchErr := sources.Pricelists.FetchPage(context.Background(), exportsource.ExportQuery{Take: 1})

	// assert
	assert.ErrorIs(t, countErr, exportsource.ErrQueryingFailed)
	assert.ErrorIs(t, countErr, dbErr)
	assert.ErrorIs(t, fetchErr, exportsource.ErrQueryingFailed)
	assert.ErrorIs(t, fetchErr, dbErr)
}

func Test_FetchPage_When_RowCanNotBeScanned(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	mock.ExpectQuery(`FROM "pricelist_assignments"`).
		WillReturnRows(sqlmock.NewRows(assignmentColumns).
			AddRow("as-1", "pl-1", "catalog-1", "", "Default", "not a number", nil, nil))

	// act
	items, err := sources.Assignments.FetchPage(context.Background(), exportsource.ExportQuery{Take: 1})

	// assert
	assert.ErrorIs(t, err, exportsource.ErrScanningDBRowFailed)
	assert.Nil(t, items)
}

func Test_FetchPage_When_RowIterationFails(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	iterationErr := errors.New("network hiccup")
	mock.ExpectQuery(`FROM "prices"`).
		WillReturnRows(sqlmock.NewRows(priceColumns).
			AddRow("pr-1", "pl-1", "product-1", 1.0, nil, int64(1), nil, nil).
			RowError(0, iterationErr))

	// act
	_, err := sources.Prices.FetchPage(context.Background(), exportsource.ExportQuery{Take: 1})

	// assert
	assert.ErrorIs(t, err, exportsource.ErrQueryingFailed)
	assert.ErrorIs(t, err, iterationErr)
}

func Test_WithTableNames(t *testing.T) {
	// setup
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sources, err := postgresengine.NewPricingSourcesFromSQLDB(db, postgresengine.WithTableNames(postgresengine.TableNames{
		Pricelists:  "pl",
		Assignments: "pl_assignments",
		Prices:      "pl_prices",
	}))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "pl_prices"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	// act
	count, err := sources.Prices.TotalCount(context.Background(), exportsource.ExportQuery{})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "prices", sources.Prices.Name(), "source names do not depend on table names")
}

func Test_NewPricingSourcesFromSQLX(t *testing.T) {
	// setup
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sources, err := postgresengine.NewPricingSourcesFromSQLX(sqlx.NewDb(db, "postgres"))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "pricelists"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "pricelists"`)).
		WillReturnRows(sqlmock.NewRows(pricelistColumns).AddRow("pl-1", "Retail", "", "EUR", time.Now(), time.Now()))

	// act
	count, countErr := sources.Pricelists.TotalCount(context.Background(), exportsource.ExportQuery{})
	items, err := sources.Pricelists.FetchPage(context.Background(), exportsource.ExportQuery{Take: 1})

	// assert
	require.NoError(t, countErr)
	assert.Equal(t, 1, count)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pl-1", items[0].ObjectID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_CompositeOverPricingSources(t *testing.T) {
	// setup
	ctx := context.Background()
	sources, mock := givenSourcesWithMock(t)
	mock.MatchExpectationsInOrder(false)
	now := time.Now()

	query, err := exportsource.BuildExportQuery().WithObjectIDs("pl-1").Finalize()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "pricelists"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "pricelist_assignments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "prices"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "pricelists" WHERE ("id" IN ('pl-1')) ORDER BY "id" ASC LIMIT 2`)).
		WillReturnRows(sqlmock.NewRows(pricelistColumns).AddRow("pl-1", "Retail", "", "EUR", now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "pricelist_assignments" WHERE ("pricelist_id" IN ('pl-1')) ORDER BY "id" ASC LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows(assignmentColumns).AddRow("as-1", "pl-1", "catalog-1", "", "Default", int64(0), nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "prices" WHERE ("pricelist_id" IN ('pl-1')) ORDER BY "id" ASC LIMIT 2`)).
		WillReturnRows(sqlmock.NewRows(priceColumns).
			AddRow("pr-1", "pl-1", "product-1", 1.0, nil, int64(1), nil, nil).
			AddRow("pr-2", "pl-1", "product-2", 2.0, nil, int64(1), nil, nil))

	c, err := composite.NewComposite(sources.All(), composite.WithPageSize(2))
	require.NoError(t, err)

	// act
	pageTypes := make([][]string, 0)
	exported, err := c.Walk(ctx, query, func(_ context.Context, _ int, items exportsource.Exportables) error {
		types := make([]string, 0, len(items))
		for _, item := range items {
			types = append(types, item.ObjectType)
		}
		pageTypes = append(pageTypes, types)

		return nil
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 4, exported)
	assert.Equal(t, [][]string{
		{postgresengine.ObjectTypePricelist, postgresengine.ObjectTypePricelistAssignment},
		{postgresengine.ObjectTypePrice, postgresengine.ObjectTypePrice},
	}, pageTypes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_EnsureSchema(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	statements := sources.CreateSchemaSQL()
	require.Len(t, statements, 5)

	for range statements {
		mock.ExpectExec(`CREATE (TABLE|INDEX) IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	// act
	err := sources.EnsureSchema(context.Background())

	// assert
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, statements[0], `CREATE TABLE IF NOT EXISTS "pricelists"`)
	assert.Contains(t, statements[1], `REFERENCES "pricelists" (id)`)
	assert.Contains(t, statements[3], `CREATE TABLE IF NOT EXISTS "prices"`)
}

func Test_EnsureSchema_When_ExecFails(t *testing.T) {
	// setup
	sources, mock := givenSourcesWithMock(t)
	execErr := errors.New("permission denied")
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "pricelists"`).WillReturnError(execErr)

	// act
	err := sources.EnsureSchema(context.Background())

	// assert
	assert.ErrorIs(t, err, exportsource.ErrCreatingSchemaFailed)
	assert.ErrorIs(t, err, execErr)
}

func givenSourcesWithMock(t *testing.T, options ...postgresengine.Option) (postgresengine.Sources, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sources, err := postgresengine.NewPricingSourcesFromSQLDB(db, options...)
	require.NoError(t, err)

	return sources, mock
}
