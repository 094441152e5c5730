package pgtesthelpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // postgres dialect
	"github.com/stretchr/testify/require"
)

const insertBatchSize = 500

// GivenPricelists inserts count pricelists with the ids "pl-0001", "pl-0002", ... and returns the ids.
func GivenPricelists(t testing.TB, wrapper Wrapper, count int) []string {
	t.Helper()

	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, count)
	rows := make([]any, 0, count)

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("pl-%04d", i)
		ids = append(ids, id)
		rows = append(rows, goqu.Record{
			"id":          id,
			"name":        fmt.Sprintf("Pricelist %d", i),
			"description": "",
			"currency":    "EUR",
			"created_at":  createdAt,
			"modified_at": createdAt,
		})
	}

	insertRows(t, wrapper, wrapper.Sources().TableNames().Pricelists, rows)

	return ids
}

// GivenAssignments inserts count assignments, spread round-robin over the given pricelists,
// with the ids "pla-0001", "pla-0002", ... and returns the ids.
func GivenAssignments(t testing.TB, wrapper Wrapper, pricelistIDs []string, count int) []string {
	t.Helper()
	require.NotEmpty(t, pricelistIDs, "assignments need at least one pricelist")

	ids := make([]string, 0, count)
	rows := make([]any, 0, count)

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("pla-%04d", i)
		ids = append(ids, id)
		rows = append(rows, goqu.Record{
			"id":           id,
			"pricelist_id": pricelistIDs[(i-1)%len(pricelistIDs)],
			"catalog_id":   "catalog-1",
			"store_id":     "",
			"name":         fmt.Sprintf("Assignment %d", i),
			"priority":     i % 10,
		})
	}

	insertRows(t, wrapper, wrapper.Sources().TableNames().Assignments, rows)

	return ids
}

// GivenPrices inserts count prices, spread round-robin over the given pricelists,
// with the ids "pr-0001", "pr-0002", ... and returns the ids.
func GivenPrices(t testing.TB, wrapper Wrapper, pricelistIDs []string, count int) []string {
	t.Helper()
	require.NotEmpty(t, pricelistIDs, "prices need at least one pricelist")

	ids := make([]string, 0, count)
	rows := make([]any, 0, count)

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("pr-%04d", i)
		ids = append(ids, id)
		rows = append(rows, goqu.Record{
			"id":           id,
			"pricelist_id": pricelistIDs[(i-1)%len(pricelistIDs)],
			"product_id":   fmt.Sprintf("product-%d", i),
			"list":         float64(i) + 0.99,
			"min_quantity": 1,
		})
	}

	insertRows(t, wrapper, wrapper.Sources().TableNames().Prices, rows)

	return ids
}

func insertRows(t testing.TB, wrapper Wrapper, table string, rows []any) {
	t.Helper()

	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))

		sqlQuery, _, err := goqu.Dialect("postgres").Insert(table).Rows(rows[start:end]...).ToSQL()
		require.NoError(t, err, "error building the fixture insert for %s", table)

		require.NoError(t, wrapper.Exec(context.Background(), sqlQuery), "error inserting fixtures into %s", table)
	}
}
