package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
	"github.com/AntonStoeckl/composite-export-go/testutil/postgresengine/config"
)

// FixturesDir - the directory the generate command puts the CSV files into - don't change.
const FixturesDir = "testutil/postgresengine/fixtures"

type importTable struct {
	table   string
	file    string
	columns string
}

func main() {
	if err := ImportCSVData(); err != nil {
		log.Fatalf("Error importing CSV data: %v", err)
	}
}

func ImportCSVData() error {
	startTime := time.Now()
	ctx := context.Background()

	fmt.Println("🚀 Starting CSV data import")
	fmt.Printf("📄 Source: %s\n", FixturesDir)
	fmt.Println("🎯 Target: PostgreSQL test database")
	fmt.Println()

	fmt.Printf("🔗\tConnecting to database...")
	connPool, err := config.PostgresPGXPool(ctx, config.PostgresPrimaryDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer connPool.Close()
	fmt.Println(" ✅")

	fmt.Printf("🏗️\tEnsuring schema...")
	sources, err := postgresengine.NewPricingSourcesFromPGXPool(connPool)
	if err != nil {
		return fmt.Errorf("failed to create the pricing sources: %w", err)
	}
	if err := sources.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Println(" ✅")

	names := sources.TableNames()
	tables := []importTable{
		{names.Pricelists, "pricelists.csv", "id, name, description, currency, created_at, modified_at"},
		{names.Assignments, "pricelist_assignments.csv", "id, pricelist_id, catalog_id, store_id, name, priority, start_date, end_date"},
		{names.Prices, "prices.csv", "id, pricelist_id, product_id, list, sale, min_quantity, start_date, end_date"},
	}

	conn, err := connPool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire a connection: %w", err)
	}
	defer conn.Release()

	fmt.Printf("🔄\tStarting transaction...")
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // Will be ignored if already committed
	}()
	fmt.Println(" ✅")

	fmt.Printf("🔒\tLocking pricing tables...")
	_, err = tx.Exec(ctx, fmt.Sprintf("LOCK TABLE %s, %s, %s IN ACCESS EXCLUSIVE MODE",
		names.Pricelists, names.Assignments, names.Prices))
	if err != nil {
		return fmt.Errorf("failed to lock tables: %w", err)
	}
	fmt.Println(" ✅")

	fmt.Printf("⚙️\tOptimizing performance settings...")
	_, err = tx.Exec(ctx, `
		SET LOCAL work_mem = '256MB';
		SET LOCAL maintenance_work_mem = '512MB';
		SET LOCAL synchronous_commit = off;
	`)
	if err != nil {
		return fmt.Errorf("failed to set performance settings: %w", err)
	}
	fmt.Println(" ✅")

	fmt.Printf("🧹\tClearing existing data...")
	_, err = tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s, %s, %s", names.Prices, names.Assignments, names.Pricelists))
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	fmt.Println(" ✅")

	for _, table := range tables {
		if err := copyCSV(ctx, tx, table); err != nil {
			return err
		}
	}

	fmt.Printf("📊\tUpdating table statistics...")
	analyzeStart := time.Now()
	for _, table := range tables {
		if _, err := tx.Exec(ctx, "ANALYZE "+table.table); err != nil {
			return fmt.Errorf("failed to analyze table %s: %w", table.table, err)
		}
	}
	fmt.Printf(" ✅ %v\n", time.Since(analyzeStart).Round(time.Millisecond))

	fmt.Printf("💾\tCommitting transaction...")
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	fmt.Println(" ✅")

	fmt.Println()
	fmt.Printf("Import completed! 🎉\n")
	for _, table := range tables {
		var count int
		if err := connPool.QueryRow(ctx, "SELECT count(*) FROM "+table.table).Scan(&count); err != nil {
			return fmt.Errorf("failed to verify import: %w", err)
		}
		fmt.Printf("%s: %s rows 📊\n", table.table, formatNumber(count))
	}
	fmt.Printf("Total time: %v ⏱️\n", time.Since(startTime).Round(time.Millisecond))

	return nil
}

// copyCSV streams one fixture file into its table with COPY FROM STDIN on the transaction's connection.
func copyCSV(ctx context.Context, tx pgx.Tx, table importTable) error {
	fmt.Printf("📥\tImporting %s...", table.file)
	start := time.Now()

	f, err := os.Open(filepath.Join(FixturesDir, table.file))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", table.file, err)
	}
	defer func() {
		_ = f.Close() // read only
	}()

	tag, err := tx.Conn().PgConn().CopyFrom(ctx, f,
		fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv)", table.table, table.columns))
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", table.file, err)
	}

	fmt.Printf(" ✅ %s rows in %v\n", formatNumber(int(tag.RowsAffected())), time.Since(start).Round(time.Millisecond))

	return nil
}

func formatNumber(n int) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000.0)
	} else if n >= 100000 {
		return fmt.Sprintf("%.0fK", float64(n)/1000)
	} else if n >= 10000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return strconv.Itoa(n)
}
