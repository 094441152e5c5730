package main

import (
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	tenThousand     = 10000
	hundredThousand = tenThousand * 10
	million         = hundredThousand * 10

	// NumPricelists - Number of pricelists to be created - adapt these as needed
	NumPricelists = 10 * tenThousand

	// NumAssignmentsPerPricelist - Number of assignments per pricelist - adapt these as needed
	NumAssignmentsPerPricelist = 3

	// NumPricesPerPricelist - Number of prices per pricelist - adapt these as needed
	//
	// WARNING
	//
	// 100K pricelists with 50 prices each create a prices CSV file of about 700MB, which is mounted into a Docker volume.
	NumPricesPerPricelist = 50

	// OutputDir - the directory to put the fixture data into - don't change.
	OutputDir = "testutil/postgresengine/fixtures"

	// OutputPricelistsFile - the CSV file to put the pricelists into - don't change.
	OutputPricelistsFile = "pricelists.csv"

	// OutputAssignmentsFile - the CSV file to put the pricelist assignments into - don't change.
	OutputAssignmentsFile = "pricelist_assignments.csv"

	// OutputPricesFile - the CSV file to put the prices into - don't change.
	OutputPricesFile = "prices.csv"
)

var currencies = []string{"EUR", "USD", "GBP", "CHF"}

type Writers struct {
	files       []*os.File
	pricelists  *csv.Writer
	assignments *csv.Writer
	prices      *csv.Writer
	rowCount    int
}

func main() {
	if err := GenerateFixtureDataCSV(); err != nil {
		panic(fmt.Sprintf("Error generating fixture data: %v\n", err))
	}
}

func GenerateFixtureDataCSV() error {
	startTime := time.Now()
	numAssignments := NumPricelists * NumAssignmentsPerPricelist
	numPrices := NumPricelists * NumPricesPerPricelist
	totalRows := NumPricelists + numAssignments + numPrices

	fmt.Println("🚀 Starting fixture data generation")
	fmt.Printf("📊 Total rows to generate: %s (%s pricelists, %s assignments, %s prices)\n",
		formatNumber(totalRows), formatNumber(NumPricelists), formatNumber(numAssignments), formatNumber(numPrices))

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	outputDir := filepath.Join(projectRoot, OutputDir)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	writers, err := setupWriters(outputDir)
	if err != nil {
		return err
	}
	defer closeWriters(writers)

	fakeClock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	progressStep := max(NumPricelists/20, 1) // 5% increments

	fmt.Printf("🔄 Generating %s pricelists with their assignments and prices...\n", formatNumber(NumPricelists))

	for i := 0; i < NumPricelists; i++ {
		fakeClock = fakeClock.Add(time.Second)

		pricelistID, err := writePricelist(writers, i, fakeClock)
		if err != nil {
			return err
		}

		for j := 0; j < NumAssignmentsPerPricelist; j++ {
			if err := writeAssignment(writers, pricelistID, j, fakeClock); err != nil {
				return err
			}
		}

		for j := 0; j < NumPricesPerPricelist; j++ {
			if err := writePrice(writers, pricelistID, fakeClock); err != nil {
				return err
			}
		}

		if (i+1)%progressStep == 0 {
			reportProgress("Pricelists", i+1, NumPricelists)
		}
	}

	elapsed := time.Since(startTime)

	fmt.Printf("\n\nFixture generation completed! 🎉\n")
	fmt.Printf("Total rows generated: %s 📊\n", formatNumber(writers.rowCount))
	fmt.Printf("Total time: %v ⏱️\n", elapsed.Round(time.Millisecond))
	fmt.Printf("CSV files: %s\n", outputDir)

	return nil
}

func setupWriters(outputDir string) (*Writers, error) {
	writers := &Writers{}

	for _, target := range []struct {
		file   string
		writer **csv.Writer
	}{
		{OutputPricelistsFile, &writers.pricelists},
		{OutputAssignmentsFile, &writers.assignments},
		{OutputPricesFile, &writers.prices},
	} {
		f, err := os.Create(filepath.Join(outputDir, target.file))
		if err != nil {
			closeWriters(writers)
			return nil, fmt.Errorf("failed to create CSV file %s: %w", target.file, err)
		}

		writers.files = append(writers.files, f)
		*target.writer = csv.NewWriter(f)
	}

	return writers, nil
}

func closeWriters(writers *Writers) {
	for _, w := range []*csv.Writer{writers.pricelists, writers.assignments, writers.prices} {
		if w != nil {
			w.Flush()
		}
	}

	for _, f := range writers.files {
		_ = f.Close() // makes no sense to handle this
	}
}

func writeRecord(writers *Writers, w *csv.Writer, record []string) error {
	if err := w.Write(record); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}

	writers.rowCount++

	return nil
}

func writePricelist(writers *Writers, n int, createdAt time.Time) (string, error) {
	id, _ := uuid.NewV7()
	timestamp := createdAt.Format(time.RFC3339Nano)

	return id.String(), writeRecord(writers, writers.pricelists, []string{
		id.String(),
		"Pricelist " + strconv.Itoa(n+1),
		"generated fixture pricelist",
		currencies[rand.IntN(len(currencies))],
		timestamp,
		timestamp,
	})
}

func writeAssignment(writers *Writers, pricelistID string, n int, validFrom time.Time) error {
	id, _ := uuid.NewV7()
	endDate := ""
	if rand.IntN(2) == 0 {
		endDate = validFrom.AddDate(0, 6, 0).Format(time.RFC3339Nano)
	}

	return writeRecord(writers, writers.assignments, []string{
		id.String(),
		pricelistID,
		"catalog-" + strconv.Itoa(rand.IntN(20)+1),
		"store-" + strconv.Itoa(rand.IntN(200)+1),
		"Assignment " + strconv.Itoa(n+1),
		strconv.Itoa(rand.IntN(10)),
		validFrom.Format(time.RFC3339Nano),
		endDate,
	})
}

func writePrice(writers *Writers, pricelistID string, validFrom time.Time) error {
	id, _ := uuid.NewV7()
	list := float64(rand.IntN(100000)) / 100
	sale := ""
	if rand.IntN(4) == 0 {
		sale = strconv.FormatFloat(list*0.9, 'f', 2, 64)
	}

	return writeRecord(writers, writers.prices, []string{
		id.String(),
		pricelistID,
		"product-" + strconv.Itoa(rand.IntN(million)+1),
		strconv.FormatFloat(list, 'f', 2, 64),
		sale,
		strconv.Itoa(rand.IntN(5) + 1),
		validFrom.Format(time.RFC3339Nano),
		"",
	})
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find project root (no go.mod found)")
}

func formatNumber(n int) string {
	if n >= million {
		return fmt.Sprintf("%.1fM", float64(n)/float64(million))
	} else if n >= hundredThousand {
		return fmt.Sprintf("%.0fK", float64(n)/1000)
	} else if n >= tenThousand {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return strconv.Itoa(n)
}

func reportProgress(
	phase string,
	current int,
	total int,
) {

	percentage := float64(current) / float64(total) * 100
	var spinChar string
	if percentage >= 100 {
		spinChar = "●" // Filled circle when complete
	} else {
		spinner := []string{"◐", "◓", "◑", "◒"}
		spinChar = spinner[int(percentage/5)%len(spinner)]
	}
	fmt.Printf("\r  %s %s: %s/%s (%.0f%%)    ", spinChar, phase, formatNumber(current), formatNumber(total), percentage)
}
