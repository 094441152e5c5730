package postgresengine

import (
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine/internal/adapters"
)

const (
	ObjectTypePricelist           = "Pricelist"
	ObjectTypePricelistAssignment = "PricelistAssignment"
	ObjectTypePrice               = "Price"

	colID          = "id"
	colPricelistID = "pricelist_id"
	colName        = "name"
	colDescription = "description"
	colCurrency    = "currency"
	colCatalogID   = "catalog_id"
	colStoreID     = "store_id"
	colPriority    = "priority"
	colProductID   = "product_id"
	colList        = "list"
	colSale        = "sale"
	colMinQuantity = "min_quantity"
	colStartDate   = "start_date"
	colEndDate     = "end_date"
	colCreatedAt   = "created_at"
	colModifiedAt  = "modified_at"
)

// Pricelist is one row of the pricelists table as it is exported.
type Pricelist struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// PricelistAssignment assigns a pricelist to a catalog, optionally limited to a store and a time range.
type PricelistAssignment struct {
	ID          string     `json:"id"`
	PricelistID string     `json:"pricelist_id"`
	CatalogID   string     `json:"catalog_id"`
	StoreID     string     `json:"store_id,omitempty"`
	Name        string     `json:"name"`
	Priority    int        `json:"priority"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Price is the price of one product in one pricelist, valid from MinQuantity on.
type Price struct {
	ID          string     `json:"id"`
	PricelistID string     `json:"pricelist_id"`
	ProductID   string     `json:"product_id"`
	List        float64    `json:"list"`
	Sale        *float64   `json:"sale,omitempty"`
	MinQuantity int        `json:"min_quantity"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// tableSpec describes how one export source reads its table.
type tableSpec struct {
	sourceName   string
	objectType   string
	filterColumn string
	columns      []string
	sortable     []string
	scanRow      func(rows adapters.DBRows) (objectID string, record any, err error)
}

var pricelistSpec = tableSpec{
	sourceName:   "pricelists",
	objectType:   ObjectTypePricelist,
	filterColumn: colID,
	columns:      []string{colID, colName, colDescription, colCurrency, colCreatedAt, colModifiedAt},
	sortable:     []string{colID, colName, colCurrency, colCreatedAt, colModifiedAt},
	scanRow: func(rows adapters.DBRows) (string, any, error) {
		var r Pricelist
		err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Currency, &r.CreatedAt, &r.ModifiedAt)

		return r.ID, r, err
	},
}

var pricelistAssignmentSpec = tableSpec{
	sourceName:   "pricelist_assignments",
	objectType:   ObjectTypePricelistAssignment,
	filterColumn: colPricelistID,
	columns:      []string{colID, colPricelistID, colCatalogID, colStoreID, colName, colPriority, colStartDate, colEndDate},
	sortable:     []string{colID, colPricelistID, colCatalogID, colName, colPriority, colStartDate, colEndDate},
	scanRow: func(rows adapters.DBRows) (string, any, error) {
		var r PricelistAssignment
		err := rows.Scan(&r.ID, &r.PricelistID, &r.CatalogID, &r.StoreID, &r.Name, &r.Priority, &r.StartDate, &r.EndDate)

		return r.ID, r, err
	},
}

var priceSpec = tableSpec{
	sourceName:   "prices",
	objectType:   ObjectTypePrice,
	filterColumn: colPricelistID,
	columns:      []string{colID, colPricelistID, colProductID, colList, colSale, colMinQuantity, colStartDate, colEndDate},
	sortable:     []string{colID, colPricelistID, colProductID, colList, colSale, colMinQuantity, colStartDate, colEndDate},
	scanRow: func(rows adapters.DBRows) (string, any, error) {
		var r Price
		err := rows.Scan(&r.ID, &r.PricelistID, &r.ProductID, &r.List, &r.Sale, &r.MinQuantity, &r.StartDate, &r.EndDate)

		return r.ID, r, err
	},
}
