package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine/internal/adapters"
)

const (
	defaultPricelistTableName  = "pricelists"
	defaultAssignmentTableName = "pricelist_assignments"
	defaultPriceTableName      = "prices"
	dialectPostgres            = "postgres"
)

type sqlQueryString = string

// Sources holds the three PostgreSQL export sources of the pricing export.
type Sources struct {
	Pricelists  *PricelistSource
	Assignments *PricelistAssignmentSource
	Prices      *PriceSource

	db               adapters.DBAdapter
	tableNames       TableNames
	logger           exportsource.Logger
	contextualLogger exportsource.ContextualLogger
	metricsCollector exportsource.MetricsCollector
	tracingCollector exportsource.TracingCollector
}

// PricelistSource exports the pricelists table. ObjectIDs restrict it by pricelist id.
type PricelistSource struct {
	*tableSource
}

// PricelistAssignmentSource exports the pricelist assignments table. ObjectIDs restrict it by pricelist id.
type PricelistAssignmentSource struct {
	*tableSource
}

// PriceSource exports the prices table. ObjectIDs restrict it by pricelist id.
type PriceSource struct {
	*tableSource
}

// tableSource is the exportsource.PagedSource implementation shared by all pricing sources.
type tableSource struct {
	spec             tableSpec
	db               adapters.DBAdapter
	tableName        string
	logger           exportsource.Logger
	contextualLogger exportsource.ContextualLogger
	metricsCollector exportsource.MetricsCollector
	tracingCollector exportsource.TracingCollector
}

// NewPricingSourcesFromPGXPool creates the pricing Sources using a pgx Pool with optional configuration.
func NewPricingSourcesFromPGXPool(db *pgxpool.Pool, options ...Option) (Sources, error) {
	if db == nil {
		return Sources{}, exportsource.ErrNilDatabaseConnection
	}

	return newSources(adapters.NewPGXAdapter(db), options...)
}

// NewPricingSourcesFromPGXPoolWithReplica creates the pricing Sources using a primary and a replica pgx Pool.
// Reads go to the replica only for contexts marked with exportsource.WithEventualConsistency.
func NewPricingSourcesFromPGXPoolWithReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (Sources, error) {
	if db == nil || replica == nil {
		return Sources{}, exportsource.ErrNilDatabaseConnection
	}

	return newSources(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewPricingSourcesFromSQLDB creates the pricing Sources using a sql.DB with optional configuration.
func NewPricingSourcesFromSQLDB(db *sql.DB, options ...Option) (Sources, error) {
	if db == nil {
		return Sources{}, exportsource.ErrNilDatabaseConnection
	}

	return newSources(adapters.NewSQLAdapter(db), options...)
}

// NewPricingSourcesFromSQLX creates the pricing Sources using a sqlx.DB with optional configuration.
func NewPricingSourcesFromSQLX(db *sqlx.DB, options ...Option) (Sources, error) {
	if db == nil {
		return Sources{}, exportsource.ErrNilDatabaseConnection
	}

	return newSources(adapters.NewSQLXAdapter(db), options...)
}

func newSources(db adapters.DBAdapter, options ...Option) (Sources, error) {
	s := Sources{
		db:         db,
		tableNames: DefaultTableNames(),
	}

	for _, option := range options {
		if err := option(&s); err != nil {
			return Sources{}, err
		}
	}

	s.Pricelists = &PricelistSource{s.newTableSource(pricelistSpec, s.tableNames.Pricelists)}
	s.Assignments = &PricelistAssignmentSource{s.newTableSource(pricelistAssignmentSpec, s.tableNames.Assignments)}
	s.Prices = &PriceSource{s.newTableSource(priceSpec, s.tableNames.Prices)}

	return s, nil
}

func (s Sources) newTableSource(spec tableSpec, tableName string) *tableSource {
	return &tableSource{
		spec:             spec,
		db:               s.db,
		tableName:        tableName,
		logger:           s.logger,
		contextualLogger: s.contextualLogger,
		metricsCollector: s.metricsCollector,
		tracingCollector: s.tracingCollector,
	}
}

// All returns the sources in export order: pricelists, assignments, prices.
func (s Sources) All() []exportsource.PagedSource {
	return []exportsource.PagedSource{s.Pricelists, s.Assignments, s.Prices}
}

// TableNames returns the configured table names.
func (s Sources) TableNames() TableNames {
	return s.tableNames
}

// Name returns the stable name of the source, independent of the configured table name.
func (ts *tableSource) Name() string {
	return ts.spec.sourceName
}

// TotalCount counts the rows matching the query's object ids. Skip, Take and Sort do not change the count,
// but an invalid sort expression is still rejected.
func (ts *tableSource) TotalCount(ctx context.Context, query exportsource.ExportQuery) (int, error) {
	tracer, ctx := ts.startTracing(ctx, operationCount, query)
	metrics := ts.startMetrics(ctx, operationCount)

	sqlQuery, buildQueryErr := ts.buildCountQuery(query)
	if buildQueryErr != nil {
		ts.logErrorContext(ctx, logMsgBuildCountQueryFailed, buildQueryErr)
		metrics.recordError(errorTypeBuildQuery, 0)
		tracer.finishError(errorTypeBuildQuery, 0)

		return 0, buildQueryErr
	}

	start := time.Now()
	count, queryErr := ts.db.QueryCount(ctx, sqlQuery)
	duration := time.Since(start)
	ts.logQueryWithDurationContext(ctx, sqlQuery, operationCount, duration)

	if queryErr != nil {
		ts.logErrorContext(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		metrics.recordError(errorTypeDatabaseQuery, duration)
		tracer.finishError(errorTypeDatabaseQuery, duration)

		return 0, errors.Join(exportsource.ErrQueryingFailed, queryErr)
	}

	ts.logOperationContext(ctx, logMsgCountCompleted,
		logAttrSource, ts.spec.sourceName,
		logAttrRowCount, count,
		logAttrDurationMS, toMilliseconds(duration))
	metrics.recordSuccess(count, duration)
	tracer.finishSuccess(count, duration)

	return count, nil
}

// FetchPage reads up to query.Take rows starting at query.Skip in the requested order.
// A count-only query returns an empty result without touching the database.
func (ts *tableSource) FetchPage(ctx context.Context, query exportsource.ExportQuery) (exportsource.Exportables, error) {
	if query.IsCountOnly() {
		return exportsource.Exportables{}, nil
	}

	tracer, ctx := ts.startTracing(ctx, operationFetch, query)
	metrics := ts.startMetrics(ctx, operationFetch)

	sqlQuery, buildQueryErr := ts.buildSelectQuery(query)
	if buildQueryErr != nil {
		ts.logErrorContext(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)
		metrics.recordError(errorTypeBuildQuery, 0)
		tracer.finishError(errorTypeBuildQuery, 0)

		return nil, buildQueryErr
	}

	rows, duration, queryErr := ts.executeQuery(ctx, sqlQuery, operationFetch)
	if queryErr != nil {
		metrics.recordError(errorTypeDatabaseQuery, duration)
		tracer.finishError(errorTypeDatabaseQuery, duration)

		return nil, queryErr
	}
	defer ts.closeRows(ctx, rows)

	items, errorType, processErr := ts.processQueryResults(ctx, rows)
	if processErr != nil {
		metrics.recordError(errorType, duration)
		tracer.finishError(errorType, duration)

		return nil, processErr
	}

	ts.logOperationContext(ctx, logMsgPageFetched,
		logAttrSource, ts.spec.sourceName,
		logAttrSkip, query.Skip,
		logAttrTake, query.Take,
		logAttrRowCount, len(items),
		logAttrDurationMS, toMilliseconds(duration))
	metrics.recordSuccess(len(items), duration)
	tracer.finishSuccess(len(items), duration)

	return items, nil
}

// executeQuery executes the page query and returns rows with timing information.
func (ts *tableSource) executeQuery(ctx context.Context, sqlQuery string, action string) (
	adapters.DBRows,
	time.Duration,
	error,
) {

	start := time.Now()
	rows, queryErr := ts.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	ts.logQueryWithDurationContext(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		ts.logErrorContext(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		return nil, duration, errors.Join(exportsource.ErrQueryingFailed, queryErr)
	}

	return rows, duration, nil
}

// closeRows safely closes database rows and logs any errors.
func (ts *tableSource) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		ts.logWarnContext(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// processQueryResults scans the rows into records and serializes them into exportables.
// On failure, it also returns the error type for metrics and tracing.
func (ts *tableSource) processQueryResults(ctx context.Context, rows adapters.DBRows) (
	exportsource.Exportables,
	string,
	error,
) {

	items := make(exportsource.Exportables, 0)

	for rows.Next() {
		objectID, record, scanErr := ts.spec.scanRow(rows)
		if scanErr != nil {
			ts.logErrorContext(ctx, logMsgScanRowFailed, scanErr)

			return nil, errorTypeRowScan, errors.Join(exportsource.ErrScanningDBRowFailed, scanErr)
		}

		item, buildErr := exportsource.BuildExportableFromValue(ts.spec.objectType, objectID, record)
		if buildErr != nil {
			ts.logErrorContext(ctx, logMsgBuildExportableFailed, buildErr, logAttrObjectID, objectID)

			return nil, errorTypeBuildExportable, buildErr
		}

		items = append(items, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		ts.logErrorContext(ctx, logMsgDBQueryFailed, rowsErr)

		return nil, errorTypeDatabaseQuery, errors.Join(exportsource.ErrQueryingFailed, rowsErr)
	}

	return items, "", nil
}

func (ts *tableSource) buildCountQuery(query exportsource.ExportQuery) (sqlQueryString, error) {
	if _, err := ts.orderExpressions(query); err != nil {
		return "", err
	}

	selectStmt := goqu.Dialect(dialectPostgres).
		From(ts.tableName).
		Select(goqu.COUNT(goqu.Star()))

	selectStmt = ts.addWhereClause(query, selectStmt)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(exportsource.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ts *tableSource) buildSelectQuery(query exportsource.ExportQuery) (sqlQueryString, error) {
	order, orderErr := ts.orderExpressions(query)
	if orderErr != nil {
		return "", orderErr
	}

	columns := make([]any, len(ts.spec.columns))
	for i, column := range ts.spec.columns {
		columns[i] = column
	}

	selectStmt := goqu.Dialect(dialectPostgres).
		From(ts.tableName).
		Select(columns...).
		Order(order...).
		Limit(uint(query.Take)).
		Offset(uint(query.Skip))

	selectStmt = ts.addWhereClause(query, selectStmt)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(exportsource.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ts *tableSource) addWhereClause(query exportsource.ExportQuery, selectStmt *goqu.SelectDataset) *goqu.SelectDataset {
	if !query.HasObjectIDs() {
		return selectStmt
	}

	return selectStmt.Where(goqu.C(ts.spec.filterColumn).In(query.ObjectIDs))
}

// orderExpressions maps the sort expression to whitelisted columns and appends "id ASC", so that paging is stable.
func (ts *tableSource) orderExpressions(query exportsource.ExportQuery) ([]exp.OrderedExpression, error) {
	fields, parseErr := query.SortFields()
	if parseErr != nil {
		return nil, parseErr
	}

	order := make([]exp.OrderedExpression, 0, len(fields)+1)
	hasID := false

	for _, field := range fields {
		if !slices.Contains(ts.spec.sortable, field.Name()) {
			return nil, errors.Join(
				exportsource.ErrInvalidSortExpression,
				fmt.Errorf("column %q is not sortable for %s", field.Name(), ts.spec.sourceName),
			)
		}

		if field.Name() == colID {
			if hasID {
				continue
			}
			hasID = true
		}

		if field.Descending() {
			order = append(order, goqu.I(field.Name()).Desc())
		} else {
			order = append(order, goqu.I(field.Name()).Asc())
		}
	}

	if !hasID {
		order = append(order, goqu.I(colID).Asc())
	}

	return order, nil
}
