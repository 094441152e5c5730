package exportsource

import (
	"errors"
)

var ErrInvalidExportQuery = errors.New("export query is not valid")
var ErrInvalidSortExpression = errors.New("sort expression is not valid")
var ErrNoSourcesRegistered = errors.New("no export sources registered")
var ErrNilSource = errors.New("nil export source supplied")
var ErrInvalidPageSize = errors.New("page size must be greater than zero")
var ErrInvalidMaxConcurrency = errors.New("max concurrency must be greater than zero")
var ErrCountingFailed = errors.New("counting export items failed")
var ErrFetchingPageFailed = errors.New("fetching export page failed")
var ErrSourceFailed = errors.New("export source failed")
var ErrQueryNotSet = errors.New("no export query set")
var ErrCursorNotOpened = errors.New("cursor was not opened by this composite")
var ErrPageHandlerFailed = errors.New("export page handler failed")

var ErrNilDatabaseConnection = errors.New("database connection is nil")
var ErrEmptyTableName = errors.New("empty table name supplied")
var ErrBuildingQueryFailed = errors.New("building query failed")
var ErrQueryingFailed = errors.New("querying export source failed")
var ErrScanningDBRowFailed = errors.New("scanning db row failed")
var ErrClosingDBRowsFailed = errors.New("closing db rows failed")
var ErrMarshalingPayloadFailed = errors.New("marshaling export payload failed")
var ErrCreatingSchemaFailed = errors.New("creating schema failed")
var ErrDuplicateSourceName = errors.New("duplicate export source name")
var ErrInvalidTotalCount = errors.New("export source reported a negative total count")
var ErrInvalidCursorSnapshot = errors.New("cursor snapshot is not valid")
