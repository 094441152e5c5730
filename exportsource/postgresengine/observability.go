package postgresengine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	logMsgBuildCountQueryFailed  = "failed to build count query"
	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgBuildExportableFailed  = "failed to build exportable from database row"
	logMsgCountCompleted         = "count completed"
	logMsgPageFetched            = "page fetched"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "export source operation: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrSource                = "source"
	logAttrObjectID              = "object_id"
	logAttrRowCount              = "row_count"
	logAttrSkip                  = "skip"
	logAttrTake                  = "take"
	logAttrDurationMS            = "duration_ms"

	operationCount = "count"
	operationFetch = "fetch"

	metricQueryDuration = "postgres_source_query_duration_seconds"
	metricRowsRead      = "postgres_source_rows_read"
	metricErrors        = "postgres_source_errors_total"

	spanNameCount        = "postgres_source.count"
	spanNameFetch        = "postgres_source.fetch"
	spanAttrOperation    = "operation"
	spanAttrSource       = "source"
	spanAttrTable        = "table"
	spanAttrSkip         = "skip"
	spanAttrTake         = "take"
	spanAttrObjectIDs    = "object_ids"
	spanAttrSort         = "sort"
	spanAttrRowCount     = "row_count"
	spanAttrDurationMS   = "duration_ms"
	spanAttrErrorType    = "error_type"
	spanAttrConsistency  = "consistency"
	labelStatus          = "status"
	statusSuccess        = "success"
	statusError          = "error"
	objectIDsSpanLimit   = 10
	objectIDsSpanOverrun = "..."

	errorTypeBuildQuery      = "build_query"
	errorTypeDatabaseQuery   = "database_query"
	errorTypeRowScan         = "row_scan"
	errorTypeBuildExportable = "build_exportable"
)

// logQueryWithDurationContext logs SQL queries with execution time at debug level to every configured logger.
func (ts *tableSource) logQueryWithDurationContext(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {

	args := []any{logAttrSource, ts.spec.sourceName, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery}

	if ts.logger != nil {
		ts.logger.Debug(logMsgSQLExecuted+action, args...)
	}

	if ts.contextualLogger != nil {
		ts.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
	}
}

// logOperationContext logs operational information at info level to every configured logger.
func (ts *tableSource) logOperationContext(ctx context.Context, action string, args ...any) {
	if ts.logger != nil {
		ts.logger.Info(logMsgOperation+action, args...)
	}

	if ts.contextualLogger != nil {
		ts.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarnContext logs non-critical issues at warn level to every configured logger.
func (ts *tableSource) logWarnContext(ctx context.Context, message string, args ...any) {
	if ts.logger != nil {
		ts.logger.Warn(message, args...)
	}

	if ts.contextualLogger != nil {
		ts.contextualLogger.WarnContext(ctx, message, args...)
	}
}

// logErrorContext logs error information at the error level to every configured logger.
func (ts *tableSource) logErrorContext(
	ctx context.Context,
	message string,
	err error,
	args ...any,
) {

	allArgs := []any{logAttrError, err.Error(), logAttrSource, ts.spec.sourceName}
	allArgs = append(allArgs, args...)

	if ts.logger != nil {
		ts.logger.Error(message, allArgs...)
	}

	if ts.contextualLogger != nil {
		ts.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2f", toMilliseconds(d))
}

// === Metrics Observer Pattern ===

// metricsObserver encapsulates the metrics collection for one count or fetch.
type metricsObserver struct {
	ts        *tableSource
	ctx       context.Context
	operation string
}

func (ts *tableSource) startMetrics(ctx context.Context, operation string) *metricsObserver {
	return &metricsObserver{
		ts:        ts,
		ctx:       ctx,
		operation: operation,
	}
}

// recordSuccess records the query duration and the number of rows counted or read.
func (mo *metricsObserver) recordSuccess(rowCount int, duration time.Duration) {
	mo.recordDuration(duration, statusSuccess)

	if mo.operation == operationFetch {
		mo.recordValue(metricRowsRead, float64(rowCount))
	}
}

// recordError records the query duration, if there was a query, and increments the error counter.
func (mo *metricsObserver) recordError(errorType string, duration time.Duration) {
	if mo.ts.metricsCollector == nil {
		return
	}

	if duration > 0 {
		mo.recordDuration(duration, statusError)
	}

	labels := mo.labels(statusError)
	labels[spanAttrErrorType] = errorType

	if contextualCollector, ok := mo.ts.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(mo.ctx, metricErrors, labels)
	} else {
		mo.ts.metricsCollector.IncrementCounter(metricErrors, labels)
	}
}

func (mo *metricsObserver) recordDuration(duration time.Duration, status string) {
	if mo.ts.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := mo.ts.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(mo.ctx, metricQueryDuration, duration, mo.labels(status))
	} else {
		mo.ts.metricsCollector.RecordDuration(metricQueryDuration, duration, mo.labels(status))
	}
}

func (mo *metricsObserver) recordValue(metric string, value float64) {
	if mo.ts.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := mo.ts.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(mo.ctx, metric, value, mo.labels(statusSuccess))
	} else {
		mo.ts.metricsCollector.RecordValue(metric, value, mo.labels(statusSuccess))
	}
}

func (mo *metricsObserver) labels(status string) map[string]string {
	return map[string]string{
		spanAttrOperation: mo.operation,
		spanAttrSource:    mo.ts.spec.sourceName,
		labelStatus:       status,
	}
}

// === Tracing Observer Pattern ===

// tracingObserver encapsulates tracing span lifecycle management for one count or fetch.
type tracingObserver struct {
	ts   *tableSource
	span exportsource.SpanContext
}

func (ts *tableSource) startTracing(ctx context.Context, operation string, query exportsource.ExportQuery) (*tracingObserver, context.Context) {
	if ts.tracingCollector == nil {
		return &tracingObserver{ts: ts}, ctx
	}

	name := spanNameFetch
	if operation == operationCount {
		name = spanNameCount
	}

	attrs := map[string]string{
		spanAttrOperation:   operation,
		spanAttrSource:      ts.spec.sourceName,
		spanAttrTable:       ts.tableName,
		spanAttrConsistency: exportsource.GetConsistencyLevel(ctx).String(),
	}

	if operation == operationFetch {
		attrs[spanAttrSkip] = fmt.Sprintf("%d", query.Skip)
		attrs[spanAttrTake] = fmt.Sprintf("%d", query.Take)
	}

	if query.HasObjectIDs() {
		attrs[spanAttrObjectIDs] = spanObjectIDs(query.ObjectIDs)
	}

	if query.Sort != "" {
		attrs[spanAttrSort] = query.Sort
	}

	newCtx, span := ts.tracingCollector.StartSpan(ctx, name, attrs)

	return &tracingObserver{ts: ts, span: span}, newCtx
}

// spanObjectIDs joins the object ids for a span attribute, cut off after objectIDsSpanLimit ids.
func spanObjectIDs(ids []string) string {
	if len(ids) <= objectIDsSpanLimit {
		return strings.Join(ids, ",")
	}

	return strings.Join(ids[:objectIDsSpanLimit], ",") + objectIDsSpanOverrun
}

func (to *tracingObserver) finishSuccess(rowCount int, duration time.Duration) {
	to.finish(statusSuccess, map[string]string{
		spanAttrRowCount:   fmt.Sprintf("%d", rowCount),
		spanAttrDurationMS: formatDuration(duration),
	})
}

func (to *tracingObserver) finishError(errorType string, duration time.Duration) {
	attrs := map[string]string{spanAttrErrorType: errorType}
	if duration > 0 {
		attrs[spanAttrDurationMS] = formatDuration(duration)
	}

	to.finish(statusError, attrs)
}

func (to *tracingObserver) finish(status string, attrs map[string]string) {
	if to.span == nil || to.ts.tracingCollector == nil {
		return
	}

	to.span.SetStatus(status)
	to.ts.tracingCollector.FinishSpan(to.span, status, attrs)
}
