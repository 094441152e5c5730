package composite

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	logMsgOperation      = "composite export: "
	logMsgInvalidQuery   = "invalid export query"
	logMsgCountFailed    = "counting sources failed"
	logMsgFetchFailed    = "fetching page failed"
	logMsgCountCompleted = "count completed"
	logMsgPageFetched    = "page fetched"
	logMsgSourcePlanned  = "source planned for page"
	logMsgCountDrift     = "source delivered more items than it declared"
	logMsgNoProgress     = "sources delivered an empty page before they were exhausted"
	logAttrError         = "error"
	logAttrSource        = "source"
	logAttrSourceCount   = "source_count"
	logAttrSessionID     = "session_id"
	logAttrPageNumber    = "page_number"
	logAttrSkip          = "skip"
	logAttrTake          = "take"
	logAttrItemCount     = "item_count"
	logAttrTotalCount    = "total_count"
	logAttrReceivedCount = "received_count"
	logAttrDurationMS    = "duration_ms"

	metricCountDuration     = "composite_count_duration_seconds"
	metricFetchPageDuration = "composite_fetch_page_duration_seconds"
	metricTotalCount        = "composite_total_count"
	metricItemsFetched      = "composite_items_fetched"
	metricErrors            = "composite_errors_total"

	spanNameCount       = "composite.count"
	spanNameFetchPage   = "composite.fetch_page"
	spanAttrOperation   = "operation"
	spanAttrSource      = "source"
	spanAttrSessionID   = "session_id"
	spanAttrPageNumber  = "page_number"
	spanAttrTotalCount  = "total_count"
	spanAttrItemCount   = "item_count"
	spanAttrDurationMS  = "duration_ms"
	spanAttrSourceCount = "source_count"

	statusSuccess = "success"
	statusError   = "error"
)

type sessionIDKey struct{}

// withSessionID stores the session id in the context, so that logs and spans of the composite carry it.
func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func sessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

func withSessionArgs(ctx context.Context, args []any) []any {
	if id, ok := sessionIDFrom(ctx); ok {
		return append(args, logAttrSessionID, id)
	}

	return args
}

// logOperationContext logs operational information at info level to every configured logger.
func (c *Composite) logOperationContext(ctx context.Context, action string, args ...any) {
	args = withSessionArgs(ctx, args)

	if c.logger != nil {
		c.logger.Info(logMsgOperation+action, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logDebugContext logs allocation details at debug level to every configured logger.
func (c *Composite) logDebugContext(ctx context.Context, action string, args ...any) {
	args = withSessionArgs(ctx, args)

	if c.logger != nil {
		c.logger.Debug(logMsgOperation+action, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.DebugContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarnContext logs non-critical issues at warn level to every configured logger.
func (c *Composite) logWarnContext(ctx context.Context, action string, args ...any) {
	args = withSessionArgs(ctx, args)

	if c.logger != nil {
		c.logger.Warn(logMsgOperation+action, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.WarnContext(ctx, logMsgOperation+action, args...)
	}
}

// logErrorContext logs error information at error level to every configured logger.
func (c *Composite) logErrorContext(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = withSessionArgs(ctx, append(allArgs, args...))

	if c.logger != nil {
		c.logger.Error(logMsgOperation+message, allArgs...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.ErrorContext(ctx, logMsgOperation+message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// === Metrics Observer ===

type metricsObserver struct {
	c         *Composite
	ctx       context.Context
	operation string
}

func (c *Composite) startMetrics(ctx context.Context, operation string) *metricsObserver {
	return &metricsObserver{c: c, ctx: ctx, operation: operation}
}

func (mo *metricsObserver) durationMetric() string {
	if mo.operation == operationCount {
		return metricCountDuration
	}

	return metricFetchPageDuration
}

func (mo *metricsObserver) recordCountSuccess(cursor Cursor, duration time.Duration) {
	mo.recordDuration(mo.durationMetric(), duration, map[string]string{spanAttrOperation: mo.operation, "status": statusSuccess})
	mo.recordValue(metricTotalCount, float64(cursor.totalCount), map[string]string{spanAttrOperation: mo.operation})
}

func (mo *metricsObserver) recordFetchSuccess(cursor Cursor, results []exportsource.Exportables, duration time.Duration) {
	mo.recordDuration(mo.durationMetric(), duration, map[string]string{spanAttrOperation: mo.operation, "status": statusSuccess})

	for i, items := range results {
		mo.recordValue(metricItemsFetched, float64(len(items)), map[string]string{
			spanAttrOperation: mo.operation,
			spanAttrSource:    cursor.states[i].Name,
		})
	}
}

func (mo *metricsObserver) recordError(duration time.Duration) {
	labels := map[string]string{spanAttrOperation: mo.operation, "status": statusError}
	mo.recordDuration(mo.durationMetric(), duration, labels)

	if mo.c.metricsCollector == nil {
		return
	}

	if contextual, ok := mo.c.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(mo.ctx, metricErrors, labels)
	} else {
		mo.c.metricsCollector.IncrementCounter(metricErrors, labels)
	}
}

func (mo *metricsObserver) recordDuration(metric string, duration time.Duration, labels map[string]string) {
	if mo.c.metricsCollector == nil {
		return
	}

	if contextual, ok := mo.c.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(mo.ctx, metric, duration, labels)
	} else {
		mo.c.metricsCollector.RecordDuration(metric, duration, labels)
	}
}

func (mo *metricsObserver) recordValue(metric string, value float64, labels map[string]string) {
	if mo.c.metricsCollector == nil {
		return
	}

	if contextual, ok := mo.c.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(mo.ctx, metric, value, labels)
	} else {
		mo.c.metricsCollector.RecordValue(metric, value, labels)
	}
}

// === Tracing Observer ===

type tracingObserver struct {
	c    *Composite
	span exportsource.SpanContext
}

func (c *Composite) startTracing(ctx context.Context, operation string, cursor Cursor) (*tracingObserver, context.Context) {
	if c.tracingCollector == nil {
		return &tracingObserver{c: c}, ctx
	}

	name := spanNameFetchPage
	if operation == operationCount {
		name = spanNameCount
	}

	attrs := map[string]string{
		spanAttrOperation:   operation,
		spanAttrPageNumber:  fmt.Sprintf("%d", cursor.pageNumber),
		spanAttrSourceCount: fmt.Sprintf("%d", len(cursor.states)),
	}

	if id, ok := sessionIDFrom(ctx); ok {
		attrs[spanAttrSessionID] = id
	}

	newCtx, span := c.tracingCollector.StartSpan(ctx, name, attrs)

	return &tracingObserver{c: c, span: span}, newCtx
}

func (to *tracingObserver) finishCountSuccess(cursor Cursor, duration time.Duration) {
	to.finish(statusSuccess, map[string]string{
		spanAttrTotalCount: fmt.Sprintf("%d", cursor.totalCount),
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	})
}

func (to *tracingObserver) finishFetchSuccess(itemCount int, duration time.Duration) {
	to.finish(statusSuccess, map[string]string{
		spanAttrItemCount:  fmt.Sprintf("%d", itemCount),
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	})
}

func (to *tracingObserver) finishError(duration time.Duration) {
	to.finish(statusError, map[string]string{
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	})
}

func (to *tracingObserver) finish(status string, attrs map[string]string) {
	if to.span == nil || to.c.tracingCollector == nil {
		return
	}

	to.span.SetStatus(status)
	to.c.tracingCollector.FinishSpan(to.span, status, attrs)
}
