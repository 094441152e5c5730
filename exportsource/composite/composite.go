package composite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	operationCount     = "count"
	operationFetchPage = "fetch_page"
)

// Composite unifies an ordered list of sources into one paginated export.
//
// A Composite is immutable after construction and safe for concurrent use,
// all pagination state is carried by Cursor values.
type Composite struct {
	sources          []exportsource.PagedSource
	sourceNames      []string
	pageSize         int
	maxConcurrency   int
	logger           exportsource.Logger
	contextualLogger exportsource.ContextualLogger
	metricsCollector exportsource.MetricsCollector
	tracingCollector exportsource.TracingCollector
}

// NewComposite creates a Composite over the given sources with optional configuration.
// The order of sources defines both page allocation priority and output order.
func NewComposite(sources []exportsource.PagedSource, options ...Option) (*Composite, error) {
	if len(sources) == 0 {
		return nil, exportsource.ErrNoSourcesRegistered
	}

	names := make([]string, 0, len(sources))
	for i, source := range sources {
		if source == nil {
			return nil, errors.Join(exportsource.ErrNilSource, fmt.Errorf("at position %d", i))
		}

		if slices.Contains(names, source.Name()) {
			return nil, errors.Join(exportsource.ErrDuplicateSourceName, fmt.Errorf("name %q", source.Name()))
		}

		names = append(names, source.Name())
	}

	c := &Composite{
		sources:     slices.Clone(sources),
		sourceNames: names,
		pageSize:    defaultPageSize,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// PageSize returns the global page size.
func (c *Composite) PageSize() int {
	return c.pageSize
}

// SourceNames returns the names of the registered sources in registration order.
func (c *Composite) SourceNames() []string {
	return slices.Clone(c.sourceNames)
}

// Open validates the query, builds one adapted query per source and counts all sources concurrently.
//
// On failure the zero Cursor is returned, so no half-initialized state is ever observable.
func (c *Composite) Open(ctx context.Context, query exportsource.ExportQuery) (Cursor, error) {
	if err := query.Validate(); err != nil {
		c.logErrorContext(ctx, logMsgInvalidQuery, err)
		return Cursor{}, err
	}

	cursor := Cursor{
		query:      query.Clone(),
		totalCount: unknownTotalCount,
		states:     make([]SourceState, len(c.sources)),
		opened:     true,
	}

	for i, name := range c.sourceNames {
		cursor.states[i] = SourceState{
			Name:  name,
			Query: query.Clone(),
		}
	}

	counted, err := c.Recount(ctx, cursor)
	if err != nil {
		return Cursor{}, err
	}

	return counted, nil
}

// Recount queries every source for its count again and returns a cursor with the new totals.
//
// Page number and received counts are kept. No partial sum is returned if any source fails.
func (c *Composite) Recount(ctx context.Context, cursor Cursor) (Cursor, error) {
	if err := c.checkCursor(cursor); err != nil {
		return Cursor{}, err
	}

	tracer, ctx := c.startTracing(ctx, operationCount, cursor)
	metrics := c.startMetrics(ctx, operationCount)
	start := time.Now()

	next := cursor.clone()
	counts := make([]int, len(next.states))
	indexes := make([]int, len(next.states))

	for i := range next.states {
		next.states[i].Query = next.states[i].Query.Counting()
		indexes[i] = i
	}

	err := c.fanOut(ctx, indexes, func(ctx context.Context, i int) error {
		count, countErr := c.sources[i].TotalCount(ctx, next.states[i].Query)
		if countErr == nil && count < 0 {
			countErr = errors.Join(exportsource.ErrInvalidTotalCount, fmt.Errorf("got %d", count))
		}

		if countErr != nil {
			return &SourceError{Source: c.sourceNames[i], Operation: operationCount, Err: countErr}
		}

		counts[i] = count

		return nil
	})

	duration := time.Since(start)

	if err != nil {
		err = errors.Join(exportsource.ErrCountingFailed, err)
		c.logErrorContext(ctx, logMsgCountFailed, err, logAttrDurationMS, toMilliseconds(duration))
		metrics.recordError(duration)
		tracer.finishError(duration)

		return Cursor{}, err
	}

	for i, count := range counts {
		next.states[i].TotalCount = count
	}

	next.sumTotalCounts()

	c.logOperationContext(ctx, logMsgCountCompleted,
		logAttrTotalCount, next.totalCount,
		logAttrSourceCount, len(next.states),
		logAttrDurationMS, toMilliseconds(duration))
	metrics.recordCountSuccess(next, duration)
	tracer.finishCountSuccess(next, duration)

	return next, nil
}

// FetchNextPage fetches the page the cursor points at and returns it together with the advanced cursor.
//
// The page budget is planned with PlanPage, the planned sources are fetched concurrently, and the
// results are concatenated in registration order. If any source fails, the error of all failing
// sources is returned and the given cursor stays valid.
// A cursor that is already exhausted yields an empty page.
func (c *Composite) FetchNextPage(ctx context.Context, cursor Cursor) (exportsource.Exportables, Cursor, error) {
	if err := c.checkCursor(cursor); err != nil {
		return nil, cursor, err
	}

	tracer, ctx := c.startTracing(ctx, operationFetchPage, cursor)
	metrics := c.startMetrics(ctx, operationFetchPage)
	start := time.Now()

	next := cursor.clone()
	plans := PlanPage(next.states, c.pageSize)
	results := make([]exportsource.Exportables, len(next.states))
	indexes := make([]int, 0, len(next.states))

	for i, plan := range plans {
		if !plan.Fetch {
			continue
		}

		next.states[i].Query = next.states[i].Query.Window(plan.Skip, plan.Take)
		indexes = append(indexes, i)

		c.logDebugContext(ctx, logMsgSourcePlanned,
			logAttrSource, next.states[i].Name,
			logAttrPageNumber, next.pageNumber,
			logAttrSkip, plan.Skip,
			logAttrTake, plan.Take)
	}

	err := c.fanOut(ctx, indexes, func(ctx context.Context, i int) error {
		items, fetchErr := c.sources[i].FetchPage(ctx, next.states[i].Query)
		if fetchErr != nil {
			return &SourceError{Source: c.sourceNames[i], Operation: operationFetchPage, Err: fetchErr}
		}

		results[i] = items

		return nil
	})

	duration := time.Since(start)

	if err != nil {
		err = errors.Join(exportsource.ErrFetchingPageFailed, err)
		c.logErrorContext(ctx, logMsgFetchFailed, err,
			logAttrPageNumber, cursor.pageNumber,
			logAttrDurationMS, toMilliseconds(duration))
		metrics.recordError(duration)
		tracer.finishError(duration)

		return nil, cursor, err
	}

	size := 0
	for _, items := range results {
		size += len(items)
	}

	page := make(exportsource.Exportables, 0, size)

	for i, items := range results {
		page = append(page, items...)
		next.states[i].ReceivedCount += len(items)

		if next.states[i].ReceivedCount > next.states[i].TotalCount {
			c.logDebugContext(ctx, logMsgCountDrift,
				logAttrSource, next.states[i].Name,
				logAttrTotalCount, next.states[i].TotalCount,
				logAttrReceivedCount, next.states[i].ReceivedCount)
		}
	}

	next.pageNumber++

	c.logOperationContext(ctx, logMsgPageFetched,
		logAttrPageNumber, cursor.pageNumber,
		logAttrItemCount, len(page),
		logAttrReceivedCount, next.ReceivedCount(),
		logAttrTotalCount, next.totalCount,
		logAttrDurationMS, toMilliseconds(duration))
	metrics.recordFetchSuccess(next, results, duration)
	tracer.finishFetchSuccess(len(page), duration)

	return page, next, nil
}

// checkCursor makes sure the cursor was opened against the same registry of sources.
func (c *Composite) checkCursor(cursor Cursor) error {
	if !cursor.opened {
		return exportsource.ErrQueryNotSet
	}

	if !cursor.matches(c.sourceNames) {
		return errors.Join(
			exportsource.ErrCursorNotOpened,
			fmt.Errorf("cursor sources %v, composite sources %v", cursor.sourceNames(), c.sourceNames),
		)
	}

	return nil
}
