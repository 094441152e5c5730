package composite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/composite"
	"github.com/AntonStoeckl/composite-export-go/testutil/exportsource/fakesource"
)

func Test_NewComposite_ErrorCases(t *testing.T) {
	tests := []struct {
		name        string
		sources     []exportsource.PagedSource
		options     []composite.Option
		expectedErr error
	}{
		{
			name:        "no_sources",
			sources:     nil,
			expectedErr: exportsource.ErrNoSourcesRegistered,
		},
		{
			name:        "nil_source",
			sources:     []exportsource.PagedSource{fakesource.WithItemCount("a", 1), nil},
			expectedErr: exportsource.ErrNilSource,
		},
		{
			name:        "duplicate_source_name",
			sources:     []exportsource.PagedSource{fakesource.WithItemCount("a", 1), fakesource.WithItemCount("a", 2)},
			expectedErr: exportsource.ErrDuplicateSourceName,
		},
		{
			name:        "zero_page_size",
			sources:     []exportsource.PagedSource{fakesource.WithItemCount("a", 1)},
			options:     []composite.Option{composite.WithPageSize(0)},
			expectedErr: exportsource.ErrInvalidPageSize,
		},
		{
			name:        "negative_max_concurrency",
			sources:     []exportsource.PagedSource{fakesource.WithItemCount("a", 1)},
			options:     []composite.Option{composite.WithMaxConcurrency(-1)},
			expectedErr: exportsource.ErrInvalidMaxConcurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// act
			c, err := composite.NewComposite(tt.sources, tt.options...)

			// assert
			assert.ErrorIs(t, err, tt.expectedErr)
			assert.Nil(t, c)
		})
	}
}

func Test_NewComposite_Defaults(t *testing.T) {
	// act
	c, err := composite.NewComposite([]exportsource.PagedSource{
		fakesource.WithItemCount("a", 1),
		fakesource.WithItemCount("b", 1),
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 50, c.PageSize())
	assert.Equal(t, []string{"a", "b"}, c.SourceNames())
}

func Test_Open_SumsTheCountsOfAllSources(t *testing.T) {
	// setup
	ctx := context.Background()
	c := newComposite(t, 50, fakesource.WithItemCount("a", 120), fakesource.WithItemCount("b", 30), fakesource.WithItemCount("c", 5))

	// act
	cursor, err := c.Open(ctx, exportsource.ExportQuery{})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 155, cursor.TotalCount())
	assert.Equal(t, 0, cursor.PageNumber())
	assert.Equal(t, 0, cursor.ReceivedCount())
	assert.False(t, cursor.Exhausted())

	for i, expected := range []int{120, 30, 5} {
		assert.Equal(t, expected, cursor.States()[i].TotalCount)
	}
}

func Test_Open_PassesTheCountOnlyQueryToEverySource(t *testing.T) {
	// setup
	ctx := context.Background()
	a, b := fakesource.WithItemCount("a", 3), fakesource.WithItemCount("b", 3)
	c := newComposite(t, 50, a, b)

	query, err := exportsource.BuildExportQuery().
		WithObjectIDs("a-1", "b-2", "b-3").
		SortedBy("name:desc").
		Skipping(5).
		Taking(10).
		Finalize()
	require.NoError(t, err)

	// act
	cursor, err := c.Open(ctx, query)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, cursor.TotalCount())

	for _, source := range []*fakesource.Source{a, b} {
		queries := source.CountQueries()
		require.Len(t, queries, 1)
		assert.True(t, queries[0].IsCountOnly())
		assert.Equal(t, 0, queries[0].Skip)
		assert.Equal(t, query.ObjectIDs, queries[0].ObjectIDs)
		assert.Equal(t, query.Sort, queries[0].Sort)
	}
}

func Test_Open_When_QueryIsInvalid(t *testing.T) {
	// setup
	a := fakesource.WithItemCount("a", 3)
	c := newComposite(t, 50, a)

	// act
	cursor, err := c.Open(context.Background(), exportsource.ExportQuery{Skip: -1})

	// assert
	assert.ErrorIs(t, err, exportsource.ErrInvalidExportQuery)
	assert.False(t, cursor.Opened())
	assert.Empty(t, a.CountQueries())
}

func Test_Open_When_OneSourceFailsToCount(t *testing.T) {
	// setup
	ctx := context.Background()
	a := fakesource.WithItemCount("a", 10)
	b := fakesource.WithItemCount("b", 10).FailCounting(nil)
	c := newComposite(t, 50, a, b, fakesource.WithItemCount("c", 10))

	// act
	cursor, err := c.Open(ctx, exportsource.ExportQuery{})

	// assert
	require.Error(t, err)
	assert.ErrorIs(t, err, exportsource.ErrCountingFailed)
	assert.ErrorIs(t, err, exportsource.ErrSourceFailed)
	assert.ErrorIs(t, err, fakesource.ErrInjected)

	var sourceErr *composite.SourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.Equal(t, "b", sourceErr.Source)
	assert.Equal(t, "count", sourceErr.Operation)

	assert.False(t, cursor.Opened())
	assert.Equal(t, -1, cursor.TotalCount(), "no partial sum must be exposed")
}

func Test_Open_When_SeveralSourcesFail(t *testing.T) {
	// setup
	errA := errors.New("a is down")
	errC := errors.New("c is down")
	c := newComposite(t, 50,
		fakesource.WithItemCount("a", 10).FailCounting(errA),
		fakesource.WithItemCount("b", 10),
		fakesource.WithItemCount("c", 10).FailCounting(errC),
	)

	// act
	_, err := c.Open(context.Background(), exportsource.ExportQuery{})

	// assert
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Contains(t, err.Error(), "count: a:")
	assert.Contains(t, err.Error(), "count: c:")
}

func Test_Open_When_SourceReportsNegativeCount(t *testing.T) {
	// setup
	c := newComposite(t, 50, fakesource.WithItemCount("a", 2).DriftCount(-3))

	// act
	_, err := c.Open(context.Background(), exportsource.ExportQuery{})

	// assert
	assert.ErrorIs(t, err, exportsource.ErrCountingFailed)
	assert.ErrorIs(t, err, exportsource.ErrInvalidTotalCount)
}

func Test_Open_When_ContextIsCanceled(t *testing.T) {
	// setup
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newComposite(t, 50, fakesource.WithItemCount("a", 2))

	// act
	_, err := c.Open(ctx, exportsource.ExportQuery{})

	// assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, exportsource.ErrCountingFailed)
}

func Test_FetchNextPage_Scenario_120_30_5(t *testing.T) {
	// setup
	ctx := context.Background()
	a := fakesource.WithItemCount("a", 120)
	b := fakesource.WithItemCount("b", 30)
	cs := fakesource.WithItemCount("c", 5)
	c := newComposite(t, 50, a, b, cs)

	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)

	expectedPages := []struct {
		size    int
		first   string
		last    string
		perType map[string]int
	}{
		{size: 50, first: "a-1", last: "a-50", perType: map[string]int{"a": 50}},
		{size: 50, first: "a-51", last: "a-100", perType: map[string]int{"a": 50}},
		{size: 50, first: "a-101", last: "b-30", perType: map[string]int{"a": 20, "b": 30}},
		{size: 5, first: "c-1", last: "c-5", perType: map[string]int{"c": 5}},
	}

	// act & assert
	for n, expected := range expectedPages {
		var page exportsource.Exportables
		page, cursor, err = c.FetchNextPage(ctx, cursor)
		require.NoError(t, err)

		require.Len(t, page, expected.size, "page %d", n)
		assert.Equal(t, expected.first, page[0].ObjectID, "page %d", n)
		assert.Equal(t, expected.last, page[len(page)-1].ObjectID, "page %d", n)
		assert.Equal(t, expected.perType, countPerType(page), "page %d", n)
		assert.Equal(t, n+1, cursor.PageNumber())
	}

	assert.True(t, cursor.Exhausted())
	assert.Equal(t, 155, cursor.ReceivedCount())

	aSkips := make([]int, 0)
	for _, q := range a.FetchQueries() {
		aSkips = append(aSkips, q.Skip)
	}
	assert.Equal(t, []int{0, 50, 100}, aSkips)

	bQueries := b.FetchQueries()
	require.Len(t, bQueries, 1)
	assert.Equal(t, 0, bQueries[0].Skip)
	assert.Equal(t, 30, bQueries[0].Take)

	require.Len(t, cs.FetchQueries(), 1)

	// an exhausted cursor keeps yielding empty pages without asking any source
	page, after, err := c.FetchNextPage(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.True(t, after.Exhausted())
	assert.Len(t, a.FetchQueries(), 3)
}

func Test_FetchNextPage_OrderIsNeverInterleaved(t *testing.T) {
	// setup
	ctx := context.Background()
	c := newComposite(t, 7,
		fakesource.WithItemCount("a", 11),
		fakesource.WithItemCount("b", 0),
		fakesource.WithItemCount("c", 9),
		fakesource.WithItemCount("d", 4),
	)

	// act
	all := fetchAll(t, ctx, c, exportsource.ExportQuery{})

	// assert
	require.Len(t, all, 24)

	expected := append(append(fakesource.Items("a", 11), fakesource.Items("c", 9)...), fakesource.Items("d", 4)...)
	assert.Equal(t, expected, all)
}

func Test_FetchNextPage_NeverFetchesEmptySources(t *testing.T) {
	// setup
	ctx := context.Background()
	empty := fakesource.WithItemCount("empty", 0)
	c := newComposite(t, 4, fakesource.WithItemCount("a", 6), empty)

	// act
	all := fetchAll(t, ctx, c, exportsource.ExportQuery{})

	// assert
	assert.Len(t, all, 6)
	assert.Empty(t, empty.FetchQueries())
}

func Test_FetchNextPage_When_PageSizeExceedsTotal(t *testing.T) {
	// setup
	ctx := context.Background()
	c := newComposite(t, 500, fakesource.WithItemCount("a", 3), fakesource.WithItemCount("b", 4))

	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)

	// act
	page, next, err := c.FetchNextPage(ctx, cursor)

	// assert
	require.NoError(t, err)
	assert.Len(t, page, 7)
	assert.True(t, next.Exhausted())
}

func Test_FetchNextPage_WithObjectIDs(t *testing.T) {
	// setup
	ctx := context.Background()
	c := newComposite(t, 2, fakesource.WithItemCount("a", 10), fakesource.WithItemCount("b", 10))

	query, err := exportsource.BuildExportQuery().WithObjectIDs("b-4", "a-2", "a-9").Finalize()
	require.NoError(t, err)

	// act
	all := fetchAll(t, ctx, c, query)

	// assert
	require.Len(t, all, 3)
	assert.Equal(t, "a-2", all[0].ObjectID)
	assert.Equal(t, "a-9", all[1].ObjectID)
	assert.Equal(t, "b-4", all[2].ObjectID)
}

func Test_FetchNextPage_DoesNotChangeTheGivenCursor(t *testing.T) {
	// setup
	ctx := context.Background()
	c := newComposite(t, 5, fakesource.WithItemCount("a", 8), fakesource.WithItemCount("b", 8))

	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)
	statesBefore := cursor.States()

	// act
	first, next, err := c.FetchNextPage(ctx, cursor)
	require.NoError(t, err)

	again, _, err := c.FetchNextPage(ctx, cursor)
	require.NoError(t, err)

	// assert
	assert.Equal(t, statesBefore, cursor.States())
	assert.Equal(t, 0, cursor.PageNumber())
	assert.Equal(t, 0, cursor.ReceivedCount())
	assert.Equal(t, 1, next.PageNumber())
	assert.Equal(t, 5, next.ReceivedCount())
	assert.Equal(t, first, again, "fetching from the same cursor must be repeatable")
}

func Test_FetchNextPage_When_OneSourceFails(t *testing.T) {
	// setup
	ctx := context.Background()
	a := fakesource.WithItemCount("a", 3)
	b := fakesource.WithItemCount("b", 3)
	c := newComposite(t, 5, a, b)

	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)

	b.FailFetching(nil)

	// act
	page, same, err := c.FetchNextPage(ctx, cursor)

	// assert
	assert.ErrorIs(t, err, exportsource.ErrFetchingPageFailed)
	assert.ErrorIs(t, err, exportsource.ErrSourceFailed)
	assert.ErrorIs(t, err, fakesource.ErrInjected)

	var sourceErr *composite.SourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.Equal(t, "b", sourceErr.Source)
	assert.Equal(t, "fetch_page", sourceErr.Operation)

	assert.Nil(t, page)
	assert.Equal(t, cursor.States(), same.States())
	assert.Equal(t, 0, same.PageNumber())

	// the cursor is still usable once the source recovers
	b.Heal()
	page, next, err := c.FetchNextPage(ctx, same)
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.Equal(t, 1, next.PageNumber())
}

func Test_FetchNextPage_When_CursorWasNotOpened(t *testing.T) {
	// setup
	c := newComposite(t, 5, fakesource.WithItemCount("a", 3))

	// act
	page, _, err := c.FetchNextPage(context.Background(), composite.Cursor{})

	// assert
	assert.ErrorIs(t, err, exportsource.ErrQueryNotSet)
	assert.Nil(t, page)
}

func Test_FetchNextPage_When_CursorBelongsToAnotherComposite(t *testing.T) {
	// setup
	ctx := context.Background()
	c1 := newComposite(t, 5, fakesource.WithItemCount("a", 3))
	c2 := newComposite(t, 5, fakesource.WithItemCount("x", 3))

	cursor, err := c1.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)

	// act
	_, _, err = c2.FetchNextPage(ctx, cursor)

	// assert
	assert.ErrorIs(t, err, exportsource.ErrCursorNotOpened)
}

func Test_FetchNextPage_When_SourceDeliversMoreThanItDeclared(t *testing.T) {
	// setup
	ctx := context.Background()
	a := fakesource.WithItemCount("a", 6).DriftCount(-2)
	c := newComposite(t, 10, a, fakesource.WithItemCount("b", 2))

	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)
	require.Equal(t, 6, cursor.TotalCount())

	// act
	page, next, err := c.FetchNextPage(ctx, cursor)

	// assert
	require.NoError(t, err)
	assert.Len(t, page, 8, "the source returned 6 items although it declared 4")
	assert.True(t, next.Exhausted())
	assert.Equal(t, 6, next.States()[0].ReceivedCount)
}

func Test_Recount_KeepsPaginationState(t *testing.T) {
	// setup
	ctx := context.Background()
	c := newComposite(t, 4, fakesource.WithItemCount("a", 6), fakesource.WithItemCount("b", 6))

	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)
	_, cursor, err = c.FetchNextPage(ctx, cursor)
	require.NoError(t, err)

	// act
	recounted, err := c.Recount(ctx, cursor)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 12, recounted.TotalCount())
	assert.Equal(t, 1, recounted.PageNumber())
	assert.Equal(t, 4, recounted.ReceivedCount())
}

func Test_Composite_QueriesSourcesConcurrently(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tracker := newConcurrencyTracker(3)
	sources := []exportsource.PagedSource{
		tracker.wrap(fakesource.WithItemCount("a", 1)),
		tracker.wrap(fakesource.WithItemCount("b", 1)),
		tracker.wrap(fakesource.WithItemCount("c", 1)),
	}

	c, err := composite.NewComposite(sources, composite.WithPageSize(50))
	require.NoError(t, err)

	// act
	cursor, err := c.Open(ctx, exportsource.ExportQuery{})

	// assert
	require.NoError(t, err, "all sources must be counting at the same time to pass the barrier")
	assert.Equal(t, 3, cursor.TotalCount())
	assert.Equal(t, 3, tracker.maxInFlight())
}

func Test_Composite_WithMaxConcurrency(t *testing.T) {
	// setup
	ctx := context.Background()
	tracker := newConcurrencyTracker(0)
	sources := make([]exportsource.PagedSource, 0, 5)

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		sources = append(sources, tracker.wrap(fakesource.WithItemCount(name, 2).Delay(5*time.Millisecond)))
	}

	c, err := composite.NewComposite(sources, composite.WithPageSize(100), composite.WithMaxConcurrency(2))
	require.NoError(t, err)

	// act
	cursor, err := c.Open(ctx, exportsource.ExportQuery{})
	require.NoError(t, err)
	page, _, err := c.FetchNextPage(ctx, cursor)

	// assert
	require.NoError(t, err)
	assert.Len(t, page, 10)
	assert.LessOrEqual(t, tracker.maxInFlight(), 2)
}

/***** test helpers *****/

func newComposite(t *testing.T, pageSize int, sources ...*fakesource.Source) *composite.Composite {
	t.Helper()

	paged := make([]exportsource.PagedSource, 0, len(sources))
	for _, s := range sources {
		paged = append(paged, s)
	}

	c, err := composite.NewComposite(paged, composite.WithPageSize(pageSize))
	require.NoError(t, err)

	return c
}

func fetchAll(t *testing.T, ctx context.Context, c *composite.Composite, query exportsource.ExportQuery) exportsource.Exportables {
	t.Helper()

	cursor, err := c.Open(ctx, query)
	require.NoError(t, err)

	all := make(exportsource.Exportables, 0)
	for !cursor.Exhausted() {
		var page exportsource.Exportables
		page, cursor, err = c.FetchNextPage(ctx, cursor)
		require.NoError(t, err)
		require.NotEmpty(t, page)
		require.LessOrEqual(t, len(page), c.PageSize())

		all = append(all, page...)
	}

	return all
}

func countPerType(page exportsource.Exportables) map[string]int {
	perType := make(map[string]int)
	for _, item := range page {
		perType[item.ObjectType]++
	}

	return perType
}

// concurrencyTracker tracks how many calls are in flight over all wrapped sources.
// With a barrier > 0, every TotalCount call blocks until that many calls arrived.
type concurrencyTracker struct {
	mu       sync.Mutex
	barrier  int
	arrived  int
	inFlight int
	max      int
	released chan struct{}
}

func newConcurrencyTracker(barrier int) *concurrencyTracker {
	return &concurrencyTracker{barrier: barrier, released: make(chan struct{})}
}

func (p *concurrencyTracker) wrap(source exportsource.PagedSource) exportsource.PagedSource {
	return &trackedSource{PagedSource: source, tracker: p}
}

func (p *concurrencyTracker) enter() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFlight++
	p.max = max(p.max, p.inFlight)
}

func (p *concurrencyTracker) leave() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFlight--
}

func (p *concurrencyTracker) awaitBarrier(ctx context.Context) error {
	if p.barrier == 0 {
		return nil
	}

	p.mu.Lock()
	p.arrived++
	if p.arrived == p.barrier {
		close(p.released)
	}
	p.mu.Unlock()

	select {
	case <-p.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *concurrencyTracker) maxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.max
}

type trackedSource struct {
	exportsource.PagedSource
	tracker *concurrencyTracker
}

func (s *trackedSource) TotalCount(ctx context.Context, query exportsource.ExportQuery) (int, error) {
	s.tracker.enter()
	defer s.tracker.leave()

	if err := s.tracker.awaitBarrier(ctx); err != nil {
		return 0, err
	}

	return s.PagedSource.TotalCount(ctx, query)
}

func (s *trackedSource) FetchPage(ctx context.Context, query exportsource.ExportQuery) (exportsource.Exportables, error) {
	s.tracker.enter()
	defer s.tracker.leave()

	return s.PagedSource.FetchPage(ctx, query)
}
