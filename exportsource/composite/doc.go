// Package composite presents several independently paginated export sources as one
// paginated sequence with a single global page size.
//
// A Composite is built once from an ordered registry of exportsource.PagedSource
// implementations. The registration order is significant: it defines the priority in
// which the page budget is handed out and the order of items within every page.
//
// Pagination state lives in a Cursor value which is returned by Open and by every
// FetchNextPage call. A Cursor is never mutated in place, so a Composite can serve any
// number of concurrent exports, and a failed fetch leaves the previous Cursor usable.
//
// Counting and fetching fan out to all live sources concurrently and join with a full
// barrier before returning; failures of all sources are aggregated into one error.
//
// Usage examples:
//
//	c, _ := composite.NewComposite(
//		[]exportsource.PagedSource{pricelists, assignments, prices},
//		composite.WithPageSize(100),
//		composite.WithLogger(logger),
//	)
//
//	cursor, err := c.Open(ctx, query)
//	for err == nil && !cursor.Exhausted() {
//		var page exportsource.Exportables
//		page, cursor, err = c.FetchNextPage(ctx, cursor)
//		// write page
//	}
//
//	// or, with the stateful facade
//	session := c.NewSession()
//	_ = session.SetQuery(ctx, query)
//	page, _ := session.FetchNextPage(ctx)
package composite
