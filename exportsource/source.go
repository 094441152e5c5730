package exportsource

import "context"

// PagedSource is one independently paginated data provider contributing a slice of an export.
//
// TotalCount must ignore Skip and Take of the query.
// FetchPage must return at most query.Take items starting at query.Skip, and nothing if query.Take is 0.
// Implementations must be safe for concurrent use, the composite calls them from several goroutines.
type PagedSource interface {
	Name() string
	TotalCount(ctx context.Context, query ExportQuery) (int, error)
	FetchPage(ctx context.Context, query ExportQuery) (Exportables, error)
}
