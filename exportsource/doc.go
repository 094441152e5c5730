// Package exportsource provides core abstractions and types for paginated exports
// that are assembled from several independently paginated data sources.
//
// This package defines the fundamental interfaces and types used across
// different export source implementations, including export queries, exportable
// items, the sub-source contract and common error definitions.
//
// Key types:
//   - ExportQuery: Skip/Take window, object id restriction and sort expression
//   - Exportable: An opaque exported record (type, id, JSON payload)
//   - PagedSource: The contract every sub-source implements (count + fetch a page)
//
// Common usage pattern:
//
//	query, err := exportsource.BuildExportQuery().
//		WithObjectIDs(pricelistID).
//		SortedBy("name:desc").
//		Finalize()
//	if err != nil {
//		// handle error
//	}
//
//	total, err := source.TotalCount(ctx, query.Counting())
//	items, err := source.FetchPage(ctx, query)
package exportsource
