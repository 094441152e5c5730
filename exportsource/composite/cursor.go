package composite

import (
	"slices"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// unknownTotalCount marks a Cursor whose counts were not computed yet.
const unknownTotalCount = -1

// SourceState is the bookkeeping the composite keeps per registered source.
type SourceState struct {
	// Name of the source, as reported by exportsource.PagedSource.Name.
	Name string
	// Query is the adapted copy of the export query, Skip and Take are overwritten for every page.
	Query exportsource.ExportQuery
	// TotalCount is the count the source reported for the query.
	TotalCount int
	// ReceivedCount is the number of items received from the source over all pages so far.
	ReceivedCount int
}

// Exhausted reports whether all items the source declared were received.
func (s SourceState) Exhausted() bool {
	return s.ReceivedCount >= s.TotalCount
}

// Remaining returns how many items the source still owes, never less than zero.
func (s SourceState) Remaining() int {
	return max(0, s.TotalCount-s.ReceivedCount)
}

// Cursor is the pagination state of one export.
//
// It is a value: every Composite operation returns a new Cursor and leaves the one it was given untouched.
// The zero Cursor is not opened; use Composite.Open or Composite.RestoreCursor.
type Cursor struct {
	query      exportsource.ExportQuery
	pageNumber int
	totalCount int
	states     []SourceState
	opened     bool
}

// Query returns the export query the cursor was opened with.
func (c Cursor) Query() exportsource.ExportQuery {
	return c.query.Clone()
}

// PageNumber returns the zero-based number of the page the next fetch will return.
func (c Cursor) PageNumber() int {
	return c.pageNumber
}

// TotalCount returns the sum of all source counts, or -1 if the cursor was not opened.
func (c Cursor) TotalCount() int {
	if !c.opened {
		return unknownTotalCount
	}

	return c.totalCount
}

// ReceivedCount returns the number of items fetched through this cursor so far.
func (c Cursor) ReceivedCount() int {
	received := 0
	for _, s := range c.states {
		received += s.ReceivedCount
	}

	return received
}

// Exhausted reports whether every source has delivered all of its declared items.
// An unopened cursor is never exhausted.
func (c Cursor) Exhausted() bool {
	if !c.opened {
		return false
	}

	for _, s := range c.states {
		if !s.Exhausted() {
			return false
		}
	}

	return true
}

// Opened reports whether the cursor was produced by Open or RestoreCursor.
func (c Cursor) Opened() bool {
	return c.opened
}

// States returns a copy of the per-source bookkeeping in registration order.
func (c Cursor) States() []SourceState {
	states := make([]SourceState, len(c.states))
	for i, s := range c.states {
		states[i] = s
		states[i].Query = s.Query.Clone()
	}

	return states
}

// clone returns a deep copy, the only way a new Cursor is derived from an old one.
func (c Cursor) clone() Cursor {
	next := c
	next.query = c.query.Clone()
	next.states = c.States()

	return next
}

// sumTotalCounts recomputes the cursor total from its states.
func (c *Cursor) sumTotalCounts() {
	total := 0
	for _, s := range c.states {
		total += s.TotalCount
	}

	c.totalCount = total
}

func (c Cursor) sourceNames() []string {
	names := make([]string, len(c.states))
	for i, s := range c.states {
		names[i] = s.Name
	}

	return names
}

func (c Cursor) matches(names []string) bool {
	return slices.Equal(c.sourceNames(), names)
}
