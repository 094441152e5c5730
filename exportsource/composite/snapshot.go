package composite

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

type cursorSnapshot struct {
	PageNumber int                   `json:"page_number"`
	TotalCount int                   `json:"total_count"`
	Query      querySnapshot         `json:"query"`
	Sources    []sourceStateSnapshot `json:"sources"`
}

type querySnapshot struct {
	Skip      int      `json:"skip"`
	Take      int      `json:"take"`
	ObjectIDs []string `json:"object_ids,omitempty"`
	Sort      string   `json:"sort,omitempty"`
}

type sourceStateSnapshot struct {
	Name          string `json:"name"`
	TotalCount    int    `json:"total_count"`
	ReceivedCount int    `json:"received_count"`
}

// MarshalJSON serializes the cursor, so that a long-running export can be resumed with RestoreCursor.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if !c.opened {
		return nil, exportsource.ErrQueryNotSet
	}

	snapshot := cursorSnapshot{
		PageNumber: c.pageNumber,
		TotalCount: c.totalCount,
		Query: querySnapshot{
			Skip:      c.query.Skip,
			Take:      c.query.Take,
			ObjectIDs: c.query.ObjectIDs,
			Sort:      c.query.Sort,
		},
		Sources: make([]sourceStateSnapshot, len(c.states)),
	}

	for i, s := range c.states {
		snapshot.Sources[i] = sourceStateSnapshot{
			Name:          s.Name,
			TotalCount:    s.TotalCount,
			ReceivedCount: s.ReceivedCount,
		}
	}

	return jsoniter.ConfigFastest.Marshal(snapshot)
}

// RestoreCursor rebuilds a cursor from MarshalJSON output.
//
// The snapshot must have been taken from a composite with the same sources in the same order.
// Counts are taken from the snapshot as they were; call Recount to refresh them.
func (c *Composite) RestoreCursor(data []byte) (Cursor, error) {
	var snapshot cursorSnapshot
	if err := jsoniter.ConfigFastest.Unmarshal(data, &snapshot); err != nil {
		return Cursor{}, errors.Join(exportsource.ErrInvalidCursorSnapshot, err)
	}

	query := exportsource.ExportQuery{
		Skip:      snapshot.Query.Skip,
		Take:      snapshot.Query.Take,
		ObjectIDs: snapshot.Query.ObjectIDs,
		Sort:      snapshot.Query.Sort,
	}

	if err := query.Validate(); err != nil {
		return Cursor{}, errors.Join(exportsource.ErrInvalidCursorSnapshot, err)
	}

	if snapshot.PageNumber < 0 {
		return Cursor{}, errors.Join(exportsource.ErrInvalidCursorSnapshot, errors.New("negative page number"))
	}

	cursor := Cursor{
		query:      query,
		pageNumber: snapshot.PageNumber,
		states:     make([]SourceState, len(snapshot.Sources)),
		opened:     true,
	}

	for i, s := range snapshot.Sources {
		if s.TotalCount < 0 || s.ReceivedCount < 0 {
			return Cursor{}, errors.Join(exportsource.ErrInvalidCursorSnapshot, errors.New("negative source counts"))
		}

		cursor.states[i] = SourceState{
			Name:          s.Name,
			Query:         query.Clone(),
			TotalCount:    s.TotalCount,
			ReceivedCount: s.ReceivedCount,
		}
	}

	if err := c.checkCursor(cursor); err != nil {
		return Cursor{}, errors.Join(exportsource.ErrInvalidCursorSnapshot, err)
	}

	cursor.sumTotalCounts()

	return cursor, nil
}
