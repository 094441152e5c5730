package composite

import (
	"context"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// Session is a stateful facade over a Composite for callers that want the classic
// SetQuery / GetTotalCount / FetchNextPage interface instead of passing Cursors around.
//
// A Session is not safe for concurrent use: at most one call may be in flight at a time.
// Use one Session per export, or use the Cursor API of Composite directly.
type Session struct {
	composite *Composite
	id        uuid.UUID
	cursor    Cursor
}

// NewSession creates a Session without a query.
func (c *Composite) NewSession() *Session {
	return &Session{
		composite: c,
		id:        uuid.New(),
	}
}

// ID returns the id of the session, which is attached to its logs and spans.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// SetQuery replaces the query of the session, resets pagination and counts all sources.
// On failure the previous state of the session is kept.
func (s *Session) SetQuery(ctx context.Context, query exportsource.ExportQuery) error {
	cursor, err := s.composite.Open(s.context(ctx), query)
	if err != nil {
		return err
	}

	s.cursor = cursor

	return nil
}

// GetTotalCount counts all sources again and returns the sum.
func (s *Session) GetTotalCount(ctx context.Context) (int, error) {
	cursor, err := s.composite.Recount(s.context(ctx), s.cursor)
	if err != nil {
		return 0, err
	}

	s.cursor = cursor

	return cursor.TotalCount(), nil
}

// FetchNextPage returns the next page and advances the session.
// Once all sources are exhausted it keeps returning empty pages.
func (s *Session) FetchNextPage(ctx context.Context) (exportsource.Exportables, error) {
	page, cursor, err := s.composite.FetchNextPage(s.context(ctx), s.cursor)
	if err != nil {
		return nil, err
	}

	s.cursor = cursor

	return page, nil
}

// Cursor returns the current cursor of the session, e.g. to snapshot it.
func (s *Session) Cursor() Cursor {
	return s.cursor.clone()
}

func (s *Session) context(ctx context.Context) context.Context {
	return withSessionID(ctx, s.id.String())
}
