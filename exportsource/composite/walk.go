package composite

import (
	"context"
	"errors"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// PageHandler receives every non-empty page of a Walk.
type PageHandler func(ctx context.Context, pageNumber int, items exportsource.Exportables) error

// FetchWrapper runs fetch, which fetches one page, e.g. to retry it. It must return the error of the last fetch.
type FetchWrapper func(ctx context.Context, fetch func(ctx context.Context) error) error

// AfterPageHook is called once a page was handled, with the cursor that continues after that page.
type AfterPageHook func(ctx context.Context, next Cursor) error

type walkConfig struct {
	wrapFetch FetchWrapper
	afterPage AfterPageHook
}

// WalkOption configures a single Walk or WalkFrom.
type WalkOption func(*walkConfig)

// WithFetchWrapper wraps every page fetch of the walk. Retrying is safe, a failed fetch leaves the cursor untouched.
func WithFetchWrapper(wrap FetchWrapper) WalkOption {
	return func(cfg *walkConfig) {
		cfg.wrapFetch = wrap
	}
}

// WithAfterPage registers a hook that sees the cursor after every handled page, e.g. to persist a snapshot of it.
func WithAfterPage(hook AfterPageHook) WalkOption {
	return func(cfg *walkConfig) {
		cfg.afterPage = hook
	}
}

// Walk opens the query and hands every page to handle until all sources are exhausted.
// It returns the number of items handed to handle.
//
// The walk also stops when a page comes back empty although sources are not exhausted yet,
// which happens when a source delivers fewer items than it declared.
func (c *Composite) Walk(ctx context.Context, query exportsource.ExportQuery, handle PageHandler, options ...WalkOption) (int, error) {
	cursor, err := c.Open(ctx, query)
	if err != nil {
		return 0, err
	}

	return c.WalkFrom(ctx, cursor, handle, options...)
}

// WalkFrom is like Walk but continues from an already opened cursor, e.g. one restored from a snapshot.
func (c *Composite) WalkFrom(ctx context.Context, cursor Cursor, handle PageHandler, options ...WalkOption) (int, error) {
	cfg := walkConfig{}
	for _, option := range options {
		option(&cfg)
	}

	exported := 0

	for !cursor.Exhausted() {
		if err := ctx.Err(); err != nil {
			return exported, err
		}

		page, next, err := c.fetchForWalk(ctx, cursor, cfg.wrapFetch)
		if err != nil {
			return exported, err
		}

		if len(page) == 0 {
			c.logWarnContext(ctx, logMsgNoProgress,
				logAttrPageNumber, cursor.pageNumber,
				logAttrReceivedCount, cursor.ReceivedCount(),
				logAttrTotalCount, cursor.totalCount)

			break
		}

		if err := handle(ctx, cursor.pageNumber, page); err != nil {
			return exported, errors.Join(exportsource.ErrPageHandlerFailed, err)
		}

		exported += len(page)

		if cfg.afterPage != nil {
			if err := cfg.afterPage(ctx, next); err != nil {
				return exported, errors.Join(exportsource.ErrPageHandlerFailed, err)
			}
		}

		cursor = next
	}

	return exported, nil
}

func (c *Composite) fetchForWalk(ctx context.Context, cursor Cursor, wrap FetchWrapper) (exportsource.Exportables, Cursor, error) {
	if wrap == nil {
		return c.FetchNextPage(ctx, cursor)
	}

	var page exportsource.Exportables
	var next Cursor

	err := wrap(ctx, func(ctx context.Context) error {
		var fetchErr error
		page, next, fetchErr = c.FetchNextPage(ctx, cursor)
		return fetchErr
	})
	if err != nil {
		return nil, Cursor{}, err
	}

	return page, next, nil
}
