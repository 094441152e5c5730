package composite

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// fanOut runs task for each index concurrently, bounded by maxConcurrency, and waits for all of them.
//
// Every task runs to completion even if a sibling fails; the failures of all tasks are joined.
// A task only writes to its own result slot, so no further synchronization is needed.
func (c *Composite) fanOut(ctx context.Context, indexes []int, task func(ctx context.Context, i int) error) error {
	if len(indexes) == 0 {
		return nil
	}

	errs := make([]error, len(indexes))

	var g errgroup.Group
	g.SetLimit(c.concurrencyLimit())

	for n, i := range indexes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[n] = err
				return err
			}

			errs[n] = task(ctx, i)

			return errs[n]
		})
	}

	_ = g.Wait() // all errors are collected in errs

	return errors.Join(errs...)
}

func (c *Composite) concurrencyLimit() int {
	if c.maxConcurrency > 0 {
		return c.maxConcurrency
	}

	return max(1, len(c.sources))
}
