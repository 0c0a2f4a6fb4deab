// Package batch runs a set of independent units of work with a ceiling on how
// many are in flight.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the number of units allowed in flight when no limit is given.
const DefaultLimit = 5

// Each calls fn for every item with at most limit calls running at once. When
// one call fails the context passed to the others is cancelled and items that
// have not started are skipped. Each returns after every started call has
// returned, with the first error. It returns nil only when fn succeeded for
// every item; items skipped because ctx was done report the context's error.
func Each[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	if limit <= 0 {
		limit = DefaultLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	started := 0
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if started < len(items) {
		if err := context.Cause(gctx); err != nil {
			return err
		}
		return context.Canceled
	}
	return nil
}
