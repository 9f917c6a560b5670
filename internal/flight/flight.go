// Package flight shares one in-flight call among concurrent callers with the
// same key. The shared call does not inherit any single caller's
// cancellation: a caller whose context ends gets its own context error back
// while the call keeps running for everyone else still waiting on it.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn once per key among concurrent callers. fn receives a context
// that carries the first caller's values but never its cancellation.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	ch := g.g.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}
