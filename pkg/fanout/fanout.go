// Package fanout runs a function over many items with bounded concurrency and
// collects every outcome. One item failing never cancels the others.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome for the item at Index in the input slice.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// All applies fn to every item with at most limit calls in flight and
// returns one Result per item, in input order. Items not yet started when
// ctx is cancelled are reported with ctx.Err().
func All[I, O any](ctx context.Context, items []I, limit int, fn func(context.Context, I) (O, error)) []Result[O] {
	results := make([]Result[O], len(items))
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Value, results[i].Err = call(ctx, item, fn)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stream is All for items that arrive over time. Each item read from in is
// handed to fn as soon as a slot is free, and emit receives its outcome as
// soon as fn returns. emit is never called concurrently. Stream returns once
// in is closed and every started call has finished.
func Stream[I, O any](ctx context.Context, in <-chan I, limit int, fn func(context.Context, I) (O, error), emit func(I, O, error)) {
	if limit <= 0 {
		limit = 1
	}
	var mu sync.Mutex
	report := func(item I, v O, err error) {
		mu.Lock()
		defer mu.Unlock()
		emit(item, v, err)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for item := range in {
		if err := ctx.Err(); err != nil {
			var zero O
			report(item, zero, err)
			continue
		}
		g.Go(func() error {
			v, err := call(ctx, item, fn)
			report(item, v, err)
			return nil
		})
	}
	_ = g.Wait()
}

func call[I, O any](ctx context.Context, item I, fn func(context.Context, I) (O, error)) (v O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return v, err
	}
	return fn(ctx, item)
}
