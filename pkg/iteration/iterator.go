// Package iteration applies a function to every element of a list, either in
// order or with a bounded number of workers.
package iteration

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Strategy defines how list items are processed
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Process items one by one
	StrategyParallel   Strategy = "parallel"   // Process items concurrently
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategySequential || s == StrategyParallel
}

// Config holds configuration for list iteration
type Config struct {
	Strategy      Strategy // sequential or parallel
	MaxConcurrent int      // Max concurrent workers (0 = runtime.NumCPU())
}

// ItemError reports the first item that failed.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("failed processing item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Map calls fn for every item and returns the results in input order.
// It fails fast: the first error cancels the context handed to the
// remaining calls and no results are returned.
func Map[T, R any](ctx context.Context, cfg Config, items []T, fn func(ctx context.Context, item T, index int) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	if cfg.Strategy == StrategySequential {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := fn(ctx, item, i)
			if err != nil {
				return nil, &ItemError{Index: i, Err: err}
			}
			results[i] = out
		}
		return results, nil
	}

	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := fn(gctx, item, i)
			if err != nil {
				return &ItemError{Index: i, Err: err}
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
