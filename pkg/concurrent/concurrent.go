// Package concurrent runs the elements of a sequence through goroutines.
package concurrent

import (
	"golang.org/x/sync/errgroup"

	"github.com/placenote/placenote/pkg/sequence"
)

// Each runs action for every element, at most limit at a time (unbounded when
// limit <= 0). It waits for all of them and returns the first error.
func Each[T any](it sequence.Iterator[T], limit int, action func(T) error) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for v := range it {
		g.Go(func() error {
			return action(v)
		})
	}
	return g.Wait()
}

// Map applies fn to every element using up to workers goroutines. The result
// keeps the input order.
func Map[T, R any](it sequence.Iterator[T], workers int, fn func(T) R) []R {
	in := it.Collect()
	out := make([]R, len(in))

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i, v := range in {
		g.Go(func() error {
			out[i] = fn(v)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
