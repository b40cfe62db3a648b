package sequence

import (
	"iter"
	"slices"
)

// Iterator is an iter.Seq with chainable helpers. Stages are lazy until
// Collect or a sort.
type Iterator[T any] iter.Seq[T]

func From[T any](data []T) Iterator[T] {
	return Iterator[T](slices.Values(data))
}

// Collect drains the iterator. The result is never nil.
func (it Iterator[T]) Collect() []T {
	return slices.AppendSeq([]T{}, iter.Seq[T](it))
}

func (it Iterator[T]) Filter(keep func(T) bool) Iterator[T] {
	return func(yield func(T) bool) {
		it(func(v T) bool {
			return !keep(v) || yield(v)
		})
	}
}

// SortFunc materializes the elements and orders them stably by cmp.
func (it Iterator[T]) SortFunc(cmp func(a, b T) int) Iterator[T] {
	all := it.Collect()
	slices.SortStableFunc(all, cmp)
	return From(all)
}

// Map is a function since methods cannot introduce type parameters.
func Map[T, R any](it Iterator[T], fn func(T) R) Iterator[R] {
	return func(yield func(R) bool) {
		it(func(v T) bool { return yield(fn(v)) })
	}
}
