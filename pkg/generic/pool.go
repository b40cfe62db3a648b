// Package generic holds small type-safe wrappers over standard containers.
package generic

import "sync"

// Pool hands out reusable values of one type. Values are scrubbed by the
// optional reset hook when they come back.
type Pool[T any] struct {
	p     sync.Pool
	reset func(T)
}

func NewPool[T any](fresh func() T, reset func(T)) *Pool[T] {
	pool := &Pool[T]{reset: reset}
	pool.p.New = func() any { return fresh() }
	return pool
}

func (pool *Pool[T]) Get() T { return pool.p.Get().(T) }

func (pool *Pool[T]) Put(v T) {
	if pool.reset != nil {
		pool.reset(v)
	}
	pool.p.Put(v)
}
