// Package bridge owns the completion tokens handed to the engine. Each token
// maps to the caller state of one in-flight operation and is released exactly
// once, on whichever terminal path the operation takes.
package bridge

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/placenote/placenote/internal/core/engine"
)

var ErrUnknownToken = errors.New("bridge: unknown or already released token")

// Handles is a concurrency-safe token table for values of type T.
type Handles[T any] struct {
	mu      sync.Mutex
	next    atomic.Uint64
	entries map[engine.Token]T
}

func NewHandles[T any]() *Handles[T] {
	return &Handles[T]{entries: make(map[engine.Token]T)}
}

// Register stores v and returns a fresh token for it. Tokens are never zero.
func (h *Handles[T]) Register(v T) engine.Token {
	tok := engine.Token(h.next.Add(1))
	h.mu.Lock()
	h.entries[tok] = v
	h.mu.Unlock()
	return tok
}

// Get returns the value for tok without releasing it.
func (h *Handles[T]) Get(tok engine.Token) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.entries[tok]
	if !ok {
		var zero T
		return zero, ErrUnknownToken
	}
	return v, nil
}

// Release removes tok and returns its value. Only the first release of a token
// succeeds.
func (h *Handles[T]) Release(tok engine.Token) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.entries[tok]
	if !ok {
		var zero T
		return zero, ErrUnknownToken
	}
	delete(h.entries, tok)
	return v, nil
}

// Len is the number of outstanding tokens.
func (h *Handles[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Drain releases every outstanding token and returns the values, for shutdown
// leak reporting.
func (h *Handles[T]) Drain() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, 0, len(h.entries))
	for tok, v := range h.entries {
		out = append(out, v)
		delete(h.entries, tok)
	}
	return out
}
