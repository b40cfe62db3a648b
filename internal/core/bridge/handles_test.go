package bridge

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseExactlyOnce(t *testing.T) {
	h := NewHandles[string]()
	tok := h.Register("save")
	require.NotZero(t, tok)

	v, err := h.Get(tok)
	require.NoError(t, err)
	assert.Equal(t, "save", v)
	assert.Equal(t, 1, h.Len())

	v, err = h.Release(tok)
	require.NoError(t, err)
	assert.Equal(t, "save", v)

	_, err = h.Release(tok)
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = h.Get(tok)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Equal(t, 0, h.Len())
}

func TestConcurrentReleaseHasOneWinner(t *testing.T) {
	h := NewHandles[int]()
	tok := h.Register(7)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Release(tok); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestTokensAreUnique(t *testing.T) {
	h := NewHandles[struct{}]()
	seen := make(map[uint64]bool)
	for range 100 {
		tok := uint64(h.Register(struct{}{}))
		assert.False(t, seen[tok])
		seen[tok] = true
	}
	assert.Len(t, h.Drain(), 100)
	assert.Equal(t, 0, h.Len())
}
