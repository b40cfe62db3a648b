package concurrent

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/placenote/placenote/pkg/sequence"
)

func TestEachRunsEveryElement(t *testing.T) {
	var sum atomic.Int64
	err := Each(sequence.From([]int{1, 2, 3, 4}), 2, func(v int) error {
		sum.Add(int64(v))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), sum.Load())
}

func TestEachReturnsError(t *testing.T) {
	boom := errors.New("boom")
	err := Each(sequence.From([]int{1, 2, 3}), 0, func(v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestEachRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	_ = Each(sequence.From(make([]int, 32)), 3, func(int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		running.Add(-1)
		return nil
	})
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapKeepsOrder(t *testing.T) {
	out := Map(sequence.From([]int{1, 2, 3, 4, 5}), 3, func(v int) int { return v * v })
	assert.Equal(t, []int{1, 4, 9, 16, 25}, out)

	assert.Empty(t, Map(sequence.From([]int(nil)), 0, func(v int) int { return v }))
}
