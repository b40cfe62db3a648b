package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := NewPool(func() *[]byte {
		b := make([]byte, 0, 16)
		return &b
	}, func(b *[]byte) { *b = (*b)[:0] })

	buf := p.Get()
	assert.Equal(t, 16, cap(*buf))
	*buf = append(*buf, "payload"...)
	p.Put(buf)

	// Any pooled value may come back, but none may carry old data.
	for range 3 {
		assert.Empty(t, *p.Get())
	}
}

func TestPoolWithoutReset(t *testing.T) {
	calls := 0
	p := NewPool(func() int {
		calls++
		return 7
	}, nil)
	assert.Equal(t, 7, p.Get())
	p.Put(9)
	assert.GreaterOrEqual(t, calls, 1)
}
