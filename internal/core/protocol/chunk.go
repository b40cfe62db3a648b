package protocol

import (
	"github.com/cespare/xxhash/v2"

	"github.com/placenote/placenote/pkg/generic"
)

var assemblyBuffers = generic.NewPool(func() *[]byte {
	b := make([]byte, 0, DefaultConfig().ChunkSize)
	return &b
}, func(b *[]byte) { *b = (*b)[:0] })

// Checksum is the digest carried on final chunks.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Split cuts data into chunks of at most size bytes and hands each to fn in
// order. Empty data still yields one final, empty chunk.
func Split(data []byte, size int, fn func(seq int, chunk []byte, final bool) error) error {
	if size <= 0 {
		size = DefaultConfig().ChunkSize
	}
	seq := 0
	for {
		n := min(size, len(data))
		final := n == len(data)
		if err := fn(seq, data[:n], final); err != nil {
			return err
		}
		if final {
			return nil
		}
		data = data[n:]
		seq++
	}
}

// Assembler rebuilds a chunked payload. Its buffer comes from a shared pool
// and goes back on Finish or Release.
type Assembler struct {
	total int64
	next  int
	buf   *[]byte
}

func NewAssembler(total int64) *Assembler {
	return &Assembler{total: total, buf: assemblyBuffers.Get()}
}

// Add appends the chunk carried by env and returns the byte count so far.
func (a *Assembler) Add(env *Envelope) (int64, error) {
	if env.Seq != a.next {
		return a.Len(), ErrOutOfOrder
	}
	if int64(len(*a.buf)+len(env.Data)) > a.total {
		return a.Len(), ErrOverflow
	}
	*a.buf = append(*a.buf, env.Data...)
	a.next++
	return a.Len(), nil
}

func (a *Assembler) Len() int64 {
	if a.buf == nil {
		return 0
	}
	return int64(len(*a.buf))
}

// Finish verifies the payload and returns a copy of it. The assembler cannot
// be used afterwards.
func (a *Assembler) Finish(checksum uint64) ([]byte, error) {
	defer a.Release()
	if a.Len() != a.total {
		return nil, ErrIncomplete
	}
	if Checksum(*a.buf) != checksum {
		return nil, ErrChecksumMismatch
	}
	out := make([]byte, len(*a.buf))
	copy(out, *a.buf)
	return out, nil
}

// Release returns the buffer without producing a payload.
func (a *Assembler) Release() {
	if a.buf != nil {
		assemblyBuffers.Put(a.buf)
		a.buf = nil
	}
}
