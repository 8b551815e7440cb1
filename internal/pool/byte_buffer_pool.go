// Package pool provides pooled byte buffers for chunk staging.
//
// Compressing and decompressing dataset chunks needs scratch buffers whose
// size is stable across frames of the same block, which makes them good
// candidates for reuse via sync.Pool.
package pool

import "sync"

const (
	// ChunkBufferDefaultSize covers a 20-frame chunk of a few thousand
	// 3-component float64 entries without growing.
	ChunkBufferDefaultSize = 64 * 1024
	// ChunkBufferMaxThreshold discards returned buffers above this capacity
	// so a single huge chunk does not pin memory for the process lifetime.
	ChunkBufferMaxThreshold = 8 * 1024 * 1024
)

// ByteBuffer is a growable byte slice with explicit length control.
type ByteBuffer struct {
	B []byte
}

// NewByteBuffer creates a ByteBuffer with the given initial capacity.
func NewByteBuffer(capacity int) *ByteBuffer {
	return &ByteBuffer{B: make([]byte, 0, capacity)}
}

// Bytes returns the underlying byte slice.
func (bb *ByteBuffer) Bytes() []byte { return bb.B }

// Len returns the current length of the buffer.
func (bb *ByteBuffer) Len() int { return len(bb.B) }

// Reset empties the buffer, retaining capacity.
func (bb *ByteBuffer) Reset() { bb.B = bb.B[:0] }

// Write appends data, growing as needed. It never fails.
func (bb *ByteBuffer) Write(data []byte) (int, error) {
	bb.B = append(bb.B, data...)
	return len(data), nil
}

// SetLength resizes the buffer to n bytes, reallocating if the capacity is
// insufficient. Newly exposed bytes are zeroed.
func (bb *ByteBuffer) SetLength(n int) {
	if n <= cap(bb.B) {
		old := len(bb.B)
		bb.B = bb.B[:n]
		for i := old; i < n; i++ {
			bb.B[i] = 0
		}

		return
	}

	grown := make([]byte, n)
	copy(grown, bb.B)
	bb.B = grown
}

// ByteBufferPool pools ByteBuffers, dropping oversized ones on return.
type ByteBufferPool struct {
	pool         sync.Pool
	maxThreshold int
}

// NewByteBufferPool creates a pool handing out buffers of defaultSize
// capacity and discarding returned buffers larger than maxThreshold.
func NewByteBufferPool(defaultSize int, maxThreshold int) *ByteBufferPool {
	return &ByteBufferPool{
		pool: sync.Pool{
			New: func() any {
				return NewByteBuffer(defaultSize)
			},
		},
		maxThreshold: maxThreshold,
	}
}

// Get retrieves a ByteBuffer from the pool.
func (p *ByteBufferPool) Get() *ByteBuffer {
	bb, _ := p.pool.Get().(*ByteBuffer)
	return bb
}

// Put returns a ByteBuffer to the pool for reuse.
func (p *ByteBufferPool) Put(bb *ByteBuffer) {
	if bb == nil {
		return
	}
	if p.maxThreshold > 0 && cap(bb.B) > p.maxThreshold {
		return
	}

	bb.Reset()
	p.pool.Put(bb)
}

var chunkPool = NewByteBufferPool(ChunkBufferDefaultSize, ChunkBufferMaxThreshold)

// GetChunkBuffer retrieves a ByteBuffer from the shared chunk pool.
func GetChunkBuffer() *ByteBuffer {
	return chunkPool.Get()
}

// PutChunkBuffer returns a ByteBuffer to the shared chunk pool.
func PutChunkBuffer(bb *ByteBuffer) {
	chunkPool.Put(bb)
}
