package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteBufferSetLength(t *testing.T) {
	bb := NewByteBuffer(4)

	bb.SetLength(8)
	require.Equal(t, 8, bb.Len())
	require.Equal(t, make([]byte, 8), bb.Bytes())

	copy(bb.Bytes(), "abcdefgh")
	bb.SetLength(4)
	bb.SetLength(8)
	// Bytes exposed by growing back must be zeroed, not stale.
	require.Equal(t, []byte{'a', 'b', 'c', 'd', 0, 0, 0, 0}, bb.Bytes())
}

func TestByteBufferWriteAndReset(t *testing.T) {
	bb := NewByteBuffer(0)

	n, err := bb.Write([]byte("chunk"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("chunk"), bb.Bytes())

	bb.Reset()
	require.Equal(t, 0, bb.Len())
}

func TestPoolReuse(t *testing.T) {
	p := NewByteBufferPool(16, 1024)

	bb := p.Get()
	bb.Write(make([]byte, 100))
	p.Put(bb)

	bb2 := p.Get()
	require.Equal(t, 0, bb2.Len())
}

func TestChunkBufferPool(t *testing.T) {
	bb := GetChunkBuffer()
	require.NotNil(t, bb)
	require.Equal(t, 0, bb.Len())
	bb.SetLength(128)
	PutChunkBuffer(bb)
}
