package compress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// lz4CompressorPool pools lz4.Compressor instances, which keep internal
// state worth reusing.
var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// Leading marker byte of an LZ4 payload. Incompressible input is stored
// verbatim: CompressBlock signals it by producing zero output, and the
// payload must still round-trip.
const (
	lz4Stored     = 0x0
	lz4Compressed = 0x1
)

// LZ4Compressor provides LZ4 block compression.
//
// Fixed property datasets use LZ4: they are small next to trajectory chunks
// and read in full on open, so cheap decode wins over ratio.
type LZ4Compressor struct{}

var _ Codec = (*LZ4Compressor)(nil)

// NewLZ4Compressor creates an LZ4 block codec.
func NewLZ4Compressor() LZ4Compressor {
	return LZ4Compressor{}
}

// Compress compresses data as a single marked LZ4 block.
func (c LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dst := make([]byte, 1+lz4.CompressBlockBound(len(data)))
	dst[0] = lz4Compressed

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst[1:])
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(data) {
		stored := make([]byte, 1+len(data))
		stored[0] = lz4Stored
		copy(stored[1:], data)

		return stored, nil
	}

	return dst[:1+n], nil
}

// Decompress decompresses a single marked LZ4 block. The original size is
// not stored, so the output buffer starts at 4x the input size and doubles
// on short-buffer errors up to a 128MiB safety limit.
func (c LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case lz4Stored:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])

		return out, nil
	case lz4Compressed:
	default:
		return nil, fmt.Errorf("lz4: unknown block marker %#x", data[0])
	}
	data = data[1:]

	bufSize := len(data) * 4
	const maxSize = 128 * 1024 * 1024

	for bufSize <= maxSize {
		buf := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, buf)
		if err != nil {
			if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) && bufSize < maxSize {
				bufSize *= 2
				continue
			}

			return nil, err
		}

		return buf[:n], nil
	}

	return nil, lz4.ErrInvalidSourceShortBuffer
}
