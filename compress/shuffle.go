package compress

import "fmt"

// ShuffleCompressor byte-shuffles the payload before Zstandard compression.
//
// Shuffling transposes the payload so that byte 0 of every element is stored
// contiguously, then byte 1, and so on. Neighboring particle coordinates
// share exponent and high-mantissa bytes, so the transposed layout compresses
// considerably better. This is the same transform as the HDF5 shuffle filter.
type ShuffleCompressor struct {
	width int
	inner ZstdCompressor
}

var _ Codec = (*ShuffleCompressor)(nil)

// NewShuffleCompressor creates a shuffle codec for elements of the given
// byte width. A width below 2 degenerates to plain Zstd.
func NewShuffleCompressor(width int) ShuffleCompressor {
	return ShuffleCompressor{width: width, inner: NewZstdCompressor()}
}

// Compress shuffles data by element width and compresses the result.
// Trailing bytes that do not fill a whole element are kept unshuffled.
func (c ShuffleCompressor) Compress(data []byte) ([]byte, error) {
	if c.width < 2 || len(data) < c.width {
		return c.inner.Compress(data)
	}

	return c.inner.Compress(shuffle(data, c.width))
}

// Decompress decompresses and unshuffles the payload.
func (c ShuffleCompressor) Decompress(data []byte) ([]byte, error) {
	raw, err := c.inner.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("shuffle codec: %w", err)
	}
	if c.width < 2 || len(raw) < c.width {
		return raw, nil
	}

	return unshuffle(raw, c.width), nil
}

func shuffle(data []byte, width int) []byte {
	n := len(data) / width
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for b := 0; b < width; b++ {
			out[b*n+i] = data[i*width+b]
		}
	}
	copy(out[n*width:], data[n*width:])

	return out
}

func unshuffle(data []byte, width int) []byte {
	n := len(data) / width
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for b := 0; b < width; b++ {
			out[i*width+b] = data[b*n+i]
		}
	}
	copy(out[n*width:], data[n*width:])

	return out
}
