package compress

import (
	"fmt"

	"github.com/mdkit/trajio/format"
)

// Compressor compresses one chunk payload.
//
// Memory management:
//   - The returned slice may alias internal or input memory for the no-op
//     codec; all other codecs return freshly allocated slices.
//   - The input slice is never modified.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses Compress. Input must have been produced by the same
// codec configuration; corrupted input yields an error.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions. All built-in codecs are stateless and safe
// for concurrent use.
type Codec interface {
	Compressor
	Decompressor
}

// New creates the Codec for a dataset's compression policy.
//
// elem is the dataset's element kind: the shuffle codec transposes by the
// element width, and the lossy codec quantizes per float kind. errBound is
// the absolute error tolerated by the lossy codec and is ignored otherwise.
func New(compression format.CompressionType, elem format.ElementType, errBound float64) (Codec, error) {
	switch compression {
	case format.CompressionNone:
		return NewNoOpCompressor(), nil
	case format.CompressionLossless:
		return NewZstdCompressor(), nil
	case format.CompressionLosslessShuffle:
		return NewShuffleCompressor(elem.Size()), nil
	case format.CompressionLossy:
		return NewLossyCompressor(elem, errBound)
	default:
		return nil, fmt.Errorf("invalid compression type: %s", compression)
	}
}
