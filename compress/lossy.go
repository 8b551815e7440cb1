package compress

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mdkit/trajio/errs"
	"github.com/mdkit/trajio/format"
)

// Quantization escape codes for non-finite values. MinInt64..MinInt64+2 are
// unreachable by valid quantized data because quantities are range-checked.
const (
	quantNaN    = math.MinInt64
	quantPosInf = math.MinInt64 + 1
	quantNegInf = math.MinInt64 + 2
	quantMax    = int64(1) << 62
)

// LossyCompressor quantizes float payloads with a bounded absolute error and
// compresses the quantized stream.
//
// Each value is stored as round(v/bound) in a 64-bit integer, so the
// reconstruction error is at most bound/2. The integer stream is then
// byte-shuffled and Zstandard-compressed; quantized neighbors share high
// bytes, which is where the actual size win comes from. Non-finite values
// survive the round trip via escape codes.
type LossyCompressor struct {
	elem  format.ElementType
	bound float64
	inner ShuffleCompressor
}

var _ Codec = (*LossyCompressor)(nil)

// NewLossyCompressor creates a lossy codec for the given float kind and
// absolute error bound.
func NewLossyCompressor(elem format.ElementType, errBound float64) (*LossyCompressor, error) {
	if elem != format.ElementFloat32 && elem != format.ElementFloat64 {
		return nil, errs.ErrLossyElement
	}
	if errBound <= 0 || math.IsNaN(errBound) || math.IsInf(errBound, 0) {
		return nil, fmt.Errorf("invalid lossy error bound %v", errBound)
	}

	return &LossyCompressor{
		elem:  elem,
		bound: errBound,
		inner: NewShuffleCompressor(8),
	}, nil
}

// Bound returns the configured absolute error bound.
func (c *LossyCompressor) Bound() float64 {
	return c.bound
}

// Compress quantizes data (interpreted as little-endian floats of the codec's
// element kind) and compresses the quantized stream.
func (c *LossyCompressor) Compress(data []byte) ([]byte, error) {
	size := c.elem.Size()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("lossy codec: payload size %d is not a multiple of element size %d", len(data), size)
	}

	n := len(data) / size
	quantized := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		var v float64
		if c.elem == format.ElementFloat32 {
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*size:])))
		} else {
			v = math.Float64frombits(binary.LittleEndian.Uint64(data[i*size:]))
		}

		q, err := c.quantize(v)
		if err != nil {
			return nil, err
		}
		quantized = binary.LittleEndian.AppendUint64(quantized, uint64(q))
	}

	return c.inner.Compress(quantized)
}

// Decompress reverses Compress, reconstructing floats within the error bound.
func (c *LossyCompressor) Decompress(data []byte) ([]byte, error) {
	quantized, err := c.inner.Decompress(data)
	if err != nil {
		return nil, err
	}
	if len(quantized)%8 != 0 {
		return nil, fmt.Errorf("lossy codec: corrupt quantized stream of %d bytes", len(quantized))
	}

	n := len(quantized) / 8
	out := make([]byte, 0, n*c.elem.Size())
	for i := 0; i < n; i++ {
		q := int64(binary.LittleEndian.Uint64(quantized[i*8:]))
		v := c.dequantize(q)
		if c.elem == format.ElementFloat32 {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v)))
		} else {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}

	return out, nil
}

func (c *LossyCompressor) quantize(v float64) (int64, error) {
	switch {
	case math.IsNaN(v):
		return quantNaN, nil
	case math.IsInf(v, 1):
		return quantPosInf, nil
	case math.IsInf(v, -1):
		return quantNegInf, nil
	}

	q := math.Round(v / c.bound)
	if q > float64(quantMax) || q < -float64(quantMax) {
		return 0, fmt.Errorf("lossy codec: value %v exceeds quantization range for bound %v", v, c.bound)
	}

	return int64(q), nil
}

func (c *LossyCompressor) dequantize(q int64) float64 {
	switch q {
	case quantNaN:
		return math.NaN()
	case quantPosInf:
		return math.Inf(1)
	case quantNegInf:
		return math.Inf(-1)
	}

	return float64(q) * c.bound
}
