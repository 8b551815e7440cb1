package compress

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdkit/trajio/format"
)

func float64sToBytes(values []float64) []byte {
	buf := make([]byte, 0, len(values)*8)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}

	return buf
}

func bytesToFloat64s(raw []byte) []float64 {
	values := make([]float64, len(raw)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}

	return values
}

func TestNewCodec(t *testing.T) {
	tests := []struct {
		name        string
		compression format.CompressionType
		elem        format.ElementType
		errBound    float64
		wantErr     bool
	}{
		{name: "none", compression: format.CompressionNone, elem: format.ElementFloat64},
		{name: "lossless", compression: format.CompressionLossless, elem: format.ElementFloat64},
		{name: "lossless shuffle", compression: format.CompressionLosslessShuffle, elem: format.ElementFloat32},
		{name: "lossy", compression: format.CompressionLossy, elem: format.ElementFloat64, errBound: 1e-3},
		{name: "lossy int", compression: format.CompressionLossy, elem: format.ElementInt64, errBound: 1e-3, wantErr: true},
		{name: "lossy zero bound", compression: format.CompressionLossy, elem: format.ElementFloat64, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := New(tt.compression, tt.elem, tt.errBound)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, codec)
		})
	}
}

func TestLosslessRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, 3000)
	for i := range values {
		values[i] = rng.NormFloat64() * 10
	}
	raw := float64sToBytes(values)

	for _, compression := range []format.CompressionType{
		format.CompressionNone,
		format.CompressionLossless,
		format.CompressionLosslessShuffle,
	} {
		t.Run(compression.String(), func(t *testing.T) {
			codec, err := New(compression, format.ElementFloat64, 0)
			require.NoError(t, err)

			compressed, err := codec.Compress(raw)
			require.NoError(t, err)
			restored, err := codec.Decompress(compressed)
			require.NoError(t, err)
			require.Equal(t, raw, restored)
		})
	}
}

func TestShuffleInverse(t *testing.T) {
	for _, width := range []int{4, 8} {
		data := make([]byte, 8*width+3) // trailing bytes exercise the passthrough
		for i := range data {
			data[i] = byte(i * 7)
		}
		require.Equal(t, data, unshuffle(shuffle(data, width), width))
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	codec := NewLZ4Compressor()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i / 16)
	}

	compressed, err := codec.Compress(data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))

	restored, err := codec.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, data, restored)
}

func TestLossyBoundedError(t *testing.T) {
	const bound = 1e-3

	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 300*3)
	for i := range values {
		values[i] = rng.Float64()*8 - 4 // box-sized coordinates in nm
	}

	codec, err := NewLossyCompressor(format.ElementFloat64, bound)
	require.NoError(t, err)
	require.Equal(t, bound, codec.Bound())

	compressed, err := codec.Compress(float64sToBytes(values))
	require.NoError(t, err)
	restored := bytesToFloat64s(mustDecompress(t, codec, compressed))

	require.Len(t, restored, len(values))
	for i, v := range values {
		require.InDelta(t, v, restored[i], bound, "value %d", i)
	}
}

func TestLossySpecialValues(t *testing.T) {
	values := []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, 1.5}

	codec, err := NewLossyCompressor(format.ElementFloat64, 0.01)
	require.NoError(t, err)

	compressed, err := codec.Compress(float64sToBytes(values))
	require.NoError(t, err)
	restored := bytesToFloat64s(mustDecompress(t, codec, compressed))

	require.True(t, math.IsNaN(restored[0]))
	require.True(t, math.IsInf(restored[1], 1))
	require.True(t, math.IsInf(restored[2], -1))
	require.Equal(t, 0.0, restored[3])
	require.InDelta(t, 1.5, restored[4], 0.01)
}

func TestLossyOutOfRange(t *testing.T) {
	codec, err := NewLossyCompressor(format.ElementFloat64, 1e-300)
	require.NoError(t, err)

	_, err = codec.Compress(float64sToBytes([]float64{1e100}))
	require.Error(t, err)
}

func mustDecompress(t *testing.T, codec Codec, data []byte) []byte {
	t.Helper()
	restored, err := codec.Decompress(data)
	require.NoError(t, err)

	return restored
}
