package format

type (
	// ElementType identifies the scalar kind stored in a dataset.
	ElementType uint8
	// CompressionType identifies the chunk compression policy of a dataset.
	CompressionType uint8
)

const (
	ElementFloat32   ElementType = 0x1 // 32-bit IEEE float.
	ElementFloat64   ElementType = 0x2 // 64-bit IEEE float.
	ElementInt32     ElementType = 0x3 // 32-bit signed integer.
	ElementInt64     ElementType = 0x4 // 64-bit signed integer.
	ElementInt64Pair ElementType = 0x5 // Pair of 64-bit signed integers, e.g. connectivity edges.
	ElementString    ElementType = 0x6 // Length-prefixed UTF-8 string. Fixed datasets only.

	CompressionNone            CompressionType = 0x1 // Chunks are stored uncompressed.
	CompressionLosslessShuffle CompressionType = 0x2 // Byte shuffle by element width, then zstd.
	CompressionLossless        CompressionType = 0x3 // Zstd without shuffling.
	CompressionLossy           CompressionType = 0x4 // Bounded-error quantization, then zstd. Floats only.
)

// Size returns the on-disk size of one element in bytes, or 0 for
// variable-length kinds (strings).
func (e ElementType) Size() int {
	switch e {
	case ElementFloat32, ElementInt32:
		return 4
	case ElementFloat64, ElementInt64:
		return 8
	case ElementInt64Pair:
		return 16
	case ElementString:
		return 0
	default:
		return 0
	}
}

// Valid reports whether e is one of the closed set of element kinds.
func (e ElementType) Valid() bool {
	return e >= ElementFloat32 && e <= ElementString
}

func (e ElementType) String() string {
	switch e {
	case ElementFloat32:
		return "Float32"
	case ElementFloat64:
		return "Float64"
	case ElementInt32:
		return "Int32"
	case ElementInt64:
		return "Int64"
	case ElementInt64Pair:
		return "Int64Pair"
	case ElementString:
		return "String"
	default:
		return "Unknown"
	}
}

// Valid reports whether c is one of the closed set of compression policies.
func (c CompressionType) Valid() bool {
	return c >= CompressionNone && c <= CompressionLossy
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionLosslessShuffle:
		return "LosslessShuffle"
	case CompressionLossless:
		return "Lossless"
	case CompressionLossy:
		return "Lossy"
	default:
		return "Unknown"
	}
}
