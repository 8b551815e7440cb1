package compress

// ZstdCompressor provides Zstandard compression for dataset chunks.
//
// Zstd is the default lossless stage: trajectory chunks are large (dozens of
// frames of per-particle vectors) and written once, so ratio matters more
// than encode speed. Two implementations exist behind build tags: the pure-Go
// klauspost encoder (default) and the cgo gozstd binding (tag gozstd).
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a Zstd codec with default settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
