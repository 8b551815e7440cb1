// Package compress implements the chunk compression policies of trajectory
// datasets: pass-through, Zstandard, byte-shuffled Zstandard, bounded-error
// lossy quantization, and an LZ4 block codec for fixed property datasets.
//
// All codecs are stateless and safe for concurrent use; the Zstd and LZ4
// codecs reuse pooled encoder state internally.
package compress
