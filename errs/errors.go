// Package errs defines the sentinel errors shared across the trajio packages.
//
// Storage-operation failures wrap one of these sentinels so callers can test
// with errors.Is while still seeing a human-readable cause. Usage-contract
// violations (double close, unknown mode strings, nil frame data) are not
// errors: those panic at the call site.
package errs

import "errors"

var (
	// ErrStorageClosed is returned when an operation is attempted on a
	// container or archive that is not open.
	ErrStorageClosed = errors.New("storage is not open")

	// ErrReadOnly is returned when a write is attempted on storage opened
	// for reading.
	ErrReadOnly = errors.New("storage is open read-only")

	// ErrInvalidContainer is returned when the on-disk marker of a container
	// is missing or carries an unknown format version.
	ErrInvalidContainer = errors.New("invalid or unrecognized container")

	// ErrInvalidMeta is returned when a dataset meta header fails validation.
	ErrInvalidMeta = errors.New("invalid dataset meta header")

	// ErrChecksumMismatch is returned when a chunk payload does not match its
	// recorded digest.
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")

	// ErrElementMismatch is returned when data is written or read with an
	// element kind other than the dataset's.
	ErrElementMismatch = errors.New("element type mismatch")

	// ErrShapeMismatch is returned when frame data does not match the
	// dataset's fixed per-frame shape.
	ErrShapeMismatch = errors.New("frame shape mismatch")

	// ErrFramesPerChunk is returned when a dataset is created with a
	// frames-per-chunk value outside [1, 64].
	ErrFramesPerChunk = errors.New("frames per chunk must be in [1, 64]")

	// ErrLossyElement is returned when lossy compression is requested for a
	// non-float element kind.
	ErrLossyElement = errors.New("lossy compression requires a float element type")

	// ErrPropertyExists is returned by property writes when the property is
	// already present and replaceExisting is false. Callers treating
	// re-invocation as a no-op should test for it with errors.Is.
	ErrPropertyExists = errors.New("property already exists")

	// ErrNotFound is returned when a group, dataset or attribute is absent.
	ErrNotFound = errors.New("not found")
)
