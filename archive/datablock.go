package archive

import (
	"encoding/binary"
	"fmt"
	"math"
	"path"

	"github.com/mdkit/trajio/container"
	"github.com/mdkit/trajio/format"
)

// Names of the three parallel datasets every time data block is made of.
const (
	stepDatasetName  = "step"
	timeDatasetName  = "time"
	valueDatasetName = "value"
)

// TimeDataBlock manages one named time-dependent quantity: three parallel
// datasets (step, time, value) grouped under the block's path. The split
// keeps the time axis cheap to query without touching bulk payload, and lets
// quantities run on independent cadences (positions every N steps, forces
// every step).
//
// Blocks are created lazily on first write to an unseen path, or
// reconstructed by structural discovery when an archive is opened for read
// or append. They are not safe for concurrent use.
type TimeDataBlock struct {
	name     string
	fullPath string

	numEntries     int
	valuesPerEntry int

	mainUnit string
	timeUnit string

	// writingInterval, when positive, derives a frame index from the
	// simulation step: frame = step / writingInterval. Steps that are not a
	// multiple of the interval are coerced into the truncated slot; MD
	// drivers legitimately emit a final off-cadence frame and must not
	// abort over it.
	writingInterval int64

	writingFrameIndex int64 // next frame to append; the high-water mark
	readingFrameIndex int64 // next frame for sequential reads

	step  *container.Dataset
	time  *container.Dataset
	value *container.Dataset
}

// newTimeDataBlock creates the three datasets of a fresh block.
func newTimeDataBlock(
	group *container.Group,
	fullPath string,
	unit string,
	elem format.ElementType,
	numEntries, valuesPerEntry int,
	framesPerChunk int,
	compression format.CompressionType,
	compressionError float64,
) (*TimeDataBlock, error) {
	b := &TimeDataBlock{
		name:           path.Base(fullPath),
		fullPath:       fullPath,
		numEntries:     numEntries,
		valuesPerEntry: valuesPerEntry,
		mainUnit:       unit,
		timeUnit:       "ps",
	}

	var err error
	axisSpec := container.Spec{
		Element:        format.ElementInt64,
		NumEntries:     1,
		ValuesPerEntry: 1,
		FramesPerChunk: framesPerChunk,
		Compression:    format.CompressionLossless,
	}
	if b.step, err = group.CreateDataset(stepDatasetName, axisSpec); err != nil {
		return nil, err
	}
	axisSpec.Element = format.ElementFloat64
	if b.time, err = group.CreateDataset(timeDatasetName, axisSpec); err != nil {
		return nil, err
	}
	if b.value, err = group.CreateDataset(valueDatasetName, container.Spec{
		Element:          elem,
		NumEntries:       numEntries,
		ValuesPerEntry:   valuesPerEntry,
		FramesPerChunk:   framesPerChunk,
		Compression:      compression,
		CompressionError: compressionError,
	}); err != nil {
		return nil, err
	}

	if unit != "" {
		if err := group.SetAttr(valueDatasetName+"@unit", unit); err != nil {
			return nil, err
		}
	}
	if err := group.SetAttr(timeDatasetName+"@unit", b.timeUnit); err != nil {
		return nil, err
	}

	return b, nil
}

// openTimeDataBlock rehydrates a block discovered in an existing archive:
// reopens its datasets, restores units, and re-derives the written frame
// count from storage.
func openTimeDataBlock(group *container.Group, fullPath string) (*TimeDataBlock, error) {
	b := &TimeDataBlock{
		name:     path.Base(fullPath),
		fullPath: fullPath,
	}

	var err error
	if b.step, err = group.OpenDataset(stepDatasetName); err != nil {
		return nil, err
	}
	if b.time, err = group.OpenDataset(timeDatasetName); err != nil {
		return nil, err
	}
	if b.value, err = group.OpenDataset(valueDatasetName); err != nil {
		return nil, err
	}

	spec := b.value.Spec()
	b.numEntries = spec.NumEntries
	b.valuesPerEntry = spec.ValuesPerEntry

	if unit, err := group.Attr(valueDatasetName + "@unit"); err == nil {
		b.mainUnit = unit
	}
	if unit, err := group.Attr(timeDatasetName + "@unit"); err == nil {
		b.timeUnit = unit
	}

	if err := b.RefreshFrameCount(); err != nil {
		return nil, err
	}

	return b, nil
}

// Name returns the block's leaf name, e.g. "position".
func (b *TimeDataBlock) Name() string { return b.name }

// FullPath returns the block's container path, e.g.
// "/particles/system/position".
func (b *TimeDataBlock) FullPath() string { return b.fullPath }

// NumFrames returns the number of written frames (the high-water mark).
func (b *TimeDataBlock) NumFrames() int64 { return b.writingFrameIndex }

// NumEntries returns the entries per frame, e.g. the particle count.
func (b *TimeDataBlock) NumEntries() int { return b.numEntries }

// ValuesPerEntry returns values per entry, e.g. 3 for vectors.
func (b *TimeDataBlock) ValuesPerEntry() int { return b.valuesPerEntry }

// MainUnit returns the unit of the value data, informational only.
func (b *TimeDataBlock) MainUnit() string { return b.mainUnit }

// TimeUnit returns the unit of the time axis, informational only.
func (b *TimeDataBlock) TimeUnit() string { return b.timeUnit }

// WritingFrameIndex returns the next frame index to append.
func (b *TimeDataBlock) WritingFrameIndex() int64 { return b.writingFrameIndex }

// ReadingFrameIndex returns the next frame index for sequential reads.
func (b *TimeDataBlock) ReadingFrameIndex() int64 { return b.readingFrameIndex }

// SetWritingInterval configures interval-based frame indexing: with a
// positive interval, WriteFrame places step s into frame s/interval.
func (b *TimeDataBlock) SetWritingInterval(interval int64) {
	b.writingInterval = interval
}

// LossyError returns the absolute error bound of the block's lossy value
// compression, or -1 when compression is lossless.
func (b *TimeDataBlock) LossyError() float64 {
	spec := b.value.Spec()
	if spec.Compression != format.CompressionLossy {
		return -1
	}

	return spec.CompressionError
}

// matchesPath reports whether the block is the one stored at fullPath.
// Blocks are identified by path when scanning the container's block list.
func (b *TimeDataBlock) matchesPath(fullPath string) bool {
	return b.fullPath == fullPath
}

// WriteFrame appends one frame. The target index is the step divided by the
// writing interval when one is configured, otherwise the frame after the
// previously written one.
func (b *TimeDataBlock) WriteFrame(data []float64, step int64, t float64) error {
	frame := b.writingFrameIndex
	if b.writingInterval > 0 {
		frame = step / b.writingInterval
	}

	return b.WriteFrameAt(data, step, t, frame)
}

// WriteFrameAt writes one frame into an explicit slot. Writing beyond the
// current high-water mark raises it to frame+1.
func (b *TimeDataBlock) WriteFrameAt(data []float64, step int64, t float64, frame int64) error {
	if len(data) != b.numEntries*b.valuesPerEntry {
		return fmt.Errorf("block %s: frame has %d values, expected %dx%d",
			b.fullPath, len(data), b.numEntries, b.valuesPerEntry)
	}

	raw, err := encodeReals(b.value.Spec().Element, data)
	if err != nil {
		return err
	}
	if err := b.value.WriteFrameAt(frame, raw); err != nil {
		return fmt.Errorf("block %s: %w", b.fullPath, err)
	}

	var stepBuf [8]byte
	binary.LittleEndian.PutUint64(stepBuf[:], uint64(step))
	if err := b.step.WriteFrameAt(frame, stepBuf[:]); err != nil {
		return fmt.Errorf("block %s: %w", b.fullPath, err)
	}

	var timeBuf [8]byte
	binary.LittleEndian.PutUint64(timeBuf[:], math.Float64bits(t))
	if err := b.time.WriteFrameAt(frame, timeBuf[:]); err != nil {
		return fmt.Errorf("block %s: %w", b.fullPath, err)
	}

	if frame+1 > b.writingFrameIndex {
		b.writingFrameIndex = frame + 1
	}

	return nil
}

// ReadFrame fills buf with frame's values. It returns false without error
// when the frame is beyond the written high-water mark; absence is a common,
// expected case during synchronized multi-quantity reads.
func (b *TimeDataBlock) ReadFrame(buf []float64, frame int64) (bool, error) {
	if frame < 0 || frame >= b.writingFrameIndex {
		return false, nil
	}
	if len(buf) != b.numEntries*b.valuesPerEntry {
		return false, fmt.Errorf("block %s: buffer has %d values, expected %dx%d",
			b.fullPath, len(buf), b.numEntries, b.valuesPerEntry)
	}

	raw := make([]byte, b.value.FrameSize())
	if err := b.value.ReadFrameAt(frame, raw); err != nil {
		return false, fmt.Errorf("block %s: %w", b.fullPath, err)
	}
	if err := decodeReals(b.value.Spec().Element, raw, buf); err != nil {
		return false, err
	}

	return true, nil
}

// ReadNextFrame reads the frame at the reading cursor and advances it on
// success.
func (b *TimeDataBlock) ReadNextFrame(buf []float64) (bool, error) {
	ok, err := b.ReadFrame(buf, b.readingFrameIndex)
	if ok {
		b.readingFrameIndex++
	}

	return ok, err
}

// StepOfFrame returns the simulation step recorded for a frame. The result
// is undefined for frames beyond the high-water mark.
func (b *TimeDataBlock) StepOfFrame(frame int64) (int64, error) {
	var raw [8]byte
	if err := b.step.ReadFrameAt(frame, raw[:]); err != nil {
		return 0, fmt.Errorf("block %s: %w", b.fullPath, err)
	}

	return int64(binary.LittleEndian.Uint64(raw[:])), nil
}

// TimeOfFrame returns the time stamp recorded for a frame. The result is
// undefined for frames beyond the high-water mark.
func (b *TimeDataBlock) TimeOfFrame(frame int64) (float64, error) {
	var raw [8]byte
	if err := b.time.ReadFrameAt(frame, raw[:]); err != nil {
		return 0, fmt.Errorf("block %s: %w", b.fullPath, err)
	}

	return math.Float64frombits(binary.LittleEndian.Uint64(raw[:])), nil
}

// NextReadStep returns the step of the next unread frame, or -1 when the
// block is exhausted.
func (b *TimeDataBlock) NextReadStep() int64 {
	if b.readingFrameIndex >= b.writingFrameIndex {
		return -1
	}
	step, err := b.StepOfFrame(b.readingFrameIndex)
	if err != nil {
		return -1
	}

	return step
}

// RefreshFrameCount re-derives the high-water mark from storage by scanning
// back from the allocated extent past fill-only slots. Chunked storage
// pre-allocates beyond the logically written region, so the extent alone
// overestimates. Used once per block at discovery time.
func (b *TimeDataBlock) RefreshFrameCount() error {
	last, err := b.value.LastWrittenFrame()
	if err != nil {
		return fmt.Errorf("block %s: %w", b.fullPath, err)
	}
	b.writingFrameIndex = last + 1

	return nil
}

// flush pushes all three datasets to durable storage.
func (b *TimeDataBlock) flush() error {
	for _, ds := range []*container.Dataset{b.value, b.step, b.time} {
		if err := ds.Flush(); err != nil {
			return fmt.Errorf("block %s: %w", b.fullPath, err)
		}
	}

	return nil
}

// closeAll closes the block's three datasets.
func (b *TimeDataBlock) closeAll() error {
	var first error
	for _, ds := range []*container.Dataset{b.value, b.step, b.time} {
		if err := ds.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// encodeReals serializes values into the dataset's element kind.
func encodeReals(elem format.ElementType, values []float64) ([]byte, error) {
	switch elem {
	case format.ElementFloat64:
		raw := make([]byte, 0, len(values)*8)
		for _, v := range values {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
		return raw, nil
	case format.ElementFloat32:
		raw := make([]byte, 0, len(values)*4)
		for _, v := range values {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(float32(v)))
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("time data blocks store floats, not %s", elem)
	}
}

// decodeReals deserializes raw dataset bytes into values.
func decodeReals(elem format.ElementType, raw []byte, values []float64) error {
	switch elem {
	case format.ElementFloat64:
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return nil
	case format.ElementFloat32:
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return nil
	default:
		return fmt.Errorf("time data blocks store floats, not %s", elem)
	}
}
