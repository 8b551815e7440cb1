// Package archive implements the trajectory archive: an append-mostly store
// of time-dependent molecular quantities on top of the hierarchical
// container format.
//
// An Archive is a tree of named groups holding time data blocks (parallel
// step/time/value datasets), fixed per-system properties, topology tables
// and a provenance log. Blocks under "particles" and "observables" are
// discovered structurally when an existing archive is opened, so readers
// need no out-of-band schema.
package archive

import (
	"fmt"
	"math"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mdkit/trajio/container"
	"github.com/mdkit/trajio/errs"
	"github.com/mdkit/trajio/format"
	"github.com/mdkit/trajio/internal/options"
)

// Mode selects how an archive is opened.
type Mode uint8

const (
	// ModeRead opens an existing archive for reading only.
	ModeRead Mode = iota + 1
	// ModeWrite creates a fresh archive, backing up any existing one.
	ModeWrite
	// ModeAppend opens an existing archive for writing, creating it when
	// absent.
	ModeAppend
)

// Group names of the fixed archive layout.
const (
	rootMetadataGroup = "mdarchive"
	authorGroup       = "mdarchive/author"
	creatorGroup      = "mdarchive/creator"
	particlesGroup    = "particles"
	observablesGroup  = "observables"
	provenanceGroup   = "provenance"
	topologyGroup     = "topology"

	versionAttr = "version"
	nameAttr    = "name"

	// archiveVersion is the layout version written to new archives. Bump the
	// minor number for additive changes, the major number for breaking ones.
	archiveVersion = "1.1"
)

// Archive is an open trajectory archive. It tracks every time data block it
// has created or discovered; blocks are identified by full container path.
//
// An Archive is not safe for concurrent use.
type Archive struct {
	cont   *container.Container
	mode   Mode
	dir    string
	blocks []*TimeDataBlock
	logger *zap.Logger
	open   bool
}

// Option configures an Archive at open time.
type Option = options.Option[*Archive]

// WithLogger attaches a structured logger. The default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return options.NoError(func(a *Archive) {
		a.logger = logger
	})
}

// Open opens or creates the archive rooted at dir according to mode.
//
// ModeWrite always starts empty: a pre-existing archive at dir is renamed to
// a numbered backup first. ModeRead and ModeAppend reconstruct the block
// list by walking the particle and observable trees.
func Open(dir string, mode Mode, opts ...Option) (*Archive, error) {
	a := &Archive{
		mode:   mode,
		dir:    dir,
		logger: zap.NewNop(),
	}
	if err := options.Apply(a, opts...); err != nil {
		return nil, err
	}

	var err error
	switch mode {
	case ModeRead:
		a.cont, err = container.Open(dir, true)
	case ModeWrite:
		a.cont, err = container.Create(dir)
	case ModeAppend:
		if _, statErr := os.Stat(dir); statErr == nil {
			a.cont, err = container.Open(dir, false)
		} else {
			a.cont, err = container.Create(dir)
		}
	default:
		panic(fmt.Sprintf("invalid archive mode %d", mode))
	}
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", dir, err)
	}

	a.open = true
	if mode != ModeRead {
		meta, err := a.cont.EnsureGroup(rootMetadataGroup)
		if err != nil {
			a.cont.Close()
			return nil, err
		}
		if err := meta.SetAttr(versionAttr, archiveVersion); err != nil {
			a.cont.Close()
			return nil, err
		}
	}
	if mode != ModeWrite {
		if err := a.discoverBlocks(); err != nil {
			a.cont.Close()
			return nil, err
		}
	}

	a.logger.Debug("archive opened",
		zap.String("dir", dir),
		zap.Uint8("mode", uint8(mode)),
		zap.Int("blocks", len(a.blocks)))

	return a, nil
}

// discoverBlocks walks the particle and observable trees and rehydrates
// every group that holds the step/time/value dataset triple. A block group
// terminates its branch; blocks never nest.
func (a *Archive) discoverBlocks() error {
	for _, root := range []string{particlesGroup, observablesGroup} {
		g, err := a.cont.OpenGroup(root)
		if err != nil {
			// A fresh or partial archive may lack either tree.
			continue
		}
		if err := a.discoverIn(g); err != nil {
			return err
		}
	}

	return nil
}

func (a *Archive) discoverIn(g *container.Group) error {
	if g.HasDataset(stepDatasetName) && g.HasDataset(timeDatasetName) && g.HasDataset(valueDatasetName) {
		b, err := openTimeDataBlock(g, g.Path())
		if err != nil {
			return fmt.Errorf("discover block %s: %w", g.Path(), err)
		}
		a.blocks = append(a.blocks, b)

		return nil
	}

	members, err := g.Members()
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Kind != container.KindGroup {
			continue
		}
		if err := a.discoverIn(g.Child(m.Name)); err != nil {
			return err
		}
	}

	return nil
}

// Dir returns the archive's directory path.
func (a *Archive) Dir() string { return a.dir }

// Mode returns the mode the archive was opened with.
func (a *Archive) Mode() Mode { return a.mode }

// NumBlocks returns the number of known time data blocks.
func (a *Archive) NumBlocks() int { return len(a.blocks) }

// Block returns the time data block at fullPath, or nil when no such block
// is known.
func (a *Archive) Block(fullPath string) *TimeDataBlock {
	for _, b := range a.blocks {
		if b.matchesPath(fullPath) {
			return b
		}
	}

	return nil
}

// WriteDataFrame appends one frame of a time-dependent quantity, creating
// the block on first use. The shape, unit and compression arguments only
// take effect at that single creation point; later writes to the same path
// must match the established frame shape.
//
// data must be non-nil and numEntries and valuesPerEntry positive; a caller
// violating that contract has a bug upstream and gets a panic rather than an
// error to swallow.
func (a *Archive) WriteDataFrame(
	step int64,
	t float64,
	blockPath string,
	numEntries, valuesPerEntry int,
	data []float64,
	unit string,
	framesPerChunk int,
	compression format.CompressionType,
	compressionError float64,
) error {
	if data == nil {
		panic("archive: WriteDataFrame requires frame data")
	}
	if numEntries <= 0 || valuesPerEntry <= 0 {
		panic(fmt.Sprintf("archive: invalid frame shape %dx%d", numEntries, valuesPerEntry))
	}
	if !a.open {
		return errs.ErrStorageClosed
	}
	if a.mode == ModeRead {
		return errs.ErrReadOnly
	}

	b := a.Block(blockPath)
	if b == nil {
		g, err := a.cont.EnsureGroup(blockPath)
		if err != nil {
			return err
		}
		// Lossless blocks round-trip the caller's doubles bit-exactly. Lossy
		// blocks are already bounded-error, so the narrower element costs
		// nothing extra.
		elem := format.ElementFloat64
		if compression == format.CompressionLossy {
			elem = format.ElementFloat32
		}
		b, err = newTimeDataBlock(g, g.Path(), unit, elem,
			numEntries, valuesPerEntry, framesPerChunk, compression, compressionError)
		if err != nil {
			return fmt.Errorf("create block %s: %w", blockPath, err)
		}
		a.blocks = append(a.blocks, b)
		a.logger.Debug("block created",
			zap.String("path", b.FullPath()),
			zap.Int("numEntries", numEntries),
			zap.Int("valuesPerEntry", valuesPerEntry),
			zap.Stringer("compression", compression))
	}

	return b.WriteFrame(data, step, t)
}

// ReadNextFrameOfDataBlock reads the next unread frame of the block at
// blockPath into buf, but only when that frame's step matches stepToRead.
// Pass a negative stepToRead to read unconditionally. It returns false
// without error when the block is unknown, exhausted, or not yet at the
// requested step, which is how callers keep multiple cadences in lockstep.
func (a *Archive) ReadNextFrameOfDataBlock(blockPath string, buf []float64, stepToRead int64) (bool, error) {
	if !a.open {
		return false, errs.ErrStorageClosed
	}
	b := a.Block(blockPath)
	if b == nil {
		return false, nil
	}
	if stepToRead >= 0 && b.NextReadStep() != stepToRead {
		return false, nil
	}

	return b.ReadNextFrame(buf)
}

// NextStepAndTimeToRead returns the smallest next-unread step across all
// blocks and that frame's time stamp. When every block is exhausted both
// results are math.MaxInt64 and math.MaxFloat64, which no step filter
// matches.
func (a *Archive) NextStepAndTimeToRead() (int64, float64, error) {
	minStep := int64(math.MaxInt64)
	minTime := math.MaxFloat64
	for _, b := range a.blocks {
		step := b.NextReadStep()
		if step < 0 || step >= minStep {
			continue
		}
		t, err := b.TimeOfFrame(b.ReadingFrameIndex())
		if err != nil {
			return 0, 0, err
		}
		minStep, minTime = step, t
	}

	return minStep, minTime, nil
}

// blockPath assembles the conventional particle block path
// "/particles/<selection>/<name>".
func blockPath(selectionName, blockName string) string {
	return container.JoinPath("/", particlesGroup, selectionName, blockName)
}

// NumFrames returns the frame count of the particle block blockName in
// selection selectionName, or -1 when the block is unknown.
func (a *Archive) NumFrames(blockName, selectionName string) int64 {
	b := a.Block(blockPath(selectionName, blockName))
	if b == nil {
		return -1
	}

	return b.NumFrames()
}

// NumParticles returns the entry count of the particle block blockName in
// selection selectionName, or -1 when the block is unknown.
func (a *Archive) NumParticles(blockName, selectionName string) int64 {
	b := a.Block(blockPath(selectionName, blockName))
	if b == nil {
		return -1
	}

	return int64(b.NumEntries())
}

// FirstTime returns the time of the first frame of the particle block, or
// -1 when the block is unknown or empty.
func (a *Archive) FirstTime(blockName, selectionName string) float64 {
	return a.blockTime(blockPath(selectionName, blockName), false)
}

// FinalTime returns the time of the last written frame of the particle
// block, or -1 when the block is unknown or empty.
func (a *Archive) FinalTime(blockName, selectionName string) float64 {
	return a.blockTime(blockPath(selectionName, blockName), true)
}

func (a *Archive) blockTime(fullPath string, final bool) float64 {
	b := a.Block(fullPath)
	if b == nil || b.NumFrames() == 0 {
		return -1
	}
	frame := int64(0)
	if final {
		frame = b.NumFrames() - 1
	}
	t, err := b.TimeOfFrame(frame)
	if err != nil {
		return -1
	}

	return t
}

// FirstTimeFromAllDataBlocks returns the earliest first-frame time across
// all blocks, or -1 when no block holds a frame.
func (a *Archive) FirstTimeFromAllDataBlocks() float64 {
	first := -1.0
	for _, b := range a.blocks {
		t := a.blockTime(b.FullPath(), false)
		if t < 0 {
			continue
		}
		if first < 0 || t < first {
			first = t
		}
	}

	return first
}

// FinalTimeFromAllDataBlocks returns the latest last-frame time across all
// blocks, or -1 when no block holds a frame.
func (a *Archive) FinalTimeFromAllDataBlocks() float64 {
	final := -1.0
	for _, b := range a.blocks {
		t := a.blockTime(b.FullPath(), true)
		if t > final {
			final = t
		}
	}

	return final
}

// LossyErrorOfBlock returns the absolute error bound of the block's lossy
// compression, or -1 when the block is unknown or losslessly compressed.
func (a *Archive) LossyErrorOfBlock(fullPath string) float64 {
	b := a.Block(fullPath)
	if b == nil {
		return -1
	}

	return b.LossyError()
}

// SetAuthor records the archive author's name.
func (a *Archive) SetAuthor(name string) error {
	return a.setMetaAttr(authorGroup, nameAttr, name)
}

// Author returns the recorded author name, or "" when unset.
func (a *Archive) Author() string {
	return a.metaAttr(authorGroup, nameAttr)
}

// SetCreatorProgramName records the name of the writing program.
func (a *Archive) SetCreatorProgramName(name string) error {
	return a.setMetaAttr(creatorGroup, nameAttr, name)
}

// CreatorProgramName returns the recorded creator program name, or "" when
// unset.
func (a *Archive) CreatorProgramName() string {
	return a.metaAttr(creatorGroup, nameAttr)
}

// SetCreatorProgramVersion records the version of the writing program.
func (a *Archive) SetCreatorProgramVersion(version string) error {
	return a.setMetaAttr(creatorGroup, versionAttr, version)
}

// CreatorProgramVersion returns the recorded creator program version, or ""
// when unset.
func (a *Archive) CreatorProgramVersion() string {
	return a.metaAttr(creatorGroup, versionAttr)
}

// Version returns the archive layout version, or "" when unset.
func (a *Archive) Version() string {
	return a.metaAttr(rootMetadataGroup, versionAttr)
}

func (a *Archive) setMetaAttr(group, attr, value string) error {
	if !a.open {
		return errs.ErrStorageClosed
	}
	if a.mode == ModeRead {
		return errs.ErrReadOnly
	}
	g, err := a.cont.EnsureGroup(group)
	if err != nil {
		return err
	}

	return g.SetAttr(attr, value)
}

func (a *Archive) metaAttr(group, attr string) string {
	g, err := a.cont.OpenGroup(group)
	if err != nil {
		return ""
	}
	v, err := g.Attr(attr)
	if err != nil {
		return ""
	}

	return v
}

// Flush makes all buffered frames durable and appends a provenance record
// describing the write session. Call it at checkpoints so a crash loses at
// most the frames written since.
func (a *Archive) Flush() error {
	return a.flush("checkpoint flush")
}

func (a *Archive) flush(comment string) error {
	if !a.open {
		return errs.ErrStorageClosed
	}
	if a.mode != ModeRead {
		if err := a.appendProvenance(comment); err != nil {
			return err
		}
	}
	for _, b := range a.blocks {
		if err := b.flush(); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes pending state, appends a final provenance record in write
// and append modes, and releases the archive. Closing twice is a no-op.
func (a *Archive) Close() error {
	if !a.open {
		return nil
	}
	flushErr := a.flush("archive closed")
	a.open = false

	var closeErr error
	for _, b := range a.blocks {
		if err := b.closeAll(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	if err := a.cont.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if flushErr != nil {
		return flushErr
	}

	return closeErr
}

// commandLine reconstructs the invoking command line for provenance records.
func commandLine() string {
	return strings.Join(os.Args, " ")
}
