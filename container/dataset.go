package container

import (
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/mdkit/trajio/compress"
	"github.com/mdkit/trajio/errs"
	"github.com/mdkit/trajio/format"
	"github.com/mdkit/trajio/internal/pool"
)

// MaxFramesPerChunk is the width of the per-chunk written-frame mask.
const MaxFramesPerChunk = 64

const (
	metaSize     = 32
	idxEntrySize = 32
)

var datasetMagic = [4]byte{'T', 'D', 'S', '1'}

// Spec fixes the shape and storage policy of a dataset for its lifetime.
type Spec struct {
	Element          format.ElementType
	NumEntries       int // entries per frame, e.g. the particle count
	ValuesPerEntry   int // values per entry, e.g. 3 for vectors
	FramesPerChunk   int // frames compressed and written together, <= 64
	Compression      format.CompressionType
	CompressionError float64 // absolute bound, lossy compression only
}

func (s Spec) frameSize() int {
	return s.NumEntries * s.ValuesPerEntry * s.Element.Size()
}

func (s Spec) validate() error {
	if !s.Element.Valid() || s.Element == format.ElementString {
		return fmt.Errorf("%w: %s", errs.ErrElementMismatch, s.Element)
	}
	if s.NumEntries <= 0 || s.ValuesPerEntry <= 0 {
		return fmt.Errorf("%w: %dx%d", errs.ErrShapeMismatch, s.NumEntries, s.ValuesPerEntry)
	}
	if s.FramesPerChunk < 1 || s.FramesPerChunk > MaxFramesPerChunk {
		return errs.ErrFramesPerChunk
	}
	if !s.Compression.Valid() {
		return fmt.Errorf("invalid compression type: %s", s.Compression)
	}

	return nil
}

// idxEntry is one fixed-size record of the chunk index. A zeroed entry
// (compLen 0, mask 0) marks a chunk that was never written.
type idxEntry struct {
	dataOffset int64
	compLen    uint32
	rawLen     uint32
	mask       uint64
	checksum   uint64
}

func (e idxEntry) absent() bool { return e.compLen == 0 && e.mask == 0 }

// chunkState stages the chunk currently being written or patched.
type chunkState struct {
	index int64 // chunk index, -1 when nothing is staged
	mask  uint64
	buf   []byte
	dirty bool
}

// Dataset is a chunked, extensible, typed frame series. One frame is a fixed
// [NumEntries][ValuesPerEntry] array of the element kind. Frames are grouped
// into chunks of FramesPerChunk; each chunk is compressed as a unit and
// carries an xxhash64 digest and a bitmask of its written frames. Rewriting
// a frame of an already-flushed chunk re-appends the chunk payload and
// repoints the chunk's index entry; unwritten slots read back as zero fill.
type Dataset struct {
	name  string
	group *Group
	spec  Spec
	codec compress.Codec

	dat *os.File
	idx *os.File

	frameSize int
	numChunks int64 // chunks covered by the index file
	datSize   int64 // append offset in the data file

	cur       chunkState
	readCache chunkState
	closed    bool
}

// CreateDataset creates a new time dataset inside the group. The spec is
// persisted in the dataset's meta header and fixed for its lifetime.
func (g *Group) CreateDataset(name string, spec Spec) (*Dataset, error) {
	if g.c.readOnly {
		return nil, errs.ErrReadOnly
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	codec, err := compress.New(spec.Compression, spec.Element, spec.CompressionError)
	if err != nil {
		return nil, err
	}

	meta := append([]byte{}, datasetMagic[:]...)
	meta = append(meta, byte(spec.Element), byte(spec.Compression), 0, 0)
	meta = engine.AppendUint32(meta, uint32(spec.NumEntries))
	meta = engine.AppendUint32(meta, uint32(spec.ValuesPerEntry))
	meta = engine.AppendUint32(meta, uint32(spec.FramesPerChunk))
	meta = engine.AppendUint32(meta, 0)
	meta = engine.AppendUint64(meta, floatBits(spec.CompressionError))
	if err := os.WriteFile(g.datasetFile(name, "meta"), meta, 0o644); err != nil {
		return nil, fmt.Errorf("creating dataset %q: %w", name, err)
	}

	ds := &Dataset{
		name:      name,
		group:     g,
		spec:      spec,
		codec:     codec,
		frameSize: spec.frameSize(),
	}
	ds.resetChunkState()
	if err := ds.openFiles(os.O_CREATE | os.O_RDWR | os.O_TRUNC); err != nil {
		return nil, err
	}

	return ds, nil
}

// OpenDataset opens an existing dataset, restoring its spec from the meta
// header. Returns ErrNotFound if the dataset does not exist.
func (g *Group) OpenDataset(name string) (*Dataset, error) {
	meta, err := os.ReadFile(g.datasetFile(name, "meta"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("dataset %q in %s: %w", name, g.Path(), errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening dataset %q: %w", name, err)
	}
	if len(meta) != metaSize || string(meta[:4]) != string(datasetMagic[:]) {
		return nil, fmt.Errorf("dataset %q: %w", name, errs.ErrInvalidMeta)
	}

	spec := Spec{
		Element:          format.ElementType(meta[4]),
		Compression:      format.CompressionType(meta[5]),
		NumEntries:       int(engine.Uint32(meta[8:12])),
		ValuesPerEntry:   int(engine.Uint32(meta[12:16])),
		FramesPerChunk:   int(engine.Uint32(meta[16:20])),
		CompressionError: floatFromBits(engine.Uint64(meta[24:32])),
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}

	codec, err := compress.New(spec.Compression, spec.Element, spec.CompressionError)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		name:      name,
		group:     g,
		spec:      spec,
		codec:     codec,
		frameSize: spec.frameSize(),
	}
	ds.resetChunkState()

	flags := os.O_RDWR | os.O_CREATE
	if g.c.readOnly {
		flags = os.O_RDONLY
	}
	if err := ds.openFiles(flags); err != nil {
		return nil, err
	}

	idxInfo, err := ds.idx.Stat()
	if err != nil {
		return nil, err
	}
	datInfo, err := ds.dat.Stat()
	if err != nil {
		return nil, err
	}
	ds.numChunks = idxInfo.Size() / idxEntrySize
	ds.datSize = datInfo.Size()

	return ds, nil
}

// HasDataset reports whether a time dataset of the given name exists.
func (g *Group) HasDataset(name string) bool {
	_, err := os.Stat(g.datasetFile(name, "meta"))
	return err == nil
}

func (g *Group) datasetFile(name, ext string) string {
	return filepath.Join(g.dir(), name+"."+ext)
}

func (ds *Dataset) openFiles(flags int) error {
	var err error
	if ds.dat, err = os.OpenFile(ds.group.datasetFile(ds.name, "dat"), flags, 0o644); err != nil {
		return fmt.Errorf("opening dataset %q: %w", ds.name, err)
	}
	if ds.idx, err = os.OpenFile(ds.group.datasetFile(ds.name, "idx"), flags, 0o644); err != nil {
		ds.dat.Close()
		return fmt.Errorf("opening dataset %q: %w", ds.name, err)
	}

	return nil
}

func (ds *Dataset) resetChunkState() {
	ds.cur = chunkState{index: -1}
	ds.readCache = chunkState{index: -1}
}

// Name returns the dataset's leaf name.
func (ds *Dataset) Name() string { return ds.name }

// Spec returns the dataset's immutable shape and storage policy.
func (ds *Dataset) Spec() Spec { return ds.spec }

// FrameSize returns the byte size of one frame.
func (ds *Dataset) FrameSize() int { return ds.frameSize }

// Extent returns the number of frame slots covered by allocated chunks,
// including the staged one. Slots beyond the last written frame hold fill.
func (ds *Dataset) Extent() int64 {
	chunks := ds.numChunks
	if ds.cur.index+1 > chunks {
		chunks = ds.cur.index + 1
	}

	return chunks * int64(ds.spec.FramesPerChunk)
}

// WriteFrameAt writes one frame (raw little-endian element bytes) into the
// given slot, extending the dataset as needed.
func (ds *Dataset) WriteFrameAt(frame int64, src []byte) error {
	if ds.closed {
		return errs.ErrStorageClosed
	}
	if ds.group.c.readOnly {
		return errs.ErrReadOnly
	}
	if len(src) != ds.frameSize {
		return fmt.Errorf("%w: got %d bytes, frame is %d", errs.ErrShapeMismatch, len(src), ds.frameSize)
	}
	if frame < 0 {
		return fmt.Errorf("%w: negative frame index %d", errs.ErrShapeMismatch, frame)
	}

	fpc := int64(ds.spec.FramesPerChunk)
	ci, slot := frame/fpc, frame%fpc
	if ds.cur.index != ci {
		if err := ds.flushChunk(); err != nil {
			return err
		}
		if err := ds.stageChunk(ci); err != nil {
			return err
		}
	}

	copy(ds.cur.buf[slot*int64(ds.frameSize):], src)
	ds.cur.mask |= 1 << uint(slot)
	ds.cur.dirty = true

	return nil
}

// ReadFrameAt reads one frame into dst. Slots inside the extent that were
// never written yield zero fill; reading past the extent also yields fill,
// callers track the logical frame count themselves.
func (ds *Dataset) ReadFrameAt(frame int64, dst []byte) error {
	if ds.closed {
		return errs.ErrStorageClosed
	}
	if len(dst) != ds.frameSize {
		return fmt.Errorf("%w: got %d bytes, frame is %d", errs.ErrShapeMismatch, len(dst), ds.frameSize)
	}
	if frame < 0 {
		return fmt.Errorf("%w: negative frame index %d", errs.ErrShapeMismatch, frame)
	}

	fpc := int64(ds.spec.FramesPerChunk)
	ci, slot := frame/fpc, frame%fpc

	if ds.cur.index == ci {
		copy(dst, ds.cur.buf[slot*int64(ds.frameSize):])
		return nil
	}
	if ds.readCache.index == ci {
		copy(dst, ds.readCache.buf[slot*int64(ds.frameSize):])
		return nil
	}

	entry, err := ds.readIdxEntry(ci)
	if err != nil {
		return err
	}
	if entry.absent() {
		zero(dst)
		return nil
	}

	raw, err := ds.loadChunk(entry)
	if err != nil {
		return err
	}
	ds.readCache = chunkState{index: ci, mask: entry.mask, buf: raw}
	copy(dst, raw[slot*int64(ds.frameSize):])

	return nil
}

// LastWrittenFrame scans chunks from the end of the extent backward,
// skipping fill-only slots, and returns the index of the highest written
// frame, or -1 when nothing was written. Chunked storage allocates whole
// chunks, so the extent routinely exceeds the logically written region.
func (ds *Dataset) LastWrittenFrame() (int64, error) {
	fpc := int64(ds.spec.FramesPerChunk)
	last := ds.numChunks - 1
	if ds.cur.index > last {
		last = ds.cur.index
	}

	for ci := last; ci >= 0; ci-- {
		var mask uint64
		if ci == ds.cur.index {
			mask = ds.cur.mask
		} else {
			entry, err := ds.readIdxEntry(ci)
			if err != nil {
				return -1, err
			}
			mask = entry.mask
		}
		if mask != 0 {
			return ci*fpc + int64(bits.Len64(mask)) - 1, nil
		}
	}

	return -1, nil
}

// Flush writes the staged chunk and syncs the dataset files.
func (ds *Dataset) Flush() error {
	if ds.closed {
		return errs.ErrStorageClosed
	}
	if err := ds.flushChunk(); err != nil {
		return err
	}
	if ds.group.c.readOnly {
		return nil
	}
	if err := ds.dat.Sync(); err != nil {
		return fmt.Errorf("syncing dataset %q: %w", ds.name, err)
	}
	if err := ds.idx.Sync(); err != nil {
		return fmt.Errorf("syncing dataset %q: %w", ds.name, err)
	}

	return nil
}

// Close flushes and closes the dataset files. Closing twice is a no-op.
func (ds *Dataset) Close() error {
	if ds.closed {
		return nil
	}
	err := ds.Flush()
	ds.closed = true
	if cerr := ds.dat.Close(); err == nil {
		err = cerr
	}
	if cerr := ds.idx.Close(); err == nil {
		err = cerr
	}

	return err
}

// stageChunk loads chunk ci into the write buffer, decompressing it if it
// was flushed before, or zero-filling a fresh one.
func (ds *Dataset) stageChunk(ci int64) error {
	size := ds.spec.FramesPerChunk * ds.frameSize
	if cap(ds.cur.buf) < size {
		ds.cur.buf = make([]byte, size)
	}
	ds.cur.buf = ds.cur.buf[:size]
	ds.cur.index = ci
	ds.cur.mask = 0
	ds.cur.dirty = false

	if ci >= ds.numChunks {
		zero(ds.cur.buf)
		return nil
	}

	entry, err := ds.readIdxEntry(ci)
	if err != nil {
		return err
	}
	if entry.absent() {
		zero(ds.cur.buf)
		return nil
	}

	raw, err := ds.loadChunk(entry)
	if err != nil {
		return err
	}
	copy(ds.cur.buf, raw)
	ds.cur.mask = entry.mask

	return nil
}

// flushChunk compresses and appends the staged chunk, then repoints its
// index entry. Superseded payloads are left behind in the data file.
func (ds *Dataset) flushChunk() error {
	if !ds.cur.dirty {
		return nil
	}

	payload, err := ds.codec.Compress(ds.cur.buf)
	if err != nil {
		return fmt.Errorf("compressing chunk %d of %q: %w", ds.cur.index, ds.name, err)
	}
	if _, err := ds.dat.WriteAt(payload, ds.datSize); err != nil {
		return fmt.Errorf("writing chunk %d of %q: %w", ds.cur.index, ds.name, err)
	}

	entry := idxEntry{
		dataOffset: ds.datSize,
		compLen:    uint32(len(payload)),
		rawLen:     uint32(len(ds.cur.buf)),
		mask:       ds.cur.mask,
		checksum:   xxhash.Sum64(payload),
	}
	if err := ds.writeIdxEntry(ds.cur.index, entry); err != nil {
		return err
	}

	ds.datSize += int64(len(payload))
	if ds.cur.index+1 > ds.numChunks {
		ds.numChunks = ds.cur.index + 1
	}
	ds.cur.dirty = false
	// The staged chunk may now differ from what the read cache saw.
	if ds.readCache.index == ds.cur.index {
		ds.readCache = chunkState{index: -1}
	}

	return nil
}

func (ds *Dataset) loadChunk(entry idxEntry) ([]byte, error) {
	comp := pool.GetChunkBuffer()
	defer pool.PutChunkBuffer(comp)
	comp.SetLength(int(entry.compLen))

	if _, err := ds.dat.ReadAt(comp.Bytes(), entry.dataOffset); err != nil {
		return nil, fmt.Errorf("reading chunk of %q: %w", ds.name, err)
	}
	if xxhash.Sum64(comp.Bytes()) != entry.checksum {
		return nil, fmt.Errorf("chunk of %q at offset %d: %w", ds.name, entry.dataOffset, errs.ErrChecksumMismatch)
	}

	raw, err := ds.codec.Decompress(comp.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk of %q: %w", ds.name, err)
	}
	if len(raw) != int(entry.rawLen) {
		return nil, fmt.Errorf("chunk of %q: raw length %d, expected %d", ds.name, len(raw), entry.rawLen)
	}
	// The no-op codec aliases the pooled buffer; detach before it is reused.
	out := make([]byte, len(raw))
	copy(out, raw)

	return out, nil
}

func (ds *Dataset) readIdxEntry(ci int64) (idxEntry, error) {
	var buf [idxEntrySize]byte
	_, err := ds.idx.ReadAt(buf[:], ci*idxEntrySize)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return idxEntry{}, nil
	}
	if err != nil {
		return idxEntry{}, fmt.Errorf("reading index of %q: %w", ds.name, err)
	}

	return idxEntry{
		dataOffset: int64(engine.Uint64(buf[0:8])),
		compLen:    engine.Uint32(buf[8:12]),
		rawLen:     engine.Uint32(buf[12:16]),
		mask:       engine.Uint64(buf[16:24]),
		checksum:   engine.Uint64(buf[24:32]),
	}, nil
}

func (ds *Dataset) writeIdxEntry(ci int64, entry idxEntry) error {
	var buf [idxEntrySize]byte
	engine.PutUint64(buf[0:8], uint64(entry.dataOffset))
	engine.PutUint32(buf[8:12], entry.compLen)
	engine.PutUint32(buf[12:16], entry.rawLen)
	engine.PutUint64(buf[16:24], entry.mask)
	engine.PutUint64(buf[24:32], entry.checksum)

	if _, err := ds.idx.WriteAt(buf[:], ci*idxEntrySize); err != nil {
		return fmt.Errorf("writing index of %q: %w", ds.name, err)
	}

	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}

func floatFromBits(u uint64) float64 {
	return math.Float64frombits(u)
}
