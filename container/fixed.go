package container

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/mdkit/trajio/compress"
	"github.com/mdkit/trajio/errs"
	"github.com/mdkit/trajio/format"
)

const fixedHeaderSize = 28

var fixedMagic = [4]byte{'T', 'F', 'X', '1'}

// Fixed datasets hold one-shot arrays (particle names, charges, masses,
// connectivity). They are written whole, LZ4-compressed: they are small next
// to trajectory data and read in full, so cheap decode wins over ratio.

// WriteFixed stores a fixed dataset. count is the number of logical elements
// in raw (strings and pairs count as one element each). If the dataset
// already exists and replace is false, ErrPropertyExists is returned and
// nothing is written.
func (g *Group) WriteFixed(name string, elem format.ElementType, count int, raw []byte, replace bool) error {
	if g.c.readOnly {
		return errs.ErrReadOnly
	}
	if !elem.Valid() {
		return fmt.Errorf("%w: %s", errs.ErrElementMismatch, elem)
	}

	target := g.datasetFile(name, "fix")
	if !replace {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("fixed dataset %q in %s: %w", name, g.Path(), errs.ErrPropertyExists)
		}
	}

	payload, err := compress.NewLZ4Compressor().Compress(raw)
	if err != nil {
		return fmt.Errorf("compressing fixed dataset %q: %w", name, err)
	}

	buf := append([]byte{}, fixedMagic[:]...)
	buf = append(buf, byte(elem), 0, 0, 0)
	buf = engine.AppendUint64(buf, uint64(count))
	buf = engine.AppendUint32(buf, uint32(len(raw)))
	buf = engine.AppendUint64(buf, xxhash.Sum64(payload))
	buf = append(buf, payload...)

	if err := os.WriteFile(target, buf, 0o644); err != nil {
		return fmt.Errorf("writing fixed dataset %q: %w", name, err)
	}

	return nil
}

// ReadFixed loads a fixed dataset, returning its element kind, element count
// and raw payload. Returns ErrNotFound if absent.
func (g *Group) ReadFixed(name string) (format.ElementType, int, []byte, error) {
	data, err := os.ReadFile(g.datasetFile(name, "fix"))
	if os.IsNotExist(err) {
		return 0, 0, nil, fmt.Errorf("fixed dataset %q in %s: %w", name, g.Path(), errs.ErrNotFound)
	}
	if err != nil {
		return 0, 0, nil, fmt.Errorf("reading fixed dataset %q: %w", name, err)
	}
	if len(data) < fixedHeaderSize || string(data[:4]) != string(fixedMagic[:]) {
		return 0, 0, nil, fmt.Errorf("fixed dataset %q: %w", name, errs.ErrInvalidMeta)
	}

	elem := format.ElementType(data[4])
	count := int(engine.Uint64(data[8:16]))
	rawLen := int(engine.Uint32(data[16:20]))
	checksum := engine.Uint64(data[20:28])

	payload := data[fixedHeaderSize:]
	if xxhash.Sum64(payload) != checksum {
		return 0, 0, nil, fmt.Errorf("fixed dataset %q: %w", name, errs.ErrChecksumMismatch)
	}

	raw, err := compress.NewLZ4Compressor().Decompress(payload)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decompressing fixed dataset %q: %w", name, err)
	}
	if len(raw) != rawLen {
		return 0, 0, nil, fmt.Errorf("fixed dataset %q: raw length %d, expected %d", name, len(raw), rawLen)
	}

	return elem, count, raw, nil
}

// HasFixed reports whether a fixed dataset of the given name exists.
func (g *Group) HasFixed(name string) bool {
	_, err := os.Stat(g.datasetFile(name, "fix"))
	return err == nil
}
