package container

import (
	"fmt"
	"os"

	"github.com/mdkit/trajio/errs"
	ienc "github.com/mdkit/trajio/internal/encoding"
)

// Record logs are append-only sequences of string-tuple records, used for
// provenance. A record is a uint32 frame length followed by a counted string
// slice; records are never rewritten.

// AppendLogRecord appends one record to the named log, creating it if
// needed.
func (g *Group) AppendLogRecord(name string, fields []string) error {
	if g.c.readOnly {
		return errs.ErrReadOnly
	}

	payload, err := ienc.AppendStringSlice(engine, nil, fields)
	if err != nil {
		return err
	}
	buf := engine.AppendUint32(nil, uint32(len(payload)))
	buf = append(buf, payload...)

	f, err := os.OpenFile(g.datasetFile(name, "log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log %q: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("appending to log %q: %w", name, err)
	}

	return f.Sync()
}

// ReadLogRecords returns every record of the named log in append order, or
// an empty slice if the log does not exist.
func (g *Group) ReadLogRecords(name string) ([][]string, error) {
	data, err := os.ReadFile(g.datasetFile(name, "log"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading log %q: %w", name, err)
	}

	var records [][]string
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("log %q truncated at offset %d", name, offset)
		}
		frameLen := int(engine.Uint32(data[offset : offset+4]))
		offset += 4
		if offset+frameLen > len(data) {
			return nil, fmt.Errorf("log %q truncated at offset %d", name, offset)
		}

		fields, _, err := ienc.ReadStringSlice(engine, data[offset:offset+frameLen], 0)
		if err != nil {
			return nil, fmt.Errorf("log %q: %w", name, err)
		}
		records = append(records, fields)
		offset += frameLen
	}

	return records, nil
}
