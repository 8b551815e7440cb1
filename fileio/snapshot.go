package fileio

import (
	"io"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// checksumWindow bounds how much of each file's tail is digested for a
// snapshot. Trajectory files grow into the gigabytes; hashing the final
// megabyte is enough to detect a truncated or diverged file on restart
// without stalling the checkpoint.
const checksumWindow = 1 << 20

// OutputFileState records the restart-relevant state of one open output
// file: its name, the offset a restart must truncate it back to, and a
// digest of the trailing bytes so the restart can verify it resumed the
// same file. ChecksumSize is -1 when the tail could not be read.
type OutputFileState struct {
	Name         string
	Offset       int64
	ChecksumSize int64
	Checksum     uint64
}

// OpenOutputFiles snapshots every writable registered file for a
// checkpoint. Read-only handles, stdio handles and checkpoint files
// themselves are skipped. Each included handle is flushed first so the
// recorded offset covers everything written, then its trailing bytes
// (at most 1 MiB) are digested with xxHash64.
//
// A handle whose tail cannot be read back is still included with
// ChecksumSize -1; restart treats such files as unverifiable rather than
// failing the checkpoint.
func (r *Registry) OpenOutputFiles() ([]OutputFileState, error) {
	var states []OutputFileState
	for h := r.first(); h != nil; h = r.next(h) {
		if h.readOnly || h.stdio || isCheckpointName(h.name) {
			continue
		}

		if err := h.flushLocked(); err != nil {
			r.stopTraversal(h)
			return nil, err
		}
		offset, err := h.tellLocked()
		if err != nil {
			r.stopTraversal(h)
			return nil, err
		}

		state := OutputFileState{Name: h.name, Offset: offset}
		state.ChecksumSize, state.Checksum = checksumTail(h, offset)
		if state.ChecksumSize < 0 {
			r.logger.Warn("could not checksum output file",
				zap.String("name", h.name),
				zap.Int64("offset", offset))
		}
		states = append(states, state)
	}

	return states, nil
}

// checksumTail digests the window bytes preceding offset. ReadAt leaves the
// handle's file position untouched, so in-flight writes resume where they
// left off.
func checksumTail(h *Handle, offset int64) (int64, uint64) {
	size := offset
	if size > checksumWindow {
		size = checksumWindow
	}
	if size == 0 {
		return 0, 0
	}

	buf := make([]byte, size)
	if _, err := h.file.ReadAt(buf, offset-size); err != nil && err != io.EOF {
		return -1, 0
	}

	return size, xxhash.Sum64(buf)
}
