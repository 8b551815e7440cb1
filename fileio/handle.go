package fileio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Handle is one registered open file. Handles live in the registry's
// circular list; the registry's structural lock guards the links, the
// per-handle mutex guards everything else. Hot-path operations (writes,
// seeks, flushes) take only the per-handle lock, so unrelated files never
// contend with each other.
type Handle struct {
	mu   sync.Mutex
	prev *Handle
	next *Handle

	seq    int
	name   string
	mode   string
	ftype  FileType
	file   *os.File
	w      *bufio.Writer
	xdrDir xdrDirection

	readOnly  bool
	readWrite bool
	stdio     bool
	opened    bool
	debug     bool
	double    bool
}

// Seq returns the handle's registration sequence number. Sequence numbers
// are unique per registry and never reused.
func (h *Handle) Seq() int { return h.seq }

// Name returns the path the handle was opened with. Stdio handles report
// an empty name.
func (h *Handle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.name
}

// Type returns the handle's file type classification.
func (h *Handle) Type() FileType { return h.ftype }

// Mode returns the normalized open mode ("r", "r+", "w", "w+", "a", "a+").
func (h *Handle) Mode() string { return h.mode }

// IsReadOnly reports whether the handle was opened in mode "r".
func (h *Handle) IsReadOnly() bool { return h.readOnly }

// IsReadWrite reports whether the handle can both read and write.
func (h *Handle) IsReadWrite() bool { return h.readWrite }

// IsStdio reports whether the handle wraps standard input or output rather
// than a file on disk.
func (h *Handle) IsStdio() bool { return h.stdio }

// File exposes the underlying file. Callers that bypass the handle must
// not hold it across registry operations.
func (h *Handle) File() *os.File {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.file
}

// SetDebug toggles per-handle debug tracing.
func (h *Handle) SetDebug(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = on
}

// Debug reports whether debug tracing is enabled for this handle.
func (h *Handle) Debug() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.debug
}

// SetDoublePrecision selects whether XDRReal reads and writes 8-byte
// values. It matches the precision of the build that produced the file, not
// this process.
func (h *Handle) SetDoublePrecision(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.double = on
}

// DoublePrecision reports the precision selected for XDRReal.
func (h *Handle) DoublePrecision() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.double
}

// Flush drains the handle's write buffer to the operating system.
func (h *Handle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.flushLocked()
}

func (h *Handle) flushLocked() error {
	if h.w == nil {
		return nil
	}
	if err := h.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", h.name, err)
	}

	return nil
}

// Sync flushes the write buffer and asks the operating system to commit the
// file to stable storage.
func (h *Handle) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.syncLocked()
}

func (h *Handle) syncLocked() error {
	if err := h.flushLocked(); err != nil {
		return err
	}
	if h.stdio {
		return nil
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", h.name, err)
	}

	return nil
}

// Seek positions the file. The write buffer is flushed first so buffered
// bytes land before the reposition.
func (h *Handle) Seek(offset int64, whence int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.flushLocked(); err != nil {
		return err
	}
	if _, err := h.file.Seek(offset, whence); err != nil {
		return fmt.Errorf("seek %s: %w", h.name, err)
	}

	return nil
}

// Tell returns the current file offset, counting buffered but unwritten
// bytes.
func (h *Handle) Tell() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tellLocked()
}

func (h *Handle) tellLocked() (int64, error) {
	pos, err := h.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("tell %s: %w", h.name, err)
	}
	if h.w != nil {
		pos += int64(h.w.Buffered())
	}

	return pos, nil
}

// Rewind repositions the handle at the start of the file.
func (h *Handle) Rewind() error {
	return h.Seek(0, io.SeekStart)
}

// Write writes raw bytes through the handle's buffer.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.writeLocked(p)
}

func (h *Handle) writeLocked(p []byte) (int, error) {
	if h.w != nil {
		return h.w.Write(p)
	}

	return h.file.Write(p)
}

// Read reads raw bytes. Any buffered writes are flushed first so reads see
// a consistent file.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.readLocked(p)
}

func (h *Handle) readLocked(p []byte) (int, error) {
	if err := h.flushLocked(); err != nil {
		return 0, err
	}

	return h.file.Read(p)
}
