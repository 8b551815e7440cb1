package fileio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mdkit/trajio/internal/options"
)

// Registry is the process-wide table of open file handles. Handles form a
// circular doubly-linked list around a sentinel node; the sentinel makes
// insertion and removal branch-free and gives traversals a fixed stopping
// point. The structural mutex guards the links and is held for entire
// traversals, so snapshots observe a frozen list while per-handle locks are
// handed from node to node.
type Registry struct {
	mu       sync.Mutex
	sentinel *Handle
	nextSeq  int
	logger   *zap.Logger
}

// Option configures a Registry.
type Option = options.Option[*Registry]

// WithLogger attaches a structured logger. The default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return options.NoError(func(r *Registry) {
		r.logger = logger
	})
}

// NewRegistry creates an empty registry. Most code uses Default instead;
// separate registries exist for tests.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{logger: zap.NewNop()}
	if err := options.Apply(r, opts...); err != nil {
		panic(err)
	}

	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the shared process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})

	return defaultRegistry
}

// sentinelLocked lazily creates the sentinel. Callers hold r.mu.
func (r *Registry) sentinelLocked() *Handle {
	if r.sentinel == nil {
		s := &Handle{seq: -1}
		s.next = s
		s.prev = s
		r.sentinel = s
	}

	return r.sentinel
}

// parseMode validates an fopen-style mode string: a base of r, r+, w, w+, a
// or a+, with at most one optional b. A malformed mode is a programming
// error in the caller, not a runtime condition, so it panics.
func parseMode(mode string) string {
	base := mode
	if i := strings.IndexByte(base, 'b'); i >= 0 {
		base = base[:i] + base[i+1:]
	}
	switch base {
	case "r", "r+", "w", "w+", "a", "a+":
		return base
	default:
		panic(fmt.Sprintf("fileio: unknown file mode %q", mode))
	}
}

// Open opens path with an fopen-style mode and registers the handle. An
// empty path yields a stdio handle: standard input for read mode,
// standard output otherwise, used when tools pipe structured data through
// the terminal.
//
// Write modes are opened read-write underneath so that checkpoint snapshots
// can read back trailing bytes for checksumming. Opening an existing file
// in mode "w" renames it to a numbered backup first instead of destroying
// it.
func (r *Registry) Open(path, mode string) (*Handle, error) {
	base := parseMode(mode)

	h := &Handle{
		name:  path,
		mode:  base,
		ftype: TypeForName(path),
	}

	if path == "" {
		h.stdio = true
		if base == "r" {
			h.file = os.Stdin
			h.readOnly = true
			h.xdrDir = xdrDecode
		} else {
			h.file = os.Stdout
			h.w = bufio.NewWriter(os.Stdout)
			h.readWrite = true
			h.xdrDir = xdrEncode
		}
	} else {
		var flag int
		switch base {
		case "r":
			flag = os.O_RDONLY
			h.readOnly = true
			h.xdrDir = xdrDecode
		case "r+":
			flag = os.O_RDWR
			h.readWrite = true
			h.xdrDir = xdrEncode
		case "w", "w+":
			flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
			h.readWrite = true
			h.xdrDir = xdrEncode
		case "a", "a+":
			flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
			h.readWrite = true
			h.xdrDir = xdrEncode
		}

		if base == "w" || base == "w+" {
			if _, err := os.Stat(path); err == nil {
				if err := makeBackup(path); err != nil {
					return nil, err
				}
				r.logger.Info("backed up existing file", zap.String("name", path))
			}
		}

		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		h.file = f
		if !h.readOnly {
			h.w = bufio.NewWriter(f)
		}
	}

	r.insert(h)
	r.logger.Debug("file opened",
		zap.String("name", path),
		zap.String("mode", mode),
		zap.Stringer("type", h.ftype),
		zap.Int("seq", h.seq))

	return h, nil
}

// insert links h in front of the sentinel (at the list tail). Lock order is
// fixed: target handle, then sentinel, then the sentinel's previous
// neighbor, released in reverse. Every structural operation uses this order
// so two concurrent insertions cannot deadlock.
func (r *Registry) insert(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sentinelLocked()

	h.mu.Lock()
	s.mu.Lock()
	tail := s.prev
	if tail != s {
		tail.mu.Lock()
	}

	h.next = s
	h.prev = tail
	tail.next = h
	s.prev = h
	h.seq = r.nextSeq
	h.opened = true
	r.nextSeq++

	if tail != s {
		tail.mu.Unlock()
	}
	s.mu.Unlock()
	h.mu.Unlock()
}

// unlink removes h from the list. Callers hold r.mu.
func (r *Registry) unlink(h *Handle) {
	h.mu.Lock()
	s := r.sentinelLocked()
	s.mu.Lock()
	prev, next := h.prev, h.next
	if prev != s && prev != h {
		prev.mu.Lock()
	}

	prev.next = next
	next.prev = prev
	h.prev = nil
	h.next = nil

	if prev != s && prev != h {
		prev.mu.Unlock()
	}
	s.mu.Unlock()
	h.mu.Unlock()
}

// Close flushes, closes and unregisters a handle. Closing a handle twice is
// a bug in handle bookkeeping that would silently corrupt the next file to
// reuse the descriptor, so it panics rather than returning an error.
func (r *Registry) Close(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !h.opened {
		panic(fmt.Sprintf("fileio: handle for %q closed twice", h.name))
	}
	h.opened = false

	var err error
	h.mu.Lock()
	if flushErr := h.flushLocked(); flushErr != nil {
		err = flushErr
	}
	if !h.stdio {
		if closeErr := h.file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", h.name, closeErr)
		}
	}
	h.mu.Unlock()

	r.unlink(h)
	r.logger.Debug("file closed", zap.String("name", h.name), zap.Int("seq", h.seq))

	return err
}

// CloseByFile closes the registered handle wrapping f. It errors when f is
// not registered, which usually means the file was opened behind the
// registry's back.
func (r *Registry) CloseByFile(f *os.File) error {
	r.mu.Lock()
	var target *Handle
	for h := r.sentinelLocked().next; h != r.sentinel; h = h.next {
		if h.file == f {
			target = h
			break
		}
	}
	r.mu.Unlock()

	if target == nil {
		return fmt.Errorf("fileio: no registered handle for %s", f.Name())
	}

	return r.Close(target)
}

// NumOpenFiles returns the number of registered handles.
func (r *Registry) NumOpenFiles() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for h := r.sentinelLocked().next; h != r.sentinel; h = h.next {
		n++
	}

	return n
}

// first begins a traversal: it takes the structural lock and returns the
// first handle with its lock held, or nil after releasing the structural
// lock when the list is empty. The structural lock stays held until the
// traversal finishes via next returning nil, or stopTraversal.
func (r *Registry) first() *Handle {
	r.mu.Lock()
	s := r.sentinelLocked()
	if s.next == s {
		r.mu.Unlock()
		return nil
	}
	h := s.next
	h.mu.Lock()

	return h
}

// next hands the traversal to the following handle: it releases h's lock,
// and either returns the next handle locked or, at the end of the list,
// releases the structural lock and returns nil.
func (r *Registry) next(h *Handle) *Handle {
	n := h.next
	h.mu.Unlock()
	if n == r.sentinel {
		r.mu.Unlock()
		return nil
	}
	n.mu.Lock()

	return n
}

// stopTraversal abandons a traversal early, releasing h's lock and the
// structural lock.
func (r *Registry) stopTraversal(h *Handle) {
	h.mu.Unlock()
	r.mu.Unlock()
}

// SyncAll flushes and fsyncs every registered handle and returns the first
// handle whose sync failed, or nil when all succeeded. It keeps going past
// failures so one bad descriptor does not leave later files unsynced.
// Standard output and error are flushed best-effort alongside.
func (r *Registry) SyncAll() *Handle {
	var failed *Handle
	for h := r.first(); h != nil; h = r.next(h) {
		if err := h.syncLocked(); err != nil {
			r.logger.Error("sync failed", zap.String("name", h.name), zap.Error(err))
			if failed == nil {
				failed = h
			}
		}
	}

	os.Stdout.Sync()
	os.Stderr.Sync()

	return failed
}

// makeBackup renames target to the first free #name.N# slot next to it,
// mirroring the container layer's backup naming.
func makeBackup(target string) error {
	dir, base := filepath.Split(filepath.Clean(target))
	for n := 1; n < 100; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("#%s.%d#", base, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return os.Rename(target, candidate)
		}
	}

	return fmt.Errorf("too many backups of %q", target)
}
