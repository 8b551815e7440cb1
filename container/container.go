// Package container implements the hierarchical on-disk container underneath
// trajectory archives.
//
// A container is a directory tree: groups are directories, identified by
// slash-separated paths. Three kinds of leaves live inside a group:
//
//   - time datasets (<name>.meta/.idx/.dat): chunked, extensible, typed
//     frame series with per-chunk compression and digests
//   - fixed datasets (<name>.fix): one-shot arrays for particle and topology
//     metadata
//   - record logs (<name>.log): append-only framed records (provenance)
//
// Each group additionally carries a small attribute table (.attrs). Dataset
// scoped attributes such as units use "dataset@name" keys in the owning
// group's table.
package container

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mdkit/trajio/endian"
	"github.com/mdkit/trajio/errs"
)

const (
	markerName    = "container.info"
	attrsName     = ".attrs"
	formatVersion = 1
)

var markerMagic = [4]byte{'T', 'R', 'J', 'C'}

var engine = endian.GetLittleEndianEngine()

// Container is one open archive directory. It is not safe for concurrent use
// by multiple goroutines; archive access is single-writer single-reader.
type Container struct {
	root     string
	readOnly bool
	closed   bool
}

// Create creates a new container at dir, backing up any existing one
// (renamed to #name.1#, #name.2#, ... next to it) before truncating.
func Create(dir string) (*Container, error) {
	if _, err := os.Stat(dir); err == nil {
		if err := backup(dir); err != nil {
			return nil, fmt.Errorf("backing up existing container: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	c := &Container{root: dir}
	if err := c.writeMarker(); err != nil {
		return nil, err
	}

	return c, nil
}

// Open opens an existing container. The marker file must be present and
// carry a known format version.
func Open(dir string, readOnly bool) (*Container, error) {
	c := &Container{root: dir, readOnly: readOnly}
	if err := c.checkMarker(); err != nil {
		return nil, err
	}

	return c, nil
}

// Root returns the container's directory.
func (c *Container) Root() string { return c.root }

// ReadOnly reports whether the container rejects writes.
func (c *Container) ReadOnly() bool { return c.readOnly }

// Close marks the container closed. Datasets opened from it are owned and
// closed by their callers. Closing twice is a no-op.
func (c *Container) Close() error {
	c.closed = true
	return nil
}

// EnsureGroup creates the group (and its ancestors) if missing and returns
// it. Fails on a read-only container if the group does not exist.
func (c *Container) EnsureGroup(groupPath string) (*Group, error) {
	if c.closed {
		return nil, errs.ErrStorageClosed
	}

	clean, err := cleanPath(groupPath)
	if err != nil {
		return nil, err
	}

	g := &Group{c: c, path: clean}
	if _, err := os.Stat(g.dir()); err == nil {
		return g, nil
	}
	if c.readOnly {
		return nil, fmt.Errorf("group %q: %w", groupPath, errs.ErrNotFound)
	}
	if err := os.MkdirAll(g.dir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating group %q: %w", groupPath, err)
	}

	return g, nil
}

// OpenGroup opens an existing group, or returns ErrNotFound.
func (c *Container) OpenGroup(groupPath string) (*Group, error) {
	if c.closed {
		return nil, errs.ErrStorageClosed
	}

	clean, err := cleanPath(groupPath)
	if err != nil {
		return nil, err
	}

	g := &Group{c: c, path: clean}
	info, err := os.Stat(g.dir())
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("group %q: %w", groupPath, errs.ErrNotFound)
	}

	return g, nil
}

func (c *Container) writeMarker() error {
	buf := append([]byte{}, markerMagic[:]...)
	buf = engine.AppendUint32(buf, formatVersion)

	return os.WriteFile(filepath.Join(c.root, markerName), buf, 0o644)
}

func (c *Container) checkMarker() error {
	data, err := os.ReadFile(filepath.Join(c.root, markerName))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidContainer, err)
	}
	if len(data) != 8 || string(data[:4]) != string(markerMagic[:]) {
		return fmt.Errorf("%w: bad marker", errs.ErrInvalidContainer)
	}
	if v := engine.Uint32(data[4:8]); v != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", errs.ErrInvalidContainer, v)
	}

	return nil
}

// Group is one node of the container hierarchy.
type Group struct {
	c    *Container
	path string // cleaned, no leading slash, "" for the root group
}

// Path returns the container-relative group path with a leading slash.
func (g *Group) Path() string { return "/" + g.path }

// Name returns the leaf name of the group.
func (g *Group) Name() string { return path.Base(g.path) }

func (g *Group) dir() string {
	return filepath.Join(g.c.root, filepath.FromSlash(g.path))
}

// cleanPath normalizes a slash-separated container path. Empty components
// and parent references are rejected.
func cleanPath(p string) (string, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("invalid container path %q", p)
	}

	return p, nil
}

// backup renames target to the first free "#name.N#" slot in its directory,
// mirroring the backup naming used by simulation tooling.
func backup(target string) error {
	dir, base := filepath.Split(filepath.Clean(target))
	for n := 1; n < 100; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("#%s.%d#", base, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return os.Rename(target, candidate)
		}
	}

	return fmt.Errorf("too many backups of %q", target)
}
