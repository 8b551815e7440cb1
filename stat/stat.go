// Package stat declares the file-layer interface the global reduction step
// depends on. The reduction routine runs between integration steps on every
// rank and, on checkpoint steps, needs the open output files flushed,
// snapshotted and synced; it does not otherwise care how file handles are
// managed. Keeping the dependency as an interface lets the reduction code
// be tested against a fake file layer.
package stat

import "github.com/mdkit/trajio/fileio"

// FileStateProvider is the slice of the file handle registry visible to the
// global reduction step.
type FileStateProvider interface {
	// OpenOutputFiles snapshots the name, write position and tail checksum
	// of every open output file, for checkpoint consistency checks.
	OpenOutputFiles() ([]fileio.OutputFileState, error)

	// SyncAll commits every open file to stable storage, returning the
	// first handle whose sync failed, or nil.
	SyncAll() *fileio.Handle

	// NumOpenFiles reports how many handles are currently registered.
	NumOpenFiles() int
}

var _ FileStateProvider = (*fileio.Registry)(nil)
