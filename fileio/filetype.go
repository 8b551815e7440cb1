// Package fileio provides the process-wide file handle registry used by the
// simulation I/O layer: every file the engine holds open is tracked in one
// shared structure so checkpointing can snapshot and fsync all output files
// at once, regardless of which subsystem opened them.
package fileio

import (
	"path/filepath"
	"strings"
)

// FileType classifies a handle by its on-disk encoding. XDR files carry
// big-endian 4-byte-unit records and get the portable codec attached at open
// time; ASCII and binary handles are plain buffered files.
type FileType uint8

const (
	// FileTypeBinary is raw native binary, the default for unknown
	// extensions.
	FileTypeBinary FileType = iota
	// FileTypeASCII is line-oriented text.
	FileTypeASCII
	// FileTypeXDR is portable big-endian record data.
	FileTypeXDR
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case FileTypeASCII:
		return "ascii"
	case FileTypeXDR:
		return "xdr"
	default:
		return "binary"
	}
}

// checkpointExt marks checkpoint files, which are excluded from output file
// snapshots: the snapshot describes the files a checkpoint must restore, and
// the checkpoint cannot usefully describe itself.
const checkpointExt = ".cpt"

var extTypes = map[string]FileType{
	".tpr": FileTypeXDR,
	".trr": FileTypeXDR,
	".edr": FileTypeXDR,
	".xtc": FileTypeXDR,
	".cpt": FileTypeXDR,
	".mtx": FileTypeXDR,

	".gro": FileTypeASCII,
	".pdb": FileTypeASCII,
	".top": FileTypeASCII,

	".trj": FileTypeBinary,
	".tpb": FileTypeBinary,
}

// TypeForName classifies a file path by extension. Unknown extensions are
// treated as binary.
func TypeForName(name string) FileType {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extTypes[ext]; ok {
		return t
	}

	return FileTypeBinary
}

func isCheckpointName(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == checkpointExt
}
