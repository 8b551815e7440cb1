package fileio

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestTypeForName(t *testing.T) {
	tests := []struct {
		name string
		want FileType
	}{
		{"topol.tpr", FileTypeXDR},
		{"traj.trr", FileTypeXDR},
		{"ener.edr", FileTypeXDR},
		{"traj.xtc", FileTypeXDR},
		{"state.cpt", FileTypeXDR},
		{"conf.gro", FileTypeASCII},
		{"prot.pdb", FileTypeASCII},
		{"topol.top", FileTypeASCII},
		{"traj.trj", FileTypeBinary},
		{"out.unknown", FileTypeBinary},
		{"TRAJ.XTC", FileTypeXDR},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TypeForName(tt.name), tt.name)
	}
}

func TestParseMode(t *testing.T) {
	for _, mode := range []string{"r", "r+", "w", "w+", "a", "a+", "rb", "wb", "ab"} {
		require.NotPanics(t, func() { parseMode(mode) }, mode)
	}
	for _, mode := range []string{"", "x", "rw", "w++", "rbb", "brb"} {
		require.Panics(t, func() { parseMode(mode) }, mode)
	}
}

func TestStdioHandleFollowsMode(t *testing.T) {
	r := NewRegistry()

	in, err := r.Open("", "r")
	require.NoError(t, err)
	require.True(t, in.IsStdio())
	require.True(t, in.IsReadOnly())
	require.False(t, in.IsReadWrite())
	require.Same(t, os.Stdin, in.File())

	out, err := r.Open("", "w")
	require.NoError(t, err)
	require.True(t, out.IsStdio())
	require.False(t, out.IsReadOnly())
	require.True(t, out.IsReadWrite())
	require.Same(t, os.Stdout, out.File())

	require.NoError(t, r.Close(in))
	require.NoError(t, r.Close(out))
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	r := NewRegistry()
	path := filepath.Join(t.TempDir(), "out.trj")

	h, err := r.Open(path, "w")
	require.NoError(t, err)
	require.Equal(t, FileTypeBinary, h.Type())
	require.False(t, h.IsReadOnly())

	_, err = h.Write([]byte("abcdefgh"))
	require.NoError(t, err)

	pos, err := h.Tell()
	require.NoError(t, err)
	require.Equal(t, int64(8), pos) // buffered bytes count

	require.NoError(t, h.Rewind())
	buf := make([]byte, 8)
	_, err = h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdefgh"), buf)

	require.NoError(t, r.Close(h))
	require.Equal(t, 0, r.NumOpenFiles())
}

func TestOpenMissingFileForRead(t *testing.T) {
	r := NewRegistry()
	_, err := r.Open(filepath.Join(t.TempDir(), "absent.trr"), "r")
	require.Error(t, err)
	require.Equal(t, 0, r.NumOpenFiles())
}

func TestDoubleCloseIsFatal(t *testing.T) {
	r := NewRegistry()
	h, err := r.Open(filepath.Join(t.TempDir(), "out.trj"), "w")
	require.NoError(t, err)
	require.NoError(t, r.Close(h))
	require.Panics(t, func() { r.Close(h) })
}

func TestDoubleOpenSamePathAllowed(t *testing.T) {
	r := NewRegistry()
	path := filepath.Join(t.TempDir(), "shared.trj")

	h1, err := r.Open(path, "w")
	require.NoError(t, err)
	h2, err := r.Open(path, "a")
	require.NoError(t, err)
	require.NotEqual(t, h1.Seq(), h2.Seq())
	require.Equal(t, 2, r.NumOpenFiles())

	require.NoError(t, r.Close(h1))
	require.NoError(t, r.Close(h2))
}

func TestBackupOnWriteOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traj.trr")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	r := NewRegistry()
	h, err := r.Open(path, "w")
	require.NoError(t, err)
	require.NoError(t, r.Close(h))

	backed, err := os.ReadFile(filepath.Join(dir, "#traj.trr.1#"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), backed)
}

func TestCloseByFile(t *testing.T) {
	r := NewRegistry()
	h, err := r.Open(filepath.Join(t.TempDir(), "out.trj"), "w")
	require.NoError(t, err)

	require.NoError(t, r.CloseByFile(h.File()))
	require.Equal(t, 0, r.NumOpenFiles())

	f, err := os.CreateTemp(t.TempDir(), "unregistered")
	require.NoError(t, err)
	defer f.Close()
	require.Error(t, r.CloseByFile(f))
}

func TestConcurrentOpenCloseKeepsListIntact(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	dir := t.TempDir()

	const workers = 8
	const perWorker = 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h, err := r.Open(filepath.Join(dir, "f.trj"), "a")
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := h.Write([]byte{byte(w)}); err != nil {
					t.Error(err)
					return
				}
				if err := r.Close(h); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// The circular list must be empty and consistent afterwards.
	require.Equal(t, 0, r.NumOpenFiles())
	r.mu.Lock()
	s := r.sentinelLocked()
	require.Same(t, s, s.next)
	require.Same(t, s, s.prev)
	r.mu.Unlock()
}

func TestConcurrentHandleOpsDoNotContendStructurally(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	dir := t.TempDir()

	handles := make([]*Handle, 4)
	for i := range handles {
		h, err := r.Open(filepath.Join(dir, "f"+string(rune('a'+i))+".trj"), "w")
		require.NoError(t, err)
		handles[i] = h
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := h.Write([]byte("data")); err != nil {
					t.Error(err)
					return
				}
				if err := h.Flush(); err != nil {
					t.Error(err)
					return
				}
			}
		}(h)
	}
	wg.Wait()

	for _, h := range handles {
		pos, err := h.Tell()
		require.NoError(t, err)
		require.Equal(t, int64(400), pos)
		require.NoError(t, r.Close(h))
	}
}

func TestOpenOutputFilesSnapshot(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	out, err := r.Open(filepath.Join(dir, "traj.trr"), "w")
	require.NoError(t, err)
	_, err = out.Write([]byte("eight by"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.gro"), []byte("input"), 0o644))
	in, err := r.Open(filepath.Join(dir, "in.gro"), "r")
	require.NoError(t, err)

	cpt, err := r.Open(filepath.Join(dir, "state.cpt"), "w")
	require.NoError(t, err)

	stdio, err := r.Open("", "w")
	require.NoError(t, err)

	states, err := r.OpenOutputFiles()
	require.NoError(t, err)
	require.Len(t, states, 1) // read, checkpoint and stdio handles skipped

	state := states[0]
	require.Equal(t, out.Name(), state.Name)
	require.Equal(t, int64(8), state.Offset)
	require.Equal(t, int64(8), state.ChecksumSize)
	require.NotZero(t, state.Checksum)

	// The snapshot must not disturb the write position.
	pos, err := out.Tell()
	require.NoError(t, err)
	require.Equal(t, int64(8), pos)

	for _, h := range []*Handle{out, in, cpt, stdio} {
		require.NoError(t, r.Close(h))
	}
}

func TestSyncAll(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	h1, err := r.Open(filepath.Join(dir, "a.trj"), "w")
	require.NoError(t, err)
	h2, err := r.Open(filepath.Join(dir, "b.trj"), "w")
	require.NoError(t, err)

	_, err = h1.Write([]byte("payload"))
	require.NoError(t, err)

	require.Nil(t, r.SyncAll())

	data, err := os.ReadFile(filepath.Join(dir, "a.trj"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	require.NoError(t, r.Close(h1))
	require.NoError(t, r.Close(h2))
}

func TestSyncAllReportsFirstFailure(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	bad, err := r.Open(filepath.Join(dir, "a.trj"), "w")
	require.NoError(t, err)
	good, err := r.Open(filepath.Join(dir, "b.trj"), "w")
	require.NoError(t, err)

	_, err = good.Write([]byte("kept"))
	require.NoError(t, err)

	// Kill the descriptor behind the first handle so its fsync fails.
	require.NoError(t, bad.File().Close())

	require.Same(t, bad, r.SyncAll())

	// The failure must not have stopped the traversal.
	data, err := os.ReadFile(filepath.Join(dir, "b.trj"))
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), data)

	require.Error(t, r.Close(bad))
	require.NoError(t, r.Close(good))
}

func TestXDRRoundTrip(t *testing.T) {
	r := NewRegistry()
	path := filepath.Join(t.TempDir(), "rec.edr")

	w, err := r.Open(path, "w")
	require.NoError(t, err)

	i32 := int32(-7)
	i64 := int64(1) << 40
	f32 := float32(2.5)
	f64 := 3.25
	s := "mdkit"
	opaque := []byte{1, 2, 3, 4, 5} // padded to 8 on the wire

	require.NoError(t, w.XDRInt32(&i32))
	require.NoError(t, w.XDRInt64(&i64))
	require.NoError(t, w.XDRFloat32(&f32))
	require.NoError(t, w.XDRFloat64(&f64))
	require.NoError(t, w.XDRString(&s))
	require.NoError(t, w.XDROpaque(opaque))
	require.NoError(t, r.Close(w))

	rd, err := r.Open(path, "r")
	require.NoError(t, err)

	var (
		gotI32    int32
		gotI64    int64
		gotF32    float32
		gotF64    float64
		gotS      string
		gotOpaque = make([]byte, 5)
	)
	require.NoError(t, rd.XDRInt32(&gotI32))
	require.NoError(t, rd.XDRInt64(&gotI64))
	require.NoError(t, rd.XDRFloat32(&gotF32))
	require.NoError(t, rd.XDRFloat64(&gotF64))
	require.NoError(t, rd.XDRString(&gotS))
	require.NoError(t, rd.XDROpaque(gotOpaque))

	require.Equal(t, i32, gotI32)
	require.Equal(t, i64, gotI64)
	require.Equal(t, f32, gotF32)
	require.Equal(t, f64, gotF64)
	require.Equal(t, s, gotS)
	require.Equal(t, opaque, gotOpaque)

	require.NoError(t, r.Close(rd))
}

func TestXDRRealPrecision(t *testing.T) {
	r := NewRegistry()
	path := filepath.Join(t.TempDir(), "rec.trr")

	w, err := r.Open(path, "w")
	require.NoError(t, err)

	v := 1.5
	require.NoError(t, w.XDRReal(&v)) // single precision: 4 bytes
	w.SetDoublePrecision(true)
	require.NoError(t, w.XDRReal(&v)) // double precision: 8 bytes
	require.NoError(t, w.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(12), info.Size())
	require.NoError(t, r.Close(w))
}

func TestXDROnNonXDRFile(t *testing.T) {
	r := NewRegistry()
	h, err := r.Open(filepath.Join(t.TempDir(), "plain.trj"), "w")
	require.NoError(t, err)
	defer r.Close(h)

	var v int32
	require.Error(t, h.XDRInt32(&v))
}

func TestDefaultRegistryIsSingleton(t *testing.T) {
	require.Same(t, Default(), Default())
}
