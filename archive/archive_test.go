package archive

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdkit/trajio/errs"
	"github.com/mdkit/trajio/format"
)

func tempArchiveDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "run.traj")
}

func rampFrame(n int, offset float64) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = offset + float64(i)
	}

	return data
}

func TestEndToEndWriteReopenRead(t *testing.T) {
	dir := tempArchiveDir(t)
	const numParticles = 100

	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)

	path := "/particles/system/position"
	for step := int64(0); step < 5; step++ {
		data := rampFrame(numParticles*3, float64(step))
		err := a.WriteDataFrame(step, float64(step), path,
			numParticles, 3, data, "nm", 10, format.CompressionLossless, 0)
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())

	r, err := Open(dir, ModeRead)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, int64(5), r.NumFrames("position", "system"))
	require.Equal(t, int64(numParticles), r.NumParticles("position", "system"))
	require.Equal(t, 0.0, r.FirstTime("position", "system"))
	require.Equal(t, 4.0, r.FinalTime("position", "system"))

	buf := make([]float64, numParticles*3)
	for step := int64(0); step < 5; step++ {
		ok, err := r.ReadNextFrameOfDataBlock(path, buf, -1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rampFrame(numParticles*3, float64(step)), buf)
	}
	ok, err := r.ReadNextFrameOfDataBlock(path, buf, -1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAppendMonotonicity(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	defer a.Close()

	path := "/particles/system/position"
	const frames = 7
	for step := int64(0); step < frames; step++ {
		err := a.WriteDataFrame(step*10, float64(step)*0.5, path,
			2, 3, rampFrame(6, float64(step)), "nm", 3, format.CompressionLossless, 0)
		require.NoError(t, err)
	}

	blk := a.Block(path)
	require.Equal(t, int64(frames), blk.WritingFrameIndex())
	for i := int64(0); i < frames; i++ {
		step, err := blk.StepOfFrame(i)
		require.NoError(t, err)
		require.Equal(t, i*10, step)

		tm, err := blk.TimeOfFrame(i)
		require.NoError(t, err)
		require.Equal(t, float64(i)*0.5, tm)
	}
}

func TestSingleCreationInvariant(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	defer a.Close()

	path := "/observables/lambda"
	for step := int64(0); step < 2; step++ {
		err := a.WriteDataFrame(step, float64(step), path,
			1, 1, []float64{0.5}, "", 20, format.CompressionLossless, 0)
		require.NoError(t, err)
	}

	require.Equal(t, 1, a.NumBlocks())
	require.Equal(t, int64(2), a.Block(path).NumFrames())
}

func TestDiscoveryIdempotence(t *testing.T) {
	dir := tempArchiveDir(t)
	paths := []string{
		"/particles/system/position",
		"/particles/system/force",
		"/observables/lambda",
	}

	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)
	for _, p := range paths {
		for step := int64(0); step < 10; step++ {
			err := a.WriteDataFrame(step, float64(step), p,
				2, 3, rampFrame(6, float64(step)), "nm", 4, format.CompressionLosslessShuffle, 0)
			require.NoError(t, err)
		}
	}
	require.NoError(t, a.Close())

	b, err := Open(dir, ModeAppend)
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, len(paths), b.NumBlocks())
	for _, p := range paths {
		blk := b.Block(p)
		require.NotNil(t, blk, p)
		require.Equal(t, int64(10), blk.WritingFrameIndex(), p)
		require.Equal(t, p, blk.FullPath())
	}

	// Appending continues at the reconstructed high-water mark.
	err = b.WriteDataFrame(10, 10, paths[0], 2, 3, rampFrame(6, 10), "nm", 4, format.CompressionLosslessShuffle, 0)
	require.NoError(t, err)
	require.Equal(t, int64(11), b.Block(paths[0]).NumFrames())
}

func TestStepFilteredRead(t *testing.T) {
	dir := tempArchiveDir(t)
	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)

	for _, p := range []string{"/particles/system/position", "/particles/system/force"} {
		for _, step := range []int64{0, 10, 20} {
			err := a.WriteDataFrame(step, float64(step), p,
				1, 3, rampFrame(3, float64(step)), "nm", 5, format.CompressionLossless, 0)
			require.NoError(t, err)
		}
	}
	require.NoError(t, a.Close())

	r, err := Open(dir, ModeRead)
	require.NoError(t, err)
	defer r.Close()

	step, tm, err := r.NextStepAndTimeToRead()
	require.NoError(t, err)
	require.Equal(t, int64(0), step)
	require.Equal(t, 0.0, tm)

	buf := make([]float64, 3)

	// A block not yet at the requested step is skipped without error.
	ok, err := r.ReadNextFrameOfDataBlock("/particles/system/position", buf, 10)
	require.NoError(t, err)
	require.False(t, ok)

	for _, p := range []string{"/particles/system/position", "/particles/system/force"} {
		ok, err := r.ReadNextFrameOfDataBlock(p, buf, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}

	step, _, err = r.NextStepAndTimeToRead()
	require.NoError(t, err)
	require.Equal(t, int64(10), step)

	// An unknown block reads as absent, not as an error.
	ok, err = r.ReadNextFrameOfDataBlock("/particles/system/velocity", buf, 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextStepExhausted(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	defer a.Close()

	step, _, err := a.NextStepAndTimeToRead()
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), step)
}

func TestWriteDataFrameContractViolations(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	defer a.Close()

	require.Panics(t, func() {
		a.WriteDataFrame(0, 0, "/observables/x", 1, 1, nil, "", 1, format.CompressionNone, 0)
	})
	require.Panics(t, func() {
		a.WriteDataFrame(0, 0, "/observables/x", 0, 3, []float64{}, "", 1, format.CompressionNone, 0)
	})
}

func TestWriteToReadOnlyArchive(t *testing.T) {
	dir := tempArchiveDir(t)
	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	r, err := Open(dir, ModeRead)
	require.NoError(t, err)
	defer r.Close()

	err = r.WriteDataFrame(0, 0, "/observables/x", 1, 1, []float64{1}, "", 1, format.CompressionNone, 0)
	require.ErrorIs(t, err, errs.ErrReadOnly)
}

func TestLossyBlockRoundTripWithinBound(t *testing.T) {
	dir := tempArchiveDir(t)
	const bound = 1e-3

	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)

	path := "/particles/system/position"
	data := rampFrame(30, 0.123)
	err = a.WriteDataFrame(0, 0, path, 10, 3, data, "nm", 20, format.CompressionLossy, bound)
	require.NoError(t, err)
	require.Equal(t, bound, a.LossyErrorOfBlock(path))
	require.NoError(t, a.Close())

	r, err := Open(dir, ModeRead)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, bound, r.LossyErrorOfBlock(path))

	buf := make([]float64, 30)
	ok, err := r.ReadNextFrameOfDataBlock(path, buf, -1)
	require.NoError(t, err)
	require.True(t, ok)
	for i := range data {
		require.InDelta(t, data[i], buf[i], bound)
	}
}

func TestWritingInterval(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	defer a.Close()

	path := "/particles/system/position"
	require.NoError(t, a.WriteDataFrame(0, 0, path, 1, 3, rampFrame(3, 0), "nm", 5, format.CompressionLossless, 0))

	blk := a.Block(path)
	require.NotNil(t, blk)
	blk.SetWritingInterval(10)

	require.NoError(t, blk.WriteFrame(rampFrame(3, 1), 10, 1))
	require.NoError(t, blk.WriteFrame(rampFrame(3, 2), 20, 2))
	// An off-cadence step lands in its truncated slot instead of failing.
	require.NoError(t, blk.WriteFrame(rampFrame(3, 3), 25, 2.5))

	require.Equal(t, int64(3), blk.NumFrames())
	step, err := blk.StepOfFrame(2)
	require.NoError(t, err)
	require.Equal(t, int64(25), step)
}

func TestAuthorCreatorAndVersion(t *testing.T) {
	dir := tempArchiveDir(t)
	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)

	require.NoError(t, a.SetAuthor("jdoe"))
	require.NoError(t, a.SetCreatorProgramName("mdkit"))
	require.NoError(t, a.SetCreatorProgramVersion("2026.3"))
	require.NoError(t, a.Close())

	r, err := Open(dir, ModeRead)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, "jdoe", r.Author())
	require.Equal(t, "mdkit", r.CreatorProgramName())
	require.Equal(t, "2026.3", r.CreatorProgramVersion())
	require.Equal(t, archiveVersion, r.Version())
}

func TestProvenanceGrowsPerSession(t *testing.T) {
	dir := tempArchiveDir(t)

	a, err := Open(dir, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, a.Flush())
	require.NoError(t, a.Close())

	b, err := Open(dir, ModeAppend)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	r, err := Open(dir, ModeRead)
	require.NoError(t, err)
	defer r.Close()

	records, err := r.Provenance()
	require.NoError(t, err)
	// Flush + two closes, appended never overwritten.
	require.Len(t, records, 3)
	require.Equal(t, "checkpoint flush", records[0].Comment)
	require.Equal(t, "archive closed", records[1].Comment)
	require.NotEmpty(t, records[0].CommandLine)
	require.False(t, records[0].Time.IsZero())
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	err = a.WriteDataFrame(0, 0, "/observables/x", 1, 1, []float64{1}, "", 1, format.CompressionNone, 0)
	require.ErrorIs(t, err, errs.ErrStorageClosed)
}

func TestFirstFinalTimeAcrossBlocks(t *testing.T) {
	a, err := Open(tempArchiveDir(t), ModeWrite)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, -1.0, a.FirstTimeFromAllDataBlocks())
	require.Equal(t, -1.0, a.FinalTimeFromAllDataBlocks())

	require.NoError(t, a.WriteDataFrame(5, 2.5, "/particles/system/position",
		1, 3, rampFrame(3, 0), "nm", 5, format.CompressionLossless, 0))
	require.NoError(t, a.WriteDataFrame(0, 0.5, "/observables/lambda",
		1, 1, []float64{0.1}, "", 5, format.CompressionLossless, 0))
	require.NoError(t, a.WriteDataFrame(10, 5.0, "/observables/lambda",
		1, 1, []float64{0.2}, "", 5, format.CompressionLossless, 0))

	require.Equal(t, 0.5, a.FirstTimeFromAllDataBlocks())
	require.Equal(t, 5.0, a.FinalTimeFromAllDataBlocks())
	require.Equal(t, -1.0, a.FirstTime("velocity", "system"))
}
