// Package trajio is the trajectory I/O layer of a molecular dynamics
// engine: it records per-step particle data (positions, velocities, forces,
// box, coupling parameters) into self-describing archives and plays them
// back, on top of the archive and container packages. The fileio package
// tracks legacy-format file handles for the same engine.
//
// This package holds the policy layer: which quantities go to which archive
// paths, with which units, chunking and compression. Code that needs more
// control writes through archive.Archive directly.
package trajio

import (
	"math"

	"github.com/mdkit/trajio/archive"
	"github.com/mdkit/trajio/container"
	"github.com/mdkit/trajio/format"
)

// Units of the standard trajectory quantities.
const (
	UnitLength   = "nm"
	UnitTime     = "ps"
	UnitVelocity = "nm ps-1"
	UnitForce    = "kJ mol-1 nm-1"
)

// Standard block names under /particles/<selection>.
const (
	PositionBlockName = "position"
	VelocityBlockName = "velocity"
	ForceBlockName    = "force"
	BoxBlockName      = "box/edges"
	LambdaBlockPath   = "/observables/lambda"
)

// slowGrowingChunkFrames is the chunk depth for quantities written on a slow
// cadence relative to their size (box, lambda, compressed positions).
// Grouping frames amortizes per-chunk overhead and feeds the compressor
// longer runs.
const slowGrowingChunkFrames = 20

// targetChunkValues caps how many values a compressed position chunk may
// hold, so chunk depth shrinks for very large systems and a chunk stays
// within cache-friendly bounds.
const targetChunkValues = 5_000_000

// positionChunkFrames picks the chunk depth for lossy-compressed positions:
// up to slowGrowingChunkFrames, less when the system is large.
func positionChunkFrames(numParticles int) int {
	frames := int(math.Ceil(float64(targetChunkValues) / float64(numParticles*3)))
	if frames > slowGrowingChunkFrames {
		return slowGrowingChunkFrames
	}
	if frames < 1 {
		return 1
	}

	return frames
}

// Frame is one trajectory frame. Nil quantity slices mean "not present":
// absent on write, not recorded at this step on read. Lambda follows the
// same convention with a nil pointer.
type Frame struct {
	Step       int64
	Time       float64
	Positions  []float64 // 3N, nm
	Velocities []float64 // 3N, nm ps-1
	Forces     []float64 // 3N, kJ mol-1 nm-1
	Box        []float64 // 3x3 row-major, nm
	Lambda     *float64
}

// WriteTrajectoryFrame appends the present quantities of frame to their
// standard blocks for the named selection, creating blocks on first use.
//
// Positions compress lossily with the given absolute error bound when
// lossyError is positive, and losslessly otherwise. Velocities and forces
// always compress losslessly with byte shuffling; they feed back into
// integration on restart and cannot tolerate rounding.
func WriteTrajectoryFrame(a *archive.Archive, selection string, numParticles int, frame Frame, lossyError float64) error {
	if frame.Lambda != nil {
		err := a.WriteDataFrame(frame.Step, frame.Time, LambdaBlockPath,
			1, 1, []float64{*frame.Lambda}, "",
			slowGrowingChunkFrames, format.CompressionLossless, 0)
		if err != nil {
			return err
		}
	}

	if frame.Box != nil {
		err := a.WriteDataFrame(frame.Step, frame.Time, particleBlockPath(selection, BoxBlockName),
			3, 3, frame.Box, UnitLength,
			slowGrowingChunkFrames, format.CompressionLossless, 0)
		if err != nil {
			return err
		}
	}

	if frame.Positions != nil {
		compression := format.CompressionLosslessShuffle
		framesPerChunk := 1
		if lossyError > 0 {
			compression = format.CompressionLossy
			framesPerChunk = positionChunkFrames(numParticles)
		}
		err := a.WriteDataFrame(frame.Step, frame.Time, particleBlockPath(selection, PositionBlockName),
			numParticles, 3, frame.Positions, UnitLength,
			framesPerChunk, compression, lossyError)
		if err != nil {
			return err
		}
	}

	if frame.Velocities != nil {
		err := a.WriteDataFrame(frame.Step, frame.Time, particleBlockPath(selection, VelocityBlockName),
			numParticles, 3, frame.Velocities, UnitVelocity,
			1, format.CompressionLosslessShuffle, 0)
		if err != nil {
			return err
		}
	}

	if frame.Forces != nil {
		err := a.WriteDataFrame(frame.Step, frame.Time, particleBlockPath(selection, ForceBlockName),
			numParticles, 3, frame.Forces, UnitForce,
			1, format.CompressionLosslessShuffle, 0)
		if err != nil {
			return err
		}
	}

	return nil
}

// ReadNextTrajectoryFrame reads the next frame in step order, gathering
// every standard quantity recorded at that step. Quantities on a slower
// cadence stay nil in the returned frame. It returns false when every block
// is exhausted.
func ReadNextTrajectoryFrame(a *archive.Archive, selection string) (Frame, bool, error) {
	step, t, err := a.NextStepAndTimeToRead()
	if err != nil {
		return Frame{}, false, err
	}
	if step == math.MaxInt64 {
		return Frame{}, false, nil
	}
	frame := Frame{Step: step, Time: t}

	lambda := make([]float64, 1)
	ok, err := a.ReadNextFrameOfDataBlock(LambdaBlockPath, lambda, step)
	if err != nil {
		return frame, false, err
	}
	if ok {
		frame.Lambda = &lambda[0]
	}

	box := make([]float64, 9)
	ok, err = a.ReadNextFrameOfDataBlock(particleBlockPath(selection, BoxBlockName), box, step)
	if err != nil {
		return frame, false, err
	}
	if ok {
		frame.Box = box
	}

	for _, q := range []struct {
		name string
		dst  *[]float64
	}{
		{PositionBlockName, &frame.Positions},
		{VelocityBlockName, &frame.Velocities},
		{ForceBlockName, &frame.Forces},
	} {
		path := particleBlockPath(selection, q.name)
		b := a.Block(path)
		if b == nil {
			continue
		}
		buf := make([]float64, b.NumEntries()*b.ValuesPerEntry())
		ok, err := a.ReadNextFrameOfDataBlock(path, buf, step)
		if err != nil {
			return frame, false, err
		}
		if ok {
			*q.dst = buf
		}
	}

	return frame, true, nil
}

func particleBlockPath(selection, name string) string {
	return container.JoinPath("/particles", selection, name)
}

// SetAuthorAndCreator records who and what wrote the archive.
func SetAuthorAndCreator(a *archive.Archive, author, programName, programVersion string) error {
	if err := a.SetAuthor(author); err != nil {
		return err
	}
	if err := a.SetCreatorProgramName(programName); err != nil {
		return err
	}

	return a.SetCreatorProgramVersion(programVersion)
}

// SetupMolecularSystem records the static per-particle tables of a
// selection: atom names, charges and masses. Tables are written once;
// re-invocation on restart is a no-op.
func SetupMolecularSystem(a *archive.Archive, selection string, atomNames []string, charges, masses []float64) error {
	group := "/particles/" + selection
	if err := archive.SetStringProperty(a, group, "atomname", atomNames, false); err != nil {
		return err
	}
	if err := archive.SetNumericProperty(a, group, "charge", charges, false); err != nil {
		return err
	}

	return archive.SetNumericProperty(a, group, "mass", masses, false)
}
