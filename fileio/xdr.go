package fileio

import (
	"fmt"
	"io"
	"math"

	"github.com/mdkit/trajio/endian"
	"github.com/mdkit/trajio/errs"
)

// XDR routines move values between memory and portable big-endian records.
// Every item occupies a multiple of 4 bytes on the wire, with opaque data
// and strings zero-padded up to the boundary. The transfer direction is
// fixed by the handle's open mode; the same call sites serve both reading
// and writing, which keeps record layouts defined in exactly one place.

type xdrDirection uint8

const (
	xdrDecode xdrDirection = iota
	xdrEncode
)

var xdrEngine = endian.GetBigEndianEngine()

func (h *Handle) xdrBytes(buf []byte) error {
	if h.ftype != FileTypeXDR {
		return fmt.Errorf("xdr on %s file %s: %w", h.ftype, h.name, errs.ErrElementMismatch)
	}
	if h.xdrDir == xdrEncode {
		_, err := h.writeLocked(buf)
		return err
	}
	if err := h.flushLocked(); err != nil {
		return err
	}
	if _, err := io.ReadFull(h.file, buf); err != nil {
		return fmt.Errorf("xdr read %s: %w", h.name, err)
	}

	return nil
}

// XDRInt32 transfers one 32-bit integer.
func (h *Handle) XDRInt32(v *int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf [4]byte
	if h.xdrDir == xdrEncode {
		xdrEngine.PutUint32(buf[:], uint32(*v))
	}
	if err := h.xdrBytes(buf[:]); err != nil {
		return err
	}
	if h.xdrDir == xdrDecode {
		*v = int32(xdrEngine.Uint32(buf[:]))
	}

	return nil
}

// XDRInt64 transfers one 64-bit integer as two 4-byte units.
func (h *Handle) XDRInt64(v *int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf [8]byte
	if h.xdrDir == xdrEncode {
		xdrEngine.PutUint64(buf[:], uint64(*v))
	}
	if err := h.xdrBytes(buf[:]); err != nil {
		return err
	}
	if h.xdrDir == xdrDecode {
		*v = int64(xdrEngine.Uint64(buf[:]))
	}

	return nil
}

// XDRFloat32 transfers one single-precision float.
func (h *Handle) XDRFloat32(v *float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf [4]byte
	if h.xdrDir == xdrEncode {
		xdrEngine.PutUint32(buf[:], math.Float32bits(*v))
	}
	if err := h.xdrBytes(buf[:]); err != nil {
		return err
	}
	if h.xdrDir == xdrDecode {
		*v = math.Float32frombits(xdrEngine.Uint32(buf[:]))
	}

	return nil
}

// XDRFloat64 transfers one double-precision float.
func (h *Handle) XDRFloat64(v *float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf [8]byte
	if h.xdrDir == xdrEncode {
		xdrEngine.PutUint64(buf[:], math.Float64bits(*v))
	}
	if err := h.xdrBytes(buf[:]); err != nil {
		return err
	}
	if h.xdrDir == xdrDecode {
		*v = math.Float64frombits(xdrEngine.Uint64(buf[:]))
	}

	return nil
}

// XDRReal transfers one real number at the precision selected with
// SetDoublePrecision, converting to and from float64 in memory. Files
// written by a single-precision build carry 4-byte reals regardless of this
// build's arithmetic.
func (h *Handle) XDRReal(v *float64) error {
	if h.DoublePrecision() {
		return h.XDRFloat64(v)
	}

	f := float32(*v)
	if err := h.XDRFloat32(&f); err != nil {
		return err
	}
	*v = float64(f)

	return nil
}

// XDROpaque transfers len(data) raw bytes plus zero padding to the next
// 4-byte boundary.
func (h *Handle) XDROpaque(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.xdrBytes(data); err != nil {
		return err
	}
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		var padding [3]byte
		return h.xdrBytes(padding[:pad])
	}

	return nil
}

// XDRString transfers a counted string: a 4-byte length followed by padded
// bytes.
func (h *Handle) XDRString(s *string) error {
	n := int32(len(*s))
	if err := h.XDRInt32(&n); err != nil {
		return err
	}

	h.mu.Lock()
	if h.xdrDir == xdrEncode {
		err := h.xdrPadded([]byte(*s))
		h.mu.Unlock()
		return err
	}
	if n < 0 {
		h.mu.Unlock()
		return fmt.Errorf("xdr read %s: negative string length %d", h.name, n)
	}
	buf := make([]byte, n)
	err := h.xdrPadded(buf)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	*s = string(buf)

	return nil
}

func (h *Handle) xdrPadded(data []byte) error {
	if err := h.xdrBytes(data); err != nil {
		return err
	}
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		var padding [3]byte
		return h.xdrBytes(padding[:pad])
	}

	return nil
}
