package archive

import (
	"errors"
	"fmt"
	"math"

	"github.com/mdkit/trajio/endian"
	"github.com/mdkit/trajio/errs"
	"github.com/mdkit/trajio/format"
	"github.com/mdkit/trajio/internal/encoding"
)

// Properties are fixed, time-independent datasets: per-particle tables
// (names, masses, charges), topology arrays and similar data written once
// per archive. They are keyed by group path plus name and are immutable
// after creation unless the caller explicitly asks to replace.

var propEngine = endian.GetLittleEndianEngine()

// Numeric constrains property values to the element kinds fixed datasets
// can hold. [2]int64 covers index pairs such as bonded atom tuples.
type Numeric interface {
	float32 | float64 | int32 | int64 | [2]int64
}

func numericElement[T Numeric]() format.ElementType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return format.ElementFloat32
	case float64:
		return format.ElementFloat64
	case int32:
		return format.ElementInt32
	case int64:
		return format.ElementInt64
	case [2]int64:
		return format.ElementInt64Pair
	default:
		panic("unreachable")
	}
}

func appendNumeric[T Numeric](buf []byte, v T) []byte {
	switch v := any(v).(type) {
	case float32:
		return propEngine.AppendUint32(buf, math.Float32bits(v))
	case float64:
		return propEngine.AppendUint64(buf, math.Float64bits(v))
	case int32:
		return propEngine.AppendUint32(buf, uint32(v))
	case int64:
		return propEngine.AppendUint64(buf, uint64(v))
	case [2]int64:
		buf = propEngine.AppendUint64(buf, uint64(v[0]))
		return propEngine.AppendUint64(buf, uint64(v[1]))
	default:
		panic("unreachable")
	}
}

// SetNumericProperty writes a numeric property into the group at
// containerPath, creating the group when needed. When the property already
// exists and replace is false the call is a no-op, so writers can
// unconditionally re-record static tables on every run.
func SetNumericProperty[T Numeric](a *Archive, containerPath, name string, values []T, replace bool) error {
	if !a.open {
		return errs.ErrStorageClosed
	}
	if a.mode == ModeRead {
		return errs.ErrReadOnly
	}
	g, err := a.cont.EnsureGroup(containerPath)
	if err != nil {
		return err
	}

	elem := numericElement[T]()
	raw := make([]byte, 0, len(values)*int(elem.Size()))
	for _, v := range values {
		raw = appendNumeric(raw, v)
	}

	err = g.WriteFixed(name, elem, len(values), raw, replace)
	if errors.Is(err, errs.ErrPropertyExists) && !replace {
		return nil
	}

	return err
}

// ReadNumericProperty reads a numeric property. A missing group or property
// yields an empty slice without error. Float properties convert between
// float32 and float64 storage transparently; integer kinds must match
// exactly.
func ReadNumericProperty[T Numeric](a *Archive, containerPath, name string) ([]T, error) {
	if !a.open {
		return nil, errs.ErrStorageClosed
	}
	g, err := a.cont.OpenGroup(containerPath)
	if err != nil {
		return []T{}, nil
	}
	if !g.HasFixed(name) {
		return []T{}, nil
	}
	elem, count, raw, err := g.ReadFixed(name)
	if err != nil {
		return nil, err
	}

	want := numericElement[T]()
	if elem != want && !floatKinds(elem, want) {
		return nil, fmt.Errorf("property %s/%s holds %s, requested %s: %w",
			containerPath, name, elem, want, errs.ErrElementMismatch)
	}

	values := make([]T, count)
	for i := range values {
		values[i] = decodeNumeric[T](elem, raw, i)
	}

	return values, nil
}

func floatKinds(a, b format.ElementType) bool {
	isFloat := func(e format.ElementType) bool {
		return e == format.ElementFloat32 || e == format.ElementFloat64
	}

	return isFloat(a) && isFloat(b)
}

func decodeNumeric[T Numeric](elem format.ElementType, raw []byte, i int) T {
	var v T
	switch p := any(&v).(type) {
	case *float32:
		if elem == format.ElementFloat64 {
			*p = float32(math.Float64frombits(propEngine.Uint64(raw[i*8:])))
		} else {
			*p = math.Float32frombits(propEngine.Uint32(raw[i*4:]))
		}
	case *float64:
		if elem == format.ElementFloat32 {
			*p = float64(math.Float32frombits(propEngine.Uint32(raw[i*4:])))
		} else {
			*p = math.Float64frombits(propEngine.Uint64(raw[i*8:]))
		}
	case *int32:
		*p = int32(propEngine.Uint32(raw[i*4:]))
	case *int64:
		*p = int64(propEngine.Uint64(raw[i*8:]))
	case *[2]int64:
		p[0] = int64(propEngine.Uint64(raw[i*16:]))
		p[1] = int64(propEngine.Uint64(raw[i*16+8:]))
	default:
		panic("unreachable")
	}

	return v
}

// SetStringProperty writes a string property into the group at
// containerPath. Existing-property semantics match SetNumericProperty.
func SetStringProperty(a *Archive, containerPath, name string, values []string, replace bool) error {
	if !a.open {
		return errs.ErrStorageClosed
	}
	if a.mode == ModeRead {
		return errs.ErrReadOnly
	}
	g, err := a.cont.EnsureGroup(containerPath)
	if err != nil {
		return err
	}

	raw, err := encoding.AppendStringSlice(propEngine, nil, values)
	if err != nil {
		return err
	}
	err = g.WriteFixed(name, format.ElementString, len(values), raw, replace)
	if errors.Is(err, errs.ErrPropertyExists) && !replace {
		return nil
	}

	return err
}

// ReadStringProperty reads a string property. A missing group or property
// yields an empty slice without error.
func ReadStringProperty(a *Archive, containerPath, name string) ([]string, error) {
	if !a.open {
		return nil, errs.ErrStorageClosed
	}
	g, err := a.cont.OpenGroup(containerPath)
	if err != nil {
		return []string{}, nil
	}
	if !g.HasFixed(name) {
		return []string{}, nil
	}
	elem, count, raw, err := g.ReadFixed(name)
	if err != nil {
		return nil, err
	}
	if elem != format.ElementString {
		return nil, fmt.Errorf("property %s/%s holds %s, requested string: %w",
			containerPath, name, elem, errs.ErrElementMismatch)
	}

	values, _, err := encoding.ReadStringSlice(propEngine, raw, 0)
	if err != nil {
		return nil, err
	}
	if len(values) != count {
		return nil, fmt.Errorf("property %s/%s declares %d values, payload holds %d: %w",
			containerPath, name, count, len(values), errs.ErrInvalidMeta)
	}

	return values, nil
}
