// Package encoding implements the length-prefixed string codec used by
// attribute tables, fixed string datasets and provenance record logs.
package encoding

import (
	"fmt"

	"github.com/mdkit/trajio/endian"
)

// MaxStringLength bounds a single encoded string. Provenance records carry
// whole command lines, so the limit is generous.
const MaxStringLength = 1 << 20

// AppendString appends s to buf as a uint32 length prefix followed by the
// UTF-8 bytes.
func AppendString(engine endian.EndianEngine, buf []byte, s string) ([]byte, error) {
	if len(s) > MaxStringLength {
		return buf, fmt.Errorf("string length %d exceeds maximum %d", len(s), MaxStringLength)
	}

	buf = engine.AppendUint32(buf, uint32(len(s)))
	buf = append(buf, s...)

	return buf, nil
}

// ReadString decodes one length-prefixed string starting at data[offset],
// returning the string and the offset of the byte after it.
func ReadString(engine endian.EndianEngine, data []byte, offset int) (string, int, error) {
	if offset+4 > len(data) {
		return "", offset, fmt.Errorf("string length prefix truncated at offset %d", offset)
	}

	n := int(engine.Uint32(data[offset : offset+4]))
	offset += 4
	if n > MaxStringLength {
		return "", offset, fmt.Errorf("string length %d exceeds maximum %d", n, MaxStringLength)
	}
	if offset+n > len(data) {
		return "", offset, fmt.Errorf("string payload truncated at offset %d", offset)
	}

	return string(data[offset : offset+n]), offset + n, nil
}

// AppendStringSlice appends a uint32 count followed by each string.
func AppendStringSlice(engine endian.EndianEngine, buf []byte, values []string) ([]byte, error) {
	buf = engine.AppendUint32(buf, uint32(len(values)))
	var err error
	for _, v := range values {
		if buf, err = AppendString(engine, buf, v); err != nil {
			return buf, err
		}
	}

	return buf, nil
}

// ReadStringSlice decodes a counted string sequence starting at data[offset].
func ReadStringSlice(engine endian.EndianEngine, data []byte, offset int) ([]string, int, error) {
	if offset+4 > len(data) {
		return nil, offset, fmt.Errorf("string count truncated at offset %d", offset)
	}

	count := int(engine.Uint32(data[offset : offset+4]))
	offset += 4
	values := make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, next, err := ReadString(engine, data, offset)
		if err != nil {
			return nil, offset, err
		}
		values = append(values, s)
		offset = next
	}

	return values, offset, nil
}
