package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdkit/trajio/endian"
)

func TestStringRoundTrip(t *testing.T) {
	engine := endian.GetLittleEndianEngine()

	for _, s := range []string{"", "a", "mdkit", strings.Repeat("x", 300)} {
		buf, err := AppendString(engine, nil, s)
		require.NoError(t, err)

		got, next, err := ReadString(engine, buf, 0)
		require.NoError(t, err)
		require.Equal(t, s, got)
		require.Equal(t, len(buf), next)
	}
}

func TestStringTooLong(t *testing.T) {
	engine := endian.GetLittleEndianEngine()
	_, err := AppendString(engine, nil, strings.Repeat("x", MaxStringLength+1))
	require.Error(t, err)
}

func TestReadStringTruncated(t *testing.T) {
	engine := endian.GetLittleEndianEngine()
	buf, err := AppendString(engine, nil, "mdkit")
	require.NoError(t, err)

	_, _, err = ReadString(engine, buf[:len(buf)-2], 0)
	require.Error(t, err)
	_, _, err = ReadString(engine, buf[:2], 0)
	require.Error(t, err)
}

func TestStringSliceRoundTrip(t *testing.T) {
	engine := endian.GetLittleEndianEngine()
	values := []string{"OW", "HW1", "HW2", ""}

	buf, err := AppendStringSlice(engine, nil, values)
	require.NoError(t, err)

	got, next, err := ReadStringSlice(engine, buf, 0)
	require.NoError(t, err)
	require.Equal(t, values, got)
	require.Equal(t, len(buf), next)
}
