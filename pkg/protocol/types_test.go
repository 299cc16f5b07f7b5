package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadUint16(t *testing.T) {
	tests := []struct {
		name  string
		value uint16
	}{
		{"zero", 0},
		{"one", 1},
		{"max", 65535},
		{"mid", 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, WriteUint16(buf, tt.value))

			result, err := ReadUint16(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, result)
		})
	}
}

func TestWriteReadUint32(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
	}{
		{"zero", 0},
		{"one", 1},
		{"max", 4294967295},
		{"mid", 2147483648},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, WriteUint32(buf, tt.value))

			result, err := ReadUint32(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, result)
		})
	}
}

func TestByteOrder(t *testing.T) {
	t.Run("big-endian u16", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteUint16(buf, 0x0102))
		assert.Equal(t, []byte{0x01, 0x02}, buf.Bytes())
	})

	t.Run("big-endian u32", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteUint32(buf, 0x01020304))
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf.Bytes())
	})

	t.Run("little-endian u16", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteUint16LE(buf, 0x0102))
		assert.Equal(t, []byte{0x02, 0x01}, buf.Bytes())

		v, err := ReadUint16LE(buf)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0102), v)
	})

	t.Run("little-endian u32", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteUint32LE(buf, 0x01020304))
		assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf.Bytes())

		v, err := ReadUint32LE(buf)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x01020304), v)
	})
}

func TestWriteReadString(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"ascii", "hello"},
		{"utf8", "héllo wörld"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, WriteString(buf, tt.value))
			assert.Equal(t, 2+len(tt.value), buf.Len())

			result, err := ReadString(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, result)
		})
	}
}

func TestWriteReadString8(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteString8(buf, "Alice"))
	assert.Equal(t, []byte{0x05, 'A', 'l', 'i', 'c', 'e'}, buf.Bytes())

	result, err := ReadString8(buf)
	require.NoError(t, err)
	assert.Equal(t, "Alice", result)

	err = WriteString8(new(bytes.Buffer), strings.Repeat("x", 256))
	assert.ErrorIs(t, err, ErrStringTooLong)
}

func TestWriteReadTimestamp(t *testing.T) {
	t.Run("zero time", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteTimestamp(buf, time.Time{}))
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

		result, err := ReadTimestamp(buf)
		require.NoError(t, err)
		assert.True(t, result.IsZero())
	})

	t.Run("seconds precision", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		buf := new(bytes.Buffer)
		require.NoError(t, WriteTimestamp(buf, now))

		result, err := ReadTimestamp(buf)
		require.NoError(t, err)
		assert.True(t, now.Equal(result))
	})
}

func TestReadErrors(t *testing.T) {
	t.Run("ReadUint16 partial", func(t *testing.T) {
		_, err := ReadUint16(bytes.NewReader([]byte{0x01}))
		assert.Error(t, err)
	})

	t.Run("ReadUint32 partial", func(t *testing.T) {
		_, err := ReadUint32(bytes.NewReader([]byte{0x01, 0x02}))
		assert.Error(t, err)
	})

	t.Run("ReadString data error", func(t *testing.T) {
		_, err := ReadString(bytes.NewReader([]byte{0x00, 0x05, 0x41, 0x42}))
		assert.Error(t, err)
	})

	t.Run("ReadString8 data error", func(t *testing.T) {
		_, err := ReadString8(bytes.NewReader([]byte{0x03, 0x41}))
		assert.Error(t, err)
	})

	t.Run("ReadTimestamp error", func(t *testing.T) {
		_, err := ReadTimestamp(bytes.NewReader([]byte{0x01, 0x02}))
		assert.Error(t, err)
	})
}
