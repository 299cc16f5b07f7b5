package rendezvous

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// oneShot mirrors the single-buffer form of the algorithm
func oneShot(data []byte) uint32 {
	check := uint32(0xFFFF)
	for i, b := range data {
		old := check
		val := uint32(b)
		if i&1 == 0 {
			val <<= 8
		}
		check -= val
		if check > old {
			check--
		}
	}
	check = (check & 0xFFFF) + (check >> 16)
	check = (check & 0xFFFF) + (check >> 16)
	return check << 16
}

func TestChecksumEmpty(t *testing.T) {
	assert.Equal(t, ChecksumSeed, NewChecksum().Sum32())
}

func TestChecksumKnownValues(t *testing.T) {
	for _, data := range [][]byte{
		{0x00},
		{0x01, 0x02},
		[]byte("hello world"),
		bytes.Repeat([]byte{0xFF}, 1000),
	} {
		c := NewChecksum()
		c.Write(data)
		assert.Equal(t, oneShot(data), c.Sum32(), "%x", data)
		assert.Equal(t, uint64(len(data)), c.Len())
	}
}

func TestChecksumReset(t *testing.T) {
	c := NewChecksum()
	c.Write([]byte("abc"))
	c.Reset()
	assert.Equal(t, ChecksumSeed, c.Sum32())
	assert.Zero(t, c.Len())
}

func TestChecksumReader(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 50)
	sum, n, err := ChecksumReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
	assert.Equal(t, oneShot(data), sum)
}

// TestChecksumChunkInvariant tests that any chunking of the data gives the
// single-pass result
func TestChecksumChunkInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "data")
		c := NewChecksum()
		rest := data
		for len(rest) > 0 {
			n := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			c.Write(rest[:n])
			rest = rest[n:]
		}
		if got, want := c.Sum32(), oneShot(data); got != want {
			t.Fatalf("chunked 0x%08X, single pass 0x%08X", got, want)
		}
	})
}
