package rendezvous

import (
	"io"
)

// ChecksumSeed is the checksum of an empty file
const ChecksumSeed uint32 = 0xFFFF0000

// Checksum is the running OFT file checksum. Bytes are weighted by the
// parity of their offset in the file and the carry is folded only when
// the sum is read, so any split of the data into chunks gives the same
// result as a single pass.
type Checksum struct {
	check uint32
	n     uint64
}

// NewChecksum starts a checksum for a new file
func NewChecksum() *Checksum {
	c := &Checksum{}
	c.Reset()
	return c
}

// Reset restarts the checksum at the seed
func (c *Checksum) Reset() {
	c.check = ChecksumSeed >> 16
	c.n = 0
}

// Write folds p into the checksum. It never fails.
func (c *Checksum) Write(p []byte) (int, error) {
	check := c.check
	for _, b := range p {
		old := check
		val := uint32(b)
		if c.n&1 == 0 {
			val <<= 8
		}
		check -= val
		if check > old {
			check--
		}
		c.n++
	}
	c.check = check
	return len(p), nil
}

// Len returns the number of bytes written since the last reset
func (c *Checksum) Len() uint64 {
	return c.n
}

// Sum32 returns the checksum in header form
func (c *Checksum) Sum32() uint32 {
	check := (c.check & 0xFFFF) + (c.check >> 16)
	check = (check & 0xFFFF) + (check >> 16)
	return check << 16
}

// ChecksumReader computes the checksum and length of everything r yields
func ChecksumReader(r io.Reader) (uint32, int64, error) {
	c := NewChecksum()
	n, err := io.Copy(c, r)
	if err != nil {
		return 0, n, err
	}
	return c.Sum32(), n, nil
}
