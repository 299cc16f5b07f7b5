package protocol

import (
	"bytes"
	"io"
	"time"
)

// User info TLV types
const (
	TLVUserClass    uint16 = 0x0001
	TLVOnlineSince  uint16 = 0x0003
	TLVIdleMinutes  uint16 = 0x0004
	TLVUserStatus   uint16 = 0x0006
	TLVCapabilities uint16 = 0x000D
	TLVSessionLen   uint16 = 0x000F
)

// UserInfo is the block that identifies a user in presence and message SNACs.
// Format: [name (string8)][warning (u16)][tlv count (u16)][TLVs]
type UserInfo struct {
	ScreenName   string
	WarningLevel uint16
	TLVs         TLVList
}

func (u *UserInfo) EncodeTo(w io.Writer) error {
	if err := WriteString8(w, u.ScreenName); err != nil {
		return err
	}
	if err := WriteUint16(w, u.WarningLevel); err != nil {
		return err
	}
	return u.TLVs.WriteCounted(w)
}

func (u *UserInfo) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := u.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrom reads one user info block from r
func (u *UserInfo) DecodeFrom(r io.Reader) error {
	name, err := ReadString8(r)
	if err != nil {
		return malformed("user info name", err)
	}
	warning, err := ReadUint16(r)
	if err != nil {
		return malformed("user info warning level", err)
	}
	tlvs, err := ReadCountedTLVs(r)
	if err != nil {
		return err
	}
	u.ScreenName = name
	u.WarningLevel = warning
	u.TLVs = tlvs
	return nil
}

func (u *UserInfo) Decode(payload []byte) error {
	return u.DecodeFrom(bytes.NewReader(payload))
}

// Class returns the user-class bitfield
func (u *UserInfo) Class() UserClass {
	v, _ := u.TLVs.Uint16(TLVUserClass)
	return UserClass(v)
}

// Status returns the ICQ-style status word, 0 when absent
func (u *UserInfo) Status() uint32 {
	v, _ := u.TLVs.Uint32(TLVUserStatus)
	return v
}

// OnlineSince returns when the user signed on
func (u *UserInfo) OnlineSince() time.Time {
	v, ok := u.TLVs.Uint32(TLVOnlineSince)
	if !ok || v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0)
}

// Idle returns how long the user has been idle
func (u *UserInfo) Idle() time.Duration {
	v, _ := u.TLVs.Uint16(TLVIdleMinutes)
	return time.Duration(v) * time.Minute
}

// Capabilities returns the capability UUIDs advertised by the user
func (u *UserInfo) Capabilities() []Capability {
	raw, ok := u.TLVs.Bytes(TLVCapabilities)
	if !ok {
		return nil
	}
	caps := make([]Capability, 0, len(raw)/16)
	for i := 0; i+16 <= len(raw); i += 16 {
		var c Capability
		copy(c[:], raw[i:i+16])
		caps = append(caps, c)
	}
	return caps
}

// HasCapability reports whether the user advertised c
func (u *UserInfo) HasCapability(c Capability) bool {
	for _, have := range u.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
