package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Common TLV types shared by several families
const (
	TLVScreenName    uint16 = 0x0001
	TLVErrorURL      uint16 = 0x0004
	TLVServerAddress uint16 = 0x0005
	TLVCookie        uint16 = 0x0006
	TLVErrorCode     uint16 = 0x0008
	TLVSignOffReason uint16 = 0x0009
	TLVServiceFamily uint16 = 0x000D
)

// TLV is a single type-length-value field
type TLV struct {
	Type  uint16
	Value []byte
}

// NewTLV builds a TLV from a typed value. Supported value kinds: []byte,
// string, uint8, uint16, uint32 and nil (empty value).
func NewTLV(typ uint16, value any) TLV {
	switch v := value.(type) {
	case nil:
		return TLV{Type: typ}
	case []byte:
		return TLV{Type: typ, Value: v}
	case string:
		return TLV{Type: typ, Value: []byte(v)}
	case uint8:
		return TLV{Type: typ, Value: []byte{v}}
	case uint16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v)
		return TLV{Type: typ, Value: b}
	case uint32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return TLV{Type: typ, Value: b}
	default:
		panic("protocol: unsupported TLV value type")
	}
}

// TLVList is an ordered list of TLVs. Lookups return the first match.
type TLVList []TLV

// Add appends a TLV built with NewTLV
func (l *TLVList) Add(typ uint16, value any) {
	*l = append(*l, NewTLV(typ, value))
}

// Get returns the first TLV with the given type
func (l TLVList) Get(typ uint16) (TLV, bool) {
	for _, t := range l {
		if t.Type == typ {
			return t, true
		}
	}
	return TLV{}, false
}

// Has reports whether a TLV of the given type is present
func (l TLVList) Has(typ uint16) bool {
	_, ok := l.Get(typ)
	return ok
}

// Bytes returns the raw value of the first TLV with the given type
func (l TLVList) Bytes(typ uint16) ([]byte, bool) {
	t, ok := l.Get(typ)
	return t.Value, ok
}

// String returns the value of the first TLV with the given type as a string
func (l TLVList) String(typ uint16) (string, bool) {
	t, ok := l.Get(typ)
	return string(t.Value), ok
}

// Uint8 returns the value of the first TLV with the given type as a byte
func (l TLVList) Uint8(typ uint16) (uint8, bool) {
	t, ok := l.Get(typ)
	if !ok || len(t.Value) < 1 {
		return 0, false
	}
	return t.Value[0], true
}

// Uint16 returns the value of the first TLV with the given type as a uint16
func (l TLVList) Uint16(typ uint16) (uint16, bool) {
	t, ok := l.Get(typ)
	if !ok || len(t.Value) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(t.Value), true
}

// Uint32 returns the value of the first TLV with the given type as a uint32
func (l TLVList) Uint32(typ uint16) (uint32, bool) {
	t, ok := l.Get(typ)
	if !ok || len(t.Value) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(t.Value), true
}

// EncodedLen returns the number of bytes WriteTo will produce
func (l TLVList) EncodedLen() int {
	n := 0
	for _, t := range l {
		n += 4 + len(t.Value)
	}
	return n
}

// WriteTo writes every TLV without any prefix
func (l TLVList) WriteTo(w io.Writer) error {
	for _, t := range l {
		if len(t.Value) > 0xFFFF {
			return ErrTooLarge
		}
		if err := WriteUint16(w, t.Type); err != nil {
			return err
		}
		if err := WriteUint16(w, uint16(len(t.Value))); err != nil {
			return err
		}
		if err := WriteBytes(w, t.Value); err != nil {
			return err
		}
	}
	return nil
}

// WriteCounted writes a u16 TLV count followed by the TLVs
func (l TLVList) WriteCounted(w io.Writer) error {
	if err := WriteUint16(w, uint16(len(l))); err != nil {
		return err
	}
	return l.WriteTo(w)
}

// WriteBlock writes a u16 byte length followed by the TLVs
func (l TLVList) WriteBlock(w io.Writer) error {
	n := l.EncodedLen()
	if n > 0xFFFF {
		return ErrTooLarge
	}
	if err := WriteUint16(w, uint16(n)); err != nil {
		return err
	}
	return l.WriteTo(w)
}

func readTLV(r io.Reader) (TLV, error) {
	typ, err := ReadUint16(r)
	if err != nil {
		return TLV{}, malformed("tlv type", err)
	}
	length, err := ReadUint16(r)
	if err != nil {
		return TLV{}, malformed("tlv length", err)
	}
	value, err := ReadBytes(r, int(length))
	if err != nil {
		return TLV{}, malformed("tlv value", err)
	}
	return TLV{Type: typ, Value: value}, nil
}

// ReadTLVs reads exactly count TLVs
func ReadTLVs(r io.Reader, count int) (TLVList, error) {
	list := make(TLVList, 0, count)
	for i := 0; i < count; i++ {
		t, err := readTLV(r)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}

// ReadCountedTLVs reads a u16 count followed by that many TLVs
func ReadCountedTLVs(r io.Reader) (TLVList, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, malformed("tlv count", err)
	}
	return ReadTLVs(r, int(count))
}

// ReadTLVBlock reads a u16 byte length followed by TLVs filling exactly that length
func ReadTLVBlock(r io.Reader) (TLVList, error) {
	length, err := ReadUint16(r)
	if err != nil {
		return nil, malformed("tlv block length", err)
	}
	block, err := ReadBytes(r, int(length))
	if err != nil {
		return nil, malformed("tlv block", err)
	}
	return ReadTLVsUntilEnd(bytes.NewReader(block))
}

// ReadTLVsUntilEnd reads TLVs until the reader is exhausted
func ReadTLVsUntilEnd(r *bytes.Reader) (TLVList, error) {
	var list TLVList
	for r.Len() > 0 {
		t, err := readTLV(r)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}
