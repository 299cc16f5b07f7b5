package protocol

import (
	"bytes"
	"io"
)

// SNAC families
const (
	FamilyOService uint16 = 0x0001
	FamilyLocate   uint16 = 0x0002
	FamilyBuddy    uint16 = 0x0003
	FamilyICBM     uint16 = 0x0004
	FamilyPD       uint16 = 0x0009
	FamilyAdmin    uint16 = 0x0007
	FamilyChatNav  uint16 = 0x000D
	FamilyChat     uint16 = 0x000E
	FamilyFeedbag  uint16 = 0x0013
	FamilyICQ      uint16 = 0x0015
	FamilyBUCP     uint16 = 0x0017
	FamilyAlert    uint16 = 0x0018
)

// SubtypeError is the error reply subtype shared by every family
const SubtypeError uint16 = 0x0001

// SNAC header flags
const (
	SNACFlagMoreReplies uint16 = 0x0001 // more replies follow for this request id
	SNACFlagOptionalTLV uint16 = 0x8000 // a length-prefixed TLV block precedes the body
)

// SNACHeaderSize is family (2) + subtype (2) + flags (2) + request id (4)
const SNACHeaderSize = 10

// SNAC is a decoded data-channel message: header plus body
type SNAC struct {
	Family    uint16
	Subtype   uint16
	Flags     uint16
	RequestID uint32
	Body      []byte
}

// Reader returns a cursor over the SNAC body
func (s *SNAC) Reader() *bytes.Reader {
	return bytes.NewReader(s.Body)
}

// EncodeSNAC builds the payload of a data-channel frame
func EncodeSNAC(family, subtype, flags uint16, requestID uint32, body []byte) ([]byte, error) {
	if SNACHeaderSize+len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := bytes.NewBuffer(make([]byte, 0, SNACHeaderSize+len(body)))
	WriteUint16(buf, family)
	WriteUint16(buf, subtype)
	WriteUint16(buf, flags)
	WriteUint32(buf, requestID)
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeSNAC splits a data-channel payload into header and body. The optional
// leading TLV block announced by SNACFlagOptionalTLV is skipped.
func DecodeSNAC(payload []byte) (*SNAC, error) {
	r := bytes.NewReader(payload)
	family, err := ReadUint16(r)
	if err != nil {
		return nil, malformed("snac family", err)
	}
	subtype, err := ReadUint16(r)
	if err != nil {
		return nil, malformed("snac subtype", err)
	}
	flags, err := ReadUint16(r)
	if err != nil {
		return nil, malformed("snac flags", err)
	}
	reqID, err := ReadUint32(r)
	if err != nil {
		return nil, malformed("snac request id", err)
	}

	if flags&SNACFlagOptionalTLV != 0 {
		if _, err := ReadTLVBlock(r); err != nil {
			return nil, err
		}
	}

	body := make([]byte, r.Len())
	r.Read(body)

	return &SNAC{
		Family:    family,
		Subtype:   subtype,
		Flags:     flags,
		RequestID: reqID,
		Body:      body,
	}, nil
}

// Message is implemented by every typed SNAC body
type Message interface {
	Encode() ([]byte, error)
}

// SNACErrorMessage (xx/01) - error reply common to every family
type SNACErrorMessage struct {
	Code uint16
	TLVs TLVList
}

func (m *SNACErrorMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, m.Code); err != nil {
		return err
	}
	return m.TLVs.WriteTo(w)
}

func (m *SNACErrorMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *SNACErrorMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	code, err := ReadUint16(buf)
	if err != nil {
		return malformed("snac error code", err)
	}
	tlvs, err := ReadTLVsUntilEnd(buf)
	if err != nil {
		return err
	}
	m.Code = code
	m.TLVs = tlvs
	return nil
}

// Reason returns the human-readable text for the error code
func (m *SNACErrorMessage) Reason() string {
	return SNACErrorReason(m.Code)
}

// encoderTo is implemented by messages that stream their body
type encoderTo interface {
	EncodeTo(w io.Writer) error
}

// encodeBody buffers a streamed message body
func encodeBody(m encoderTo) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
