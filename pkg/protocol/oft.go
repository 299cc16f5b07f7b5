package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// Peer connection magics
const (
	OFTMagic = "OFT2"
	ODCMagic = "ODC2"
)

// OFTHeaderSize is the fixed length of every OFT2 header, magic included
const OFTHeaderSize = 256

// OFT header types
const (
	OFTPrompt       uint16 = 0x0101
	OFTResumeAccept uint16 = 0x0106
	OFTAck          uint16 = 0x0202
	OFTDone         uint16 = 0x0204
	OFTResume       uint16 = 0x0205
	OFTResumeAck    uint16 = 0x0207
)

// OFTIDString identifies the sending client in every header
const OFTIDString = "Cool FileXfer"

var ErrBadPeerMagic = fmt.Errorf("%w: bad peer header magic", ErrMalformed)

// OFTHeader is the OSCAR File Transfer header exchanged before, during
// and after each file.
type OFTHeader struct {
	Type          uint16
	Cookie        Cookie
	Encrypt       uint16
	Compress      uint16
	TotalFiles    uint16
	FilesLeft     uint16
	TotalParts    uint16
	PartsLeft     uint16
	TotalSize     uint32
	Size          uint32
	ModTime       time.Time
	Checksum      uint32
	ResForkCsum   uint32
	ResForkSize   uint32
	CreateTime    uint32
	ResForkCsum2  uint32
	BytesReceived uint32
	ReceivedCsum  uint32
	IDString      string
	Flags         uint8
	NameOffset    uint8
	SizeOffset    uint8
	MacFileInfo   [16]byte
	NameEncoding  uint16
	NameLanguage  uint16
	Name          string
}

const oftNameField = 64

func writeFixed(w io.Writer, s string, n int) error {
	b := make([]byte, n)
	copy(b, s)
	_, err := w.Write(b)
	return err
}

func (h *OFTHeader) EncodeTo(w io.Writer) error {
	if len(h.Name) >= oftNameField {
		return fmt.Errorf("%w: file name longer than %d bytes", ErrTooLarge, oftNameField-1)
	}
	buf := bytes.NewBuffer(make([]byte, 0, OFTHeaderSize))
	buf.WriteString(OFTMagic)
	WriteUint16(buf, OFTHeaderSize)
	WriteUint16(buf, h.Type)
	buf.Write(h.Cookie[:])
	for _, v := range []uint16{h.Encrypt, h.Compress, h.TotalFiles, h.FilesLeft, h.TotalParts, h.PartsLeft} {
		WriteUint16(buf, v)
	}
	var mod uint32
	if !h.ModTime.IsZero() {
		mod = uint32(h.ModTime.Unix())
	}
	for _, v := range []uint32{h.TotalSize, h.Size, mod, h.Checksum, h.ResForkCsum, h.ResForkSize,
		h.CreateTime, h.ResForkCsum2, h.BytesReceived, h.ReceivedCsum} {
		WriteUint32(buf, v)
	}
	id := h.IDString
	if id == "" {
		id = OFTIDString
	}
	writeFixed(buf, id, 32)
	WriteUint8(buf, h.Flags)
	WriteUint8(buf, h.NameOffset)
	WriteUint8(buf, h.SizeOffset)
	buf.Write(make([]byte, 69))
	buf.Write(h.MacFileInfo[:])
	WriteUint16(buf, h.NameEncoding)
	WriteUint16(buf, h.NameLanguage)
	writeFixed(buf, h.Name, oftNameField)

	_, err := w.Write(buf.Bytes())
	return err
}

func (h *OFTHeader) Encode() ([]byte, error) {
	return encodeBody(h)
}

// DecodeFrom reads one header from a peer connection. A clean close before
// the first byte returns io.EOF.
func (h *OFTHeader) DecodeFrom(r io.Reader) error {
	prefix := make([]byte, 6)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return malformed("oft header", err)
	}
	if string(prefix[:4]) != OFTMagic {
		return ErrBadPeerMagic
	}
	length := int(prefix[4])<<8 | int(prefix[5])
	if length < OFTHeaderSize {
		return fmt.Errorf("%w: oft header length %d", ErrMalformed, length)
	}
	rest, err := ReadBytes(r, length-6)
	if err != nil {
		return malformed("oft header body", err)
	}
	return h.decodeBody(bytes.NewReader(rest))
}

func (h *OFTHeader) decodeBody(r *bytes.Reader) error {
	h.Type, _ = ReadUint16(r)
	io.ReadFull(r, h.Cookie[:])
	fields16 := []*uint16{&h.Encrypt, &h.Compress, &h.TotalFiles, &h.FilesLeft, &h.TotalParts, &h.PartsLeft}
	for _, p := range fields16 {
		*p, _ = ReadUint16(r)
	}
	var mod uint32
	fields32 := []*uint32{&h.TotalSize, &h.Size, &mod, &h.Checksum, &h.ResForkCsum, &h.ResForkSize,
		&h.CreateTime, &h.ResForkCsum2, &h.BytesReceived, &h.ReceivedCsum}
	for _, p := range fields32 {
		*p, _ = ReadUint32(r)
	}
	h.ModTime = time.Time{}
	if mod != 0 {
		h.ModTime = time.Unix(int64(mod), 0)
	}
	id, _ := ReadBytes(r, 32)
	h.IDString = string(bytes.TrimRight(id, "\x00"))
	h.Flags, _ = ReadUint8(r)
	h.NameOffset, _ = ReadUint8(r)
	h.SizeOffset, _ = ReadUint8(r)
	ReadBytes(r, 69)
	io.ReadFull(r, h.MacFileInfo[:])
	h.NameEncoding, _ = ReadUint16(r)
	h.NameLanguage, _ = ReadUint16(r)
	name, err := ReadBytes(r, r.Len())
	if err != nil {
		return malformed("oft file name", err)
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	h.Name = string(name)
	return nil
}

func (h *OFTHeader) Decode(payload []byte) error {
	return h.DecodeFrom(bytes.NewReader(payload))
}

// ODC flag values
const (
	ODCFlagMessage       uint16 = 0x0000
	ODCFlagTypingStopped uint16 = 0x0002
	ODCFlagTypingBegun   uint16 = 0x000E
)

const (
	odcBodySize  = 68
	odcNameField = 16
)

// ODCFrame is one direct-IM frame: a fixed header followed by Payload
type ODCFrame struct {
	Cookie     Cookie
	Encoding   Charset
	Flags      uint16
	ScreenName string
	Payload    []byte
}

func (f *ODCFrame) EncodeTo(w io.Writer) error {
	if len(f.ScreenName) > odcNameField {
		return ErrStringTooLong
	}
	buf := bytes.NewBuffer(make([]byte, 0, 6+odcBodySize+len(f.Payload)))
	buf.WriteString(ODCMagic)
	WriteUint16(buf, 6+odcBodySize)
	WriteUint16(buf, 0x0006)
	WriteUint16(buf, 0x0000)
	buf.Write(f.Cookie[:])
	buf.Write(make([]byte, 8))
	WriteUint32(buf, uint32(len(f.Payload)))
	WriteUint16(buf, uint16(f.Encoding))
	WriteUint16(buf, 0x0000)
	WriteUint16(buf, 0x0000)
	WriteUint16(buf, f.Flags)
	WriteUint16(buf, 0x0000)
	WriteUint16(buf, 0x0000)
	writeFixed(buf, f.ScreenName, odcNameField)
	buf.Write(make([]byte, 16))
	buf.Write(f.Payload)

	_, err := w.Write(buf.Bytes())
	return err
}

func (f *ODCFrame) Encode() ([]byte, error) {
	return encodeBody(f)
}

// DecodeFrom reads one direct-IM frame. A clean close before the first byte
// returns io.EOF.
func (f *ODCFrame) DecodeFrom(r io.Reader) error {
	prefix := make([]byte, 6)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return malformed("odc header", err)
	}
	if string(prefix[:4]) != ODCMagic {
		return ErrBadPeerMagic
	}
	length := int(prefix[4])<<8 | int(prefix[5])
	if length < 6+odcBodySize {
		return fmt.Errorf("%w: odc header length %d", ErrMalformed, length)
	}
	body, err := ReadBytes(r, length-6)
	if err != nil {
		return malformed("odc header body", err)
	}

	copy(f.Cookie[:], body[4:12])
	payloadLen := uint32(body[20])<<24 | uint32(body[21])<<16 | uint32(body[22])<<8 | uint32(body[23])
	f.Encoding = Charset(uint16(body[24])<<8 | uint16(body[25]))
	f.Flags = uint16(body[30])<<8 | uint16(body[31])
	name := body[36 : 36+odcNameField]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	f.ScreenName = string(name)

	if payloadLen > MaxFrameSize {
		return fmt.Errorf("%w: odc payload %d bytes", ErrTooLarge, payloadLen)
	}
	f.Payload, err = ReadBytes(r, int(payloadLen))
	if err != nil {
		return malformed("odc payload", err)
	}
	return nil
}

func (f *ODCFrame) Decode(payload []byte) error {
	return f.DecodeFrom(bytes.NewReader(payload))
}
