package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ICQ (family 0x0015) subtypes
const (
	ICQMetaRequest uint16 = 0x0002
	ICQMetaReply   uint16 = 0x0003
)

// ICQ meta commands, little-endian inside TLV 0x0001
const (
	ICQCmdOfflineRequest uint16 = 0x003C
	ICQCmdOfflineAck     uint16 = 0x003E
	ICQCmdOfflineMessage uint16 = 0x0041
	ICQCmdOfflineDone    uint16 = 0x0042
)

// TLVICQMeta wraps every ICQ meta payload
const TLVICQMeta uint16 = 0x0001

// ICQMetaMessage is an ICQ meta request (15/02) or reply (15/03).
// Format inside TLV 0x0001: [len LE16][uin LE32][cmd LE16][seq LE16][data]
type ICQMetaMessage struct {
	UIN     uint32
	Command uint16
	Seq     uint16
	Data    []byte
}

func (m *ICQMetaMessage) EncodeTo(w io.Writer) error {
	inner := new(bytes.Buffer)
	WriteUint16LE(inner, uint16(8+len(m.Data)))
	WriteUint32LE(inner, m.UIN)
	WriteUint16LE(inner, m.Command)
	WriteUint16LE(inner, m.Seq)
	inner.Write(m.Data)
	tlvs := TLVList{NewTLV(TLVICQMeta, inner.Bytes())}
	return tlvs.WriteTo(w)
}

func (m *ICQMetaMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ICQMetaMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	raw, ok := tlvs.Bytes(TLVICQMeta)
	if !ok {
		return fmt.Errorf("%w: icq meta without data", ErrMalformed)
	}
	r := bytes.NewReader(raw)
	if _, err := ReadUint16LE(r); err != nil {
		return malformed("icq meta length", err)
	}
	if m.UIN, err = ReadUint32LE(r); err != nil {
		return malformed("icq meta uin", err)
	}
	if m.Command, err = ReadUint16LE(r); err != nil {
		return malformed("icq meta command", err)
	}
	if m.Seq, err = ReadUint16LE(r); err != nil {
		return malformed("icq meta sequence", err)
	}
	m.Data = make([]byte, r.Len())
	r.Read(m.Data)
	return nil
}

// UINFromScreenName returns the numeric ICQ id, or 0 for AIM screen names
func UINFromScreenName(name string) uint32 {
	v, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// OfflineMessage is one stored message replayed after sign-on. The server
// stamps it with the time it was stored, in UTC.
type OfflineMessage struct {
	Sender  uint32
	Sent    time.Time
	Type    uint8
	Flags   uint8
	Message []byte // NUL-terminated on the wire, separator-delimited for non-plain types
}

func (o *OfflineMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	t := o.Sent.UTC()
	WriteUint32LE(buf, o.Sender)
	WriteUint16LE(buf, uint16(t.Year()))
	WriteUint8(buf, uint8(t.Month()))
	WriteUint8(buf, uint8(t.Day()))
	WriteUint8(buf, uint8(t.Hour()))
	WriteUint8(buf, uint8(t.Minute()))
	WriteUint8(buf, o.Type)
	WriteUint8(buf, o.Flags)
	if len(o.Message)+1 > 0xFFFF {
		return nil, ErrMessageTooLarge
	}
	WriteUint16LE(buf, uint16(len(o.Message)+1))
	buf.Write(o.Message)
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

func (o *OfflineMessage) Decode(payload []byte) error {
	r := bytes.NewReader(payload)
	sender, err := ReadUint32LE(r)
	if err != nil {
		return malformed("offline sender", err)
	}
	year, err := ReadUint16LE(r)
	if err != nil {
		return malformed("offline year", err)
	}
	var stamp [6]uint8
	for i := range stamp {
		if stamp[i], err = ReadUint8(r); err != nil {
			return malformed("offline timestamp", err)
		}
	}
	length, err := ReadUint16LE(r)
	if err != nil {
		return malformed("offline length", err)
	}
	msg, err := ReadBytes(r, int(length))
	if err != nil {
		return malformed("offline text", err)
	}
	o.Sender = sender
	o.Sent = time.Date(int(year), time.Month(stamp[0]), int(stamp[1]), int(stamp[2]), int(stamp[3]), 0, 0, time.UTC)
	o.Type = stamp[4]
	o.Flags = stamp[5]
	o.Message = bytes.TrimRight(msg, "\x00")
	return nil
}
