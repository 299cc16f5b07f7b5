package protocol

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ChannelBody is the channel-specific part of an ICBM. Exactly one of
// *PlainBody, *RendezvousBody, *ExtendedBody or *RawBody.
type ChannelBody interface {
	Channel() uint16
	TLVs() (TLVList, error)
}

// DecodeChannelBody decodes the TLVs that follow the ICBM header for channel
func DecodeChannelBody(channel uint16, tlvs TLVList) (ChannelBody, error) {
	switch channel {
	case ICBMChannelPlain:
		b := new(PlainBody)
		return b, b.decode(tlvs)
	case ICBMChannelRendezvous:
		b := new(RendezvousBody)
		return b, b.decode(tlvs)
	case ICBMChannelExtended:
		b := new(ExtendedBody)
		return b, b.decode(tlvs)
	default:
		return &RawBody{Chan: channel, Fields: tlvs}, nil
	}
}

// ICBM TLVs outside the channel payload
const (
	TLVMessageData      uint16 = 0x0002
	TLVRequestHostAck   uint16 = 0x0003
	TLVAutoResponse     uint16 = 0x0004
	TLVRendezvousData   uint16 = 0x0005
	TLVStoreOffline     uint16 = 0x0006
	TLVTypingCapable    uint16 = 0x000B
	TLVOfflineTimestamp uint16 = 0x0016
)

// Fragments inside TLVMessageData
const (
	fragmentFeatures uint16 = 0x0501
	fragmentText     uint16 = 0x0101
)

var defaultFeatures = []byte{0x01, 0x01, 0x01, 0x02}

// PlainBody is a channel 1 text message
type PlainBody struct {
	Text          string
	Charset       Charset
	AutoResponse  bool
	RequestAck    bool
	StoreOffline  bool
	TypingCapable bool
	Timestamp     time.Time // set for offline deliveries
}

func (b *PlainBody) Channel() uint16 { return ICBMChannelPlain }

func (b *PlainBody) TLVs() (TLVList, error) {
	cs, text := EncodeText(b.Text)
	b.Charset = cs

	frag := new(bytes.Buffer)
	WriteUint16(frag, fragmentFeatures)
	WriteUint16(frag, uint16(len(defaultFeatures)))
	frag.Write(defaultFeatures)
	if len(text)+4 > 0xFFFF {
		return nil, ErrMessageTooLarge
	}
	WriteUint16(frag, fragmentText)
	WriteUint16(frag, uint16(len(text)+4))
	WriteUint16(frag, uint16(cs))
	WriteUint16(frag, 0x0000)
	frag.Write(text)

	tlvs := TLVList{NewTLV(TLVMessageData, frag.Bytes())}
	if b.AutoResponse {
		tlvs.Add(TLVAutoResponse, nil)
	} else {
		if b.RequestAck {
			tlvs.Add(TLVRequestHostAck, nil)
		}
		if b.StoreOffline {
			tlvs.Add(TLVStoreOffline, nil)
		}
	}
	if b.TypingCapable {
		tlvs.Add(TLVTypingCapable, nil)
	}
	if !b.Timestamp.IsZero() {
		tlvs.Add(TLVOfflineTimestamp, uint32(b.Timestamp.Unix()))
	}
	return tlvs, nil
}

func (b *PlainBody) decode(tlvs TLVList) error {
	data, ok := tlvs.Bytes(TLVMessageData)
	if !ok {
		return fmt.Errorf("%w: plain message without text", ErrMalformed)
	}

	// Multipart messages are concatenated in order
	var text strings.Builder
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		id, err := ReadUint16(r)
		if err != nil {
			return malformed("message fragment id", err)
		}
		length, err := ReadUint16(r)
		if err != nil {
			return malformed("message fragment length", err)
		}
		value, err := ReadBytes(r, int(length))
		if err != nil {
			return malformed("message fragment", err)
		}
		if id != fragmentText {
			continue
		}
		if len(value) < 4 {
			return fmt.Errorf("%w: short text fragment", ErrMalformed)
		}
		cs := Charset(uint16(value[0])<<8 | uint16(value[1]))
		s, err := DecodeText(cs, value[4:])
		if err != nil {
			return err
		}
		b.Charset = cs
		text.WriteString(s)
	}

	b.Text = text.String()
	b.AutoResponse = tlvs.Has(TLVAutoResponse)
	b.RequestAck = tlvs.Has(TLVRequestHostAck)
	b.StoreOffline = tlvs.Has(TLVStoreOffline)
	b.TypingCapable = tlvs.Has(TLVTypingCapable)
	if ts, ok := tlvs.Uint32(TLVOfflineTimestamp); ok && ts != 0 {
		b.Timestamp = time.Unix(int64(ts), 0)
	}
	return nil
}

// Rendezvous status values
const (
	RendezvousPropose uint16 = 0x0000
	RendezvousCancel  uint16 = 0x0001
	RendezvousAccept  uint16 = 0x0002
)

// Rendezvous TLVs inside TLVRendezvousData
const (
	TLVRdvProxyIP       uint16 = 0x0002
	TLVRdvClientIP      uint16 = 0x0003
	TLVRdvVerifiedIP    uint16 = 0x0004
	TLVRdvPort          uint16 = 0x0005
	TLVRdvRequestNumber uint16 = 0x000A
	TLVRdvCancelReason  uint16 = 0x000B
	TLVRdvMessage       uint16 = 0x000C
	TLVRdvCharset       uint16 = 0x000D
	TLVRdvLanguage      uint16 = 0x000E
	TLVRdvRequestHost   uint16 = 0x000F
	TLVRdvUseProxy      uint16 = 0x0010
	TLVRdvServiceData   uint16 = 0x2711
)

// RendezvousBody is a channel 2 negotiation message
type RendezvousBody struct {
	Status        uint16
	Cookie        Cookie
	Capability    Capability
	ClientIP      net.IP
	VerifiedIP    net.IP
	Port          uint16
	RequestNumber uint16
	CancelReason  uint16
	Message       string
	UseProxy      bool
	ServiceData   []byte
	RequestAck    bool
}

func (b *RendezvousBody) Channel() uint16 { return ICBMChannelRendezvous }

func (b *RendezvousBody) TLVs() (TLVList, error) {
	var inner TLVList
	if b.Status == RendezvousPropose {
		if b.RequestNumber != 0 {
			inner.Add(TLVRdvRequestNumber, b.RequestNumber)
		}
		if ip4 := b.ClientIP.To4(); ip4 != nil {
			inner.Add(TLVRdvClientIP, []byte(ip4))
		}
		if ip4 := b.VerifiedIP.To4(); ip4 != nil {
			inner.Add(TLVRdvVerifiedIP, []byte(ip4))
		}
		if b.Port != 0 {
			inner.Add(TLVRdvPort, b.Port)
		}
		inner.Add(TLVRdvRequestHost, nil)
		if b.UseProxy {
			inner.Add(TLVRdvUseProxy, nil)
		}
		if b.Message != "" {
			inner.Add(TLVRdvMessage, b.Message)
			inner.Add(TLVRdvCharset, "us-ascii")
			inner.Add(TLVRdvLanguage, "en")
		}
		if b.ServiceData != nil {
			inner.Add(TLVRdvServiceData, b.ServiceData)
		}
	}
	if b.Status == RendezvousCancel && b.CancelReason != 0 {
		inner.Add(TLVRdvCancelReason, b.CancelReason)
	}

	buf := new(bytes.Buffer)
	WriteUint16(buf, b.Status)
	buf.Write(b.Cookie[:])
	buf.Write(b.Capability[:])
	if err := inner.WriteTo(buf); err != nil {
		return nil, err
	}

	var tlvs TLVList
	if b.RequestAck {
		tlvs.Add(TLVRequestHostAck, nil)
	}
	tlvs.Add(TLVRendezvousData, buf.Bytes())
	return tlvs, nil
}

func (b *RendezvousBody) decode(tlvs TLVList) error {
	data, ok := tlvs.Bytes(TLVRendezvousData)
	if !ok {
		return fmt.Errorf("%w: rendezvous without data block", ErrMalformed)
	}
	r := bytes.NewReader(data)
	status, err := ReadUint16(r)
	if err != nil {
		return malformed("rendezvous status", err)
	}
	cookie, err := readCookie(r)
	if err != nil {
		return err
	}
	var capability Capability
	if _, err := io.ReadFull(r, capability[:]); err != nil {
		return malformed("rendezvous capability", err)
	}
	inner, err := ReadTLVsUntilEnd(r)
	if err != nil {
		return err
	}

	b.Status = status
	b.Cookie = cookie
	b.Capability = capability
	b.RequestAck = tlvs.Has(TLVRequestHostAck)
	if ip, ok := inner.Bytes(TLVRdvClientIP); ok && len(ip) == 4 {
		b.ClientIP = net.IP(ip)
	}
	if ip, ok := inner.Bytes(TLVRdvVerifiedIP); ok && len(ip) == 4 {
		b.VerifiedIP = net.IP(ip)
	}
	b.Port, _ = inner.Uint16(TLVRdvPort)
	b.RequestNumber, _ = inner.Uint16(TLVRdvRequestNumber)
	b.CancelReason, _ = inner.Uint16(TLVRdvCancelReason)
	b.Message, _ = inner.String(TLVRdvMessage)
	b.UseProxy = inner.Has(TLVRdvUseProxy)
	b.ServiceData, _ = inner.Bytes(TLVRdvServiceData)
	return nil
}

// PeerAddr returns the address to dial for this proposal. The server-verified
// address wins over the one the peer claims for itself.
func (b *RendezvousBody) PeerAddr() string {
	ip := b.VerifiedIP
	if ip == nil {
		ip = b.ClientIP
	}
	if ip == nil || b.Port == 0 {
		return ""
	}
	return net.JoinHostPort(ip.String(), fmt.Sprint(b.Port))
}

// FileListInfo is the file-transfer service data of a proposal
type FileListInfo struct {
	FileCount uint16
	TotalSize uint32
	Name      string // single file name, or the directory name for multiple files
}

func (f *FileListInfo) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	multiple := uint16(0x0001)
	if f.FileCount > 1 {
		multiple = 0x0002
	}
	WriteUint16(buf, multiple)
	WriteUint16(buf, f.FileCount)
	WriteUint32(buf, f.TotalSize)
	buf.WriteString(f.Name)
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

func (f *FileListInfo) Decode(payload []byte) error {
	r := bytes.NewReader(payload)
	if _, err := ReadUint16(r); err != nil {
		return malformed("file list kind", err)
	}
	count, err := ReadUint16(r)
	if err != nil {
		return malformed("file count", err)
	}
	total, err := ReadUint32(r)
	if err != nil {
		return malformed("file total size", err)
	}
	rest := make([]byte, r.Len())
	r.Read(rest)
	f.FileCount = count
	f.TotalSize = total
	f.Name = string(bytes.TrimRight(rest, "\x00"))
	return nil
}

// ChatInviteInfo is the chat-invite service data of a proposal
type ChatInviteInfo struct {
	Room ChatRoomRef
}

func (c *ChatInviteInfo) Encode() ([]byte, error) {
	return c.Room.Bytes(), nil
}

func (c *ChatInviteInfo) Decode(payload []byte) error {
	return c.Room.DecodeFrom(bytes.NewReader(payload))
}

// Extended message types (channel 4)
const (
	ExtendedPlain     uint8 = 0x01
	ExtendedURL       uint8 = 0x04
	ExtendedAuthReq   uint8 = 0x06
	ExtendedAuthDeny  uint8 = 0x07
	ExtendedAuthGrant uint8 = 0x08
	ExtendedAdded     uint8 = 0x0C
	ExtendedContacts  uint8 = 0x13
)

// ExtendedFieldSeparator delimits the fields of a channel 4 message
const ExtendedFieldSeparator = "\xFE"

// ExtendedBody is a channel 4 message. The embedded block uses little-endian
// integers and a NUL-terminated text of separator-delimited fields.
type ExtendedBody struct {
	UIN          uint32
	Type         uint8
	Flags        uint8
	Fields       []string
	StoreOffline bool
}

func (b *ExtendedBody) Channel() uint16 { return ICBMChannelExtended }

func (b *ExtendedBody) TLVs() (TLVList, error) {
	text := strings.Join(b.Fields, ExtendedFieldSeparator)
	if len(text)+1 > 0xFFFF {
		return nil, ErrMessageTooLarge
	}
	buf := new(bytes.Buffer)
	WriteUint32LE(buf, b.UIN)
	WriteUint8(buf, b.Type)
	WriteUint8(buf, b.Flags)
	WriteUint16LE(buf, uint16(len(text)+1))
	buf.WriteString(text)
	buf.WriteByte(0)

	tlvs := TLVList{NewTLV(TLVRendezvousData, buf.Bytes())}
	if b.StoreOffline {
		tlvs.Add(TLVStoreOffline, nil)
	}
	return tlvs, nil
}

func (b *ExtendedBody) decode(tlvs TLVList) error {
	data, ok := tlvs.Bytes(TLVRendezvousData)
	if !ok {
		return fmt.Errorf("%w: extended message without data block", ErrMalformed)
	}
	r := bytes.NewReader(data)
	uin, err := ReadUint32LE(r)
	if err != nil {
		return malformed("extended uin", err)
	}
	typ, err := ReadUint8(r)
	if err != nil {
		return malformed("extended type", err)
	}
	flags, err := ReadUint8(r)
	if err != nil {
		return malformed("extended flags", err)
	}
	length, err := ReadUint16LE(r)
	if err != nil {
		return malformed("extended length", err)
	}
	text, err := ReadBytes(r, int(length))
	if err != nil {
		return malformed("extended text", err)
	}

	b.UIN = uin
	b.Type = typ
	b.Flags = flags
	b.StoreOffline = tlvs.Has(TLVStoreOffline)
	b.Fields = SplitExtendedFields(text)
	return nil
}

// SplitExtendedFields trims the trailing NUL and splits on the field separator
func SplitExtendedFields(text []byte) []string {
	s := strings.TrimRight(string(text), "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, ExtendedFieldSeparator)
}

// Text returns the human-readable part. URL messages join description and
// link; authorization messages keep only the trailing reason field.
func (b *ExtendedBody) Text() string {
	if len(b.Fields) == 0 {
		return ""
	}
	switch b.Type {
	case ExtendedURL:
		return strings.Join(b.Fields, " ")
	case ExtendedAuthReq, ExtendedAuthDeny:
		return b.Fields[len(b.Fields)-1]
	default:
		return strings.Join(b.Fields, ExtendedFieldSeparator)
	}
}

// Contacts decodes a contact-sharing message: count, then name/alias pairs
func (b *ExtendedBody) Contacts() []string {
	if b.Type != ExtendedContacts || len(b.Fields) < 1 {
		return nil
	}
	var names []string
	for i := 1; i+1 < len(b.Fields); i += 2 {
		names = append(names, b.Fields[i])
	}
	return names
}

// RawBody keeps the TLVs of a channel this client does not understand
type RawBody struct {
	Chan   uint16
	Fields TLVList
}

func (b *RawBody) Channel() uint16 { return b.Chan }

func (b *RawBody) TLVs() (TLVList, error) { return b.Fields, nil }
