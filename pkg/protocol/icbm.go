package protocol

import (
	"bytes"
	"encoding/hex"
	"io"
	"time"
)

// ICBM (family 0x0004) subtypes
const (
	ICBMSetParams     uint16 = 0x0002
	ICBMParamsRequest uint16 = 0x0004
	ICBMParamsReply   uint16 = 0x0005
	ICBMSend          uint16 = 0x0006
	ICBMIncoming      uint16 = 0x0007
	ICBMEvilRequest   uint16 = 0x0008
	ICBMMissedCalls   uint16 = 0x000A
	ICBMClientError   uint16 = 0x000B
	ICBMHostAck       uint16 = 0x000C
	ICBMTypingNotify  uint16 = 0x0014
)

// ICBM channels
const (
	ICBMChannelPlain      uint16 = 0x0001
	ICBMChannelRendezvous uint16 = 0x0002
	ICBMChannelExtended   uint16 = 0x0004
)

// Typing notification states
const (
	TypingFinished uint16 = 0x0000
	TypingPaused   uint16 = 0x0001
	TypingBegun    uint16 = 0x0002
)

// Cookie is the 8-byte ICBM message cookie. Rendezvous negotiations are
// correlated by it for their whole lifetime.
type Cookie [8]byte

func (c Cookie) String() string {
	return hex.EncodeToString(c[:])
}

func readCookie(r io.Reader) (Cookie, error) {
	var c Cookie
	if _, err := io.ReadFull(r, c[:]); err != nil {
		return c, malformed("icbm cookie", err)
	}
	return c, nil
}

// ICBM parameter flags
const (
	ICBMFlagChannelMessages uint32 = 0x00000001
	ICBMFlagMissedCalls     uint32 = 0x00000002
	ICBMFlagTypingNotify    uint32 = 0x00000008
	ICBMFlagOfflineMessages uint32 = 0x00000100
)

// ICBMParams is carried by both the params reply (04/05) and set params (04/02)
type ICBMParams struct {
	Channel            uint16
	Flags              uint32
	MaxMessageLength   uint16
	MaxSenderWarning   uint16
	MaxReceiverWarning uint16
	MinInterval        time.Duration
}

// DefaultICBMParams is what the client sets after reading the server's reply
var DefaultICBMParams = ICBMParams{
	Channel:            0,
	Flags:              ICBMFlagChannelMessages | ICBMFlagMissedCalls | ICBMFlagTypingNotify | ICBMFlagOfflineMessages,
	MaxMessageLength:   8000,
	MaxSenderWarning:   999,
	MaxReceiverWarning: 999,
	MinInterval:        0,
}

func (m *ICBMParams) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, m.Channel); err != nil {
		return err
	}
	if err := WriteUint32(w, m.Flags); err != nil {
		return err
	}
	if err := WriteUint16(w, m.MaxMessageLength); err != nil {
		return err
	}
	if err := WriteUint16(w, m.MaxSenderWarning); err != nil {
		return err
	}
	if err := WriteUint16(w, m.MaxReceiverWarning); err != nil {
		return err
	}
	return WriteUint32(w, uint32(m.MinInterval/time.Millisecond))
}

func (m *ICBMParams) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ICBMParams) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if m.Channel, err = ReadUint16(buf); err != nil {
		return malformed("icbm params channel", err)
	}
	if m.Flags, err = ReadUint32(buf); err != nil {
		return malformed("icbm params flags", err)
	}
	if m.MaxMessageLength, err = ReadUint16(buf); err != nil {
		return malformed("icbm params max length", err)
	}
	if m.MaxSenderWarning, err = ReadUint16(buf); err != nil {
		return malformed("icbm params sender warning", err)
	}
	if m.MaxReceiverWarning, err = ReadUint16(buf); err != nil {
		return malformed("icbm params receiver warning", err)
	}
	interval, err := ReadUint32(buf)
	if err != nil {
		return malformed("icbm params interval", err)
	}
	m.MinInterval = time.Duration(interval) * time.Millisecond
	return nil
}

// SendICBMMessage (04/06) - outgoing message on any channel
type SendICBMMessage struct {
	Cookie     Cookie
	ScreenName string
	Body       ChannelBody
}

func (m *SendICBMMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	if err := WriteUint16(w, m.Body.Channel()); err != nil {
		return err
	}
	if err := WriteString8(w, m.ScreenName); err != nil {
		return err
	}
	tlvs, err := m.Body.TLVs()
	if err != nil {
		return err
	}
	return tlvs.WriteTo(w)
}

func (m *SendICBMMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *SendICBMMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	channel, err := ReadUint16(buf)
	if err != nil {
		return malformed("icbm channel", err)
	}
	name, err := ReadString8(buf)
	if err != nil {
		return malformed("icbm recipient", err)
	}
	tlvs, err := ReadTLVsUntilEnd(buf)
	if err != nil {
		return err
	}
	body, err := DecodeChannelBody(channel, tlvs)
	if err != nil {
		return err
	}
	m.Cookie = cookie
	m.ScreenName = name
	m.Body = body
	return nil
}

// IncomingICBMMessage (04/07) - a message delivered to us
type IncomingICBMMessage struct {
	Cookie Cookie
	Sender UserInfo
	Body   ChannelBody
}

func (m *IncomingICBMMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	if err := WriteUint16(w, m.Body.Channel()); err != nil {
		return err
	}
	if err := m.Sender.EncodeTo(w); err != nil {
		return err
	}
	tlvs, err := m.Body.TLVs()
	if err != nil {
		return err
	}
	return tlvs.WriteTo(w)
}

func (m *IncomingICBMMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *IncomingICBMMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	channel, err := ReadUint16(buf)
	if err != nil {
		return malformed("icbm channel", err)
	}
	var sender UserInfo
	if err := sender.DecodeFrom(buf); err != nil {
		return err
	}
	tlvs, err := ReadTLVsUntilEnd(buf)
	if err != nil {
		return err
	}
	body, err := DecodeChannelBody(channel, tlvs)
	if err != nil {
		return err
	}
	m.Cookie = cookie
	m.Sender = sender
	m.Body = body
	return nil
}

// HostAckMessage (04/0C) - the server accepted a message sent with an ack request
type HostAckMessage struct {
	Cookie     Cookie
	Channel    uint16
	ScreenName string
}

func (m *HostAckMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	if err := WriteUint16(w, m.Channel); err != nil {
		return err
	}
	return WriteString8(w, m.ScreenName)
}

func (m *HostAckMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *HostAckMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	channel, err := ReadUint16(buf)
	if err != nil {
		return malformed("host ack channel", err)
	}
	name, err := ReadString8(buf)
	if err != nil {
		return malformed("host ack name", err)
	}
	m.Cookie = cookie
	m.Channel = channel
	m.ScreenName = name
	return nil
}

// MissedCall is one entry of a missed-calls notice
type MissedCall struct {
	Channel uint16
	Sender  UserInfo
	Count   uint16
	Reason  uint16
}

// MissedCallsMessage (04/0A) - messages the server dropped before delivery
type MissedCallsMessage struct {
	Calls []MissedCall
}

func (m *MissedCallsMessage) EncodeTo(w io.Writer) error {
	for _, c := range m.Calls {
		if err := WriteUint16(w, c.Channel); err != nil {
			return err
		}
		if err := c.Sender.EncodeTo(w); err != nil {
			return err
		}
		if err := WriteUint16(w, c.Count); err != nil {
			return err
		}
		if err := WriteUint16(w, c.Reason); err != nil {
			return err
		}
	}
	return nil
}

func (m *MissedCallsMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *MissedCallsMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.Calls = nil
	for buf.Len() > 0 {
		var c MissedCall
		var err error
		if c.Channel, err = ReadUint16(buf); err != nil {
			return malformed("missed call channel", err)
		}
		if err := c.Sender.DecodeFrom(buf); err != nil {
			return err
		}
		if c.Count, err = ReadUint16(buf); err != nil {
			return malformed("missed call count", err)
		}
		if c.Reason, err = ReadUint16(buf); err != nil {
			return malformed("missed call reason", err)
		}
		m.Calls = append(m.Calls, c)
	}
	return nil
}

// ClientErrorMessage (04/0B) - the peer client rejected a message
type ClientErrorMessage struct {
	Cookie     Cookie
	Channel    uint16
	ScreenName string
	Code       uint16
}

func (m *ClientErrorMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	if err := WriteUint16(w, m.Channel); err != nil {
		return err
	}
	if err := WriteString8(w, m.ScreenName); err != nil {
		return err
	}
	return WriteUint16(w, m.Code)
}

func (m *ClientErrorMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ClientErrorMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	if m.Channel, err = ReadUint16(buf); err != nil {
		return malformed("client error channel", err)
	}
	if m.ScreenName, err = ReadString8(buf); err != nil {
		return malformed("client error name", err)
	}
	if m.Code, err = ReadUint16(buf); err != nil {
		return malformed("client error code", err)
	}
	m.Cookie = cookie
	return nil
}

// TypingNotifyMessage (04/14) - mini typing notification, both directions
type TypingNotifyMessage struct {
	Cookie     Cookie
	Channel    uint16
	ScreenName string
	State      uint16
}

func (m *TypingNotifyMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	if err := WriteUint16(w, m.Channel); err != nil {
		return err
	}
	if err := WriteString8(w, m.ScreenName); err != nil {
		return err
	}
	return WriteUint16(w, m.State)
}

func (m *TypingNotifyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *TypingNotifyMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	if m.Channel, err = ReadUint16(buf); err != nil {
		return malformed("typing channel", err)
	}
	if m.ScreenName, err = ReadString8(buf); err != nil {
		return malformed("typing name", err)
	}
	if m.State, err = ReadUint16(buf); err != nil {
		return malformed("typing state", err)
	}
	m.Cookie = cookie
	return nil
}
