package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// CHATNAV (family 0x000D) subtypes
const (
	ChatNavCreateRoom uint16 = 0x0008
	ChatNavInfo       uint16 = 0x0009
)

// CHAT (family 0x000E) subtypes
const (
	ChatRoomInfoUpdate  uint16 = 0x0002
	ChatUsersJoined     uint16 = 0x0003
	ChatUsersLeft       uint16 = 0x0004
	ChatSendMessage     uint16 = 0x0005
	ChatIncomingMessage uint16 = 0x0006
)

// Chat navigation and room TLVs
const (
	TLVNavMaxRooms       uint16 = 0x0002
	TLVNavExchange       uint16 = 0x0003
	TLVNavRoomInfo       uint16 = 0x0004
	TLVRoomQualifiedName uint16 = 0x006A
	TLVRoomOccupancy     uint16 = 0x006F
	TLVRoomMaxMessage    uint16 = 0x00D1
	TLVRoomName          uint16 = 0x00D3
	TLVRoomCharset       uint16 = 0x00D6
	TLVRoomLanguage      uint16 = 0x00D7
)

// Chat message TLVs
const (
	TLVChatPublic      uint16 = 0x0001
	TLVChatSender      uint16 = 0x0003
	TLVChatMessageInfo uint16 = 0x0005
	TLVChatReflect     uint16 = 0x0006
	TLVChatText        uint16 = 0x0001
	TLVChatCharset     uint16 = 0x0002
	TLVChatLanguage    uint16 = 0x0003
)

// DefaultChatExchange is the public exchange user-created rooms live in
const DefaultChatExchange uint16 = 4

// RoomInfo describes one room: its reference, detail level and attributes
type RoomInfo struct {
	Ref    ChatRoomRef
	Detail uint8
	TLVs   TLVList
}

func (ri *RoomInfo) EncodeTo(w io.Writer) error {
	if err := ri.Ref.EncodeTo(w); err != nil {
		return err
	}
	if err := WriteUint8(w, ri.Detail); err != nil {
		return err
	}
	return ri.TLVs.WriteCounted(w)
}

func (ri *RoomInfo) DecodeFrom(r io.Reader) error {
	if err := ri.Ref.DecodeFrom(r); err != nil {
		return err
	}
	detail, err := ReadUint8(r)
	if err != nil {
		return malformed("room detail", err)
	}
	tlvs, err := ReadCountedTLVs(r)
	if err != nil {
		return err
	}
	ri.Detail = detail
	ri.TLVs = tlvs
	return nil
}

// Name returns the room's display name
func (ri *RoomInfo) Name() string {
	if s, ok := ri.TLVs.String(TLVRoomName); ok {
		return s
	}
	s, _ := ri.TLVs.String(TLVRoomQualifiedName)
	return s
}

// CreateRoomMessage (0D/08) - ask the directory to create or locate a room
type CreateRoomMessage struct {
	Exchange uint16
	Name     string
}

func (m *CreateRoomMessage) EncodeTo(w io.Writer) error {
	ri := RoomInfo{
		Ref:    ChatRoomRef{Exchange: m.Exchange, Cookie: "create", Instance: 0xFFFF},
		Detail: 0x01,
		TLVs: TLVList{
			NewTLV(TLVRoomName, m.Name),
			NewTLV(TLVRoomCharset, "us-ascii"),
			NewTLV(TLVRoomLanguage, "en"),
		},
	}
	return ri.EncodeTo(w)
}

func (m *CreateRoomMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *CreateRoomMessage) Decode(payload []byte) error {
	var ri RoomInfo
	if err := ri.DecodeFrom(bytes.NewReader(payload)); err != nil {
		return err
	}
	m.Exchange = ri.Ref.Exchange
	m.Name = ri.Name()
	return nil
}

// NavInfoMessage (0D/09) - directory reply: limits, exchanges and rooms
type NavInfoMessage struct {
	MaxRooms  uint8
	Exchanges []uint16
	Rooms     []RoomInfo
}

func (m *NavInfoMessage) EncodeTo(w io.Writer) error {
	var tlvs TLVList
	if m.MaxRooms != 0 {
		tlvs.Add(TLVNavMaxRooms, m.MaxRooms)
	}
	for _, ex := range m.Exchanges {
		// exchange id followed by an empty attribute list
		tlvs.Add(TLVNavExchange, []byte{byte(ex >> 8), byte(ex), 0, 0})
	}
	for i := range m.Rooms {
		buf := new(bytes.Buffer)
		if err := m.Rooms[i].EncodeTo(buf); err != nil {
			return err
		}
		tlvs.Add(TLVNavRoomInfo, buf.Bytes())
	}
	return tlvs.WriteTo(w)
}

func (m *NavInfoMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *NavInfoMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.MaxRooms, _ = tlvs.Uint8(TLVNavMaxRooms)
	m.Exchanges, m.Rooms = nil, nil
	for _, t := range tlvs {
		switch t.Type {
		case TLVNavExchange:
			if len(t.Value) < 2 {
				return fmt.Errorf("%w: short exchange info", ErrMalformed)
			}
			m.Exchanges = append(m.Exchanges, uint16(t.Value[0])<<8|uint16(t.Value[1]))
		case TLVNavRoomInfo:
			var ri RoomInfo
			if err := ri.DecodeFrom(bytes.NewReader(t.Value)); err != nil {
				return err
			}
			m.Rooms = append(m.Rooms, ri)
		}
	}
	return nil
}

// RoomInfoUpdateMessage (0E/02) - sent on a room connection after join
type RoomInfoUpdateMessage struct {
	RoomInfo
}

func (m *RoomInfoUpdateMessage) Encode() ([]byte, error) {
	return encodeBody(&m.RoomInfo)
}

func (m *RoomInfoUpdateMessage) Decode(payload []byte) error {
	return m.RoomInfo.DecodeFrom(bytes.NewReader(payload))
}

// ChatUsersMessage is the body of users-joined (0E/03) and users-left (0E/04)
type ChatUsersMessage struct {
	Users []UserInfo
}

func (m *ChatUsersMessage) EncodeTo(w io.Writer) error {
	for i := range m.Users {
		if err := m.Users[i].EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *ChatUsersMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ChatUsersMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.Users = nil
	for buf.Len() > 0 {
		var u UserInfo
		if err := u.DecodeFrom(buf); err != nil {
			return err
		}
		m.Users = append(m.Users, u)
	}
	return nil
}

// chatMessageChannel is the ICBM channel used inside chat messages
const chatMessageChannel uint16 = 0x0003

// ChatMessage is the body of send (0E/05) and incoming (0E/06) room messages.
// Sender is only present on incoming messages.
type ChatMessage struct {
	Cookie Cookie
	Sender *UserInfo
	Text   string
}

func (m *ChatMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	if err := WriteUint16(w, chatMessageChannel); err != nil {
		return err
	}

	info := TLVList{
		NewTLV(TLVChatText, m.Text),
		NewTLV(TLVChatCharset, "us-ascii"),
		NewTLV(TLVChatLanguage, "en"),
	}
	infoBuf := new(bytes.Buffer)
	if err := info.WriteTo(infoBuf); err != nil {
		return err
	}

	var tlvs TLVList
	tlvs.Add(TLVChatPublic, nil)
	if m.Sender != nil {
		senderBuf := new(bytes.Buffer)
		if err := m.Sender.EncodeTo(senderBuf); err != nil {
			return err
		}
		tlvs.Add(TLVChatSender, senderBuf.Bytes())
	} else {
		tlvs.Add(TLVChatReflect, nil)
	}
	tlvs.Add(TLVChatMessageInfo, infoBuf.Bytes())
	return tlvs.WriteTo(w)
}

func (m *ChatMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ChatMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	if _, err := ReadUint16(buf); err != nil {
		return malformed("chat channel", err)
	}
	tlvs, err := ReadTLVsUntilEnd(buf)
	if err != nil {
		return err
	}

	m.Cookie = cookie
	m.Sender = nil
	if raw, ok := tlvs.Bytes(TLVChatSender); ok {
		sender := new(UserInfo)
		if err := sender.DecodeFrom(bytes.NewReader(raw)); err != nil {
			return err
		}
		m.Sender = sender
	}
	raw, ok := tlvs.Bytes(TLVChatMessageInfo)
	if !ok {
		return fmt.Errorf("%w: chat message without text", ErrMalformed)
	}
	info, err := ReadTLVsUntilEnd(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	m.Text, _ = info.String(TLVChatText)
	return nil
}
