package protocol

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// OSERVICE (family 0x0001) subtypes
const (
	OServiceClientReady       uint16 = 0x0002
	OServiceHostOnline        uint16 = 0x0003
	OServiceServiceRequest    uint16 = 0x0004
	OServiceRedirect          uint16 = 0x0005
	OServiceRateParamsRequest uint16 = 0x0006
	OServiceRateParamsReply   uint16 = 0x0007
	OServiceRateParamsAck     uint16 = 0x0008
	OServiceRateChange        uint16 = 0x000A
	OServicePause             uint16 = 0x000B
	OServiceSelfInfoRequest   uint16 = 0x000E
	OServiceSelfInfoReply     uint16 = 0x000F
	OServiceEvilNotification  uint16 = 0x0010
	OServiceIdle              uint16 = 0x0011
	OServiceMOTD              uint16 = 0x0013
	OServiceClientVersions    uint16 = 0x0017
	OServiceHostVersions      uint16 = 0x0018
)

// TLVChatRoomInfo carries the room tuple in a chat service request
const TLVChatRoomInfo uint16 = 0x0001

// Rate-change notice codes
const (
	RateCodeChange uint16 = 0x0001
	RateCodeWarn   uint16 = 0x0002
	RateCodeLimit  uint16 = 0x0003
	RateCodeClear  uint16 = 0x0004
)

// FamilyVersion pairs a family with the version this side speaks
type FamilyVersion struct {
	Family  uint16
	Version uint16
}

// ClientFamilyVersions lists every family this client implements
var ClientFamilyVersions = []FamilyVersion{
	{FamilyOService, 4},
	{FamilyLocate, 1},
	{FamilyBuddy, 1},
	{FamilyICBM, 1},
	{FamilyAdmin, 1},
	{FamilyPD, 1},
	{FamilyChatNav, 1},
	{FamilyChat, 1},
	{FamilyFeedbag, 4},
	{FamilyICQ, 1},
	{FamilyAlert, 1},
}

// ClientReadyMessage (01/02) - the client has finished its handshake.
// Each entry is family, version, tool id, tool version.
type ClientReadyMessage struct {
	Families []FamilyVersion
}

func (m *ClientReadyMessage) EncodeTo(w io.Writer) error {
	for _, f := range m.Families {
		if err := WriteUint16(w, f.Family); err != nil {
			return err
		}
		if err := WriteUint16(w, f.Version); err != nil {
			return err
		}
		if err := WriteUint16(w, 0x0110); err != nil {
			return err
		}
		if err := WriteUint16(w, 0x0739); err != nil {
			return err
		}
	}
	return nil
}

func (m *ClientReadyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ClientReadyMessage) Decode(payload []byte) error {
	if len(payload)%8 != 0 {
		return fmt.Errorf("%w: client ready length %d", ErrMalformed, len(payload))
	}
	m.Families = nil
	for i := 0; i < len(payload); i += 8 {
		m.Families = append(m.Families, FamilyVersion{
			Family:  uint16(payload[i])<<8 | uint16(payload[i+1]),
			Version: uint16(payload[i+2])<<8 | uint16(payload[i+3]),
		})
	}
	return nil
}

// HostOnlineMessage (01/03) - families served by this connection
type HostOnlineMessage struct {
	Families []uint16
}

func (m *HostOnlineMessage) EncodeTo(w io.Writer) error {
	for _, f := range m.Families {
		if err := WriteUint16(w, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *HostOnlineMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *HostOnlineMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.Families = nil
	for buf.Len() >= 2 {
		f, _ := ReadUint16(buf)
		m.Families = append(m.Families, f)
	}
	return nil
}

// ChatRoomRef identifies a chat room: exchange, cookie and instance
type ChatRoomRef struct {
	Exchange uint16
	Cookie   string
	Instance uint16
}

func (r *ChatRoomRef) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, r.Exchange); err != nil {
		return err
	}
	if err := WriteString8(w, r.Cookie); err != nil {
		return err
	}
	return WriteUint16(w, r.Instance)
}

// DecodeFrom reads a room reference from r
func (r *ChatRoomRef) DecodeFrom(rd io.Reader) error {
	exchange, err := ReadUint16(rd)
	if err != nil {
		return malformed("room exchange", err)
	}
	cookie, err := ReadString8(rd)
	if err != nil {
		return malformed("room cookie", err)
	}
	instance, err := ReadUint16(rd)
	if err != nil {
		return malformed("room instance", err)
	}
	r.Exchange = exchange
	r.Cookie = cookie
	r.Instance = instance
	return nil
}

// Bytes returns the encoded tuple
func (r ChatRoomRef) Bytes() []byte {
	buf := new(bytes.Buffer)
	r.EncodeTo(buf)
	return buf.Bytes()
}

func (r ChatRoomRef) String() string {
	return fmt.Sprintf("%d/%s/%d", r.Exchange, r.Cookie, r.Instance)
}

// ServiceRequestMessage (01/04) - ask for a connection to another family.
// Room is set only when requesting a chat room connection.
type ServiceRequestMessage struct {
	Family uint16
	Room   *ChatRoomRef
}

func (m *ServiceRequestMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, m.Family); err != nil {
		return err
	}
	if m.Room == nil {
		return nil
	}
	tlvs := TLVList{NewTLV(TLVChatRoomInfo, m.Room.Bytes())}
	return tlvs.WriteTo(w)
}

func (m *ServiceRequestMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *ServiceRequestMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	family, err := ReadUint16(buf)
	if err != nil {
		return malformed("service family", err)
	}
	tlvs, err := ReadTLVsUntilEnd(buf)
	if err != nil {
		return err
	}
	m.Family = family
	m.Room = nil
	if raw, ok := tlvs.Bytes(TLVChatRoomInfo); ok {
		room := new(ChatRoomRef)
		if err := room.DecodeFrom(bytes.NewReader(raw)); err != nil {
			return err
		}
		m.Room = room
	}
	return nil
}

// RedirectMessage (01/05) - where to connect for a requested service
type RedirectMessage struct {
	Family  uint16
	Address string
	Cookie  []byte
}

func (m *RedirectMessage) EncodeTo(w io.Writer) error {
	tlvs := TLVList{
		NewTLV(TLVServiceFamily, m.Family),
		NewTLV(TLVServerAddress, m.Address),
		NewTLV(TLVCookie, m.Cookie),
	}
	return tlvs.WriteTo(w)
}

func (m *RedirectMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *RedirectMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	var ok bool
	if m.Family, ok = tlvs.Uint16(TLVServiceFamily); !ok {
		return fmt.Errorf("%w: redirect without family", ErrMalformed)
	}
	if m.Address, ok = tlvs.String(TLVServerAddress); !ok {
		return fmt.Errorf("%w: redirect without address", ErrMalformed)
	}
	m.Cookie, _ = tlvs.Bytes(TLVCookie)
	return nil
}

// RateClassParams is one rate class from the rate-params reply or a
// rate-change notice. Averages and window are in milliseconds.
type RateClassParams struct {
	ID         uint16
	Window     uint32
	Clear      uint32
	Alert      uint32
	Limit      uint32
	Disconnect uint32
	Current    uint32
	Max        uint32
	LastTime   uint32
	State      uint8
}

func (p *RateClassParams) encodeTo(w io.Writer, extended bool) error {
	fields := []uint32{p.Window, p.Clear, p.Alert, p.Limit, p.Disconnect, p.Current, p.Max}
	if err := WriteUint16(w, p.ID); err != nil {
		return err
	}
	for _, v := range fields {
		if err := WriteUint32(w, v); err != nil {
			return err
		}
	}
	if !extended {
		return nil
	}
	if err := WriteUint32(w, p.LastTime); err != nil {
		return err
	}
	return WriteUint8(w, p.State)
}

func (p *RateClassParams) decodeFrom(r *bytes.Reader, extended bool) error {
	id, err := ReadUint16(r)
	if err != nil {
		return malformed("rate class id", err)
	}
	var fields [7]uint32
	for i := range fields {
		if fields[i], err = ReadUint32(r); err != nil {
			return malformed("rate class params", err)
		}
	}
	p.ID = id
	p.Window, p.Clear, p.Alert, p.Limit = fields[0], fields[1], fields[2], fields[3]
	p.Disconnect, p.Current, p.Max = fields[4], fields[5], fields[6]
	if extended && r.Len() >= 5 {
		p.LastTime, _ = ReadUint32(r)
		p.State, _ = ReadUint8(r)
	}
	return nil
}

// RatePair is a (family, subtype) pair governed by a rate class
type RatePair struct {
	Family  uint16
	Subtype uint16
}

// RateParamsReplyMessage (01/07) - rate classes and their members
type RateParamsReplyMessage struct {
	Classes []RateClassParams
	Members map[uint16][]RatePair
}

func (m *RateParamsReplyMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, uint16(len(m.Classes))); err != nil {
		return err
	}
	for i := range m.Classes {
		if err := m.Classes[i].encodeTo(w, true); err != nil {
			return err
		}
	}
	for _, c := range m.Classes {
		pairs := m.Members[c.ID]
		if err := WriteUint16(w, c.ID); err != nil {
			return err
		}
		if err := WriteUint16(w, uint16(len(pairs))); err != nil {
			return err
		}
		for _, p := range pairs {
			if err := WriteUint16(w, p.Family); err != nil {
				return err
			}
			if err := WriteUint16(w, p.Subtype); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *RateParamsReplyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *RateParamsReplyMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	count, err := ReadUint16(buf)
	if err != nil {
		return malformed("rate class count", err)
	}
	classes := make([]RateClassParams, count)
	for i := range classes {
		if err := classes[i].decodeFrom(buf, true); err != nil {
			return err
		}
	}
	members := make(map[uint16][]RatePair, count)
	for i := 0; i < int(count); i++ {
		id, err := ReadUint16(buf)
		if err != nil {
			return malformed("rate member class", err)
		}
		n, err := ReadUint16(buf)
		if err != nil {
			return malformed("rate member count", err)
		}
		for j := 0; j < int(n); j++ {
			fam, err := ReadUint16(buf)
			if err != nil {
				return malformed("rate member family", err)
			}
			sub, err := ReadUint16(buf)
			if err != nil {
				return malformed("rate member subtype", err)
			}
			members[id] = append(members[id], RatePair{fam, sub})
		}
	}
	m.Classes = classes
	m.Members = members
	return nil
}

// ClassIDs returns the ids to acknowledge with RateParamsAckMessage
func (m *RateParamsReplyMessage) ClassIDs() []uint16 {
	ids := make([]uint16, len(m.Classes))
	for i, c := range m.Classes {
		ids[i] = c.ID
	}
	return ids
}

// RateParamsAckMessage (01/08) - subscribe to rate-change notices for classes
type RateParamsAckMessage struct {
	ClassIDs []uint16
}

func (m *RateParamsAckMessage) EncodeTo(w io.Writer) error {
	for _, id := range m.ClassIDs {
		if err := WriteUint16(w, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *RateParamsAckMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *RateParamsAckMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.ClassIDs = nil
	for buf.Len() >= 2 {
		id, _ := ReadUint16(buf)
		m.ClassIDs = append(m.ClassIDs, id)
	}
	return nil
}

// RateChangeMessage (01/0A) - server-pushed rate notice
type RateChangeMessage struct {
	Code  uint16
	Class RateClassParams
}

func (m *RateChangeMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, m.Code); err != nil {
		return err
	}
	return m.Class.encodeTo(w, false)
}

func (m *RateChangeMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *RateChangeMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	code, err := ReadUint16(buf)
	if err != nil {
		return malformed("rate change code", err)
	}
	m.Code = code
	return m.Class.decodeFrom(buf, true)
}

// HostVersionsMessage (01/17 and 01/18) - family versions spoken by each side
type HostVersionsMessage struct {
	Versions []FamilyVersion
}

func (m *HostVersionsMessage) EncodeTo(w io.Writer) error {
	for _, v := range m.Versions {
		if err := WriteUint16(w, v.Family); err != nil {
			return err
		}
		if err := WriteUint16(w, v.Version); err != nil {
			return err
		}
	}
	return nil
}

func (m *HostVersionsMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *HostVersionsMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.Versions = nil
	for buf.Len() >= 4 {
		f, _ := ReadUint16(buf)
		v, _ := ReadUint16(buf)
		m.Versions = append(m.Versions, FamilyVersion{f, v})
	}
	return nil
}

// IdleMessage (01/11) - report idle time, zero clears idle
type IdleMessage struct {
	Idle time.Duration
}

func (m *IdleMessage) EncodeTo(w io.Writer) error {
	return WriteUint32(w, uint32(m.Idle/time.Second))
}

func (m *IdleMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *IdleMessage) Decode(payload []byte) error {
	secs, err := ReadUint32(bytes.NewReader(payload))
	if err != nil {
		return malformed("idle seconds", err)
	}
	m.Idle = time.Duration(secs) * time.Second
	return nil
}

// EvilNotificationMessage (01/10) - our warning level changed. From is nil
// for anonymous warnings.
type EvilNotificationMessage struct {
	WarningLevel uint16
	From         *UserInfo
}

func (m *EvilNotificationMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, m.WarningLevel); err != nil {
		return err
	}
	if m.From == nil {
		return nil
	}
	return m.From.EncodeTo(w)
}

func (m *EvilNotificationMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *EvilNotificationMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	level, err := ReadUint16(buf)
	if err != nil {
		return malformed("warning level", err)
	}
	m.WarningLevel = level
	m.From = nil
	if buf.Len() > 0 {
		from := new(UserInfo)
		if err := from.DecodeFrom(buf); err != nil {
			return err
		}
		m.From = from
	}
	return nil
}
