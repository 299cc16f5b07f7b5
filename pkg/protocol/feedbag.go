package protocol

import (
	"bytes"
	"io"
	"time"
)

// FEEDBAG (family 0x0013) subtypes
const (
	FeedbagListRequest    uint16 = 0x0004
	FeedbagListIfModified uint16 = 0x0005
	FeedbagListReply      uint16 = 0x0006
	FeedbagActivate       uint16 = 0x0007
	FeedbagAdd            uint16 = 0x0008
	FeedbagModify         uint16 = 0x0009
	FeedbagDelete         uint16 = 0x000A
	FeedbagAck            uint16 = 0x000E
	FeedbagNoChange       uint16 = 0x000F
	FeedbagEditStart      uint16 = 0x0011
	FeedbagEditStop       uint16 = 0x0012
)

// Feedbag item classes
const (
	FeedbagClassBuddy    uint16 = 0x0000
	FeedbagClassGroup    uint16 = 0x0001
	FeedbagClassPermit   uint16 = 0x0002
	FeedbagClassDeny     uint16 = 0x0003
	FeedbagClassPDInfo   uint16 = 0x0004
	FeedbagClassPresence uint16 = 0x0005
)

// Feedbag item attribute TLVs
const (
	TLVFeedbagPendingAuth uint16 = 0x0066
	TLVFeedbagMembers     uint16 = 0x00C8
	TLVFeedbagPresence    uint16 = 0x00C9
	TLVFeedbagPDMode      uint16 = 0x00CA
	TLVFeedbagPDMask      uint16 = 0x00CB
	TLVFeedbagAlias       uint16 = 0x0131
)

// TLVFeedbagMaxItems carries one u16 limit per item class in the rights reply
const TLVFeedbagMaxItems uint16 = 0x0004

// FeedbagItem is one server-stored contact-list entry.
// Format: [name (string16)][group id][item id][class][attributes (tlv block)]
type FeedbagItem struct {
	Name    string
	GroupID uint16
	ItemID  uint16
	Class   uint16
	Attrs   TLVList
}

func (it *FeedbagItem) EncodeTo(w io.Writer) error {
	if err := WriteString(w, it.Name); err != nil {
		return err
	}
	if err := WriteUint16(w, it.GroupID); err != nil {
		return err
	}
	if err := WriteUint16(w, it.ItemID); err != nil {
		return err
	}
	if err := WriteUint16(w, it.Class); err != nil {
		return err
	}
	return it.Attrs.WriteBlock(w)
}

func (it *FeedbagItem) DecodeFrom(r io.Reader) error {
	name, err := ReadString(r)
	if err != nil {
		return malformed("feedbag item name", err)
	}
	group, err := ReadUint16(r)
	if err != nil {
		return malformed("feedbag group id", err)
	}
	item, err := ReadUint16(r)
	if err != nil {
		return malformed("feedbag item id", err)
	}
	class, err := ReadUint16(r)
	if err != nil {
		return malformed("feedbag class", err)
	}
	attrs, err := ReadTLVBlock(r)
	if err != nil {
		return err
	}
	it.Name = name
	it.GroupID = group
	it.ItemID = item
	it.Class = class
	it.Attrs = attrs
	return nil
}

// Members returns the ordered child ids stored on a group item
func (it *FeedbagItem) Members() []uint16 {
	raw, ok := it.Attrs.Bytes(TLVFeedbagMembers)
	if !ok {
		return nil
	}
	ids := make([]uint16, 0, len(raw)/2)
	for i := 0; i+2 <= len(raw); i += 2 {
		ids = append(ids, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return ids
}

// SetMembers replaces the child id list of a group item
func (it *FeedbagItem) SetMembers(ids []uint16) {
	raw := make([]byte, 0, 2*len(ids))
	for _, id := range ids {
		raw = append(raw, byte(id>>8), byte(id))
	}
	it.SetAttr(NewTLV(TLVFeedbagMembers, raw))
}

// SetAttr replaces or appends an attribute TLV
func (it *FeedbagItem) SetAttr(t TLV) {
	for i := range it.Attrs {
		if it.Attrs[i].Type == t.Type {
			it.Attrs[i] = t
			return
		}
	}
	it.Attrs = append(it.Attrs, t)
}

// RemoveAttr drops an attribute TLV if present
func (it *FeedbagItem) RemoveAttr(typ uint16) {
	out := it.Attrs[:0]
	for _, t := range it.Attrs {
		if t.Type != typ {
			out = append(out, t)
		}
	}
	it.Attrs = out
}

// FeedbagListReplyMessage (13/06) - the full or partial server list. The
// server sets SNACFlagMoreReplies when further parts follow.
type FeedbagListReplyMessage struct {
	Version      uint8
	Items        []FeedbagItem
	LastModified time.Time
}

func (m *FeedbagListReplyMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint8(w, m.Version); err != nil {
		return err
	}
	if err := WriteUint16(w, uint16(len(m.Items))); err != nil {
		return err
	}
	for i := range m.Items {
		if err := m.Items[i].EncodeTo(w); err != nil {
			return err
		}
	}
	return WriteTimestamp(w, m.LastModified)
}

func (m *FeedbagListReplyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *FeedbagListReplyMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	version, err := ReadUint8(buf)
	if err != nil {
		return malformed("feedbag version", err)
	}
	count, err := ReadUint16(buf)
	if err != nil {
		return malformed("feedbag item count", err)
	}
	items := make([]FeedbagItem, count)
	for i := range items {
		if err := items[i].DecodeFrom(buf); err != nil {
			return err
		}
	}
	// Partial replies omit the timestamp
	var modified time.Time
	if buf.Len() >= 4 {
		modified, _ = ReadTimestamp(buf)
	}
	m.Version = version
	m.Items = items
	m.LastModified = modified
	return nil
}

// FeedbagItemsMessage is the body of add (13/08), modify (13/09) and
// delete (13/0A): a bare sequence of items.
type FeedbagItemsMessage struct {
	Items []FeedbagItem
}

func (m *FeedbagItemsMessage) EncodeTo(w io.Writer) error {
	for i := range m.Items {
		if err := m.Items[i].EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *FeedbagItemsMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *FeedbagItemsMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.Items = nil
	for buf.Len() > 0 {
		var it FeedbagItem
		if err := it.DecodeFrom(buf); err != nil {
			return err
		}
		m.Items = append(m.Items, it)
	}
	return nil
}

// FeedbagAckMessage (13/0E) - one result code per item of the request
type FeedbagAckMessage struct {
	Codes []uint16
}

func (m *FeedbagAckMessage) EncodeTo(w io.Writer) error {
	for _, c := range m.Codes {
		if err := WriteUint16(w, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *FeedbagAckMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *FeedbagAckMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	m.Codes = nil
	for buf.Len() >= 2 {
		c, _ := ReadUint16(buf)
		m.Codes = append(m.Codes, c)
	}
	return nil
}

// FeedbagRightsReplyMessage (13/03) - per-class item limits
type FeedbagRightsReplyMessage struct {
	MaxItems []uint16 // indexed by item class
}

func (m *FeedbagRightsReplyMessage) EncodeTo(w io.Writer) error {
	raw := make([]byte, 0, 2*len(m.MaxItems))
	for _, v := range m.MaxItems {
		raw = append(raw, byte(v>>8), byte(v))
	}
	tlvs := TLVList{NewTLV(TLVFeedbagMaxItems, raw)}
	return tlvs.WriteTo(w)
}

func (m *FeedbagRightsReplyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *FeedbagRightsReplyMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.MaxItems = nil
	raw, _ := tlvs.Bytes(TLVFeedbagMaxItems)
	for i := 0; i+2 <= len(raw); i += 2 {
		m.MaxItems = append(m.MaxItems, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return nil
}

// Limit returns the maximum item count for a class, 0 when unknown
func (m *FeedbagRightsReplyMessage) Limit(class uint16) int {
	if int(class) < len(m.MaxItems) {
		return int(m.MaxItems[class])
	}
	return 0
}
