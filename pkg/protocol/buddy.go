package protocol

import (
	"bytes"
	"io"
)

// Subtypes shared by families that publish per-account limits
const (
	SubtypeRightsRequest uint16 = 0x0002
	SubtypeRightsReply   uint16 = 0x0003
)

// LOCATE (family 0x0002) subtypes
const (
	LocateSetInfo uint16 = 0x0004
)

// BUDDY (family 0x0003) subtypes
const (
	BuddyOncoming uint16 = 0x000B
	BuddyOffgoing uint16 = 0x000C
)

// Rights reply TLVs
const (
	TLVLocateMaxProfile uint16 = 0x0001
	TLVBuddyMaxBuddies  uint16 = 0x0001
	TLVBuddyMaxWatchers uint16 = 0x0002
)

// Locate set-info TLVs
const (
	TLVProfileMIME uint16 = 0x0001
	TLVProfile     uint16 = 0x0002
	TLVAwayMIME    uint16 = 0x0003
	TLVAwayMessage uint16 = 0x0004
	TLVLocateCaps  uint16 = 0x0005
)

// ProfileMIMEType is the encoding label for profile and away text
const ProfileMIMEType = `text/aolrtf; charset="us-ascii"`

// RightsReplyMessage is the xx/03 limits reply of the LOCATE, BUDDY and PD
// families: a bare TLV list.
type RightsReplyMessage struct {
	TLVs TLVList
}

func (m *RightsReplyMessage) EncodeTo(w io.Writer) error {
	return m.TLVs.WriteTo(w)
}

func (m *RightsReplyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *RightsReplyMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.TLVs = tlvs
	return nil
}

// SetInfoMessage (02/04) - update profile, away message and capabilities.
// A nil Away leaves the away message unchanged; an empty one clears it.
type SetInfoMessage struct {
	Profile      *string
	Away         *string
	Capabilities []Capability
}

func (m *SetInfoMessage) EncodeTo(w io.Writer) error {
	var tlvs TLVList
	if m.Profile != nil {
		tlvs.Add(TLVProfileMIME, ProfileMIMEType)
		tlvs.Add(TLVProfile, *m.Profile)
	}
	if m.Away != nil {
		tlvs.Add(TLVAwayMIME, ProfileMIMEType)
		tlvs.Add(TLVAwayMessage, *m.Away)
	}
	if m.Capabilities != nil {
		tlvs.Add(TLVLocateCaps, EncodeCapabilities(m.Capabilities))
	}
	return tlvs.WriteTo(w)
}

func (m *SetInfoMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *SetInfoMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.Profile, m.Away, m.Capabilities = nil, nil, nil
	if v, ok := tlvs.String(TLVProfile); ok {
		m.Profile = &v
	}
	if v, ok := tlvs.String(TLVAwayMessage); ok {
		m.Away = &v
	}
	if raw, ok := tlvs.Bytes(TLVLocateCaps); ok {
		info := UserInfo{TLVs: TLVList{NewTLV(TLVCapabilities, raw)}}
		m.Capabilities = info.Capabilities()
	}
	return nil
}

// BuddyArrivedMessage (03/0B) and BuddyDepartedMessage (03/0C) carry one
// user info block each.
type BuddyArrivedMessage struct {
	UserInfo
}

type BuddyDepartedMessage struct {
	UserInfo
}
