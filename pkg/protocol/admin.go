package protocol

import (
	"bytes"
	"io"
)

// ADMIN (family 0x0007) subtypes
const (
	AdminInfoRequest     uint16 = 0x0002
	AdminInfoReply       uint16 = 0x0003
	AdminInfoChange      uint16 = 0x0004
	AdminInfoChangeReply uint16 = 0x0005
	AdminConfirmRequest  uint16 = 0x0006
	AdminConfirmReply    uint16 = 0x0007
)

// Admin TLVs
const (
	TLVAdminScreenName  uint16 = 0x0001
	TLVAdminNewPassword uint16 = 0x0002
	TLVAdminErrorCode   uint16 = 0x0008
	TLVAdminEmail       uint16 = 0x0011
	TLVAdminOldPassword uint16 = 0x0012
)

// Admin reply error codes
const (
	AdminErrInvalidName     uint16 = 0x0001
	AdminErrInvalidPassword uint16 = 0x0002
	AdminErrNameLength      uint16 = 0x000B
	AdminErrPasswordLength  uint16 = 0x0013
	AdminErrUnavailable     uint16 = 0x0010
)

var adminReasons = map[uint16]string{
	AdminErrInvalidName:     "formatted name does not match the account",
	AdminErrInvalidPassword: "current password is incorrect",
	AdminErrNameLength:      "screen name has the wrong length",
	AdminErrPasswordLength:  "new password has the wrong length",
	AdminErrUnavailable:     "account administration is temporarily unavailable",
}

// AdminReason returns the human-readable text for an admin error code
func AdminReason(code uint16) string {
	if s, ok := adminReasons[code]; ok {
		return s
	}
	return UnknownReason
}

// AdminChangeMessage is the body of info request (07/02) and info change
// (07/04): a bare TLV list naming the fields to read or write.
type AdminChangeMessage struct {
	TLVs TLVList
}

// FormatScreenNameChange builds a request that changes capitalization and spacing
func FormatScreenNameChange(name string) *AdminChangeMessage {
	return &AdminChangeMessage{TLVs: TLVList{NewTLV(TLVAdminScreenName, name)}}
}

// PasswordChange builds a request that replaces the account password
func PasswordChange(oldPassword, newPassword string) *AdminChangeMessage {
	return &AdminChangeMessage{TLVs: TLVList{
		NewTLV(TLVAdminNewPassword, newPassword),
		NewTLV(TLVAdminOldPassword, oldPassword),
	}}
}

func (m *AdminChangeMessage) EncodeTo(w io.Writer) error {
	return m.TLVs.WriteTo(w)
}

func (m *AdminChangeMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *AdminChangeMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.TLVs = tlvs
	return nil
}

// AdminReplyMessage is the body of info reply (07/03) and change reply (07/05)
type AdminReplyMessage struct {
	Permissions uint16
	TLVs        TLVList
}

func (m *AdminReplyMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, m.Permissions); err != nil {
		return err
	}
	return m.TLVs.WriteCounted(w)
}

func (m *AdminReplyMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *AdminReplyMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	perms, err := ReadUint16(buf)
	if err != nil {
		return malformed("admin permissions", err)
	}
	tlvs, err := ReadCountedTLVs(buf)
	if err != nil {
		return err
	}
	m.Permissions = perms
	m.TLVs = tlvs
	return nil
}

// ErrorCode returns the failure code, 0 on success
func (m *AdminReplyMessage) ErrorCode() uint16 {
	v, _ := m.TLVs.Uint16(TLVAdminErrorCode)
	return v
}
