package protocol

import (
	"bytes"
	"io"
)

// ALERT (family 0x0018) subtypes
const (
	AlertSendCookies uint16 = 0x0006
	AlertMailStatus  uint16 = 0x0007
	AlertActivate    uint16 = 0x0016
)

// Mail status TLVs
const (
	TLVMailURL     uint16 = 0x0007
	TLVMailUnread  uint16 = 0x0080
	TLVMailDomain  uint16 = 0x0082
	TLVMailHasFlag uint16 = 0x0084
)

// MailActivateMessage (18/16) - subscribe to mail status updates
type MailActivateMessage struct{}

func (m *MailActivateMessage) Encode() ([]byte, error) {
	return []byte{0x02, 0x04, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x04}, nil
}

func (m *MailActivateMessage) Decode(payload []byte) error {
	return nil
}

// MailStatusMessage (18/07) - unread mail count and inbox link
type MailStatusMessage struct {
	Cookie Cookie
	TLVs   TLVList
}

func (m *MailStatusMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Cookie[:]); err != nil {
		return err
	}
	return m.TLVs.WriteCounted(w)
}

func (m *MailStatusMessage) Encode() ([]byte, error) {
	return encodeBody(m)
}

func (m *MailStatusMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	cookie, err := readCookie(buf)
	if err != nil {
		return err
	}
	tlvs, err := ReadCountedTLVs(buf)
	if err != nil {
		return err
	}
	m.Cookie = cookie
	m.TLVs = tlvs
	return nil
}

// Unread returns the number of unread messages
func (m *MailStatusMessage) Unread() int {
	v, _ := m.TLVs.Uint16(TLVMailUnread)
	return int(v)
}

// URL returns the inbox link
func (m *MailStatusMessage) URL() string {
	s, _ := m.TLVs.String(TLVMailURL)
	return s
}
