package protocol

import (
	"bytes"
	"crypto/md5"
	"io"
)

// BUCP (family 0x0017) subtypes
const (
	BUCPLoginRequest uint16 = 0x0002
	BUCPLoginReply   uint16 = 0x0003
	BUCPKeyRequest   uint16 = 0x0006
	BUCPKeyReply     uint16 = 0x0007
)

// Login TLV types
const (
	TLVClientID       uint16 = 0x0003
	TLVCountry        uint16 = 0x000E
	TLVLanguage       uint16 = 0x000F
	TLVEmail          uint16 = 0x0011
	TLVDistribution   uint16 = 0x0014
	TLVClientNumber   uint16 = 0x0016
	TLVVersionMajor   uint16 = 0x0017
	TLVVersionMinor   uint16 = 0x0018
	TLVVersionPoint   uint16 = 0x0019
	TLVVersionBuild   uint16 = 0x001A
	TLVPasswordHash   uint16 = 0x0025
	TLVUseOldMD5Login uint16 = 0x004C
)

// aimMD5String is appended to every password hash
const aimMD5String = "AOL Instant Messenger (SM)"

// PasswordHash computes MD5(key || MD5(password) || "AOL Instant Messenger (SM)")
func PasswordHash(key, password string) []byte {
	inner := md5.Sum([]byte(password))

	h := md5.New()
	io.WriteString(h, key)
	h.Write(inner[:])
	io.WriteString(h, aimMD5String)
	return h.Sum(nil)
}

// ClientIdent is the client identification sent with every login request
type ClientIdent struct {
	Name         string
	Number       uint16
	Major        uint16
	Minor        uint16
	Point        uint16
	Build        uint16
	Distribution uint32
	Language     string
	Country      string
}

// DefaultClientIdent identifies this client to the authorizer
var DefaultClientIdent = ClientIdent{
	Name:         "AOL Instant Messenger, version 5.1.3036/WIN32",
	Number:       0x0109,
	Major:        0x0005,
	Minor:        0x0001,
	Point:        0x0000,
	Build:        0x0BDC,
	Distribution: 0x000000D2,
	Language:     "en",
	Country:      "us",
}

// KeyRequestMessage (17/06) - request the MD5 challenge for a screen name
type KeyRequestMessage struct {
	ScreenName string
}

func (m *KeyRequestMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	tlvs := TLVList{NewTLV(TLVScreenName, m.ScreenName)}
	if err := tlvs.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *KeyRequestMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.ScreenName, _ = tlvs.String(TLVScreenName)
	return nil
}

// KeyReplyMessage (17/07) - the challenge key
type KeyReplyMessage struct {
	Key string
}

func (m *KeyReplyMessage) EncodeTo(w io.Writer) error {
	return WriteString(w, m.Key)
}

func (m *KeyReplyMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *KeyReplyMessage) Decode(payload []byte) error {
	key, err := ReadString(bytes.NewReader(payload))
	if err != nil {
		return malformed("auth key", err)
	}
	m.Key = key
	return nil
}

// LoginRequestMessage (17/02) - screen name plus hashed credential
type LoginRequestMessage struct {
	ScreenName   string
	PasswordHash []byte
	Client       ClientIdent
}

func (m *LoginRequestMessage) EncodeTo(w io.Writer) error {
	var tlvs TLVList
	tlvs.Add(TLVScreenName, m.ScreenName)
	tlvs.Add(TLVClientID, m.Client.Name)
	tlvs.Add(TLVPasswordHash, m.PasswordHash)
	tlvs.Add(TLVClientNumber, m.Client.Number)
	tlvs.Add(TLVVersionMajor, m.Client.Major)
	tlvs.Add(TLVVersionMinor, m.Client.Minor)
	tlvs.Add(TLVVersionPoint, m.Client.Point)
	tlvs.Add(TLVVersionBuild, m.Client.Build)
	tlvs.Add(TLVDistribution, m.Client.Distribution)
	tlvs.Add(TLVLanguage, m.Client.Language)
	tlvs.Add(TLVCountry, m.Client.Country)
	tlvs.Add(TLVUseOldMD5Login, nil)
	return tlvs.WriteTo(w)
}

func (m *LoginRequestMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *LoginRequestMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.ScreenName, _ = tlvs.String(TLVScreenName)
	m.PasswordHash, _ = tlvs.Bytes(TLVPasswordHash)
	m.Client.Name, _ = tlvs.String(TLVClientID)
	m.Client.Number, _ = tlvs.Uint16(TLVClientNumber)
	m.Client.Major, _ = tlvs.Uint16(TLVVersionMajor)
	m.Client.Minor, _ = tlvs.Uint16(TLVVersionMinor)
	m.Client.Point, _ = tlvs.Uint16(TLVVersionPoint)
	m.Client.Build, _ = tlvs.Uint16(TLVVersionBuild)
	m.Client.Distribution, _ = tlvs.Uint32(TLVDistribution)
	m.Client.Language, _ = tlvs.String(TLVLanguage)
	m.Client.Country, _ = tlvs.String(TLVCountry)
	return nil
}

// LoginReplyMessage (17/03) - either a redirect to the primary session
// (address + cookie) or an error code.
type LoginReplyMessage struct {
	ScreenName string
	Address    string // host:port of the primary service
	Cookie     []byte
	ErrorCode  uint16
	ErrorURL   string
	Email      string
}

func (m *LoginReplyMessage) EncodeTo(w io.Writer) error {
	var tlvs TLVList
	tlvs.Add(TLVScreenName, m.ScreenName)
	if m.ErrorCode != 0 {
		tlvs.Add(TLVErrorCode, m.ErrorCode)
		if m.ErrorURL != "" {
			tlvs.Add(TLVErrorURL, m.ErrorURL)
		}
	} else {
		tlvs.Add(TLVServerAddress, m.Address)
		tlvs.Add(TLVCookie, m.Cookie)
		if m.Email != "" {
			tlvs.Add(TLVEmail, m.Email)
		}
	}
	return tlvs.WriteTo(w)
}

func (m *LoginReplyMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *LoginReplyMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.ScreenName, _ = tlvs.String(TLVScreenName)
	m.Address, _ = tlvs.String(TLVServerAddress)
	m.Cookie, _ = tlvs.Bytes(TLVCookie)
	m.ErrorCode, _ = tlvs.Uint16(TLVErrorCode)
	m.ErrorURL, _ = tlvs.String(TLVErrorURL)
	m.Email, _ = tlvs.String(TLVEmail)
	return nil
}

// Failed reports whether the reply carries an error instead of a redirect
func (m *LoginReplyMessage) Failed() bool {
	return m.ErrorCode != 0 || len(m.Cookie) == 0
}
