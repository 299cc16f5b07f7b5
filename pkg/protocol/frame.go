package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameMarker starts every FLAP frame
	FrameMarker = 0x2A

	// FrameHeaderSize is marker (1) + channel (1) + sequence (2) + length (2)
	FrameHeaderSize = 6

	// MaxFrameSize is the hard protocol ceiling for a FLAP payload
	MaxFrameSize = 0xFFFF
)

// FLAP channels
const (
	ChannelSignOn    uint8 = 0x01
	ChannelData      uint8 = 0x02
	ChannelError     uint8 = 0x03
	ChannelSignOff   uint8 = 0x04
	ChannelKeepAlive uint8 = 0x05
)

var (
	// ErrMalformed marks any decode failure. It is fatal for the connection it
	// happened on, never for the whole session.
	ErrMalformed = errors.New("malformed frame")

	// ErrTooLarge marks any encode that would exceed a size ceiling.
	ErrTooLarge = errors.New("payload too large")

	ErrFrameTooLarge   = fmt.Errorf("%w: frame exceeds maximum size (65535 bytes)", ErrTooLarge)
	ErrBadMarker       = fmt.Errorf("%w: missing frame start marker", ErrMalformed)
	ErrTruncatedFrame  = fmt.Errorf("%w: truncated frame", ErrMalformed)
	ErrUnknownChannel  = fmt.Errorf("%w: unknown channel", ErrMalformed)
	ErrMessageTooLarge = fmt.Errorf("%w: message exceeds maximum length", ErrTooLarge)
)

// malformed wraps a low-level read error so callers can match ErrMalformed.
func malformed(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformed, what, err)
}

// Frame represents a FLAP frame
// Format: [0x2A][Channel (1 byte)][Sequence (2 bytes)][Length (2 bytes)][Payload (N bytes)]
type Frame struct {
	Channel  uint8  // FLAP channel
	Sequence uint16 // Per-connection sequence number, assigned on send
	Payload  []byte // Channel payload (a SNAC on the data channel)
}

// Reader returns a cursor over the payload for incremental field extraction
func (f *Frame) Reader() *bytes.Reader {
	return bytes.NewReader(f.Payload)
}

// EncodeFrame writes a frame to the writer
func EncodeFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	if f.Channel < ChannelSignOn || f.Channel > ChannelKeepAlive {
		return fmt.Errorf("invalid channel 0x%02X", f.Channel)
	}

	header := make([]byte, FrameHeaderSize, FrameHeaderSize+len(f.Payload))
	header[0] = FrameMarker
	header[1] = f.Channel
	binary.BigEndian.PutUint16(header[2:4], f.Sequence)
	binary.BigEndian.PutUint16(header[4:6], uint16(len(f.Payload)))

	// Single write so concurrent readers on the far end never see a split header
	_, err := w.Write(append(header, f.Payload...))
	return err
}

// DecodeFrame reads a frame from the reader. A clean close before any header
// byte returns io.EOF; every other short read is ErrMalformed.
func DecodeFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, malformed("frame header", err)
	}

	if header[0] != FrameMarker {
		return nil, ErrBadMarker
	}

	channel := header[1]
	if channel < ChannelSignOn || channel > ChannelKeepAlive {
		return nil, fmt.Errorf("%w 0x%02X", ErrUnknownChannel, channel)
	}

	length := binary.BigEndian.Uint16(header[4:6])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("%w: declared %d bytes: %w", ErrTruncatedFrame, length, err)
		}
	}

	return &Frame{
		Channel:  channel,
		Sequence: binary.BigEndian.Uint16(header[2:4]),
		Payload:  payload,
	}, nil
}

// EncodeMessage is a helper that encodes a frame to a byte slice
func EncodeMessage(channel uint8, sequence uint16, payload []byte) ([]byte, error) {
	frame := &Frame{
		Channel:  channel,
		Sequence: sequence,
		Payload:  payload,
	}

	buf := new(bytes.Buffer)
	if err := EncodeFrame(buf, frame); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeMessage is a helper that decodes a frame from a byte slice
func DecodeMessage(data []byte) (*Frame, error) {
	return DecodeFrame(bytes.NewReader(data))
}

// SignOnMessage is the channel-1 payload exchanged when a connection opens.
// The client echoes the protocol version and, on every connection after the
// auth connection, presents its one-time cookie.
type SignOnMessage struct {
	Version uint32
	TLVs    TLVList
}

func (m *SignOnMessage) EncodeTo(w io.Writer) error {
	if err := WriteUint32(w, m.Version); err != nil {
		return err
	}
	return m.TLVs.WriteTo(w)
}

func (m *SignOnMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *SignOnMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	version, err := ReadUint32(buf)
	if err != nil {
		return malformed("sign-on version", err)
	}
	tlvs, err := ReadTLVsUntilEnd(buf)
	if err != nil {
		return err
	}
	m.Version = version
	m.TLVs = tlvs
	return nil
}

// SignOffMessage is the channel-4 payload. Servers use it to announce a
// forced disconnect (e.g. the account signed on elsewhere).
type SignOffMessage struct {
	TLVs TLVList
}

func (m *SignOffMessage) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.TLVs.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *SignOffMessage) Decode(payload []byte) error {
	tlvs, err := ReadTLVsUntilEnd(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	m.TLVs = tlvs
	return nil
}

// ErrorCode returns the disconnect reason code, or 0 when none was sent
func (m *SignOffMessage) ErrorCode() uint16 {
	if v, ok := m.TLVs.Uint16(TLVSignOffReason); ok {
		return v
	}
	v, _ := m.TLVs.Uint16(TLVErrorCode)
	return v
}
