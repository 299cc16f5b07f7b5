package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

var (
	ErrStringTooLong = errors.New("string exceeds maximum length")
)

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte
func ReadUint8(r io.Reader) (uint8, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteUint16 writes a 16-bit unsigned integer in big-endian
func WriteUint16(w io.Writer, v uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint16 reads a 16-bit unsigned integer in big-endian
func ReadUint16(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// WriteUint16LE writes a 16-bit unsigned integer in little-endian.
// Only the ICQ meta family uses little-endian fields.
func WriteUint16LE(w io.Writer, v uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint16LE reads a 16-bit unsigned integer in little-endian
func ReadUint16LE(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// WriteUint32 writes a 32-bit unsigned integer in big-endian
func WriteUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint32 reads a 32-bit unsigned integer in big-endian
func ReadUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// WriteUint32LE writes a 32-bit unsigned integer in little-endian
func WriteUint32LE(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint32LE reads a 32-bit unsigned integer in little-endian
func ReadUint32LE(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteBytes writes raw bytes
func WriteBytes(w io.Writer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads exactly n raw bytes
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteString writes a string with a 16-bit length prefix
// Format: [Length (uint16)][Data (N bytes)]
func WriteString(w io.Writer, s string) error {
	data := []byte(s)
	if len(data) > 0xFFFF {
		return ErrStringTooLong
	}

	if err := WriteUint16(w, uint16(len(data))); err != nil {
		return err
	}
	return WriteBytes(w, data)
}

// ReadString reads a string with a 16-bit length prefix
func ReadString(r io.Reader) (string, error) {
	length, err := ReadUint16(r)
	if err != nil {
		return "", err
	}

	data, err := ReadBytes(r, int(length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteString8 writes a string with an 8-bit length prefix (screen names, chat cookies)
func WriteString8(w io.Writer, s string) error {
	data := []byte(s)
	if len(data) > 0xFF {
		return ErrStringTooLong
	}

	if err := WriteUint8(w, uint8(len(data))); err != nil {
		return err
	}
	return WriteBytes(w, data)
}

// ReadString8 reads a string with an 8-bit length prefix
func ReadString8(r io.Reader) (string, error) {
	length, err := ReadUint8(r)
	if err != nil {
		return "", err
	}

	data, err := ReadBytes(r, int(length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteTimestamp writes a Unix timestamp in seconds (uint32)
func WriteTimestamp(w io.Writer, t time.Time) error {
	if t.IsZero() {
		return WriteUint32(w, 0)
	}
	return WriteUint32(w, uint32(t.Unix()))
}

// ReadTimestamp reads a Unix timestamp in seconds and returns a time.Time
func ReadTimestamp(r io.Reader) (time.Time, error) {
	secs, err := ReadUint32(r)
	if err != nil {
		return time.Time{}, err
	}
	if secs == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(secs), 0), nil
}
