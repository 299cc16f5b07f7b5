package protocol

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Charset identifies the character encoding of an ICBM text block
type Charset uint16

const (
	CharsetASCII   Charset = 0x0000 // plain 7-bit text
	CharsetUnicode Charset = 0x0002 // UTF-16BE
	CharsetLatin1  Charset = 0x0003 // ISO-8859-1
)

// DefaultMaxMessageLength is used until the server advertises its own ceiling
const DefaultMaxMessageLength = 2544

var (
	latin1  encoding.Encoding = charmap.ISO8859_1
	utf16BE encoding.Encoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
)

func (c Charset) String() string {
	switch c {
	case CharsetASCII:
		return "ascii"
	case CharsetUnicode:
		return "unicode"
	case CharsetLatin1:
		return "latin1"
	default:
		return fmt.Sprintf("charset(0x%04X)", uint16(c))
	}
}

// EncodeText picks the narrowest charset that round-trips s losslessly and
// returns the encoded bytes: ASCII, then Latin-1, then UTF-16BE.
func EncodeText(s string) (Charset, []byte) {
	if isASCII(s) {
		return CharsetASCII, []byte(s)
	}

	if b, err := latin1.NewEncoder().Bytes([]byte(s)); err == nil {
		// The encoder substitutes nothing on success, but confirm the round trip
		if back, err := latin1.NewDecoder().Bytes(b); err == nil && string(back) == s {
			return CharsetLatin1, b
		}
	}

	b, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Invalid UTF-8 input: encode rune by rune with replacement characters
		b, _ = utf16BE.NewEncoder().Bytes([]byte(toValidUTF8(s)))
	}
	return CharsetUnicode, b
}

// EncodeTextLimit encodes s like EncodeText and fails with ErrMessageTooLarge
// when the encoded form exceeds maxBytes.
func EncodeTextLimit(s string, maxBytes int) (Charset, []byte, error) {
	cs, b := EncodeText(s)
	if maxBytes > 0 && len(b) > maxBytes {
		return cs, nil, fmt.Errorf("%w: %d bytes as %s, limit %d", ErrMessageTooLarge, len(b), cs, maxBytes)
	}
	return cs, b, nil
}

// DecodeText converts an ICBM text block to a Go string
func DecodeText(cs Charset, b []byte) (string, error) {
	switch cs {
	case CharsetASCII:
		if utf8.Valid(b) {
			return string(b), nil
		}
		// Some clients label Latin-1 text as ASCII
		out, err := latin1.NewDecoder().Bytes(b)
		if err != nil {
			return "", malformed("ascii text", err)
		}
		return string(out), nil
	case CharsetLatin1:
		out, err := latin1.NewDecoder().Bytes(b)
		if err != nil {
			return "", malformed("latin1 text", err)
		}
		return string(out), nil
	case CharsetUnicode:
		if len(b)%2 != 0 {
			return "", fmt.Errorf("%w: odd-length unicode text", ErrMalformed)
		}
		out, err := utf16BE.NewDecoder().Bytes(b)
		if err != nil {
			return "", malformed("unicode text", err)
		}
		return string(out), nil
	default:
		return string(b), nil
	}
}

// MaxMessageChars returns how many characters fit in maxBytes for a charset.
// Wide text carries half as many characters as the narrow encodings.
func MaxMessageChars(cs Charset, maxBytes int) int {
	if cs == CharsetUnicode {
		return maxBytes / 2
	}
	return maxBytes
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func toValidUTF8(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return string(out)
}
