package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTextPicksNarrowestCharset(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		charset Charset
		size    int
	}{
		{"empty", "", CharsetASCII, 0},
		{"ascii", "plain text", CharsetASCII, 10},
		{"latin1", "naïve façade", CharsetLatin1, 12},
		{"unicode", "Привет", CharsetUnicode, 12},
		{"mixed", "price €5", CharsetUnicode, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, b := EncodeText(tt.text)
			assert.Equal(t, tt.charset, cs)
			assert.Len(t, b, tt.size)

			back, err := DecodeText(cs, b)
			require.NoError(t, err)
			assert.Equal(t, tt.text, back)
		})
	}
}

func TestEncodeTextLimit(t *testing.T) {
	_, _, err := EncodeTextLimit(strings.Repeat("a", 100), 100)
	assert.NoError(t, err)

	_, _, err = EncodeTextLimit(strings.Repeat("a", 101), 100)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.ErrorIs(t, err, ErrTooLarge)

	// 60 wide characters take 120 bytes
	_, _, err = EncodeTextLimit(strings.Repeat("Ж", 60), 100)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDecodeText(t *testing.T) {
	t.Run("ascii label on latin1 bytes", func(t *testing.T) {
		s, err := DecodeText(CharsetASCII, []byte{'c', 'a', 'f', 0xE9})
		require.NoError(t, err)
		assert.Equal(t, "café", s)
	})

	t.Run("odd unicode length", func(t *testing.T) {
		_, err := DecodeText(CharsetUnicode, []byte{0x00, 0x41, 0x00})
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown charset passes bytes through", func(t *testing.T) {
		s, err := DecodeText(Charset(0x0009), []byte("raw"))
		require.NoError(t, err)
		assert.Equal(t, "raw", s)
	})
}

func TestMaxMessageChars(t *testing.T) {
	assert.Equal(t, DefaultMaxMessageLength, MaxMessageChars(CharsetASCII, DefaultMaxMessageLength))
	assert.Equal(t, DefaultMaxMessageLength, MaxMessageChars(CharsetLatin1, DefaultMaxMessageLength))
	assert.Equal(t, DefaultMaxMessageLength/2, MaxMessageChars(CharsetUnicode, DefaultMaxMessageLength))
}

func TestCharsetString(t *testing.T) {
	assert.Equal(t, "latin1", CharsetLatin1.String())
	assert.Equal(t, "charset(0x0009)", Charset(9).String())
}
