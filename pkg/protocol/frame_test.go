package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{
			name:  "sign-on with empty payload",
			frame: Frame{Channel: ChannelSignOn, Sequence: 1, Payload: []byte{}},
		},
		{
			name:  "data channel snac",
			frame: Frame{Channel: ChannelData, Sequence: 0x1234, Payload: []byte{0x00, 0x01, 0x00, 0x02}},
		},
		{
			name:  "keepalive",
			frame: Frame{Channel: ChannelKeepAlive, Sequence: 0xFFFF, Payload: []byte{}},
		},
		{
			name:    "invalid channel",
			frame:   Frame{Channel: 0x09, Payload: []byte{}},
			wantErr: true,
		},
		{
			name:    "payload too large",
			frame:   Frame{Channel: ChannelData, Payload: make([]byte, MaxFrameSize+1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := EncodeFrame(buf, &tt.frame)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, FrameHeaderSize+len(tt.frame.Payload), buf.Len())

			decoded, err := DecodeFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.Channel, decoded.Channel)
			assert.Equal(t, tt.frame.Sequence, decoded.Sequence)
			assert.Equal(t, tt.frame.Payload, decoded.Payload)
		})
	}
}

func TestFrameWireLayout(t *testing.T) {
	data, err := EncodeMessage(ChannelData, 0x0102, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A, 0x02, 0x01, 0x02, 0x00, 0x02, 'h', 'i'}, data)
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Run("clean close", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("short header", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x2A, 0x02}))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("bad marker", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x2B, 0x02, 0, 0, 0, 0}))
		assert.ErrorIs(t, err, ErrBadMarker)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x2A, 0x07, 0, 0, 0, 0}))
		assert.ErrorIs(t, err, ErrUnknownChannel)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x2A, 0x02, 0, 1, 0, 5, 'a', 'b'}))
		assert.ErrorIs(t, err, ErrTruncatedFrame)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestDecodeFrameSequence(t *testing.T) {
	buf := new(bytes.Buffer)
	for i := uint16(0); i < 3; i++ {
		require.NoError(t, EncodeFrame(buf, &Frame{Channel: ChannelData, Sequence: i, Payload: []byte{byte(i)}}))
	}

	for i := uint16(0); i < 3; i++ {
		f, err := DecodeFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, i, f.Sequence)
		assert.Equal(t, []byte{byte(i)}, f.Payload)
	}
	_, err := DecodeFrame(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSignOnMessage(t *testing.T) {
	msg := &SignOnMessage{Version: 1}
	msg.TLVs.Add(TLVCookie, []byte{0xDE, 0xAD})

	payload, err := msg.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x00, 0x06, 0x00, 0x02, 0xDE, 0xAD}, payload)

	var decoded SignOnMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, uint32(1), decoded.Version)
	cookie, ok := decoded.TLVs.Bytes(TLVCookie)
	assert.True(t, ok)
	assert.Equal(t, []byte{0xDE, 0xAD}, cookie)
}

func TestSignOffErrorCode(t *testing.T) {
	var both SignOffMessage
	both.TLVs.Add(TLVErrorCode, uint16(0x0005))
	both.TLVs.Add(TLVSignOffReason, uint16(0x0001))
	assert.Equal(t, uint16(0x0001), both.ErrorCode())

	var legacy SignOffMessage
	legacy.TLVs.Add(TLVErrorCode, uint16(0x0005))
	assert.Equal(t, uint16(0x0005), legacy.ErrorCode())

	assert.Equal(t, uint16(0), (&SignOffMessage{}).ErrorCode())
}
