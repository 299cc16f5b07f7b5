package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOFTHeaderRoundTrip(t *testing.T) {
	h := &OFTHeader{
		Type:       OFTPrompt,
		Cookie:     testCookie,
		TotalFiles: 2,
		FilesLeft:  2,
		TotalParts: 1,
		PartsLeft:  1,
		TotalSize:  300,
		Size:       100,
		ModTime:    time.Unix(1400000000, 0),
		Checksum:   0xFFFF0000,
		Name:       "notes.txt",
	}
	payload, err := h.Encode()
	require.NoError(t, err)
	assert.Len(t, payload, OFTHeaderSize)
	assert.Equal(t, "OFT2", string(payload[:4]))
	assert.Equal(t, []byte{0x01, 0x00}, payload[4:6])

	var decoded OFTHeader
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, OFTIDString, decoded.IDString)
	decoded.IDString = ""
	assert.Equal(t, *h, decoded)
}

func TestOFTHeaderStream(t *testing.T) {
	buf := new(bytes.Buffer)
	for _, typ := range []uint16{OFTPrompt, OFTAck, OFTDone} {
		require.NoError(t, (&OFTHeader{Type: typ, Name: "f"}).EncodeTo(buf))
	}
	for _, want := range []uint16{OFTPrompt, OFTAck, OFTDone} {
		var h OFTHeader
		require.NoError(t, h.DecodeFrom(buf))
		assert.Equal(t, want, h.Type)
	}
	var h OFTHeader
	assert.ErrorIs(t, h.DecodeFrom(buf), io.EOF)
}

func TestOFTHeaderErrors(t *testing.T) {
	var h OFTHeader
	assert.ErrorIs(t, h.Decode([]byte("XXXX\x01\x00")), ErrBadPeerMagic)
	assert.ErrorIs(t, h.Decode([]byte("OFT2\x00\x10")), ErrMalformed)
	assert.ErrorIs(t, h.Decode([]byte("OFT2\x01\x00abc")), ErrMalformed)

	long := &OFTHeader{Name: strings.Repeat("n", 64)}
	_, err := long.Encode()
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestODCFrame(t *testing.T) {
	f := &ODCFrame{Cookie: testCookie, Encoding: CharsetASCII, Flags: ODCFlagMessage, ScreenName: "alice", Payload: []byte("<HTML>hi</HTML>")}
	raw, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, "ODC2", string(raw[:4]))
	assert.Len(t, raw, 6+68+len(f.Payload))

	var decoded ODCFrame
	require.NoError(t, decoded.Decode(raw))
	assert.Equal(t, *f, decoded)
}

func TestODCTypingFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, (&ODCFrame{Flags: ODCFlagTypingBegun, ScreenName: "bob"}).EncodeTo(buf))
	require.NoError(t, (&ODCFrame{Flags: ODCFlagMessage, ScreenName: "bob", Payload: []byte("x")}).EncodeTo(buf))

	var first, second ODCFrame
	require.NoError(t, first.DecodeFrom(buf))
	require.NoError(t, second.DecodeFrom(buf))
	assert.Equal(t, ODCFlagTypingBegun, first.Flags)
	assert.Empty(t, first.Payload)
	assert.Equal(t, []byte("x"), second.Payload)

	assert.ErrorIs(t, first.DecodeFrom(buf), io.EOF)
}

func TestODCFrameErrors(t *testing.T) {
	var f ODCFrame
	assert.ErrorIs(t, f.Decode([]byte("OFT2\x00\x4A")), ErrBadPeerMagic)

	long := &ODCFrame{ScreenName: strings.Repeat("a", 17)}
	_, err := long.Encode()
	assert.ErrorIs(t, err, ErrStringTooLong)

	raw, err := (&ODCFrame{ScreenName: "a", Payload: []byte("abc")}).Encode()
	require.NoError(t, err)
	assert.ErrorIs(t, f.Decode(raw[:len(raw)-1]), ErrMalformed)
}
