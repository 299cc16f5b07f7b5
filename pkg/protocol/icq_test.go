package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICQMetaLayout(t *testing.T) {
	msg := &ICQMetaMessage{UIN: 123456, Command: ICQCmdOfflineRequest, Seq: 2}
	payload, err := msg.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x01, 0x00, 0x0A, // tlv 1, 10 bytes
		0x08, 0x00, // inner length LE
		0x40, 0xE2, 0x01, 0x00, // uin LE
		0x3C, 0x00, // command LE
		0x02, 0x00, // seq LE
	}, payload)

	var decoded ICQMetaMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, uint32(123456), decoded.UIN)
	assert.Equal(t, ICQCmdOfflineRequest, decoded.Command)
	assert.Equal(t, uint16(2), decoded.Seq)
	assert.Empty(t, decoded.Data)
}

func TestICQMetaWithoutData(t *testing.T) {
	var decoded ICQMetaMessage
	assert.ErrorIs(t, decoded.Decode([]byte{0x00, 0x02, 0x00, 0x00}), ErrMalformed)
}

func TestOfflineMessage(t *testing.T) {
	sent := time.Date(2004, time.March, 7, 21, 15, 0, 0, time.UTC)
	msg := &OfflineMessage{Sender: 987654, Sent: sent, Type: ExtendedPlain, Message: []byte("are you there?")}
	data, err := msg.Encode()
	require.NoError(t, err)

	meta := &ICQMetaMessage{UIN: 123456, Command: ICQCmdOfflineMessage, Seq: 2, Data: data}
	payload, err := meta.Encode()
	require.NoError(t, err)

	var decodedMeta ICQMetaMessage
	require.NoError(t, decodedMeta.Decode(payload))
	assert.Equal(t, ICQCmdOfflineMessage, decodedMeta.Command)

	var decoded OfflineMessage
	require.NoError(t, decoded.Decode(decodedMeta.Data))
	assert.Equal(t, uint32(987654), decoded.Sender)
	assert.True(t, sent.Equal(decoded.Sent))
	assert.Equal(t, ExtendedPlain, decoded.Type)
	assert.Equal(t, "are you there?", string(decoded.Message))
}

func TestOfflineMessageTruncated(t *testing.T) {
	var decoded OfflineMessage
	assert.ErrorIs(t, decoded.Decode([]byte{1, 2, 3, 4, 0xD4, 0x07, 3}), ErrMalformed)
}

func TestUINFromScreenName(t *testing.T) {
	assert.Equal(t, uint32(123456), UINFromScreenName("123456"))
	assert.Equal(t, uint32(0), UINFromScreenName("alice"))
	assert.Equal(t, uint32(0), UINFromScreenName("99999999999"))
}
