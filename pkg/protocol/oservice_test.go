package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientReady(t *testing.T) {
	msg := &ClientReadyMessage{Families: ClientFamilyVersions}
	payload, err := msg.Encode()
	require.NoError(t, err)
	assert.Len(t, payload, 8*len(ClientFamilyVersions))

	var decoded ClientReadyMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, ClientFamilyVersions, decoded.Families)

	assert.ErrorIs(t, decoded.Decode([]byte{0, 1, 0}), ErrMalformed)
}

func TestHostOnline(t *testing.T) {
	msg := &HostOnlineMessage{Families: []uint16{FamilyOService, FamilyICBM, FamilyFeedbag}}
	payload, err := msg.Encode()
	require.NoError(t, err)

	var decoded HostOnlineMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, msg.Families, decoded.Families)
}

func TestServiceRequest(t *testing.T) {
	t.Run("plain family", func(t *testing.T) {
		msg := &ServiceRequestMessage{Family: FamilyChatNav}
		payload, err := msg.Encode()
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x0D}, payload)
	})

	t.Run("chat room", func(t *testing.T) {
		room := &ChatRoomRef{Exchange: 4, Cookie: "!aol://2719:10-4-myroom", Instance: 0}
		msg := &ServiceRequestMessage{Family: FamilyChat, Room: room}
		payload, err := msg.Encode()
		require.NoError(t, err)

		var decoded ServiceRequestMessage
		require.NoError(t, decoded.Decode(payload))
		assert.Equal(t, FamilyChat, decoded.Family)
		require.NotNil(t, decoded.Room)
		assert.Equal(t, *room, *decoded.Room)
		assert.Equal(t, "4/!aol://2719:10-4-myroom/0", decoded.Room.String())
	})
}

func TestRedirect(t *testing.T) {
	msg := &RedirectMessage{Family: FamilyAlert, Address: "alerts.example:5190", Cookie: []byte{9, 9, 9}}
	payload, err := msg.Encode()
	require.NoError(t, err)

	var decoded RedirectMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, *msg, decoded)

	buf := new(bytes.Buffer)
	require.NoError(t, TLVList{NewTLV(TLVServiceFamily, FamilyAlert)}.WriteTo(buf))
	assert.ErrorIs(t, decoded.Decode(buf.Bytes()), ErrMalformed)
}

func TestRateParamsReply(t *testing.T) {
	msg := &RateParamsReplyMessage{
		Classes: []RateClassParams{
			{ID: 1, Window: 80, Clear: 2500, Alert: 2000, Limit: 1500, Disconnect: 800, Current: 6000, Max: 6000},
			{ID: 2, Window: 20, Clear: 3000, Alert: 2500, Limit: 2000, Disconnect: 1000, Current: 6000, Max: 6000, LastTime: 42, State: 1},
		},
		Members: map[uint16][]RatePair{
			1: {{FamilyOService, OServiceClientReady}},
			2: {{FamilyICBM, ICBMSend}, {FamilyICBM, ICBMTypingNotify}},
		},
	}
	payload, err := msg.Encode()
	require.NoError(t, err)

	var decoded RateParamsReplyMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, msg.Classes, decoded.Classes)
	assert.Equal(t, msg.Members, decoded.Members)
	assert.Equal(t, []uint16{1, 2}, decoded.ClassIDs())

	ack := &RateParamsAckMessage{ClassIDs: decoded.ClassIDs()}
	payload, err = ack.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0, 2}, payload)
}

func TestRateChange(t *testing.T) {
	msg := &RateChangeMessage{Code: RateCodeLimit, Class: RateClassParams{ID: 2, Window: 20, Clear: 3000, Current: 1400}}
	payload, err := msg.Encode()
	require.NoError(t, err)
	assert.Len(t, payload, 2+2+7*4)

	var decoded RateChangeMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, *msg, decoded)

	// Version 3 servers append last-time and state
	extended := append(payload, 0, 0, 0, 7, 1)
	require.NoError(t, decoded.Decode(extended))
	assert.Equal(t, uint32(7), decoded.Class.LastTime)
	assert.Equal(t, uint8(1), decoded.Class.State)
}

func TestIdleAndEvil(t *testing.T) {
	idle := &IdleMessage{Idle: 5 * time.Minute}
	payload, err := idle.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0x01, 0x2C}, payload)

	evil := &EvilNotificationMessage{WarningLevel: 100}
	payload, err = evil.Encode()
	require.NoError(t, err)
	var anon EvilNotificationMessage
	require.NoError(t, anon.Decode(payload))
	assert.Nil(t, anon.From)

	evil.From = &UserInfo{ScreenName: "mallory"}
	payload, err = evil.Encode()
	require.NoError(t, err)
	var named EvilNotificationMessage
	require.NoError(t, named.Decode(payload))
	require.NotNil(t, named.From)
	assert.Equal(t, "mallory", named.From.ScreenName)
}

func TestSetInfo(t *testing.T) {
	away := "gone fishing"
	msg := &SetInfoMessage{Away: &away, Capabilities: DefaultCapabilities}
	payload, err := msg.Encode()
	require.NoError(t, err)

	var decoded SetInfoMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Nil(t, decoded.Profile)
	require.NotNil(t, decoded.Away)
	assert.Equal(t, away, *decoded.Away)
	assert.Equal(t, DefaultCapabilities, decoded.Capabilities)
}

func TestAdminMessages(t *testing.T) {
	req := PasswordChange("old", "new")
	payload, err := req.Encode()
	require.NoError(t, err)
	var decoded AdminChangeMessage
	require.NoError(t, decoded.Decode(payload))
	pw, _ := decoded.TLVs.String(TLVAdminNewPassword)
	assert.Equal(t, "new", pw)

	reply := &AdminReplyMessage{Permissions: 3, TLVs: TLVList{NewTLV(TLVAdminErrorCode, AdminErrInvalidPassword)}}
	payload, err = reply.Encode()
	require.NoError(t, err)
	var decodedReply AdminReplyMessage
	require.NoError(t, decodedReply.Decode(payload))
	assert.Equal(t, AdminErrInvalidPassword, decodedReply.ErrorCode())
	assert.Equal(t, "current password is incorrect", AdminReason(decodedReply.ErrorCode()))
}

func TestMailStatus(t *testing.T) {
	msg := &MailStatusMessage{Cookie: testCookie}
	msg.TLVs.Add(TLVMailUnread, uint16(4))
	msg.TLVs.Add(TLVMailURL, "http://mail.example/inbox")
	payload, err := msg.Encode()
	require.NoError(t, err)

	var decoded MailStatusMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, 4, decoded.Unread())
	assert.Equal(t, "http://mail.example/inbox", decoded.URL())
}
