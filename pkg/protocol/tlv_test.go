package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTLV(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []byte
	}{
		{"nil", nil, nil},
		{"bytes", []byte{1, 2}, []byte{1, 2}},
		{"string", "ab", []byte("ab")},
		{"uint8", uint8(7), []byte{7}},
		{"uint16", uint16(0x0102), []byte{1, 2}},
		{"uint32", uint32(0x01020304), []byte{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlv := NewTLV(0x0042, tt.value)
			assert.Equal(t, uint16(0x0042), tlv.Type)
			assert.Equal(t, tt.want, tlv.Value)
		})
	}

	assert.Panics(t, func() { NewTLV(1, 3.14) })
}

func TestTLVListLookups(t *testing.T) {
	var l TLVList
	l.Add(0x01, "first")
	l.Add(0x02, uint16(513))
	l.Add(0x01, "second")
	l.Add(0x03, uint32(70000))
	l.Add(0x04, uint8(9))
	l.Add(0x05, nil)

	s, ok := l.String(0x01)
	assert.True(t, ok)
	assert.Equal(t, "first", s, "lookups return the first match")

	v16, ok := l.Uint16(0x02)
	assert.True(t, ok)
	assert.Equal(t, uint16(513), v16)

	v32, ok := l.Uint32(0x03)
	assert.True(t, ok)
	assert.Equal(t, uint32(70000), v32)

	v8, ok := l.Uint8(0x04)
	assert.True(t, ok)
	assert.Equal(t, uint8(9), v8)

	assert.True(t, l.Has(0x05))
	assert.False(t, l.Has(0x06))

	_, ok = l.Uint32(0x04)
	assert.False(t, ok, "short values do not convert")
}

func TestTLVFraming(t *testing.T) {
	l := TLVList{NewTLV(0x0001, "ab"), NewTLV(0x0002, nil)}
	assert.Equal(t, 10, l.EncodedLen())

	t.Run("bare", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, l.WriteTo(buf))
		assert.Equal(t, []byte{0, 1, 0, 2, 'a', 'b', 0, 2, 0, 0}, buf.Bytes())

		got, err := ReadTLVsUntilEnd(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, l[0], got[0])
		assert.Equal(t, uint16(2), got[1].Type)
		assert.Empty(t, got[1].Value)
	})

	t.Run("counted", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, l.WriteCounted(buf))
		buf.WriteString("tail")
		assert.Equal(t, []byte{0, 2}, buf.Bytes()[:2])

		got, err := ReadCountedTLVs(buf)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "tail", buf.String())
	})

	t.Run("length block", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, l.WriteBlock(buf))
		buf.WriteString("tail")
		assert.Equal(t, []byte{0, 10}, buf.Bytes()[:2])

		got, err := ReadTLVBlock(buf)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "tail", buf.String())
	})
}

func TestReadTLVErrors(t *testing.T) {
	_, err := ReadTLVsUntilEnd(bytes.NewReader([]byte{0, 1, 0, 5, 'a'}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadCountedTLVs(bytes.NewReader([]byte{0, 2, 0, 1, 0, 0}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadTLVBlock(bytes.NewReader([]byte{0, 8, 0, 1}))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSNACEncodeDecode(t *testing.T) {
	payload, err := EncodeSNAC(FamilyICBM, ICBMSend, 0, 0x01020304, []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 4, 0, 6, 0, 0, 1, 2, 3, 4, 'b', 'o', 'd', 'y'}, payload)

	s, err := DecodeSNAC(payload)
	require.NoError(t, err)
	assert.Equal(t, FamilyICBM, s.Family)
	assert.Equal(t, ICBMSend, s.Subtype)
	assert.Equal(t, uint32(0x01020304), s.RequestID)
	assert.Equal(t, []byte("body"), s.Body)
}

func TestSNACOptionalTLVBlockSkipped(t *testing.T) {
	block := new(bytes.Buffer)
	require.NoError(t, TLVList{NewTLV(0x0001, uint16(3))}.WriteBlock(block))
	payload, err := EncodeSNAC(FamilyFeedbag, FeedbagListReply, SNACFlagOptionalTLV, 7, append(block.Bytes(), 0xAA))
	require.NoError(t, err)

	s, err := DecodeSNAC(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, s.Body)
}

func TestSNACErrors(t *testing.T) {
	_, err := DecodeSNAC([]byte{0, 1, 0})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = EncodeSNAC(FamilyICBM, ICBMSend, 0, 0, make([]byte, MaxFrameSize))
	assert.ErrorIs(t, err, ErrTooLarge)

	msg := &SNACErrorMessage{Code: 0x0004}
	payload, err := msg.Encode()
	require.NoError(t, err)

	var decoded SNACErrorMessage
	require.NoError(t, decoded.Decode(payload))
	assert.Equal(t, uint16(0x0004), decoded.Code)
	assert.Equal(t, "not logged in", decoded.Reason())
}

func TestReasonTables(t *testing.T) {
	assert.Equal(t, "incorrect screen name or password", AuthReason(AuthErrBadPassword))
	assert.Equal(t, UnknownReason, AuthReason(0x7777))
	assert.Equal(t, "rate to host", SNACErrorReason(0x0002))
	assert.Equal(t, UnknownReason, SNACErrorReason(0x0400))
}
