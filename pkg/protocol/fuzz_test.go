package protocol

import (
	"bytes"
	"testing"
)

// FuzzDecodeFrame fuzzes the frame decoder with random bytes
func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte{0x2A, 0x01, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x01})
	f.Add([]byte{0x2A, 0x05, 0x00, 0x01, 0x00, 0x00})
	f.Add([]byte{0x2A, 0x02, 0x00, 0x01, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic or hang on any input
		frame, err := DecodeFrame(bytes.NewReader(data))
		if err == nil && len(frame.Payload) > MaxFrameSize {
			t.Fatalf("payload of %d bytes accepted", len(frame.Payload))
		}
	})
}

// FuzzDecodeSNAC fuzzes the SNAC header decoder including the optional TLV block
func FuzzDecodeSNAC(f *testing.F) {
	valid, _ := EncodeSNAC(FamilyICBM, ICBMSend, 0, 1, []byte{1, 2, 3})
	f.Add(valid)
	f.Add([]byte{0x00, 0x13, 0x00, 0x06, 0x80, 0x00, 0, 0, 0, 1, 0x00, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeSNAC(data)
	})
}

// FuzzIncomingICBM fuzzes the ICBM decoder across every channel
func FuzzIncomingICBM(f *testing.F) {
	for _, body := range []ChannelBody{
		&PlainBody{Text: "hello"},
		&RendezvousBody{Status: RendezvousPropose, Capability: CapSendFile, Port: 5190},
		&ExtendedBody{UIN: 1, Type: ExtendedAuthReq, Fields: []string{"a", "b"}},
	} {
		msg := &IncomingICBMMessage{Sender: UserInfo{ScreenName: "x"}, Body: body}
		if payload, err := msg.Encode(); err == nil {
			f.Add(payload)
		}
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		var msg IncomingICBMMessage
		_ = msg.Decode(data)
	})
}

// FuzzFeedbagListReply fuzzes the contact-list decoder
func FuzzFeedbagListReply(f *testing.F) {
	msg := &FeedbagListReplyMessage{Items: sampleFeedbag()}
	if payload, err := msg.Encode(); err == nil {
		f.Add(payload)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		var msg FeedbagListReplyMessage
		_ = msg.Decode(data)
	})
}

// FuzzPeerHeaders fuzzes the OFT and ODC header decoders
func FuzzPeerHeaders(f *testing.F) {
	oft, _ := (&OFTHeader{Type: OFTPrompt, Name: "a.txt"}).Encode()
	odc, _ := (&ODCFrame{ScreenName: "a", Payload: []byte("hi")}).Encode()
	f.Add(oft)
	f.Add(odc)

	f.Fuzz(func(t *testing.T, data []byte) {
		var h OFTHeader
		_ = h.Decode(data)
		var d ODCFrame
		_ = d.Decode(data)
	})
}

// FuzzReadString fuzzes the length-prefixed string decoders
func FuzzReadString(f *testing.F) {
	f.Add([]byte{0x00, 0x00})
	f.Add([]byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ReadString(bytes.NewReader(data))
		_, _ = ReadString8(bytes.NewReader(data))
	})
}
