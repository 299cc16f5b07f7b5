package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFrameRoundTrip tests that any valid frame can be encoded and decoded
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		channel := rapid.Uint8Range(ChannelSignOn, ChannelKeepAlive).Draw(t, "channel")
		seq := rapid.Uint16().Draw(t, "seq")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(t, "payload")

		original := &Frame{Channel: channel, Sequence: seq, Payload: payload}

		var buf bytes.Buffer
		if err := EncodeFrame(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeFrame(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Channel != original.Channel {
			t.Fatalf("channel mismatch: got %d, want %d", decoded.Channel, original.Channel)
		}
		if decoded.Sequence != original.Sequence {
			t.Fatalf("sequence mismatch: got %d, want %d", decoded.Sequence, original.Sequence)
		}
		if !bytes.Equal(decoded.Payload, original.Payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// TestTLVListRoundTrip tests that any TLV list survives every framing style
func TestTLVListRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "count")
		var list TLVList
		for i := 0; i < n; i++ {
			typ := rapid.Uint16().Draw(t, "type")
			value := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "value")
			list = append(list, TLV{Type: typ, Value: value})
		}

		var buf bytes.Buffer
		if err := list.WriteCounted(&buf); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if err := list.WriteBlock(&buf); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		counted, err := ReadCountedTLVs(&buf)
		if err != nil {
			t.Fatalf("counted decode failed: %v", err)
		}
		block, err := ReadTLVBlock(&buf)
		if err != nil {
			t.Fatalf("block decode failed: %v", err)
		}
		if buf.Len() != 0 {
			t.Fatalf("%d trailing bytes", buf.Len())
		}

		for _, got := range []TLVList{counted, block} {
			if len(got) != len(list) {
				t.Fatalf("length mismatch: got %d, want %d", len(got), len(list))
			}
			for i := range list {
				if got[i].Type != list[i].Type || !bytes.Equal(got[i].Value, list[i].Value) {
					t.Fatalf("tlv %d mismatch", i)
				}
			}
		}
	})
}

// TestASCIITextStaysASCII tests that 7-bit text is never widened
func TestASCIITextStaysASCII(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[ -~]{0,200}`).Draw(t, "text")

		cs, b := EncodeText(s)
		if cs != CharsetASCII {
			t.Fatalf("got charset %s for ascii input", cs)
		}
		if len(b) != len(s) {
			t.Fatalf("encoded %d bytes for %d characters", len(b), len(s))
		}
	})
}

// TestTextRoundTrip tests that any valid string decodes to itself
func TestTextRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "text")

		cs, b := EncodeText(s)
		back, err := DecodeText(cs, b)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if back != s {
			t.Fatalf("text mismatch as %s: got %q, want %q", cs, back, s)
		}
	})
}

// TestPlainBodyRoundTrip tests that message text survives the ICBM envelope
func TestPlainBodyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 300, -1).Draw(t, "text")
		name := rapid.StringMatching(`[a-z][a-z0-9]{2,15}`).Draw(t, "name")
		var cookie Cookie
		copy(cookie[:], rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(t, "cookie"))

		msg := &SendICBMMessage{Cookie: cookie, ScreenName: name, Body: &PlainBody{Text: text}}
		payload, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		var decoded SendICBMMessage
		if err := decoded.Decode(payload); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		body, ok := decoded.Body.(*PlainBody)
		if !ok {
			t.Fatalf("decoded %T", decoded.Body)
		}
		if body.Text != text || decoded.ScreenName != name || decoded.Cookie != cookie {
			t.Fatalf("round trip mismatch")
		}
	})
}

// TestOFTHeaderRoundTripProperty tests header fields survive any values
func TestOFTHeaderRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := OFTHeader{
			Type:          rapid.SampledFrom([]uint16{OFTPrompt, OFTAck, OFTDone, OFTResume, OFTResumeAck, OFTResumeAccept}).Draw(t, "type"),
			TotalFiles:    rapid.Uint16().Draw(t, "total"),
			FilesLeft:     rapid.Uint16().Draw(t, "left"),
			TotalSize:     rapid.Uint32().Draw(t, "totalSize"),
			Size:          rapid.Uint32().Draw(t, "size"),
			Checksum:      rapid.Uint32().Draw(t, "checksum"),
			BytesReceived: rapid.Uint32().Draw(t, "received"),
			ReceivedCsum:  rapid.Uint32().Draw(t, "receivedCsum"),
			Name:          rapid.StringMatching(`[A-Za-z0-9_.-]{1,63}`).Draw(t, "name"),
		}

		payload, err := h.Encode()
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		var decoded OFTHeader
		if err := decoded.Decode(payload); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		decoded.IDString = ""
		if decoded != h {
			t.Fatalf("header mismatch: got %+v, want %+v", decoded, h)
		}
	})
}
