package protocol

import "github.com/google/uuid"

// Capability is a 16-byte UUID a client advertises for each feature it supports.
// The rendezvous header names the capability it negotiates.
type Capability uuid.UUID

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return uuid.UUID(c).String()
}

var (
	CapVoice        = Capability(uuid.MustParse("09461341-4c7f-11d1-8222-444553540000"))
	CapSendFile     = Capability(uuid.MustParse("09461343-4c7f-11d1-8222-444553540000"))
	CapDirectIM     = Capability(uuid.MustParse("09461345-4c7f-11d1-8222-444553540000"))
	CapBuddyIcon    = Capability(uuid.MustParse("09461346-4c7f-11d1-8222-444553540000"))
	CapGetFile      = Capability(uuid.MustParse("09461348-4c7f-11d1-8222-444553540000"))
	CapGames        = Capability(uuid.MustParse("0946134a-4c7f-11d1-8222-444553540000"))
	CapSendBuddies  = Capability(uuid.MustParse("0946134b-4c7f-11d1-8222-444553540000"))
	CapInteroperate = Capability(uuid.MustParse("0946134d-4c7f-11d1-8222-444553540000"))
	CapUnicode      = Capability(uuid.MustParse("0946134e-4c7f-11d1-8222-444553540000"))
	CapVideo        = Capability(uuid.MustParse("09460100-4c7f-11d1-8222-444553540000"))
	CapCamera       = Capability(uuid.MustParse("09460102-4c7f-11d1-8222-444553540000"))
	CapChat         = Capability(uuid.MustParse("748f2420-6287-11d1-8222-444553540000"))
)

var capabilityNames = map[Capability]string{
	CapVoice:        "voice",
	CapSendFile:     "file-transfer",
	CapDirectIM:     "direct-im",
	CapBuddyIcon:    "buddy-icon",
	CapGetFile:      "get-file",
	CapGames:        "games",
	CapSendBuddies:  "send-buddy-list",
	CapInteroperate: "interoperate",
	CapUnicode:      "unicode",
	CapVideo:        "video",
	CapCamera:       "image-share",
	CapChat:         "chat-invite",
}

// DefaultCapabilities is what this client advertises through LOCATE set-info
var DefaultCapabilities = []Capability{CapChat, CapSendFile, CapDirectIM, CapInteroperate, CapUnicode}

// EncodeCapabilities concatenates capability UUIDs for TLV 0x0005/0x000D
func EncodeCapabilities(caps []Capability) []byte {
	out := make([]byte, 0, 16*len(caps))
	for _, c := range caps {
		out = append(out, c[:]...)
	}
	return out
}
