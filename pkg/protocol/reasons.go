package protocol

// UnknownReason is rendered for any code missing from a reason table
const UnknownReason = "unknown error"

// Login reply error codes (BUCP TLV 0x08)
const (
	AuthErrInvalidScreenName  uint16 = 0x0001
	AuthErrInvalidPassword    uint16 = 0x0004
	AuthErrBadPassword        uint16 = 0x0005
	AuthErrSuspended          uint16 = 0x0011
	AuthErrServiceUnavailable uint16 = 0x0014
	AuthErrRateLimited        uint16 = 0x0018
	AuthErrClientTooOld       uint16 = 0x001C
)

var authReasons = map[uint16]string{
	AuthErrInvalidScreenName:  "invalid screen name",
	AuthErrInvalidPassword:    "incorrect screen name or password",
	AuthErrBadPassword:        "incorrect screen name or password",
	AuthErrSuspended:          "account is currently suspended",
	AuthErrServiceUnavailable: "service is temporarily unavailable",
	AuthErrRateLimited:        "connecting too frequently, wait ten minutes and try again",
	AuthErrClientTooOld:       "client version is too old",
}

// AuthReason returns the human-readable text for a login error code
func AuthReason(code uint16) string {
	if s, ok := authReasons[code]; ok {
		return s
	}
	return UnknownReason
}

// snacErrorReasons is indexed by SNAC error code
var snacErrorReasons = []string{
	"invalid error",
	"invalid SNAC",
	"rate to host",
	"rate to client",
	"not logged in",
	"service unavailable",
	"service not defined",
	"obsolete SNAC",
	"not supported by host",
	"not supported by client",
	"refused by client",
	"reply too big",
	"responses lost",
	"request denied",
	"busted SNAC payload",
	"insufficient rights",
	"in local permit/deny",
	"too evil (sender)",
	"too evil (receiver)",
	"user temporarily unavailable",
	"no match",
	"list overflow",
	"request ambiguous",
	"queue full",
	"not while on AOL",
}

// SNACErrorReason returns the human-readable text for a SNAC error code
func SNACErrorReason(code uint16) string {
	if int(code) < len(snacErrorReasons) && code != 0 {
		return snacErrorReasons[code]
	}
	return UnknownReason
}

// Missed-message reasons (ICBM 04/0A)
const (
	MissedInvalid       uint16 = 0x0000
	MissedTooLarge      uint16 = 0x0001
	MissedRateExceeded  uint16 = 0x0002
	MissedEvilSender    uint16 = 0x0003
	MissedEvilRecipient uint16 = 0x0004
)

var missedReasons = map[uint16]string{
	MissedInvalid:       "message was invalid",
	MissedTooLarge:      "message was too large",
	MissedRateExceeded:  "rate limit exceeded",
	MissedEvilSender:    "sender warning level too high",
	MissedEvilRecipient: "your warning level is too high",
}

// MissedReason returns the human-readable text for a missed-message reason
func MissedReason(code uint16) string {
	if s, ok := missedReasons[code]; ok {
		return s
	}
	return UnknownReason
}

// Feedbag (SSI) acknowledgment codes
const (
	FeedbagAckSuccess      uint16 = 0x0000
	FeedbagAckNotFound     uint16 = 0x0002
	FeedbagAckAlreadyExist uint16 = 0x0003
	FeedbagAckIDInUse      uint16 = 0x000A
	FeedbagAckAtMax        uint16 = 0x000C
	FeedbagAckInvalidName  uint16 = 0x000D
	FeedbagAckAuthRequired uint16 = 0x000E
)

var feedbagReasons = map[uint16]string{
	FeedbagAckSuccess:      "success",
	FeedbagAckNotFound:     "item not found",
	FeedbagAckAlreadyExist: "item already exists",
	FeedbagAckIDInUse:      "item id already in use",
	FeedbagAckAtMax:        "list limit reached",
	FeedbagAckInvalidName:  "invalid name",
	FeedbagAckAuthRequired: "authorization required",
}

// FeedbagReason returns the human-readable text for a feedbag ack code
func FeedbagReason(code uint16) string {
	if s, ok := feedbagReasons[code]; ok {
		return s
	}
	return UnknownReason
}

// Rendezvous cancel reasons (channel 2 TLV 0x000B)
const (
	CancelReasonUnknown      uint16 = 0x0000
	CancelReasonDeclined     uint16 = 0x0001
	CancelReasonNotSupported uint16 = 0x0002
	CancelReasonTimedOut     uint16 = 0x0003
)

var cancelReasons = map[uint16]string{
	CancelReasonDeclined:     "declined by peer",
	CancelReasonNotSupported: "not supported by peer",
	CancelReasonTimedOut:     "timed out",
}

// CancelReason returns the human-readable text for a rendezvous cancel reason
func CancelReason(code uint16) string {
	if s, ok := cancelReasons[code]; ok {
		return s
	}
	return UnknownReason
}

// Sign-off reasons (channel 4 TLV 0x0009)
const SignOffSignedOnElsewhere uint16 = 0x0001

// SignOffReason returns the human-readable text for a forced sign-off
func SignOffReason(code uint16) string {
	if code == SignOffSignedOnElsewhere {
		return "signed on from another location"
	}
	return UnknownReason
}
