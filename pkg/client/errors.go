package client

import (
	"errors"
	"fmt"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

var (
	// ErrNotReady is returned by operations that need a signed-on session
	ErrNotReady = errors.New("session not signed on")
	// ErrSignedOff is returned once the session has ended
	ErrSignedOff = errors.New("session signed off")
	// ErrUnknownRoom is returned for a room that is not joined
	ErrUnknownRoom = errors.New("unknown chat room")
	// ErrUnknownTransfer is returned for a transfer id not in the table
	ErrUnknownTransfer = errors.New("unknown transfer")
	// ErrNotTypingCapable is returned when a peer never advertised typing
	// notifications
	ErrNotTypingCapable = errors.New("peer does not accept typing notifications")
	// ErrForcedSignOff wraps the reason a server pushed us off
	ErrForcedSignOff = errors.New("signed off by server")
)

// ErrorKind classifies the failures reported through Handler.Error
type ErrorKind int

const (
	ErrorTransport ErrorKind = iota
	ErrorDecode
	ErrorAuth
	ErrorDelivery
	ErrorSync
	ErrorService
	ErrorWarning
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport"
	case ErrorDecode:
		return "decode"
	case ErrorAuth:
		return "auth"
	case ErrorDelivery:
		return "delivery"
	case ErrorSync:
		return "sync"
	case ErrorService:
		return "service"
	case ErrorWarning:
		return "warning"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AuthError ends a login attempt. It is never retried automatically.
type AuthError struct {
	Code   uint16
	Reason string
	URL    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login failed: %s (0x%04X)", e.Reason, e.Code)
}

func newAuthError(code uint16, url string) *AuthError {
	return &AuthError{Code: code, Reason: protocol.AuthReason(code), URL: url}
}

// TransportError is a connect, read or write failure on one connection
type TransportError struct {
	Service ServiceType
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s connection %s: %v", e.Service, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a malformed frame. It closes the connection it arrived on.
type DecodeError struct {
	Service ServiceType
	Family  uint16
	Subtype uint16
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s connection: decode %02X/%02X: %v", e.Service, e.Family, e.Subtype, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DeliveryError reports that one outgoing message was refused
type DeliveryError struct {
	To     string
	Code   uint16
	Reason string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("message to %s not delivered: %s", e.To, e.Reason)
}

// SyncConflictError is a contact-list change the server rejected
type SyncConflictError = contactlist.ConflictError
