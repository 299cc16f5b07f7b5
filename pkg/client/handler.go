package client

import (
	"time"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// MessageFlags describe how an incoming message was delivered
type MessageFlags uint8

const (
	FlagAway MessageFlags = 1 << iota
	FlagTypingCapable
	FlagOffline
	FlagDirect
)

// Message is one incoming instant message
type Message struct {
	From  string
	Text  string
	Flags MessageFlags
	Time  time.Time
}

// Presence is a buddy's online state
type Presence struct {
	Name        string
	Online      bool
	Status      uint32
	Away        bool
	Idle        time.Duration
	OnlineSince time.Time
	Warning     uint16
}

// ChatInvite is an invitation to a chat room
type ChatInvite struct {
	Room    protocol.ChatRoomRef
	From    string
	Message string
}

// FileOffer describes an inbound file transfer proposal
type FileOffer struct {
	ID        string
	From      string
	Name      string
	Files     int
	TotalSize uint32
	Message   string
}

// Handler receives session upcalls. Every method is called from the
// goroutine running Poll, one at a time, and must not block.
type Handler interface {
	SignedOn()
	SignedOff(err error)

	BuddyPresenceChanged(p Presence)
	MessageReceived(m Message)
	TypingChanged(from string, state uint16)
	DeliveryFailed(to string, err *DeliveryError)
	MissedMessages(from string, count int, reason string)
	ContactsReceived(from string, contacts []string)

	ChatInviteReceived(inv ChatInvite)
	ChatMembershipChanged(room, who string, joined bool)
	ChatMessageReceived(room, from, text string)

	FileTransferRequested(offer FileOffer)
	FileTransferProgress(id string, done, total uint64)
	FileTransferComplete(id string)
	FileTransferCanceled(id string, reason string, done uint64)
	DirectConnectProposed(id, from string)
	DirectConnectEstablished(id, peer string)
	DirectConnectClosed(id string, err error)

	AuthorizationRequestReceived(from, reason string)
	ContactListSynced(items []contactlist.Item)
	ContactListWarning(message string)
	MailStatus(unread int, url string)

	Error(kind ErrorKind, message string)
}

// NopHandler ignores every upcall. Embed it to implement only what you need.
type NopHandler struct{}

func (NopHandler) SignedOn() {}
func (NopHandler) SignedOff(err error) {}
func (NopHandler) BuddyPresenceChanged(p Presence) {}
func (NopHandler) MessageReceived(m Message) {}
func (NopHandler) TypingChanged(from string, state uint16) {}
func (NopHandler) DeliveryFailed(to string, err *DeliveryError) {}
func (NopHandler) MissedMessages(from string, count int, reason string) {}
func (NopHandler) ContactsReceived(from string, contacts []string) {}
func (NopHandler) ChatInviteReceived(inv ChatInvite) {}
func (NopHandler) ChatMembershipChanged(room, who string, joined bool) {}
func (NopHandler) ChatMessageReceived(room, from, text string) {}
func (NopHandler) FileTransferRequested(offer FileOffer) {}
func (NopHandler) FileTransferProgress(id string, done, total uint64) {}
func (NopHandler) FileTransferComplete(id string) {}
func (NopHandler) FileTransferCanceled(id string, reason string, done uint64) {}
func (NopHandler) DirectConnectProposed(id, from string) {}
func (NopHandler) DirectConnectEstablished(id, peer string) {}
func (NopHandler) DirectConnectClosed(id string, err error) {}
func (NopHandler) AuthorizationRequestReceived(from, reason string) {}
func (NopHandler) ContactListSynced(items []contactlist.Item) {}
func (NopHandler) ContactListWarning(message string) {}
func (NopHandler) MailStatus(unread int, url string) {}
func (NopHandler) Error(kind ErrorKind, message string) {}
