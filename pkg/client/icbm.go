package client

import (
	"fmt"
	"time"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// SendOptions modify one outgoing instant message
type SendOptions struct {
	// AutoResponse marks the message as an away reply. The server sends
	// no acknowledgment for it.
	AutoResponse bool
	// StoreOffline asks the server to keep the message if the recipient is
	// signed off
	StoreOffline bool
}

func (s *Session) registerICBM() {
	s.disp.handle(protocol.FamilyICBM, protocol.ICBMIncoming, s.handleIncomingICBM)
	s.disp.handle(protocol.FamilyICBM, protocol.ICBMMissedCalls, s.handleMissedCalls)
	s.disp.handle(protocol.FamilyICBM, protocol.ICBMTypingNotify, s.handleTyping)
	s.disp.handle(protocol.FamilyICBM, protocol.ICBMHostAck, s.handleHostAck)
	s.disp.handle(protocol.FamilyICBM, protocol.ICBMClientError, s.handleClientError)
}

// handleICBMParams records the server's message ceiling and sets our own
// channel parameters
func (s *Session) handleICBMParams(c *Conn, snac *protocol.SNAC) error {
	var m protocol.ICBMParams
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	if m.MaxMessageLength > 0 {
		s.maxMessageLength = int(m.MaxMessageLength)
	}
	if n := s.cfg.MaxMessageLength; n > 0 && n < s.maxMessageLength {
		s.maxMessageLength = n
	}
	s.logf("Maximum message length %d bytes", s.maxMessageLength)

	params := protocol.DefaultICBMParams
	if m.MaxMessageLength > 0 {
		params.MaxMessageLength = m.MaxMessageLength
	}
	return c.sendSNAC(protocol.FamilyICBM, protocol.ICBMSetParams, s.disp.allocRequest(c.ID, nil), &params)
}

// MaxMessageLength returns the largest encoded message body the server
// accepts
func (s *Session) MaxMessageLength() int {
	return s.maxMessageLength
}

// SendIM sends an instant message through the server. The text goes out
// in the narrowest charset that holds it; a message over the server's
// ceiling is refused here with protocol.ErrMessageTooLarge.
func (s *Session) SendIM(to, text string, opts SendOptions) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	if _, _, err := protocol.EncodeTextLimit(text, s.maxMessageLength); err != nil {
		return err
	}

	body := &protocol.PlainBody{
		Text:          text,
		AutoResponse:  opts.AutoResponse,
		RequestAck:    !opts.AutoResponse,
		StoreOffline:  opts.StoreOffline,
		TypingCapable: true,
	}
	var reply snacHandler
	if body.RequestAck {
		reply = func(rc *Conn, snac *protocol.SNAC) error {
			return s.sendReply(to, rc, snac)
		}
	}
	id := s.disp.allocRequest(c.ID, reply)
	if err := c.sendSNAC(protocol.FamilyICBM, protocol.ICBMSend, id,
		&protocol.SendICBMMessage{Cookie: s.cookies.next(), ScreenName: to, Body: body}); err != nil {
		s.disp.forget(id)
		return err
	}
	s.metrics.messageSent()
	return nil
}

// sendReply resolves an outgoing message: a host ack or an error naming
// why it was refused
func (s *Session) sendReply(to string, c *Conn, snac *protocol.SNAC) error {
	switch snac.Subtype {
	case protocol.SubtypeError:
		m, err := snacError(c, snac)
		if err != nil {
			return err
		}
		derr := &DeliveryError{To: to, Code: m.Code, Reason: m.Reason()}
		s.metrics.deliveryFailed()
		s.logf("Message to %s failed: %s", to, derr.Reason)
		s.handler.DeliveryFailed(to, derr)
	case protocol.ICBMHostAck:
		s.logf("Message to %s accepted", to)
	}
	return nil
}

// SendTyping tells a peer we started, paused or stopped typing. Peers that
// never advertised typing support are not sent anything.
func (s *Session) SendTyping(to string, state uint16) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	if !s.typingCapable[contactlist.Normalize(to)] {
		return ErrNotTypingCapable
	}
	if p := s.directLinkTo(to); p != nil {
		return p.link.SendTyping(state)
	}
	return c.sendSNAC(protocol.FamilyICBM, protocol.ICBMTypingNotify, s.disp.allocRequest(c.ID, nil),
		&protocol.TypingNotifyMessage{Channel: protocol.ICBMChannelPlain, ScreenName: to, State: state})
}

func (s *Session) handleIncomingICBM(c *Conn, snac *protocol.SNAC) error {
	var m protocol.IncomingICBMMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	from := m.Sender.ScreenName

	switch body := m.Body.(type) {
	case *protocol.PlainBody:
		s.metrics.messageReceived("plain")
		var flags MessageFlags
		if body.AutoResponse {
			flags |= FlagAway
		}
		if body.TypingCapable {
			flags |= FlagTypingCapable
			s.typingCapable[contactlist.Normalize(from)] = true
		}
		at := s.now()
		if !body.Timestamp.IsZero() {
			at = body.Timestamp
			flags |= FlagOffline
		}
		s.handler.MessageReceived(Message{From: from, Text: body.Text, Flags: flags, Time: at})
	case *protocol.RendezvousBody:
		s.metrics.messageReceived("rendezvous")
		return s.handleRendezvous(c, &m.Sender, body)
	case *protocol.ExtendedBody:
		s.metrics.messageReceived("extended")
		s.handleExtended(from, body, s.now(), 0)
	default:
		s.logf("Ignoring ICBM on channel %d from %s", m.Body.Channel(), from)
	}
	return nil
}

// handleExtended delivers a channel-4 message, live or replayed from
// offline storage
func (s *Session) handleExtended(from string, body *protocol.ExtendedBody, at time.Time, flags MessageFlags) {
	switch body.Type {
	case protocol.ExtendedPlain, protocol.ExtendedURL:
		s.handler.MessageReceived(Message{From: from, Text: body.Text(), Flags: flags, Time: at})
	case protocol.ExtendedAuthReq:
		s.handler.AuthorizationRequestReceived(from, body.Text())
	case protocol.ExtendedAuthGrant:
		s.authorizationReplied(from, true)
	case protocol.ExtendedAuthDeny:
		s.authorizationReplied(from, false)
	case protocol.ExtendedContacts:
		s.handler.ContactsReceived(from, body.Contacts())
	case protocol.ExtendedAdded:
		s.logf("%s added us to their contact list", from)
	default:
		s.logf("Ignoring extended message type 0x%02X from %s", body.Type, from)
	}
}

func (s *Session) handleMissedCalls(c *Conn, snac *protocol.SNAC) error {
	var m protocol.MissedCallsMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	for _, call := range m.Calls {
		reason := protocol.MissedReason(call.Reason)
		s.logf("Missed %d messages from %s: %s", call.Count, call.Sender.ScreenName, reason)
		s.handler.MissedMessages(call.Sender.ScreenName, int(call.Count), reason)
	}
	return nil
}

func (s *Session) handleTyping(c *Conn, snac *protocol.SNAC) error {
	var m protocol.TypingNotifyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.typingCapable[contactlist.Normalize(m.ScreenName)] = true
	s.handler.TypingChanged(m.ScreenName, m.State)
	return nil
}

func (s *Session) handleHostAck(c *Conn, snac *protocol.SNAC) error {
	var m protocol.HostAckMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.logf("Host ack for %s on channel %d", m.ScreenName, m.Channel)
	return nil
}

// handleClientError is a peer's client refusing something we sent it,
// usually a rendezvous it could not handle
func (s *Session) handleClientError(c *Conn, snac *protocol.SNAC) error {
	var m protocol.ClientErrorMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.logf("Client error 0x%04X from %s on channel %d", m.Code, m.ScreenName, m.Channel)
	if m.Channel == protocol.ICBMChannelRendezvous {
		if t, ok := s.transfers.ByCookie(m.Cookie); ok {
			s.endTransfer(t, protocol.CancelReasonNotSupported, false)
			return nil
		}
	}
	s.handler.Error(ErrorDelivery, fmt.Sprintf("%s could not process our message (code 0x%04X)", m.ScreenName, m.Code))
	return nil
}
