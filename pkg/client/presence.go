package client

import (
	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// presenceOf builds the upcall view of a user info block
func presenceOf(u *protocol.UserInfo, online bool) Presence {
	return Presence{
		Name:        u.ScreenName,
		Online:      online,
		Status:      u.Status(),
		Away:        u.Class().IsAway(),
		Idle:        u.Idle(),
		OnlineSince: u.OnlineSince(),
		Warning:     u.WarningLevel,
	}
}

func (s *Session) handleBuddyArrived(c *Conn, snac *protocol.SNAC) error {
	var m protocol.BuddyArrivedMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.handler.BuddyPresenceChanged(presenceOf(&m.UserInfo, true))
	return nil
}

func (s *Session) handleBuddyDeparted(c *Conn, snac *protocol.SNAC) error {
	var m protocol.BuddyDepartedMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	delete(s.typingCapable, contactlist.Normalize(m.ScreenName))
	s.handler.BuddyPresenceChanged(Presence{Name: m.ScreenName})
	return nil
}
