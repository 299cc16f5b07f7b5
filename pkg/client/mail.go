package client

import "github.com/aeolun/oscarchat/pkg/protocol"

func (s *Session) registerMail() {
	s.disp.handle(protocol.FamilyAlert, protocol.AlertMailStatus, s.handleMailStatus)
}

// CheckMail subscribes to mailbox status. The first status arrives soon
// after; later ones whenever the mailbox changes.
func (s *Session) CheckMail() error {
	return s.withService(ServiceMail, serviceWaiter{
		run: func(c *Conn) error {
			return c.sendSNAC(protocol.FamilyAlert, protocol.AlertActivate, s.disp.allocRequest(c.ID, nil),
				&protocol.MailActivateMessage{})
		},
		fail: func(err error) {
			s.handler.Error(kindOf(err), "mail status unavailable: "+err.Error())
		},
	})
}

func (s *Session) handleMailStatus(c *Conn, snac *protocol.SNAC) error {
	var m protocol.MailStatusMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.logf("Mail status: %d unread", m.Unread())
	s.handler.MailStatus(m.Unread(), m.URL())
	return nil
}
