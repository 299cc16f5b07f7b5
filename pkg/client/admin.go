package client

import (
	"fmt"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// AdminError is an account change the server refused
type AdminError struct {
	Code   uint16
	Reason string
}

func (e *AdminError) Error() string {
	return fmt.Sprintf("account change refused: %s (0x%04X)", e.Reason, e.Code)
}

// FormatScreenName changes the capitalization and spacing of the account
// name. done runs on the session goroutine with the outcome.
func (s *Session) FormatScreenName(name string, done func(error)) error {
	return s.adminChange(protocol.FormatScreenNameChange(name), func(m *protocol.AdminReplyMessage) {
		if formatted, ok := m.TLVs.String(protocol.TLVAdminScreenName); ok {
			s.screenName = formatted
		}
	}, done)
}

// ChangePassword replaces the account password
func (s *Session) ChangePassword(oldPassword, newPassword string, done func(error)) error {
	return s.adminChange(protocol.PasswordChange(oldPassword, newPassword), nil, done)
}

// adminChange sends one change on the admin connection, connecting it on
// demand
func (s *Session) adminChange(msg *protocol.AdminChangeMessage, applied func(*protocol.AdminReplyMessage), done func(error)) error {
	if done == nil {
		done = func(error) {}
	}
	return s.withService(ServiceAdmin, serviceWaiter{
		run: func(c *Conn) error {
			id := s.disp.allocRequest(c.ID, func(rc *Conn, snac *protocol.SNAC) error {
				if snac.Subtype == protocol.SubtypeError {
					m, err := snacError(rc, snac)
					if err != nil {
						return err
					}
					done(&AdminError{Code: m.Code, Reason: m.Reason()})
					return nil
				}
				var m protocol.AdminReplyMessage
				if err := decode(rc, snac, &m); err != nil {
					return err
				}
				if code := m.ErrorCode(); code != 0 {
					s.logf("Account change refused: %s", protocol.AdminReason(code))
					done(&AdminError{Code: code, Reason: protocol.AdminReason(code)})
					return nil
				}
				if applied != nil {
					applied(&m)
				}
				done(nil)
				return nil
			})
			return c.sendSNAC(protocol.FamilyAdmin, protocol.AdminInfoChange, id, msg)
		},
		fail: done,
	})
}
