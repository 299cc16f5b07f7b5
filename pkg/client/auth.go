package client

import (
	"net"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

func (s *Session) registerAuth() {
	s.disp.handle(protocol.FamilyBUCP, protocol.BUCPKeyReply, s.handleKeyReply)
	s.disp.handle(protocol.FamilyBUCP, protocol.BUCPLoginReply, s.handleLoginReply)
	s.disp.handle(protocol.FamilyBUCP, protocol.SubtypeError, s.handleAuthError)
}

// serverHello answers the channel-1 frame every service opens with. The
// login service gets a bare version and the challenge request; every
// other service gets the cookie from its redirect.
func (s *Session) serverHello(c *Conn) {
	if c.Service == ServiceAuth {
		if err := c.send(signOnFrame(nil)); err != nil {
			s.connLost(c, err)
			return
		}
		s.state = StateAwaitingKey
		s.logf("Requesting login key for %s", s.cfg.ScreenName)
		if err := c.sendSNAC(protocol.FamilyBUCP, protocol.BUCPKeyRequest, s.disp.allocRequest(c.ID, nil),
			&protocol.KeyRequestMessage{ScreenName: s.cfg.ScreenName}); err != nil {
			s.connLost(c, err)
		}
		return
	}
	if c.raw {
		return
	}
	if err := c.send(signOnFrame(c.cookie)); err != nil {
		s.connLost(c, err)
	}
}

func signOnFrame(cookie []byte) *protocol.Frame {
	m := protocol.SignOnMessage{Version: flapVersion}
	if cookie != nil {
		m.TLVs.Add(protocol.TLVCookie, cookie)
	}
	payload, _ := m.Encode()
	return &protocol.Frame{Channel: protocol.ChannelSignOn, Payload: payload}
}

func (s *Session) handleKeyReply(c *Conn, snac *protocol.SNAC) error {
	var m protocol.KeyReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.state = StateSendingCredentials
	s.logf("Sending credentials for %s", s.cfg.ScreenName)
	return c.sendSNAC(protocol.FamilyBUCP, protocol.BUCPLoginRequest, s.disp.allocRequest(c.ID, nil),
		&protocol.LoginRequestMessage{
			ScreenName:   s.cfg.ScreenName,
			PasswordHash: protocol.PasswordHash(m.Key, s.cfg.Password),
			Client:       protocol.DefaultClientIdent,
		})
}

// handleLoginReply either ends the session with the server's reason or
// trades the login connection for the primary one
func (s *Session) handleLoginReply(c *Conn, snac *protocol.SNAC) error {
	var m protocol.LoginReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	if m.Failed() {
		err := newAuthError(m.ErrorCode, m.ErrorURL)
		s.handler.Error(ErrorAuth, err.Error())
		s.terminate(err)
		return nil
	}
	if m.ScreenName != "" {
		s.screenName = m.ScreenName
	}
	s.state = StateRedirected
	s.logf("Login accepted, redirected to %s", m.Address)
	s.closeConn(c)

	addr := m.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	s.state = StateConnectingPrimary
	s.open(ServicePrimary, addr, m.Cookie, nil)
	return nil
}

func (s *Session) handleAuthError(c *Conn, snac *protocol.SNAC) error {
	m, err := snacError(c, snac)
	if err != nil {
		return err
	}
	aerr := &AuthError{Code: m.Code, Reason: m.Reason()}
	s.handler.Error(ErrorAuth, aerr.Error())
	s.terminate(aerr)
	return nil
}
