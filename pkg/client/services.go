package client

import (
	"fmt"
	"net"
	"time"

	"github.com/aeolun/oscarchat/pkg/protocol"
	"github.com/aeolun/oscarchat/pkg/ratelimit"
)

// serviceWaiter is an operation queued until its service is ready
type serviceWaiter struct {
	run  func(c *Conn) error
	fail func(err error)
}

func (s *Session) registerOService() {
	s.disp.handle(protocol.FamilyOService, protocol.OServiceHostOnline, s.handleHostOnline)
	s.disp.handle(protocol.FamilyOService, protocol.OServiceHostVersions, s.handleHostVersions)
	s.disp.handle(protocol.FamilyOService, protocol.OServiceRateParamsReply, s.handleRateParams)
	s.disp.handle(protocol.FamilyOService, protocol.OServiceRateChange, s.handleRateChange)
	s.disp.handle(protocol.FamilyOService, protocol.OServicePause, s.handlePause)
	s.disp.handle(protocol.FamilyOService, protocol.OServiceEvilNotification, s.handleEvil)
	s.disp.handle(protocol.FamilyOService, protocol.OServiceMOTD, s.handleInfoOnly)
	s.disp.handle(protocol.FamilyOService, protocol.OServiceSelfInfoReply, s.handleInfoOnly)
}

// familiesFor lists the families a connection announces. The primary
// connection speaks everything except the families that live on their own
// services.
func familiesFor(svc ServiceType) []protocol.FamilyVersion {
	var out []protocol.FamilyVersion
	for _, fv := range protocol.ClientFamilyVersions {
		switch {
		case fv.Family == protocol.FamilyOService:
			out = append(out, fv)
		case svc == ServicePrimary:
			if fv.Family != protocol.FamilyChatNav && fv.Family != protocol.FamilyChat && fv.Family != protocol.FamilyAlert {
				out = append(out, fv)
			}
		case fv.Family == svc.Family():
			out = append(out, fv)
		}
	}
	return out
}

func (s *Session) handleHostOnline(c *Conn, snac *protocol.SNAC) error {
	var m protocol.HostOnlineMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.logf("%s service online with %d families", c.Service, len(m.Families))
	return c.sendSNAC(protocol.FamilyOService, protocol.OServiceClientVersions, s.disp.allocRequest(c.ID, nil),
		&protocol.HostVersionsMessage{Versions: familiesFor(c.Service)})
}

func (s *Session) handleHostVersions(c *Conn, snac *protocol.SNAC) error {
	var m protocol.HostVersionsMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	return c.sendSNAC(protocol.FamilyOService, protocol.OServiceRateParamsRequest, s.disp.allocRequest(c.ID, nil), nil)
}

// handleRateParams loads the rate classes into the connection's limiter.
// During the handshake it also moves the service on to its setup.
func (s *Session) handleRateParams(c *Conn, snac *protocol.SNAC) error {
	var m protocol.RateParamsReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	c.limiter.Configure(&m)
	if err := c.sendSNAC(protocol.FamilyOService, protocol.OServiceRateParamsAck, s.disp.allocRequest(c.ID, nil),
		&protocol.RateParamsAckMessage{ClassIDs: m.ClassIDs()}); err != nil {
		return err
	}
	if c.state == ConnHandshaking && c.pendingSetup == 0 {
		return s.serviceConfigured(c)
	}
	return nil
}

func (s *Session) handleRateChange(c *Conn, snac *protocol.SNAC) error {
	var m protocol.RateChangeMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	state := c.limiter.Apply(ratelimit.NoticeFrom(&m))
	s.metrics.rateState(state.String())
	s.logf("Rate class %d on %s is now %s", m.Class.ID, c.Service, state)
	if state == ratelimit.Limited {
		s.handler.Error(ErrorWarning, fmt.Sprintf("%s connection is rate limited, sends are delayed", c.Service))
	}
	return nil
}

func (s *Session) handlePause(c *Conn, snac *protocol.SNAC) error {
	s.logf("Server paused the %s connection", c.Service)
	return nil
}

func (s *Session) handleEvil(c *Conn, snac *protocol.SNAC) error {
	var m protocol.EvilNotificationMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	from := "anonymous"
	if m.From != nil {
		from = m.From.ScreenName
	}
	s.handler.Error(ErrorWarning, fmt.Sprintf("warned by %s, warning level now %d%%", from, m.WarningLevel/10))
	return nil
}

func (s *Session) handleInfoOnly(c *Conn, snac *protocol.SNAC) error {
	s.logf("Ignoring %s on %s", describeSNAC(snac), c.Service)
	return nil
}

// snacErrorFallback reports an xx/01 no request is waiting for
func (s *Session) snacErrorFallback(c *Conn, snac *protocol.SNAC) error {
	m, err := snacError(c, snac)
	if err != nil {
		return err
	}
	s.logf("SNAC error on %s family 0x%02X: %s", c.Service, snac.Family, m.Reason())
	s.handler.Error(ErrorService, fmt.Sprintf("%s service error: %s", c.Service, m.Reason()))
	return nil
}

// serviceConfigured runs once the rate handshake of a connection is done
func (s *Session) serviceConfigured(c *Conn) error {
	if c.Service == ServicePrimary {
		return s.primarySetup(c)
	}
	if err := c.sendSNAC(protocol.FamilyOService, protocol.OServiceClientReady, s.disp.allocRequest(c.ID, nil),
		&protocol.ClientReadyMessage{Families: familiesFor(c.Service)}); err != nil {
		return err
	}
	c.state = ConnReady
	s.logf("%s service ready", c.Service)
	if c.room != nil {
		return s.roomReady(c)
	}
	s.runWaiters(c)
	return nil
}

// primarySetup sends the rights requests, our profile and the contact
// list request. The connection turns ready once every reply is in.
func (s *Session) primarySetup(c *Conn) error {
	steps := []struct {
		family, subtype uint16
		msg             protocol.Message
		reply           snacHandler
	}{
		{protocol.FamilyLocate, protocol.SubtypeRightsRequest, nil, s.handleLocateRights},
		{protocol.FamilyBuddy, protocol.SubtypeRightsRequest, nil, s.handleBuddyRights},
		{protocol.FamilyICBM, protocol.ICBMParamsRequest, nil, s.handleICBMParams},
		{protocol.FamilyFeedbag, protocol.SubtypeRightsRequest, nil, s.handleFeedbagRights},
		{protocol.FamilyFeedbag, protocol.FeedbagListRequest, nil, s.handleFeedbagList},
	}
	c.pendingSetup = len(steps)
	for _, st := range steps {
		if err := s.setupRequest(c, st.family, st.subtype, st.msg, st.reply); err != nil {
			return err
		}
	}

	profile := s.cfg.Profile
	return c.sendSNAC(protocol.FamilyLocate, protocol.LocateSetInfo, s.disp.allocRequest(c.ID, nil),
		&protocol.SetInfoMessage{Profile: &profile, Capabilities: protocol.DefaultCapabilities})
}

// setupRequest sends one setup request. A refused request is logged and
// counts as answered.
func (s *Session) setupRequest(c *Conn, family, subtype uint16, msg protocol.Message, reply snacHandler) error {
	id := s.disp.allocRequest(c.ID, func(rc *Conn, snac *protocol.SNAC) error {
		if snac.Subtype == protocol.SubtypeError {
			m, err := snacError(rc, snac)
			if err != nil {
				return err
			}
			s.logf("Setup request %02X/%02X refused: %s", family, subtype, m.Reason())
		} else if err := reply(rc, snac); err != nil {
			return err
		}
		if snac.Flags&protocol.SNACFlagMoreReplies == 0 {
			return s.setupDone(rc)
		}
		return nil
	})
	return c.sendSNAC(family, subtype, id, msg)
}

func (s *Session) setupDone(c *Conn) error {
	c.pendingSetup--
	if c.pendingSetup > 0 || c.state != ConnHandshaking {
		return nil
	}
	return s.primaryReady(c)
}

// primaryReady finishes sign-on: activate the merged contact list, tell
// the server we are ready and replay stored messages
func (s *Session) primaryReady(c *Conn) error {
	if err := s.syncContacts(c); err != nil {
		return err
	}
	if err := c.sendSNAC(protocol.FamilyOService, protocol.OServiceClientReady, s.disp.allocRequest(c.ID, nil),
		&protocol.ClientReadyMessage{Families: familiesFor(ServicePrimary)}); err != nil {
		return err
	}
	c.state = ConnReady
	s.state = StateReady
	s.keepAlive = time.NewTicker(s.cfg.KeepAlive)
	s.logf("Signed on as %s", s.screenName)
	s.handler.SignedOn()
	s.handler.ContactListSynced(s.syncer.Snapshot())
	return s.requestOfflineMessages(c)
}

func (s *Session) handleLocateRights(c *Conn, snac *protocol.SNAC) error {
	var m protocol.RightsReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	if n, ok := m.TLVs.Uint16(protocol.TLVLocateMaxProfile); ok {
		s.logf("Profile limit %d bytes", n)
	}
	return nil
}

func (s *Session) handleBuddyRights(c *Conn, snac *protocol.SNAC) error {
	var m protocol.RightsReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	if n, ok := m.TLVs.Uint16(protocol.TLVBuddyMaxBuddies); ok {
		s.logf("Buddy limit %d", n)
	}
	return nil
}

// withService runs w on the ready connection of svc, requesting the
// service from the primary connection when none is open
func (s *Session) withService(svc ServiceType, w serviceWaiter) error {
	p, err := s.primary()
	if err != nil {
		return err
	}
	if c := s.conns.byService(svc); c != nil && c.state == ConnReady {
		return w.run(c)
	}
	s.waiters[svc] = append(s.waiters[svc], w)
	if s.conns.byService(svc) != nil || s.requested[svc] {
		return nil
	}
	s.requested[svc] = true
	return s.requestService(p, svc, nil)
}

// requestService asks the primary connection for a redirect to svc. Chat
// connections name their room.
func (s *Session) requestService(p *Conn, svc ServiceType, room *Room) error {
	req := &protocol.ServiceRequestMessage{Family: svc.Family()}
	if room != nil {
		ref := room.Ref
		req.Room = &ref
	}
	id := s.disp.allocRequest(p.ID, func(rc *Conn, snac *protocol.SNAC) error {
		if room == nil {
			s.requested[svc] = false
		}
		if snac.Subtype == protocol.SubtypeError {
			m, err := snacError(rc, snac)
			if err != nil {
				return err
			}
			serr := fmt.Errorf("%s service unavailable: %s", svc, m.Reason())
			if room != nil {
				s.roomFailed(room, serr)
				return nil
			}
			s.failService(svc, serr)
			s.handler.Error(ErrorService, serr.Error())
			return nil
		}
		var m protocol.RedirectMessage
		if err := decode(rc, snac, &m); err != nil {
			return err
		}
		addr := m.Address
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, DefaultPort)
		}
		s.logf("Redirected to %s service at %s", svc, addr)
		c := s.open(svc, addr, m.Cookie, nil)
		if room != nil {
			c.room = room
			room.conn = c.ID
		}
		return nil
	})
	return p.sendSNAC(protocol.FamilyOService, protocol.OServiceServiceRequest, id, req)
}

func (s *Session) runWaiters(c *Conn) {
	waiting := s.waiters[c.Service]
	delete(s.waiters, c.Service)
	for _, w := range waiting {
		if err := w.run(c); err != nil {
			s.logf("Queued %s operation failed: %v", c.Service, err)
			if w.fail != nil {
				w.fail(err)
			}
		}
	}
}

// failService fails every operation queued on svc
func (s *Session) failService(svc ServiceType, err error) {
	waiting := s.waiters[svc]
	delete(s.waiters, svc)
	s.requested[svc] = false
	for _, w := range waiting {
		if w.fail != nil {
			w.fail(err)
		}
	}
}

// failWaiters fails everything queued on any service
func (s *Session) failWaiters(err error) {
	if err == nil {
		err = ErrSignedOff
	}
	for svc := range s.waiters {
		s.failService(svc, err)
	}
}

// SetAway sets the away message. An empty message returns us to
// available.
func (s *Session) SetAway(message string) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	return c.sendSNAC(protocol.FamilyLocate, protocol.LocateSetInfo, s.disp.allocRequest(c.ID, nil),
		&protocol.SetInfoMessage{Away: &message})
}

// SetProfile replaces the profile shown to other users
func (s *Session) SetProfile(profile string) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	s.cfg.Profile = profile
	return c.sendSNAC(protocol.FamilyLocate, protocol.LocateSetInfo, s.disp.allocRequest(c.ID, nil),
		&protocol.SetInfoMessage{Profile: &profile})
}

// SetIdle reports how long the user has been idle. Zero clears it.
func (s *Session) SetIdle(idle time.Duration) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	return c.sendSNAC(protocol.FamilyOService, protocol.OServiceIdle, s.disp.allocRequest(c.ID, nil),
		&protocol.IdleMessage{Idle: idle})
}
