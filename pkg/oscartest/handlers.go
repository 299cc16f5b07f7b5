package oscartest

import (
	"fmt"
	"slices"
	"time"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// SNAC error codes the server answers with
const (
	errNotLoggedOn        uint16 = 0x0004
	errServiceUnavailable uint16 = 0x0005
	errNotSupported       uint16 = 0x0008
)

// MailURL is the inbox link in mail status replies
const MailURL = "http://mail.example.test/inbox"

// handleSNAC dispatches a SNAC to the appropriate handler
func (s *Server) handleSNAC(sess *Session, snac *protocol.SNAC) error {
	s.record(sess, snac)

	switch snac.Family {
	case protocol.FamilyOService:
		return s.handleOService(sess, snac)
	case protocol.FamilyLocate, protocol.FamilyBuddy, protocol.FamilyPD:
		if snac.Subtype == protocol.SubtypeRightsRequest {
			return sess.SendSNAC(snac.Family, protocol.SubtypeRightsReply, 0, snac.RequestID,
				&protocol.RightsReplyMessage{TLVs: protocol.TLVList{protocol.NewTLV(0x0001, uint16(1000))}})
		}
		return nil
	case protocol.FamilyICBM:
		return s.handleICBM(sess, snac)
	case protocol.FamilyFeedbag:
		return s.handleFeedbag(sess, snac)
	case protocol.FamilyChatNav:
		return s.handleChatNav(sess, snac)
	case protocol.FamilyChat:
		return s.handleChat(sess, snac)
	case protocol.FamilyAdmin:
		return s.handleAdmin(sess, snac)
	case protocol.FamilyAlert:
		if snac.Subtype == protocol.AlertActivate {
			return sess.SendSNAC(protocol.FamilyAlert, protocol.AlertMailStatus, 0, 0, &protocol.MailStatusMessage{
				TLVs: protocol.TLVList{
					protocol.NewTLV(protocol.TLVMailURL, MailURL),
					protocol.NewTLV(protocol.TLVMailUnread, uint16(3)),
				},
			})
		}
		return nil
	case protocol.FamilyICQ:
		return s.handleICQ(sess, snac)
	default:
		return sess.SendError(snac.Family, snac.RequestID, errNotSupported)
	}
}

func (s *Server) handleOService(sess *Session, snac *protocol.SNAC) error {
	switch snac.Subtype {
	case protocol.OServiceClientVersions:
		var m protocol.HostVersionsMessage
		if err := m.Decode(snac.Body); err != nil {
			return err
		}
		return sess.SendSNAC(protocol.FamilyOService, protocol.OServiceHostVersions, 0, snac.RequestID, &m)
	case protocol.OServiceRateParamsRequest:
		return sess.SendSNAC(protocol.FamilyOService, protocol.OServiceRateParamsReply, 0, snac.RequestID, rateParams())
	case protocol.OServiceClientReady:
		sess.ready.Store(true)
		switch {
		case sess.Service == 0:
			return s.announceArrival(sess)
		case sess.room != nil:
			return s.enterRoom(sess)
		}
		return nil
	case protocol.OServiceServiceRequest:
		return s.serviceRequest(sess, snac)
	}
	return nil
}

// rateParams is a single generous class covering every SNAC
func rateParams() *protocol.RateParamsReplyMessage {
	return &protocol.RateParamsReplyMessage{
		Classes: []protocol.RateClassParams{{
			ID:         1,
			Window:     20,
			Clear:      5100,
			Alert:      5000,
			Limit:      4000,
			Disconnect: 3000,
			Current:    6000,
			Max:        6000,
		}},
		Members: map[uint16][]protocol.RatePair{},
	}
}

// serviceRequest redirects back to the service listener with a cookie for
// the requested family
func (s *Server) serviceRequest(sess *Session, snac *protocol.SNAC) error {
	var m protocol.ServiceRequestMessage
	if err := m.Decode(snac.Body); err != nil {
		return err
	}
	if slices.Contains(s.cfg.Unavailable, m.Family) {
		return sess.SendError(protocol.FamilyOService, snac.RequestID, errServiceUnavailable)
	}
	t := ticket{screenName: sess.ScreenName, service: m.Family}
	if m.Family == protocol.FamilyChat {
		if m.Room == nil {
			return sess.SendError(protocol.FamilyOService, snac.RequestID, errServiceUnavailable)
		}
		r, ok := s.roomByCookie(m.Room.Cookie)
		if !ok {
			return sess.SendError(protocol.FamilyOService, snac.RequestID, errServiceUnavailable)
		}
		t.room = r
	}
	return sess.SendSNAC(protocol.FamilyOService, protocol.OServiceRedirect, 0, snac.RequestID,
		&protocol.RedirectMessage{Family: m.Family, Address: s.ServiceAddr(), Cookie: s.issue(t)})
}

func (s *Server) userInfo(name string) protocol.UserInfo {
	return protocol.UserInfo{
		ScreenName: name,
		TLVs: protocol.TLVList{
			protocol.NewTLV(protocol.TLVUserClass, uint16(0x0010)),
			protocol.NewTLV(protocol.TLVOnlineSince, uint32(time.Now().Unix())),
		},
	}
}

// buddiesOf lists the buddy names on an account's feedbag
func (s *Server) buddiesOf(name string) []string {
	acct, ok := s.account(name)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, it := range acct.Feedbag {
		if it.Class == protocol.FeedbagClassBuddy {
			out = append(out, it.Name)
		}
	}
	return out
}

func (s *Server) watches(watcher, name string) bool {
	key := contactlist.Normalize(name)
	for _, b := range s.buddiesOf(watcher) {
		if contactlist.Normalize(b) == key {
			return true
		}
	}
	return false
}

// announceArrival tells the new session which of its buddies are on and
// tells everyone watching it that it arrived
func (s *Server) announceArrival(sess *Session) error {
	for _, b := range s.buddiesOf(sess.ScreenName) {
		if other, ok := s.sessions.Primary(b); ok && other != sess {
			if err := sess.SendSNAC(protocol.FamilyBuddy, protocol.BuddyOncoming, 0, 0,
				&protocol.BuddyArrivedMessage{UserInfo: s.userInfo(other.ScreenName)}); err != nil {
				return err
			}
		}
	}
	for _, other := range s.sessions.GetAllSessions() {
		if other == sess || other.Service != 0 || !other.IsReady() || !s.watches(other.ScreenName, sess.ScreenName) {
			continue
		}
		other.SendSNAC(protocol.FamilyBuddy, protocol.BuddyOncoming, 0, 0,
			&protocol.BuddyArrivedMessage{UserInfo: s.userInfo(sess.ScreenName)})
	}
	return nil
}

func (s *Server) announceDeparture(sess *Session) {
	for _, other := range s.sessions.GetAllSessions() {
		if other.Service != 0 || !other.IsReady() || !s.watches(other.ScreenName, sess.ScreenName) {
			continue
		}
		other.SendSNAC(protocol.FamilyBuddy, protocol.BuddyOffgoing, 0, 0,
			&protocol.BuddyDepartedMessage{UserInfo: protocol.UserInfo{ScreenName: sess.ScreenName}})
	}
}

func (s *Server) handleICBM(sess *Session, snac *protocol.SNAC) error {
	switch snac.Subtype {
	case protocol.ICBMParamsRequest:
		params := protocol.DefaultICBMParams
		params.MaxMessageLength = s.cfg.MaxMessageLength
		return sess.SendSNAC(protocol.FamilyICBM, protocol.ICBMParamsReply, 0, snac.RequestID, &params)
	case protocol.ICBMSend:
		var m protocol.SendICBMMessage
		if err := m.Decode(snac.Body); err != nil {
			return err
		}
		target, ok := s.sessions.Primary(m.ScreenName)
		if !ok {
			return sess.SendError(protocol.FamilyICBM, snac.RequestID, errNotLoggedOn)
		}
		if err := target.SendSNAC(protocol.FamilyICBM, protocol.ICBMIncoming, 0, 0,
			&protocol.IncomingICBMMessage{Cookie: m.Cookie, Sender: s.userInfo(sess.ScreenName), Body: m.Body}); err != nil {
			s.cfg.Logger.Printf("Delivery to %s failed: %v", m.ScreenName, err)
		}
		if plain, ok := m.Body.(*protocol.PlainBody); ok && plain.RequestAck {
			return sess.SendSNAC(protocol.FamilyICBM, protocol.ICBMHostAck, 0, snac.RequestID,
				&protocol.HostAckMessage{Cookie: m.Cookie, Channel: m.Body.Channel(), ScreenName: m.ScreenName})
		}
		return nil
	case protocol.ICBMTypingNotify:
		var m protocol.TypingNotifyMessage
		if err := m.Decode(snac.Body); err != nil {
			return err
		}
		if target, ok := s.sessions.Primary(m.ScreenName); ok {
			m.ScreenName = sess.ScreenName
			return target.SendSNAC(protocol.FamilyICBM, protocol.ICBMTypingNotify, 0, 0, &m)
		}
		return nil
	}
	return nil
}

// Deliver sends an instant message to a signed-on client as if from
// another user
func (s *Server) Deliver(from, to, text string) error {
	target, ok := s.sessions.Primary(to)
	if !ok {
		return fmt.Errorf("%s is not signed on", to)
	}
	var cookie protocol.Cookie
	copy(cookie[:], "oscrtest")
	return target.SendSNAC(protocol.FamilyICBM, protocol.ICBMIncoming, 0, 0, &protocol.IncomingICBMMessage{
		Cookie: cookie,
		Sender: s.userInfo(from),
		Body:   &protocol.PlainBody{Text: text, TypingCapable: true},
	})
}

// Push sends an unsolicited SNAC to the primary connection of a client
func (s *Server) Push(to string, family, subtype uint16, msg protocol.Message) error {
	target, ok := s.sessions.Primary(to)
	if !ok {
		return fmt.Errorf("%s is not signed on", to)
	}
	return target.SendSNAC(family, subtype, 0, 0, msg)
}

// Kick disconnects a client the way the server does when the account
// signs on elsewhere
func (s *Server) Kick(name string, code uint16) error {
	target, ok := s.sessions.Primary(name)
	if !ok {
		return fmt.Errorf("%s is not signed on", name)
	}
	m := protocol.SignOffMessage{TLVs: protocol.TLVList{protocol.NewTLV(protocol.TLVSignOffReason, code)}}
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	if err := target.SendFrame(protocol.ChannelSignOff, payload); err != nil {
		return err
	}
	return target.Close()
}

// WaitReady waits until a client finished signing on
func (s *Server) WaitReady(name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := s.sessions.Primary(name); ok {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("%s not signed on within %s", name, timeout)
}

// Feedbag returns a copy of an account's stored contact list
func (s *Server) Feedbag(name string) []protocol.FeedbagItem {
	acct, ok := s.account(name)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(acct.Feedbag)
}

func (s *Server) handleFeedbag(sess *Session, snac *protocol.SNAC) error {
	switch snac.Subtype {
	case protocol.SubtypeRightsRequest:
		return sess.SendSNAC(protocol.FamilyFeedbag, protocol.SubtypeRightsReply, 0, snac.RequestID,
			&protocol.FeedbagRightsReplyMessage{MaxItems: s.cfg.FeedbagLimits})
	case protocol.FeedbagListRequest, protocol.FeedbagListIfModified:
		return sess.SendSNAC(protocol.FamilyFeedbag, protocol.FeedbagListReply, 0, snac.RequestID,
			&protocol.FeedbagListReplyMessage{Items: s.Feedbag(sess.ScreenName), LastModified: time.Now()})
	case protocol.FeedbagAdd, protocol.FeedbagModify, protocol.FeedbagDelete:
		var m protocol.FeedbagItemsMessage
		if err := m.Decode(snac.Body); err != nil {
			return err
		}
		codes := s.applyFeedbag(sess.ScreenName, snac.Subtype, m.Items)
		return sess.SendSNAC(protocol.FamilyFeedbag, protocol.FeedbagAck, 0, snac.RequestID,
			&protocol.FeedbagAckMessage{Codes: codes})
	}
	return nil
}

// applyFeedbag stores an edit and returns one result code per item
func (s *Server) applyFeedbag(name string, subtype uint16, items []protocol.FeedbagItem) []uint16 {
	acct, ok := s.account(name)
	if !ok {
		return make([]uint16, len(items))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]uint16, len(items))
	for i, it := range items {
		if code, ok := acct.AckCodes[contactlist.Normalize(it.Name)]; ok && it.Class != protocol.FeedbagClassGroup {
			codes[i] = code
			continue
		}
		idx := slices.IndexFunc(acct.Feedbag, func(fb protocol.FeedbagItem) bool {
			return fb.GroupID == it.GroupID && fb.ItemID == it.ItemID
		})
		switch subtype {
		case protocol.FeedbagAdd:
			if idx >= 0 {
				codes[i] = contactlist.AckAlreadyExist
				continue
			}
			acct.Feedbag = append(acct.Feedbag, it)
		case protocol.FeedbagModify:
			if idx < 0 {
				if it.GroupID == 0 && it.ItemID == 0 {
					acct.Feedbag = append(acct.Feedbag, it)
					continue
				}
				codes[i] = contactlist.AckNotFound
				continue
			}
			acct.Feedbag[idx] = it
		case protocol.FeedbagDelete:
			if idx < 0 {
				codes[i] = contactlist.AckNotFound
				continue
			}
			acct.Feedbag = slices.Delete(acct.Feedbag, idx, idx+1)
		}
	}
	return codes
}

func (s *Server) handleAdmin(sess *Session, snac *protocol.SNAC) error {
	if snac.Subtype != protocol.AdminInfoChange {
		return nil
	}
	var m protocol.AdminChangeMessage
	if err := m.Decode(snac.Body); err != nil {
		return err
	}
	reply := &protocol.AdminReplyMessage{Permissions: 0x0003}
	acct, _ := s.account(sess.ScreenName)

	if name, ok := m.TLVs.String(protocol.TLVAdminScreenName); ok {
		if contactlist.Normalize(name) != contactlist.Normalize(sess.ScreenName) {
			reply.TLVs.Add(protocol.TLVAdminErrorCode, protocol.AdminErrInvalidName)
		} else {
			reply.TLVs.Add(protocol.TLVAdminScreenName, name)
		}
	}
	if newPassword, ok := m.TLVs.String(protocol.TLVAdminNewPassword); ok {
		oldPassword, _ := m.TLVs.String(protocol.TLVAdminOldPassword)
		s.mu.Lock()
		switch {
		case acct == nil || acct.Password != oldPassword:
			reply.TLVs.Add(protocol.TLVAdminErrorCode, protocol.AdminErrInvalidPassword)
		case len(newPassword) < 4:
			reply.TLVs.Add(protocol.TLVAdminErrorCode, protocol.AdminErrPasswordLength)
		default:
			acct.Password = newPassword
		}
		s.mu.Unlock()
	}
	return sess.SendSNAC(protocol.FamilyAdmin, protocol.AdminInfoChangeReply, 0, snac.RequestID, reply)
}

// handleICQ replays stored messages to numeric accounts. Delivered
// messages are dropped once the client acknowledges them.
func (s *Server) handleICQ(sess *Session, snac *protocol.SNAC) error {
	if snac.Subtype != protocol.ICQMetaRequest {
		return nil
	}
	var m protocol.ICQMetaMessage
	if err := m.Decode(snac.Body); err != nil {
		return err
	}
	acct, ok := s.account(sess.ScreenName)
	if !ok {
		return sess.SendError(protocol.FamilyICQ, snac.RequestID, errNotLoggedOn)
	}

	switch m.Command {
	case protocol.ICQCmdOfflineRequest:
		s.mu.Lock()
		stored := append([]protocol.OfflineMessage(nil), acct.Offline...)
		s.mu.Unlock()
		for i := range stored {
			data, err := stored[i].Encode()
			if err != nil {
				return err
			}
			reply := &protocol.ICQMetaMessage{UIN: m.UIN, Command: protocol.ICQCmdOfflineMessage, Seq: m.Seq, Data: data}
			if err := sess.SendSNAC(protocol.FamilyICQ, protocol.ICQMetaReply, 0, snac.RequestID, reply); err != nil {
				return err
			}
		}
		done := &protocol.ICQMetaMessage{UIN: m.UIN, Command: protocol.ICQCmdOfflineDone, Seq: m.Seq, Data: []byte{0}}
		return sess.SendSNAC(protocol.FamilyICQ, protocol.ICQMetaReply, 0, snac.RequestID, done)
	case protocol.ICQCmdOfflineAck:
		s.mu.Lock()
		acct.Offline = nil
		s.mu.Unlock()
	}
	return nil
}
