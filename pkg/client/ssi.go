package client

import (
	"errors"
	"fmt"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// authRequestText is sent with the one authorization request per add
const authRequestText = "Please authorize me to add you to my contact list."

// feedbagState is the server-side view of the contact list in transit
type feedbagState struct {
	received      []protocol.FeedbagItem
	authRequested map[string]bool
}

func (f *feedbagState) reset() {
	f.received = nil
	f.authRequested = make(map[string]bool)
}

func (s *Session) registerContactList() {
	s.disp.handle(protocol.FamilyFeedbag, protocol.FeedbagAdd, s.handleRemoteEdit(contactlist.OpAdd))
	s.disp.handle(protocol.FamilyFeedbag, protocol.FeedbagModify, s.handleRemoteEdit(contactlist.OpModify))
	s.disp.handle(protocol.FamilyFeedbag, protocol.FeedbagDelete, s.handleRemoteEdit(contactlist.OpRemove))
	s.disp.handle(protocol.FamilyBuddy, protocol.BuddyOncoming, s.handleBuddyArrived)
	s.disp.handle(protocol.FamilyBuddy, protocol.BuddyOffgoing, s.handleBuddyDeparted)
}

func (s *Session) handleFeedbagRights(c *Conn, snac *protocol.SNAC) error {
	var m protocol.FeedbagRightsReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.syncer.SetLimits(map[contactlist.ItemType]int{
		contactlist.Buddy:  m.Limit(protocol.FeedbagClassBuddy),
		contactlist.Group:  m.Limit(protocol.FeedbagClassGroup),
		contactlist.Permit: m.Limit(protocol.FeedbagClassPermit),
		contactlist.Deny:   m.Limit(protocol.FeedbagClassDeny),
	})
	return nil
}

// handleFeedbagList collects one part of the stored list. The last part
// arrives without the more-replies flag.
func (s *Session) handleFeedbagList(c *Conn, snac *protocol.SNAC) error {
	var m protocol.FeedbagListReplyMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	s.feedbag.received = append(s.feedbag.received, m.Items...)
	s.logf("Received %d contact-list items", len(m.Items))
	return nil
}

// syncContacts merges the stored list with the local one, sends the edits
// that reconcile them and activates the list
func (s *Session) syncContacts(c *Conn) error {
	remote := fromFeedbag(s.feedbag.received)
	s.feedbag.received = nil
	ops := s.syncer.Merge(remote)
	if err := s.sendOps(c, ops); err != nil {
		return err
	}
	s.warnLimits()
	return c.sendSNAC(protocol.FamilyFeedbag, protocol.FeedbagActivate, s.disp.allocRequest(c.ID, nil), nil)
}

// Contacts returns the local contact list
func (s *Session) Contacts() []contactlist.Item {
	return s.syncer.Snapshot()
}

// AddBuddy adds a buddy to group, creating the group when needed
func (s *Session) AddBuddy(name, group string) error {
	return s.edit(s.syncer.AddBuddy(name, group))
}

// RemoveBuddy removes a buddy
func (s *Session) RemoveBuddy(name string) error {
	delete(s.feedbag.authRequested, contactlist.Normalize(name))
	return s.edit(s.syncer.RemoveBuddy(name))
}

// MoveBuddy moves a buddy to another group
func (s *Session) MoveBuddy(name, group string) error {
	return s.edit(s.syncer.MoveBuddy(name, group))
}

// SetAlias sets the local display name of a buddy
func (s *Session) SetAlias(name, alias string) error {
	return s.edit(s.syncer.SetAlias(name, alias))
}

// AddPermit allows name to see us when the mode permits some
func (s *Session) AddPermit(name string) error {
	return s.edit(s.syncer.AddPermit(name))
}

// AddDeny blocks name
func (s *Session) AddDeny(name string) error {
	return s.edit(s.syncer.AddDeny(name))
}

// RemovePermit removes name from the permit list
func (s *Session) RemovePermit(name string) error {
	return s.edit(s.syncer.RemovePermit(name))
}

// RemoveDeny unblocks name
func (s *Session) RemoveDeny(name string) error {
	return s.edit(s.syncer.RemoveDeny(name))
}

// SetPDMode sets the permit/deny mode, one of the contactlist mode values
func (s *Session) SetPDMode(mode uint32) error {
	return s.edit(s.syncer.SetPDMode(mode), nil)
}

// edit sends the server edits of a local change. Before sign-on the change
// stays local and goes out with the first merge.
func (s *Session) edit(ops []contactlist.Op, err error) error {
	if errors.Is(err, contactlist.ErrIDsExhausted) {
		s.handler.Error(ErrorSync, err.Error())
	}
	if err != nil {
		return err
	}
	s.warnLimits()
	c := s.conns.byService(ServicePrimary)
	if c == nil || c.state != ConnReady {
		return nil
	}
	return s.sendOps(c, ops)
}

// sendOps sends each edit as its own transaction inside one edit bracket,
// then refreshes the member lists of the groups the edits touched
func (s *Session) sendOps(c *Conn, ops []contactlist.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := c.sendSNAC(protocol.FamilyFeedbag, protocol.FeedbagEditStart, s.disp.allocRequest(c.ID, nil), nil); err != nil {
		return err
	}
	for _, op := range ops {
		txn := s.syncer.Begin(op)
		id := s.disp.allocRequest(c.ID, func(rc *Conn, snac *protocol.SNAC) error {
			return s.feedbagAck(txn, rc, snac)
		})
		s.logf("Contact list %s (txn %d)", op, txn)
		msg := &protocol.FeedbagItemsMessage{Items: []protocol.FeedbagItem{s.toFeedbag(op.Item)}}
		if err := c.sendSNAC(protocol.FamilyFeedbag, editSubtype(op.Kind), id, msg); err != nil {
			return err
		}
	}
	if err := s.refreshGroups(c, ops); err != nil {
		return err
	}
	return c.sendSNAC(protocol.FamilyFeedbag, protocol.FeedbagEditStop, s.disp.allocRequest(c.ID, nil), nil)
}

func editSubtype(k contactlist.OpKind) uint16 {
	switch k {
	case contactlist.OpAdd:
		return protocol.FeedbagAdd
	case contactlist.OpRemove:
		return protocol.FeedbagDelete
	default:
		return protocol.FeedbagModify
	}
}

// refreshGroups rewrites the member lists of every group an edit touched.
// The root group lists the group ids.
func (s *Session) refreshGroups(c *Conn, ops []contactlist.Op) error {
	groups := make(map[string]string)
	root := false
	for _, op := range ops {
		switch op.Item.Type {
		case contactlist.Buddy:
			groups[contactlist.Normalize(op.Item.Group)] = op.Item.Group
		case contactlist.Group:
			root = true
		}
	}

	var items []protocol.FeedbagItem
	for _, name := range groups {
		g, ok := s.syncer.Local().Get(contactlist.KeyOf(contactlist.Group, name))
		if !ok {
			continue
		}
		items = append(items, s.toFeedbag(g))
	}
	if root {
		items = append(items, s.rootGroup())
	}
	if len(items) == 0 {
		return nil
	}
	id := s.disp.allocRequest(c.ID, func(rc *Conn, snac *protocol.SNAC) error {
		if snac.Subtype == protocol.SubtypeError {
			s.logf("Group member update refused")
			return nil
		}
		var m protocol.FeedbagAckMessage
		if err := decode(rc, snac, &m); err != nil {
			return err
		}
		for _, code := range m.Codes {
			if code != contactlist.AckSuccess {
				s.logf("Group member update refused: %s", protocol.FeedbagReason(code))
			}
		}
		return nil
	})
	return c.sendSNAC(protocol.FamilyFeedbag, protocol.FeedbagModify, id, &protocol.FeedbagItemsMessage{Items: items})
}

// feedbagAck matches the server's answer to one edit
func (s *Session) feedbagAck(txn uint32, c *Conn, snac *protocol.SNAC) error {
	var code uint16
	switch snac.Subtype {
	case protocol.SubtypeError:
		m, err := snacError(c, snac)
		if err != nil {
			return err
		}
		code = m.Code
	default:
		var m protocol.FeedbagAckMessage
		if err := decode(c, snac, &m); err != nil {
			return err
		}
		if len(m.Codes) > 0 {
			code = m.Codes[0]
		}
	}

	res, err := s.syncer.Ack(txn, code)
	if err != nil {
		s.logf("Contact list ack: %v", err)
		return nil
	}
	switch res.Outcome {
	case contactlist.Applied:
		s.metrics.ssiAcked("applied")
	case contactlist.AuthRequired:
		s.metrics.ssiAcked("auth_required")
		if err := s.requestAuthorization(res.Op.Item.Name); err != nil {
			return err
		}
	case contactlist.Rejected:
		s.metrics.ssiAcked("rejected")
		s.handler.Error(ErrorSync, res.Err.Error())
	}

	if s.syncer.Pending() == 0 {
		s.saveContacts()
		s.handler.ContactListSynced(s.syncer.Snapshot())
	}
	return nil
}

// requestAuthorization asks a contact to let us list them. Each parked add
// sends exactly one request.
func (s *Session) requestAuthorization(name string) error {
	n := contactlist.Normalize(name)
	if s.feedbag.authRequested[n] {
		return nil
	}
	s.feedbag.authRequested[n] = true
	s.handler.ContactListWarning(fmt.Sprintf("%s requires authorization, request sent", name))

	c, err := s.primary()
	if err != nil {
		return nil
	}
	body := &protocol.ExtendedBody{
		UIN:    protocol.UINFromScreenName(s.screenName),
		Type:   protocol.ExtendedAuthReq,
		Fields: []string{authRequestText},
	}
	return c.sendSNAC(protocol.FamilyICBM, protocol.ICBMSend, s.disp.allocRequest(c.ID, nil),
		&protocol.SendICBMMessage{Cookie: s.cookies.next(), ScreenName: name, Body: body})
}

// ReplyAuthorization answers an AuthorizationRequestReceived upcall
func (s *Session) ReplyAuthorization(to string, granted bool) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	typ := protocol.ExtendedAuthDeny
	if granted {
		typ = protocol.ExtendedAuthGrant
	}
	body := &protocol.ExtendedBody{
		UIN:  protocol.UINFromScreenName(s.screenName),
		Type: typ,
	}
	return c.sendSNAC(protocol.FamilyICBM, protocol.ICBMSend, s.disp.allocRequest(c.ID, nil),
		&protocol.SendICBMMessage{Cookie: s.cookies.next(), ScreenName: to, Body: body})
}

// authorizationReplied resolves a parked add once the contact answers
func (s *Session) authorizationReplied(from string, granted bool) {
	delete(s.feedbag.authRequested, contactlist.Normalize(from))
	ops := s.syncer.AuthorizationReplied(from, granted)
	if !granted {
		s.handler.ContactListWarning(fmt.Sprintf("%s declined authorization", from))
		s.saveContacts()
		return
	}
	if c, err := s.primary(); err == nil {
		if err := s.sendOps(c, ops); err != nil {
			s.handler.Error(kindOf(err), err.Error())
		}
	}
}

// handleRemoteEdit mirrors edits the server pushes from another session
// of the same account
func (s *Session) handleRemoteEdit(kind contactlist.OpKind) snacHandler {
	return func(c *Conn, snac *protocol.SNAC) error {
		var m protocol.FeedbagItemsMessage
		if err := decode(c, snac, &m); err != nil {
			return err
		}
		for _, fb := range m.Items {
			it, ok := itemFromFeedbag(fb, s.groupName)
			if !ok {
				continue
			}
			s.syncer.ApplyRemote(contactlist.Op{Kind: kind, Item: it})
		}
		s.handler.ContactListSynced(s.syncer.Snapshot())
		return nil
	}
}

func (s *Session) groupName(id uint16) string {
	if g, ok := s.syncer.Local().GroupByID(id); ok {
		return g.Name
	}
	return ""
}

// warnLimits reports item types the server will not fully track
func (s *Session) warnLimits() {
	for _, t := range []contactlist.ItemType{contactlist.Buddy, contactlist.Permit, contactlist.Deny} {
		if s.syncer.OverLimit(t) {
			s.handler.ContactListWarning(fmt.Sprintf("%d %s entries exceed the server limit of %d",
				s.syncer.Local().Count(t), t, s.syncer.Limit(t)))
		}
	}
}

// saveContacts writes the local list to the cache
func (s *Session) saveContacts() {
	if s.cache == nil || !s.syncer.Merged() {
		return
	}
	if err := s.cache.SaveContacts(s.cfg.ScreenName, s.syncer.Snapshot()); err != nil {
		s.logf("Failed to save contact cache: %v", err)
	}
}

// fromFeedbag converts a stored list. The root group and item classes the
// contact list does not model are skipped.
func fromFeedbag(items []protocol.FeedbagItem) []contactlist.Item {
	groups := make(map[uint16]string)
	for _, fb := range items {
		if fb.Class == protocol.FeedbagClassGroup && fb.GroupID != 0 {
			groups[fb.GroupID] = fb.Name
		}
	}
	lookup := func(id uint16) string { return groups[id] }

	var out []contactlist.Item
	for _, fb := range items {
		if it, ok := itemFromFeedbag(fb, lookup); ok {
			out = append(out, it)
		}
	}
	return out
}

func itemFromFeedbag(fb protocol.FeedbagItem, groupName func(uint16) string) (contactlist.Item, bool) {
	it := contactlist.Item{Name: fb.Name, GroupID: fb.GroupID, ItemID: fb.ItemID}
	switch fb.Class {
	case protocol.FeedbagClassBuddy:
		it.Type = contactlist.Buddy
		it.Group = groupName(fb.GroupID)
		it.Alias, _ = fb.Attrs.String(protocol.TLVFeedbagAlias)
	case protocol.FeedbagClassGroup:
		if fb.GroupID == 0 {
			return it, false
		}
		it.Type = contactlist.Group
		it.ItemID = 0
	case protocol.FeedbagClassPermit:
		it.Type = contactlist.Permit
	case protocol.FeedbagClassDeny:
		it.Type = contactlist.Deny
	case protocol.FeedbagClassPDInfo:
		it.Type = contactlist.PDMode
		it.Name = ""
		if v, ok := fb.Attrs.Uint8(protocol.TLVFeedbagPDMode); ok {
			it.Value = uint32(v)
		}
	case protocol.FeedbagClassPresence:
		it.Type = contactlist.Presence
		it.Name = ""
		it.Value, _ = fb.Attrs.Uint32(protocol.TLVFeedbagPresence)
	default:
		return it, false
	}
	return it, true
}

// toFeedbag renders a contact-list item for the server. Groups carry the
// item ids of their current members.
func (s *Session) toFeedbag(it contactlist.Item) protocol.FeedbagItem {
	fb := protocol.FeedbagItem{Name: it.Name, GroupID: it.GroupID, ItemID: it.ItemID}
	switch it.Type {
	case contactlist.Buddy:
		fb.Class = protocol.FeedbagClassBuddy
		if it.Alias != "" {
			fb.SetAttr(protocol.NewTLV(protocol.TLVFeedbagAlias, it.Alias))
		}
	case contactlist.Group:
		fb.Class = protocol.FeedbagClassGroup
		fb.ItemID = 0
		var ids []uint16
		for _, m := range s.syncer.Local().Members(it.Name) {
			ids = append(ids, m.ItemID)
		}
		fb.SetMembers(ids)
	case contactlist.Permit:
		fb.Class = protocol.FeedbagClassPermit
	case contactlist.Deny:
		fb.Class = protocol.FeedbagClassDeny
	case contactlist.PDMode:
		fb.Class = protocol.FeedbagClassPDInfo
		fb.SetAttr(protocol.NewTLV(protocol.TLVFeedbagPDMode, uint8(it.Value)))
	case contactlist.Presence:
		fb.Class = protocol.FeedbagClassPresence
		fb.SetAttr(protocol.NewTLV(protocol.TLVFeedbagPresence, it.Value))
	}
	return fb
}

// rootGroup is the unnamed group listing every group id
func (s *Session) rootGroup() protocol.FeedbagItem {
	fb := protocol.FeedbagItem{Class: protocol.FeedbagClassGroup}
	var ids []uint16
	for _, it := range s.syncer.Local().Items() {
		if it.Type == contactlist.Group {
			ids = append(ids, it.GroupID)
		}
	}
	fb.SetMembers(ids)
	return fb
}
