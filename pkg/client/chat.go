package client

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// Room is one joined or joining chat room. Rooms are addressed by name.
type Room struct {
	Name    string
	Ref     protocol.ChatRoomRef
	conn    ConnID
	joined  bool
	members map[string]string
}

// Members returns the display names of everyone in the room
func (r *Room) Members() []string {
	out := make([]string, 0, len(r.members))
	for _, name := range r.members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Session) registerChat() {
	s.disp.handle(protocol.FamilyChat, protocol.ChatRoomInfoUpdate, s.handleRoomInfo)
	s.disp.handle(protocol.FamilyChat, protocol.ChatUsersJoined, s.handleChatUsers(true))
	s.disp.handle(protocol.FamilyChat, protocol.ChatUsersLeft, s.handleChatUsers(false))
	s.disp.handle(protocol.FamilyChat, protocol.ChatIncomingMessage, s.handleChatMessage)
}

// roomNameFromRef extracts the name from a cookie of the form
// "!aol://2719:10-4-name", falling back to the whole cookie
func roomNameFromRef(ref protocol.ChatRoomRef) string {
	if parts := strings.SplitN(ref.Cookie, "-", 3); len(parts) == 3 && parts[2] != "" {
		return parts[2]
	}
	return ref.Cookie
}

// Rooms lists the rooms we are in or joining
func (s *Session) Rooms() []*Room {
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateRoom creates or locates a room on the default exchange and joins
// it. The directory service is connected on demand.
func (s *Session) CreateRoom(name string) error {
	if _, ok := s.rooms[contactlist.Normalize(name)]; ok {
		return nil
	}
	fail := func(err error) {
		s.handler.Error(ErrorService, fmt.Sprintf("create room %s: %v", name, err))
	}
	return s.withService(ServiceChatNav, serviceWaiter{
		run: func(c *Conn) error {
			return s.navRights(c, func(exchange uint16) error {
				return s.createRoom(c, exchange, name, fail)
			}, fail)
		},
		fail: fail,
	})
}

// navRights asks the directory for its exchanges. The room goes on the
// default exchange when offered, otherwise on the first one.
func (s *Session) navRights(c *Conn, next func(exchange uint16) error, fail func(error)) error {
	id := s.disp.allocRequest(c.ID, func(rc *Conn, snac *protocol.SNAC) error {
		if snac.Subtype == protocol.SubtypeError {
			m, err := snacError(rc, snac)
			if err != nil {
				return err
			}
			fail(fmt.Errorf("chat directory: %s", m.Reason()))
			return nil
		}
		var m protocol.NavInfoMessage
		if err := decode(rc, snac, &m); err != nil {
			return err
		}
		exchange := protocol.DefaultChatExchange
		if len(m.Exchanges) > 0 {
			exchange = m.Exchanges[0]
			for _, ex := range m.Exchanges {
				if ex == protocol.DefaultChatExchange {
					exchange = ex
				}
			}
		}
		return next(exchange)
	})
	return c.sendSNAC(protocol.FamilyChatNav, protocol.SubtypeRightsRequest, id, nil)
}

func (s *Session) createRoom(c *Conn, exchange uint16, name string, fail func(error)) error {
	id := s.disp.allocRequest(c.ID, func(rc *Conn, snac *protocol.SNAC) error {
		if snac.Subtype == protocol.SubtypeError {
			m, err := snacError(rc, snac)
			if err != nil {
				return err
			}
			fail(fmt.Errorf("%s", m.Reason()))
			return nil
		}
		var m protocol.NavInfoMessage
		if err := decode(rc, snac, &m); err != nil {
			return err
		}
		if len(m.Rooms) == 0 {
			fail(fmt.Errorf("directory returned no room"))
			return nil
		}
		ri := m.Rooms[0]
		roomName := ri.Name()
		if roomName == "" {
			roomName = name
		}
		return s.joinRoom(ri.Ref, roomName)
	})
	return c.sendSNAC(protocol.FamilyChatNav, protocol.ChatNavCreateRoom, id,
		&protocol.CreateRoomMessage{Exchange: exchange, Name: name})
}

// JoinRoom joins the room of an invitation
func (s *Session) JoinRoom(inv ChatInvite) error {
	if _, err := s.primary(); err != nil {
		return err
	}
	return s.joinRoom(inv.Room, roomNameFromRef(inv.Room))
}

// joinRoom asks for a connection to the room named by ref
func (s *Session) joinRoom(ref protocol.ChatRoomRef, name string) error {
	key := contactlist.Normalize(name)
	if _, ok := s.rooms[key]; ok {
		return nil
	}
	p, err := s.primary()
	if err != nil {
		return err
	}
	room := &Room{Name: name, Ref: ref, members: make(map[string]string)}
	s.rooms[key] = room
	s.logf("Joining room %s (%s)", name, ref)
	return s.requestService(p, ServiceChat, room)
}

// roomReady is called once a room connection finishes its handshake
func (s *Session) roomReady(c *Conn) error {
	c.room.joined = true
	s.logf("Joined room %s", c.room.Name)
	return nil
}

// roomFailed drops a room whose service request was refused
func (s *Session) roomFailed(room *Room, err error) {
	delete(s.rooms, contactlist.Normalize(room.Name))
	s.handler.Error(ErrorService, fmt.Sprintf("room %s: %v", room.Name, err))
}

// roomLost ends the room of a lost connection. Only that room is affected.
func (s *Session) roomLost(c *Conn, err error) {
	room := c.room
	if room == nil {
		return
	}
	s.dropRoom(room)
	s.handler.Error(kindOf(err), fmt.Sprintf("left room %s: %v", room.Name, err))
}

// dropRoom forgets a room and reports everyone in it as gone, ourselves
// included
func (s *Session) dropRoom(room *Room) {
	delete(s.rooms, contactlist.Normalize(room.Name))
	for _, who := range room.Members() {
		s.handler.ChatMembershipChanged(room.Name, who, false)
	}
	if _, ok := room.members[contactlist.Normalize(s.screenName)]; !ok {
		s.handler.ChatMembershipChanged(room.Name, s.screenName, false)
	}
}

func (s *Session) roomConn(name string) (*Room, *Conn, error) {
	room, ok := s.rooms[contactlist.Normalize(name)]
	if !ok {
		return nil, nil, ErrUnknownRoom
	}
	c, ok := s.conns.get(room.conn)
	if !ok || c.state != ConnReady {
		return room, nil, ErrNotReady
	}
	return room, c, nil
}

// SendChat sends text to a room
func (s *Session) SendChat(room, text string) error {
	_, c, err := s.roomConn(room)
	if err != nil {
		return err
	}
	return c.sendSNAC(protocol.FamilyChat, protocol.ChatSendMessage, s.disp.allocRequest(c.ID, nil),
		&protocol.ChatMessage{Cookie: s.cookies.next(), Text: text})
}

// LeaveRoom closes the room connection. The server does not reliably say
// goodbye, so the departure is reported locally.
func (s *Session) LeaveRoom(name string) error {
	room, ok := s.rooms[contactlist.Normalize(name)]
	if !ok {
		return ErrUnknownRoom
	}
	if c, ok := s.conns.get(room.conn); ok {
		s.closeConn(c)
	}
	s.dropRoom(room)
	return nil
}

// InviteToRoom invites who into a room we are in
func (s *Session) InviteToRoom(room, who, message string) error {
	r, ok := s.rooms[contactlist.Normalize(room)]
	if !ok {
		return ErrUnknownRoom
	}
	p, err := s.primary()
	if err != nil {
		return err
	}
	info := protocol.ChatInviteInfo{Room: r.Ref}
	data, err := info.Encode()
	if err != nil {
		return err
	}
	body := &protocol.RendezvousBody{
		Status:        protocol.RendezvousPropose,
		Cookie:        s.cookies.next(),
		Capability:    protocol.CapChat,
		RequestNumber: 1,
		Message:       message,
		ServiceData:   data,
	}
	return p.sendSNAC(protocol.FamilyICBM, protocol.ICBMSend, s.disp.allocRequest(p.ID, nil),
		&protocol.SendICBMMessage{Cookie: body.Cookie, ScreenName: who, Body: body})
}

func (s *Session) handleRoomInfo(c *Conn, snac *protocol.SNAC) error {
	var m protocol.RoomInfoUpdateMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	if c.room != nil {
		c.room.Ref = m.Ref
		s.logf("Room %s info: %s", c.room.Name, m.Name())
	}
	return nil
}

func (s *Session) handleChatUsers(joined bool) snacHandler {
	return func(c *Conn, snac *protocol.SNAC) error {
		var m protocol.ChatUsersMessage
		if err := decode(c, snac, &m); err != nil {
			return err
		}
		room := c.room
		if room == nil {
			return nil
		}
		for _, u := range m.Users {
			key := contactlist.Normalize(u.ScreenName)
			if joined {
				room.members[key] = u.ScreenName
			} else {
				delete(room.members, key)
			}
			s.handler.ChatMembershipChanged(room.Name, u.ScreenName, joined)
		}
		return nil
	}
}

func (s *Session) handleChatMessage(c *Conn, snac *protocol.SNAC) error {
	var m protocol.ChatMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	if c.room == nil {
		return nil
	}
	from := ""
	if m.Sender != nil {
		from = m.Sender.ScreenName
	}
	s.handler.ChatMessageReceived(c.room.Name, from, m.Text)
	return nil
}
