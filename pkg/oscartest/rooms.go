package oscartest

import (
	"fmt"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// room is a chat room and the sessions connected to it
type room struct {
	name    string
	ref     protocol.ChatRoomRef
	members map[uint64]*Session
}

func (r *room) info() protocol.RoomInfo {
	return protocol.RoomInfo{
		Ref:    r.ref,
		Detail: 0x02,
		TLVs:   protocol.TLVList{protocol.NewTLV(protocol.TLVRoomName, r.name)},
	}
}

func (s *Server) roomByCookie(cookie string) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[cookie]
	return r, ok
}

// CreateRoom opens a room ahead of time so an invitation can name it
func (s *Server) CreateRoom(exchange uint16, name string) protocol.ChatRoomRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRoomLocked(exchange, name).ref
}

func (s *Server) createRoomLocked(exchange uint16, name string) *room {
	cookie := fmt.Sprintf("!aol://2719:10-%d-%s", exchange, contactlist.Normalize(name))
	if r, ok := s.rooms[cookie]; ok {
		return r
	}
	r := &room{
		name:    name,
		ref:     protocol.ChatRoomRef{Exchange: exchange, Cookie: cookie},
		members: make(map[uint64]*Session),
	}
	s.rooms[cookie] = r
	return r
}

func (s *Server) handleChatNav(sess *Session, snac *protocol.SNAC) error {
	switch snac.Subtype {
	case protocol.SubtypeRightsRequest:
		return sess.SendSNAC(protocol.FamilyChatNav, protocol.ChatNavInfo, 0, snac.RequestID,
			&protocol.NavInfoMessage{MaxRooms: 10, Exchanges: []uint16{protocol.DefaultChatExchange}})
	case protocol.ChatNavCreateRoom:
		var m protocol.CreateRoomMessage
		if err := m.Decode(snac.Body); err != nil {
			return err
		}
		if m.Name == "" {
			return sess.SendError(protocol.FamilyChatNav, snac.RequestID, errNotSupported)
		}
		s.mu.Lock()
		r := s.createRoomLocked(m.Exchange, m.Name)
		s.mu.Unlock()
		return sess.SendSNAC(protocol.FamilyChatNav, protocol.ChatNavInfo, 0, snac.RequestID,
			&protocol.NavInfoMessage{Rooms: []protocol.RoomInfo{r.info()}})
	}
	return nil
}

// members returns the sessions in a room other than skip
func (s *Server) members(r *room, skip *Session) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(r.members))
	for _, m := range r.members {
		if m != skip {
			out = append(out, m)
		}
	}
	return out
}

// enterRoom sends the room details to a new member and announces it
func (s *Server) enterRoom(sess *Session) error {
	r := sess.room
	s.mu.Lock()
	r.members[sess.ID] = sess
	s.mu.Unlock()

	update := &protocol.RoomInfoUpdateMessage{RoomInfo: r.info()}
	if err := sess.SendSNAC(protocol.FamilyChat, protocol.ChatRoomInfoUpdate, 0, 0, update); err != nil {
		return err
	}

	present := &protocol.ChatUsersMessage{}
	for _, m := range s.members(r, nil) {
		present.Users = append(present.Users, s.userInfo(m.ScreenName))
	}
	if err := sess.SendSNAC(protocol.FamilyChat, protocol.ChatUsersJoined, 0, 0, present); err != nil {
		return err
	}

	joined := &protocol.ChatUsersMessage{Users: []protocol.UserInfo{s.userInfo(sess.ScreenName)}}
	for _, m := range s.members(r, sess) {
		m.SendSNAC(protocol.FamilyChat, protocol.ChatUsersJoined, 0, 0, joined)
	}
	return nil
}

func (s *Server) leaveRoom(sess *Session) {
	r := sess.room
	s.mu.Lock()
	delete(r.members, sess.ID)
	s.mu.Unlock()

	left := &protocol.ChatUsersMessage{Users: []protocol.UserInfo{{ScreenName: sess.ScreenName}}}
	for _, m := range s.members(r, nil) {
		m.SendSNAC(protocol.FamilyChat, protocol.ChatUsersLeft, 0, 0, left)
	}
}

// handleChat relays room messages to every other member
func (s *Server) handleChat(sess *Session, snac *protocol.SNAC) error {
	if snac.Subtype != protocol.ChatSendMessage || sess.room == nil {
		return nil
	}
	var m protocol.ChatMessage
	if err := m.Decode(snac.Body); err != nil {
		return err
	}
	sender := s.userInfo(sess.ScreenName)
	m.Sender = &sender
	for _, other := range s.members(sess.room, sess) {
		other.SendSNAC(protocol.FamilyChat, protocol.ChatIncomingMessage, 0, 0, &m)
	}
	return nil
}

// SayInRoom sends a room message to every member as if from name
func (s *Server) SayInRoom(ref protocol.ChatRoomRef, from, text string) error {
	r, ok := s.roomByCookie(ref.Cookie)
	if !ok {
		return fmt.Errorf("no room %s", ref)
	}
	sender := s.userInfo(from)
	m := &protocol.ChatMessage{Sender: &sender, Text: text}
	for _, other := range s.members(r, nil) {
		if err := other.SendSNAC(protocol.FamilyChat, protocol.ChatIncomingMessage, 0, 0, m); err != nil {
			return err
		}
	}
	return nil
}

// RoomMembers lists the screen names connected to a room
func (s *Server) RoomMembers(ref protocol.ChatRoomRef) []string {
	r, ok := s.roomByCookie(ref.Cookie)
	if !ok {
		return nil
	}
	var out []string
	for _, m := range s.members(r, nil) {
		out = append(out, m.ScreenName)
	}
	return out
}
