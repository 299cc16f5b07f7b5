package client

import (
	"strconv"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// offlineState tracks the replay of stored messages after sign-on
type offlineState struct {
	uin       uint32
	seq       uint16
	requested bool
	acked     bool
	delivered int
}

func (s *Session) registerOffline() {
	s.disp.handle(protocol.FamilyICQ, protocol.ICQMetaReply, s.handleICQMeta)
}

// requestOfflineMessages asks for stored messages. Only numeric ICQ
// accounts have any.
func (s *Session) requestOfflineMessages(c *Conn) error {
	uin := protocol.UINFromScreenName(s.screenName)
	if uin == 0 {
		return nil
	}
	s.offline = offlineState{uin: uin, requested: true}
	return s.sendICQMeta(c, protocol.ICQCmdOfflineRequest)
}

func (s *Session) sendICQMeta(c *Conn, cmd uint16) error {
	s.offline.seq++
	return c.sendSNAC(protocol.FamilyICQ, protocol.ICQMetaRequest, s.disp.allocRequest(c.ID, nil),
		&protocol.ICQMetaMessage{UIN: s.offline.uin, Command: cmd, Seq: s.offline.seq})
}

func (s *Session) handleICQMeta(c *Conn, snac *protocol.SNAC) error {
	var m protocol.ICQMetaMessage
	if err := decode(c, snac, &m); err != nil {
		return err
	}
	switch m.Command {
	case protocol.ICQCmdOfflineMessage:
		var o protocol.OfflineMessage
		if err := o.Decode(m.Data); err != nil {
			return &DecodeError{Service: c.Service, Family: snac.Family, Subtype: snac.Subtype, Err: err}
		}
		s.offline.delivered++
		body := &protocol.ExtendedBody{
			UIN:    o.Sender,
			Type:   o.Type,
			Flags:  o.Flags,
			Fields: protocol.SplitExtendedFields(o.Message),
		}
		s.handleExtended(strconv.FormatUint(uint64(o.Sender), 10), body, o.Sent, FlagOffline)
	case protocol.ICQCmdOfflineDone:
		if !s.offline.requested || s.offline.acked {
			return nil
		}
		s.offline.acked = true
		s.logf("Replayed %d offline messages", s.offline.delivered)
		return s.sendICQMeta(c, protocol.ICQCmdOfflineAck)
	default:
		s.logf("Ignoring ICQ meta command 0x%04X", m.Command)
	}
	return nil
}
