package client

import (
	"fmt"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

type snacKey struct {
	family  uint16
	subtype uint16
}

type snacHandler func(c *Conn, s *protocol.SNAC) error

// pendingRequest correlates a reply with the request that caused it
type pendingRequest struct {
	conn  ConnID
	reply snacHandler
}

// dispatcher routes SNACs: replies to a registered request id go to that
// request's callback, everything else by family and subtype.
type dispatcher struct {
	handlers map[snacKey]snacHandler
	pending  map[uint32]pendingRequest
	nextReq  uint32
	fallback snacHandler
	unknown  func(c *Conn, s *protocol.SNAC)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: make(map[snacKey]snacHandler),
		pending:  make(map[uint32]pendingRequest),
		nextReq:  1,
	}
}

func (d *dispatcher) handle(family, subtype uint16, h snacHandler) {
	d.handlers[snacKey{family, subtype}] = h
}

// allocRequest returns a request id, registering reply when non-nil
func (d *dispatcher) allocRequest(conn ConnID, reply snacHandler) uint32 {
	id := d.nextReq
	d.nextReq++
	if d.nextReq&0x7FFFFFFF == 0 {
		d.nextReq = 1
	}
	if reply != nil {
		d.pending[id] = pendingRequest{conn: conn, reply: reply}
	}
	return id
}

// forget drops a pending request
func (d *dispatcher) forget(id uint32) {
	delete(d.pending, id)
}

// dropConn forgets every request waiting on a connection
func (d *dispatcher) dropConn(conn ConnID) {
	for id, p := range d.pending {
		if p.conn == conn {
			delete(d.pending, id)
		}
	}
}

func (d *dispatcher) dispatch(c *Conn, s *protocol.SNAC) error {
	if p, ok := d.pending[s.RequestID]; ok && p.conn == c.ID {
		if s.Flags&protocol.SNACFlagMoreReplies == 0 {
			delete(d.pending, s.RequestID)
		}
		return p.reply(c, s)
	}
	if h, ok := d.handlers[snacKey{s.Family, s.Subtype}]; ok {
		return h(c, s)
	}
	if s.Subtype == protocol.SubtypeError && d.fallback != nil {
		return d.fallback(c, s)
	}
	if d.unknown != nil {
		d.unknown(c, s)
	}
	return nil
}

// decode parses a SNAC body into m, tagging failures with the SNAC type
func decode(c *Conn, s *protocol.SNAC, m interface{ Decode([]byte) error }) error {
	if err := m.Decode(s.Body); err != nil {
		return &DecodeError{Service: c.Service, Family: s.Family, Subtype: s.Subtype, Err: err}
	}
	return nil
}

// snacError parses an xx/01 reply
func snacError(c *Conn, s *protocol.SNAC) (*protocol.SNACErrorMessage, error) {
	var m protocol.SNACErrorMessage
	if err := decode(c, s, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func describeSNAC(s *protocol.SNAC) string {
	return fmt.Sprintf("%02X/%02X", s.Family, s.Subtype)
}
