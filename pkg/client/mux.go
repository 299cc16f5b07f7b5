package client

import (
	"net"
	"sort"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

type eventKind int

const (
	evFrame eventKind = iota
	evConnected
	evClosed
	evFunc
)

// event is everything that can wake Poll. Events carrying a ConnID are
// dropped once that connection has left the table.
type event struct {
	kind  eventKind
	conn  ConnID
	frame *protocol.Frame
	nc    net.Conn
	err   error
	fn    func()
}

// connTable owns every open connection of a session. Single-instance
// services hold at most one entry.
type connTable struct {
	nextID ConnID
	byID   map[ConnID]*Conn
}

func newConnTable() *connTable {
	return &connTable{nextID: 1, byID: make(map[ConnID]*Conn)}
}

// allocID returns a fresh connection id
func (t *connTable) allocID() ConnID {
	id := t.nextID
	t.nextID++
	return id
}

// add stores c and returns the connection it displaces, if any. The caller
// closes the displaced connection.
func (t *connTable) add(c *Conn) *Conn {
	var old *Conn
	if !c.Service.MultiInstance() {
		old = t.byService(c.Service)
		if old != nil {
			delete(t.byID, old.ID)
		}
	}
	t.byID[c.ID] = c
	return old
}

func (t *connTable) get(id ConnID) (*Conn, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// byService returns the oldest connection of a service
func (t *connTable) byService(svc ServiceType) *Conn {
	var found *Conn
	for _, c := range t.byID {
		if c.Service == svc && (found == nil || c.ID < found.ID) {
			found = c
		}
	}
	return found
}

func (t *connTable) remove(id ConnID) (*Conn, bool) {
	c, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	return c, ok
}

// all returns the connections ordered by id
func (t *connTable) all() []*Conn {
	conns := make([]*Conn, 0, len(t.byID))
	for _, c := range t.byID {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns
}

func (t *connTable) len() int {
	return len(t.byID)
}
