package rendezvous

import (
	"sort"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// Table indexes the session's rendezvous sessions by cookie and by id.
// It is owned by the session goroutine.
type Table struct {
	byCookie map[protocol.Cookie]*Transfer
	byID     map[string]*Transfer
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		byCookie: make(map[protocol.Cookie]*Transfer),
		byID:     make(map[string]*Transfer),
	}
}

// Add registers a transfer, replacing any previous one with the same cookie
func (tb *Table) Add(t *Transfer) {
	if old, ok := tb.byCookie[t.Cookie]; ok {
		delete(tb.byID, old.ID)
	}
	tb.byCookie[t.Cookie] = t
	tb.byID[t.ID] = t
}

// ByCookie finds a transfer by its negotiation cookie
func (tb *Table) ByCookie(c protocol.Cookie) (*Transfer, bool) {
	t, ok := tb.byCookie[c]
	return t, ok
}

// ByID finds a transfer by its public id
func (tb *Table) ByID(id string) (*Transfer, bool) {
	t, ok := tb.byID[id]
	return t, ok
}

// Remove forgets a transfer
func (tb *Table) Remove(t *Transfer) {
	if cur, ok := tb.byCookie[t.Cookie]; ok && cur == t {
		delete(tb.byCookie, t.Cookie)
	}
	delete(tb.byID, t.ID)
}

// Len returns the number of tracked transfers
func (tb *Table) Len() int {
	return len(tb.byID)
}

// All returns every transfer ordered by id
func (tb *Table) All() []*Transfer {
	out := make([]*Transfer, 0, len(tb.byID))
	for _, t := range tb.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
