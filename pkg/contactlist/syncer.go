package contactlist

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrExists is returned when adding an item that is already listed
	ErrExists = errors.New("contact already listed")
	// ErrNotFound is returned when editing an item that is not listed
	ErrNotFound = errors.New("contact not listed")
	// ErrUnknownTxn is returned for an acknowledgment nothing is waiting on
	ErrUnknownTxn = errors.New("unknown contact-list transaction")
	// ErrIDsExhausted is returned when every item id is in use
	ErrIDsExhausted = errors.New("no free contact-list id")
)

// Server acknowledgment codes understood by Ack
const (
	AckSuccess      uint16 = 0x0000
	AckNotFound     uint16 = 0x0002
	AckAlreadyExist uint16 = 0x0003
	AckIDInUse      uint16 = 0x000A
	AckAtMax        uint16 = 0x000C
	AckInvalidName  uint16 = 0x000D
	AckAuthRequired uint16 = 0x000E
)

// OpKind is the server edit an Op asks for
type OpKind uint8

const (
	OpAdd OpKind = iota
	OpModify
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is one edit to send to the server
type Op struct {
	Kind OpKind
	Item Item
}

func (o Op) String() string {
	return o.Kind.String() + " " + o.Item.String()
}

// Outcome classifies an acknowledgment
type Outcome uint8

const (
	// Applied means the server list now reflects the edit
	Applied Outcome = iota
	// AuthRequired means the contact must authorize the add first
	AuthRequired
	// Rejected means the server refused the edit and the local list was
	// rolled back to the server's copy
	Rejected
)

// ConflictError describes an edit the server refused
type ConflictError struct {
	Op   Op
	Code uint16
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("contact list %s rejected: code 0x%04x", e.Op, e.Code)
}

// AckResult reports what an acknowledgment did
type AckResult struct {
	Txn     uint32
	Op      Op
	Code    uint16
	Outcome Outcome
	Err     error
}

type txn struct {
	id uint32
	op Op
}

// Syncer reconciles the local list with the server list. It is not safe for
// concurrent use; the session drives it from a single goroutine.
type Syncer struct {
	local   *List
	remote  *List
	pending map[uint32]txn
	nextTxn uint32
	nextID  uint16
	limits  map[ItemType]int
	// buddies whose add was refused until the contact authorizes us
	awaitingAuth map[string]Item
	merged       bool
	logger       *log.Logger
}

// NewSyncer creates a syncer with empty lists
func NewSyncer() *Syncer {
	return &Syncer{
		local:        NewList(),
		remote:       NewList(),
		pending:      make(map[uint32]txn),
		nextTxn:      1,
		nextID:       1,
		limits:       make(map[ItemType]int),
		awaitingAuth: make(map[string]Item),
	}
}

// SetLogger sets the logger for debug output
func (s *Syncer) SetLogger(logger *log.Logger) {
	s.logger = logger
}

func (s *Syncer) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Local returns the local list. Callers must not modify it.
func (s *Syncer) Local() *List { return s.local }

// Remote returns the last known server list. Callers must not modify it.
func (s *Syncer) Remote() *List { return s.remote }

// Merged reports whether the first remote list has been merged
func (s *Syncer) Merged() bool { return s.merged }

// Seed loads a cached local list. The seed is not authoritative: server
// identifiers are reassigned at merge time.
func (s *Syncer) Seed(items []Item) {
	for _, it := range items {
		s.local.Put(it)
	}
	s.logf("Contact list seeded with %d items", len(items))
}

// SetLimits records the server's per-type maximums
func (s *Syncer) SetLimits(limits map[ItemType]int) {
	for t, n := range limits {
		s.limits[t] = n
	}
}

// Limit returns the server maximum for a type, 0 when unknown
func (s *Syncer) Limit(t ItemType) int {
	return s.limits[t]
}

// OverLimit reports whether the local list holds more items of a type than
// the server will track. Items past the limit do not get presence.
func (s *Syncer) OverLimit(t ItemType) bool {
	limit := s.limits[t]
	return limit > 0 && s.local.Count(t) > limit
}

// Merge folds the server list into the local one and returns the edits
// that make the server match. Remote-only items are adopted locally,
// local-only items are added remotely and attribute differences are
// resolved in favor of the local copy. Items with an edit in flight are
// left alone.
func (s *Syncer) Merge(remote []Item) []Op {
	s.remote = NewList(remote...)
	inFlight := s.inFlightKeys()

	for _, r := range s.remote.Items() {
		k := r.Key()
		if inFlight[k] {
			continue
		}
		l, ok := s.local.Get(k)
		if !ok {
			s.local.Put(r)
			continue
		}
		l.GroupID, l.ItemID = r.GroupID, r.ItemID
		s.local.Put(l)
	}

	var ops []Op
	for _, l := range s.local.Items() {
		k := l.Key()
		if inFlight[k] {
			continue
		}
		if _, waiting := s.awaitingAuth[k.Name]; waiting && k.Type == Buddy {
			continue
		}
		if l.Type == Buddy {
			groupOps, err := s.ensureGroup(l.Group)
			if err != nil {
				s.logf("Contact list merge: %s: %v", l.Name, err)
				continue
			}
			ops = append(ops, groupOps...)
		}
		r, ok := s.remote.Get(k)
		switch {
		case !ok:
			// cached identifiers may collide with the server's
			l.GroupID, l.ItemID = 0, 0
			var err error
			if l, err = s.assignIDs(l); err != nil {
				s.logf("Contact list merge: %s: %v", k, err)
				continue
			}
			s.local.Put(l)
			ops = append(ops, Op{Kind: OpAdd, Item: l})
		case l.SameAttrs(r):
		case l.Type == Buddy && Normalize(l.Group) != Normalize(r.Group):
			// buddies change group by delete and re-add
			l.GroupID, l.ItemID = 0, 0
			var err error
			if l, err = s.assignIDs(l); err != nil {
				s.logf("Contact list merge: %s: %v", k, err)
				continue
			}
			s.local.Put(l)
			ops = append(ops, Op{Kind: OpRemove, Item: r}, Op{Kind: OpAdd, Item: l})
		default:
			ops = append(ops, Op{Kind: OpModify, Item: l})
		}
	}

	s.merged = true
	s.logf("Contact list merged: %d remote, %d local, %d edits", s.remote.Len(), s.local.Len(), len(ops))
	return ops
}

// AddBuddy files a buddy under group, creating the group when needed
func (s *Syncer) AddBuddy(name, group string) ([]Op, error) {
	k := KeyOf(Buddy, name)
	if s.local.Has(k) {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	ops, err := s.ensureGroup(group)
	if err != nil {
		return nil, err
	}
	it, err := s.assignIDs(Item{Type: Buddy, Name: name, Group: group})
	if err != nil {
		s.undoGroup(ops)
		return nil, err
	}
	s.local.Put(it)
	return s.edits(append(ops, Op{Kind: OpAdd, Item: it})), nil
}

// RemoveBuddy drops a buddy
func (s *Syncer) RemoveBuddy(name string) ([]Op, error) {
	delete(s.awaitingAuth, Normalize(name))
	return s.remove(KeyOf(Buddy, name))
}

// MoveBuddy refiles a buddy under another group
func (s *Syncer) MoveBuddy(name, group string) ([]Op, error) {
	k := KeyOf(Buddy, name)
	old, ok := s.local.Get(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if Normalize(old.Group) == Normalize(group) {
		return nil, nil
	}
	ops, err := s.ensureGroup(group)
	if err != nil {
		return nil, err
	}
	moved := old
	moved.Group = group
	moved.GroupID, moved.ItemID = 0, 0
	if moved, err = s.assignIDs(moved); err != nil {
		s.undoGroup(ops)
		return nil, err
	}
	s.local.Put(moved)
	if s.remote.Has(k) || s.hasPendingAdd(k) {
		ops = append(ops, Op{Kind: OpRemove, Item: old})
	}
	return s.edits(append(ops, Op{Kind: OpAdd, Item: moved})), nil
}

// SetAlias changes the display alias of a buddy
func (s *Syncer) SetAlias(name, alias string) ([]Op, error) {
	k := KeyOf(Buddy, name)
	it, ok := s.local.Get(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if it.Alias == alias {
		return nil, nil
	}
	it.Alias = alias
	s.local.Put(it)
	return s.edits([]Op{{Kind: OpModify, Item: it}}), nil
}

// AddPermit adds a name to the permit list
func (s *Syncer) AddPermit(name string) ([]Op, error) {
	return s.addPlain(Permit, name)
}

// AddDeny adds a name to the deny list
func (s *Syncer) AddDeny(name string) ([]Op, error) {
	return s.addPlain(Deny, name)
}

// RemovePermit removes a name from the permit list
func (s *Syncer) RemovePermit(name string) ([]Op, error) {
	return s.remove(KeyOf(Permit, name))
}

// RemoveDeny removes a name from the deny list
func (s *Syncer) RemoveDeny(name string) ([]Op, error) {
	return s.remove(KeyOf(Deny, name))
}

// SetPDMode sets who may see us and message us
func (s *Syncer) SetPDMode(mode uint32) []Op {
	k := KeyOf(PDMode, "")
	it, ok := s.local.Get(k)
	if ok && it.Value == mode {
		return nil
	}
	kind := OpModify
	if !ok {
		kind = OpAdd
		var err error
		if it, err = s.assignIDs(Item{Type: PDMode}); err != nil {
			s.logf("Permit/deny mode not stored: %v", err)
			return nil
		}
	}
	it.Value = mode
	s.local.Put(it)
	return s.edits([]Op{{Kind: kind, Item: it}})
}

// Begin records an edit as sent and returns its transaction id
func (s *Syncer) Begin(op Op) uint32 {
	id := s.nextTxn
	s.nextTxn++
	if s.nextTxn == 0 {
		s.nextTxn = 1
	}
	s.pending[id] = txn{id: id, op: op}
	return id
}

// Pending returns the number of edits awaiting acknowledgment
func (s *Syncer) Pending() int {
	return len(s.pending)
}

// Ack matches a server acknowledgment to its edit. Success updates the
// remote list. An authorization-required add parks the buddy until
// AuthorizationReplied. Any other failure rolls the local item back to the
// server's copy and reports a ConflictError.
func (s *Syncer) Ack(id uint32, code uint16) (AckResult, error) {
	t, ok := s.pending[id]
	if !ok {
		return AckResult{}, fmt.Errorf("%w: %d", ErrUnknownTxn, id)
	}
	delete(s.pending, id)
	res := AckResult{Txn: id, Op: t.op, Code: code}
	k := t.op.Item.Key()

	switch {
	case code == AckSuccess,
		code == AckAlreadyExist && t.op.Kind == OpAdd,
		code == AckNotFound && t.op.Kind == OpRemove:
		res.Outcome = Applied
		s.applyRemote(t.op)
	case code == AckAuthRequired && t.op.Kind == OpAdd && t.op.Item.Type == Buddy:
		res.Outcome = AuthRequired
		s.awaitingAuth[k.Name] = t.op.Item
		s.logf("Contact %s requires authorization", t.op.Item.Name)
	default:
		res.Outcome = Rejected
		res.Err = &ConflictError{Op: t.op, Code: code}
		s.rollback(k)
		s.logf("Contact list %s rejected with code 0x%04x", t.op, code)
	}
	return res, nil
}

// AwaitingAuthorization reports whether a buddy add waits on the contact
func (s *Syncer) AwaitingAuthorization(name string) bool {
	_, ok := s.awaitingAuth[Normalize(name)]
	return ok
}

// AuthorizationReplied resolves a parked add. A grant returns the retried
// add; a denial drops the buddy locally.
func (s *Syncer) AuthorizationReplied(name string, granted bool) []Op {
	n := Normalize(name)
	it, ok := s.awaitingAuth[n]
	if !ok {
		return nil
	}
	delete(s.awaitingAuth, n)
	if !granted {
		s.local.Delete(it.Key())
		s.logf("Contact %s denied authorization", name)
		return nil
	}
	if cur, ok := s.local.Get(it.Key()); ok {
		it = cur
	}
	return []Op{{Kind: OpAdd, Item: it}}
}

// ApplyRemote mirrors an edit the server pushed from another session of
// the same account into both lists.
func (s *Syncer) ApplyRemote(op Op) {
	s.applyRemote(op)
	k := op.Item.Key()
	if op.Kind == OpRemove {
		s.local.Delete(k)
		return
	}
	s.local.Put(op.Item)
}

// Converged reports whether nothing is in flight and both lists agree
func (s *Syncer) Converged() bool {
	return len(s.pending) == 0 && len(s.awaitingAuth) == 0 && s.local.Equal(s.remote)
}

func (s *Syncer) applyRemote(op Op) {
	switch op.Kind {
	case OpAdd, OpModify:
		s.remote.Put(op.Item)
	case OpRemove:
		cur, ok := s.remote.Get(op.Item.Key())
		// a stale remove must not delete the re-added copy
		if ok && cur.GroupID == op.Item.GroupID && cur.ItemID == op.Item.ItemID {
			s.remote.Delete(op.Item.Key())
		}
	}
}

func (s *Syncer) rollback(k Key) {
	if s.hasPending(k) {
		return
	}
	if r, ok := s.remote.Get(k); ok {
		s.local.Put(r)
		return
	}
	s.local.Delete(k)
}

func (s *Syncer) addPlain(t ItemType, name string) ([]Op, error) {
	k := KeyOf(t, name)
	if s.local.Has(k) {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	it, err := s.assignIDs(Item{Type: t, Name: name})
	if err != nil {
		return nil, err
	}
	s.local.Put(it)
	return s.edits([]Op{{Kind: OpAdd, Item: it}}), nil
}

func (s *Syncer) remove(k Key) ([]Op, error) {
	it, ok := s.local.Get(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	s.local.Delete(k)
	if !s.remote.Has(k) && !s.hasPendingAdd(k) {
		return nil, nil
	}
	return s.edits([]Op{{Kind: OpRemove, Item: it}}), nil
}

func (s *Syncer) ensureGroup(name string) ([]Op, error) {
	k := KeyOf(Group, name)
	if s.local.Has(k) {
		return nil, nil
	}
	g, err := s.assignIDs(Item{Type: Group, Name: name})
	if err != nil {
		return nil, err
	}
	s.local.Put(g)
	return []Op{{Kind: OpAdd, Item: g}}, nil
}

// undoGroup forgets a group ensureGroup just created
func (s *Syncer) undoGroup(ops []Op) {
	for _, op := range ops {
		s.local.Delete(op.Item.Key())
	}
}

// edits suppresses server traffic until the first merge, which sends
// whatever the local list holds by then
func (s *Syncer) edits(ops []Op) []Op {
	if !s.merged {
		return nil
	}
	return ops
}

func (s *Syncer) hasPending(k Key) bool {
	for _, t := range s.pending {
		if t.op.Item.Key() == k {
			return true
		}
	}
	return false
}

func (s *Syncer) hasPendingAdd(k Key) bool {
	for _, t := range s.pending {
		if t.op.Kind == OpAdd && t.op.Item.Key() == k {
			return true
		}
	}
	return false
}

func (s *Syncer) inFlightKeys() map[Key]bool {
	keys := make(map[Key]bool, len(s.pending))
	for _, t := range s.pending {
		keys[t.op.Item.Key()] = true
	}
	return keys
}

// assignIDs gives an item the server identifiers it lacks. Groups own a
// group id, buddies live under their group's id, everything else sits in
// the root group.
func (s *Syncer) assignIDs(it Item) (Item, error) {
	var err error
	switch it.Type {
	case Group:
		if it.GroupID == 0 {
			it.GroupID, err = s.allocID()
		}
		it.ItemID = 0
	case Buddy:
		if g, ok := s.local.Get(KeyOf(Group, it.Group)); ok {
			it.GroupID = g.GroupID
		}
		if it.ItemID == 0 || s.itemIDTaken(it) {
			it.ItemID, err = s.allocID()
		}
	default:
		it.GroupID = 0
		if it.ItemID == 0 || s.itemIDTaken(it) {
			it.ItemID, err = s.allocID()
		}
	}
	return it, err
}

func (s *Syncer) itemIDTaken(it Item) bool {
	for _, l := range []*List{s.local, s.remote} {
		for k, other := range l.items {
			if k != it.Key() && other.ItemID == it.ItemID && other.ItemID != 0 {
				return true
			}
		}
	}
	return false
}

// allocID returns the next id no item or pending edit uses
func (s *Syncer) allocID() (uint16, error) {
	used := make(map[uint16]bool)
	for _, l := range []*List{s.local, s.remote} {
		for _, it := range l.items {
			used[it.GroupID] = true
			used[it.ItemID] = true
		}
	}
	for _, t := range s.pending {
		used[t.op.Item.GroupID] = true
		used[t.op.Item.ItemID] = true
	}
	for tries := 0; used[s.nextID] || s.nextID == 0; tries++ {
		if tries == 0xFFFF {
			return 0, ErrIDsExhausted
		}
		s.nextID++
	}
	id := s.nextID
	s.nextID++
	return id, nil
}

// Snapshot returns the local items for persistence
func (s *Syncer) Snapshot() []Item {
	return s.local.Items()
}
