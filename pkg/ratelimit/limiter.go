// Package ratelimit paces outbound SNACs according to the rate classes the
// server announces. The server is authoritative: it pushes rate-change
// notices and the limiter turns them into per-send deferrals. Nothing is
// ever dropped, sends are only delayed.
package ratelimit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// State is the per-class pacing state
type State int

const (
	Normal State = iota
	Warned
	Limited
	Cleared
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Warned:
		return "warned"
	case Limited:
		return "limited"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultClass governs any (family, subtype) pair the server did not list
const DefaultClass uint16 = 1

// Notice is one server rate-change notice (01/0A)
type Notice struct {
	Code   uint16
	Params protocol.RateClassParams
}

// NoticeFrom converts a decoded rate-change SNAC
func NoticeFrom(m *protocol.RateChangeMessage) Notice {
	return Notice{Code: m.Code, Params: m.Class}
}

// Class is the state of one rate class. Averages and thresholds are in
// milliseconds, Window is the number of sends the average spans.
type Class struct {
	ID      uint16
	Params  protocol.RateClassParams
	State   State
	Average uint32
	Latency time.Duration

	lastSend time.Time
	lastSlot time.Time
}

type pair struct {
	family  uint16
	subtype uint16
}

// Limiter holds every rate class of one connection. It is safe for
// concurrent use: the connection writer reserves slots while the session
// applies notices.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	classes map[uint16]*Class
	members map[pair]uint16
	release chan struct{}
	logger  *log.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger enables debug logging of state changes and deferrals
func WithLogger(logger *log.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates an empty limiter. Until Configure is called every send goes
// out immediately.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:     time.Now,
		classes: make(map[uint16]*Class),
		members: make(map[pair]uint16),
		release: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// Configure loads the classes and their members from a rate-params reply
func (l *Limiter) Configure(reply *protocol.RateParamsReplyMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, p := range reply.Classes {
		c, ok := l.classes[p.ID]
		if !ok {
			c = &Class{ID: p.ID, lastSend: now}
			l.classes[p.ID] = c
		}
		c.Params = p
		c.Average = p.Current
	}
	for id, pairs := range reply.Members {
		for _, p := range pairs {
			l.members[pair{p.Family, p.Subtype}] = id
		}
	}
	l.logf("Rate classes configured: %d classes, %d members", len(reply.Classes), len(l.members))
}

// ClassFor returns the class id governing a SNAC
func (l *Limiter) ClassFor(family, subtype uint16) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classFor(family, subtype)
}

func (l *Limiter) classFor(family, subtype uint16) uint16 {
	if id, ok := l.members[pair{family, subtype}]; ok {
		return id
	}
	return DefaultClass
}

// Snapshot returns a copy of a class's state
func (l *Limiter) Snapshot(id uint16) (Class, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.classes[id]
	if !ok {
		return Class{}, false
	}
	return *c, true
}

// Apply updates a class from a server notice and returns its new state.
// Unknown classes are created on first notice.
func (l *Limiter) Apply(n Notice) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.classes[n.Params.ID]
	if !ok {
		c = &Class{ID: n.Params.ID, lastSend: l.now()}
		l.classes[n.Params.ID] = c
	}
	prev := c.State
	c.Params = mergeParams(c.Params, n.Params)
	c.Average = n.Params.Current
	window := time.Duration(c.Params.Window) * time.Millisecond

	switch n.Code {
	case protocol.RateCodeChange:
		if c.State == Cleared {
			c.State = Normal
		}
		// Only a clear notice lifts a limit
		if c.State != Limited && c.Average >= c.Params.Clear {
			c.Latency = 0
		}
	case protocol.RateCodeWarn:
		c.State = Warned
		c.Latency = window / 4
	case protocol.RateCodeLimit:
		c.State = Limited
		c.Latency = window / 2
		if c.Params.Clear > c.Average {
			if climb := time.Duration(c.Params.Clear-c.Average) * time.Millisecond; climb > c.Latency {
				c.Latency = climb
			}
		}
		if c.Latency == 0 {
			c.Latency = time.Millisecond
		}
	case protocol.RateCodeClear:
		c.State = Cleared
		c.Latency = 0
		c.lastSlot = time.Time{}
		l.releaseBacklog()
	default:
		l.logf("Rate notice with unknown code %d for class %d", n.Code, c.ID)
	}

	if prev != c.State {
		l.logf("Rate class %d: %s -> %s (avg=%d clear=%d latency=%v)", c.ID, prev, c.State, c.Average, c.Params.Clear, c.Latency)
	}
	return c.State
}

// mergeParams keeps previously known thresholds when a notice leaves them zero
func mergeParams(old, n protocol.RateClassParams) protocol.RateClassParams {
	if n.Window == 0 {
		n.Window = old.Window
	}
	if n.Clear == 0 {
		n.Clear = old.Clear
	}
	if n.Alert == 0 {
		n.Alert = old.Alert
	}
	if n.Limit == 0 {
		n.Limit = old.Limit
	}
	if n.Disconnect == 0 {
		n.Disconnect = old.Disconnect
	}
	if n.Max == 0 {
		n.Max = old.Max
	}
	return n
}

// releaseBacklog wakes every writer waiting on Released
func (l *Limiter) releaseBacklog() {
	close(l.release)
	l.release = make(chan struct{})
}

// Released returns a channel that is closed the next time a class clears.
// Writers holding a deferred frame select on it to send early.
func (l *Limiter) Released() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.release
}

// Reserve books the next send of a SNAC and returns how long the caller
// must wait before writing it. It never refuses a send.
func (l *Limiter) Reserve(family, subtype uint16) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.classes[l.classFor(family, subtype)]
	if !ok {
		return 0
	}

	now := l.now()
	slot := now
	if c.Latency > 0 {
		if next := c.lastSlot.Add(c.Latency); next.After(slot) {
			slot = next
		}
		// A limited class never sends without waiting
		if c.State == Limited && slot.Before(now.Add(c.Latency)) {
			slot = now.Add(c.Latency)
		}
	}
	c.lastSlot = slot

	c.Average = movingAverage(c.Average, c.Params, slot.Sub(c.lastSend))
	c.lastSend = slot

	return slot.Sub(now)
}

// movingAverage folds one inter-send delta into the class average:
// (avg*(w-1)+delta)/w, capped at the class maximum.
func movingAverage(avg uint32, p protocol.RateClassParams, delta time.Duration) uint32 {
	if p.Window == 0 {
		return avg
	}
	if delta < 0 {
		delta = 0
	}
	d := uint64(delta / time.Millisecond)
	w := uint64(p.Window)
	next := (uint64(avg)*(w-1) + d) / w
	if p.Max > 0 && next > uint64(p.Max) {
		next = uint64(p.Max)
	}
	return uint32(next)
}

// Predict reports the state the server will likely assign once the local
// average is taken into account, without changing anything.
func (l *Limiter) Predict(id uint16) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.classes[id]
	if !ok {
		return Normal
	}
	switch {
	case c.Params.Limit > 0 && c.Average < c.Params.Limit:
		return Limited
	case c.Params.Alert > 0 && c.Average < c.Params.Alert:
		return Warned
	default:
		return c.State
	}
}
