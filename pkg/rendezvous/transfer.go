// Package rendezvous implements peer-to-peer sessions negotiated over the
// ICBM rendezvous channel: OFT file transfer and ODC direct IM.
package rendezvous

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

var (
	// ErrBadTransition is returned for a state change the machine forbids
	ErrBadTransition = errors.New("invalid transfer state transition")
	// ErrCanceled is returned by drivers when the transfer was canceled
	ErrCanceled = errors.New("transfer canceled")
	// ErrChecksumMismatch is returned when received data fails verification
	ErrChecksumMismatch = errors.New("file checksum mismatch")
	// ErrUnexpectedHeader is returned when the peer sends an OFT header out
	// of order
	ErrUnexpectedHeader = errors.New("unexpected oft header")
)

// State is the lifecycle state of a transfer
type State int

const (
	Proposed State = iota
	Negotiating
	Connected
	Transferring
	Complete
	Canceled
	TimedOut
)

func (s State) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Transferring:
		return "transferring"
	case Complete:
		return "complete"
	case Canceled:
		return "canceled"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == Complete || s == Canceled || s == TimedOut
}

var transitions = map[State][]State{
	Proposed:     {Negotiating, Connected},
	Negotiating:  {Negotiating, Connected},
	Connected:    {Transferring},
	Transferring: {Transferring, Complete},
}

// Direction tells whether we send or receive the files
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Kind distinguishes file transfers from direct-IM links
type Kind int

const (
	KindFileTransfer Kind = iota
	KindDirectIM
)

// FileInfo describes one file of a transfer
type FileInfo struct {
	Name     string
	Size     uint32
	ModTime  time.Time
	Checksum uint32
}

// Progress is a snapshot of transfer counters
type Progress struct {
	FileIndex  int
	FilesDone  int
	FilesTotal int
	BytesDone  uint64
	BytesTotal uint64
}

// Transfer is one rendezvous session. Identity fields are fixed at
// creation; mutable state is guarded so driver goroutines can report
// progress while the session reads it.
type Transfer struct {
	ID        string
	Cookie    protocol.Cookie
	Peer      string
	Direction Direction
	Kind      Kind

	mu            sync.Mutex
	state         State
	files         []FileInfo
	progress      Progress
	peerAddr      string
	requestNumber uint16
	cancelReason  uint16
	completed     bool
}

// NewTransfer creates a transfer in the Proposed state
func NewTransfer(peer string, dir Direction, cookie protocol.Cookie, files []FileInfo) *Transfer {
	t := &Transfer{
		ID:        uuid.NewString(),
		Cookie:    cookie,
		Peer:      peer,
		Direction: dir,
	}
	t.SetFiles(files)
	return t
}

// NewDirectIM creates a direct-IM rendezvous in the Proposed state
func NewDirectIM(peer string, dir Direction, cookie protocol.Cookie) *Transfer {
	t := NewTransfer(peer, dir, cookie, nil)
	t.Kind = KindDirectIM
	return t
}

// SetFiles replaces the file list, used when the receiver learns names and
// sizes from OFT headers
func (t *Transfer) SetFiles(files []FileInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append([]FileInfo(nil), files...)
	t.progress.FilesTotal = len(files)
	t.progress.BytesTotal = 0
	for _, f := range files {
		t.progress.BytesTotal += uint64(f.Size)
	}
}

// Files returns a copy of the file list
func (t *Transfer) Files() []FileInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FileInfo(nil), t.files...)
}

// State returns the current state
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress returns a snapshot of the counters
func (t *Transfer) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// PeerAddr returns the negotiated peer address
func (t *Transfer) PeerAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerAddr
}

// SetPeerAddr records the address to dial for the peer
func (t *Transfer) SetPeerAddr(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peerAddr = addr
}

// RequestNumber returns the proposal sequence: 1 for the first proposal,
// 2 for a reverse-connect request
func (t *Transfer) RequestNumber() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestNumber
}

// SetRequestNumber records the request number of the latest proposal
func (t *Transfer) SetRequestNumber(n uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestNumber = n
}

// CancelReason returns the reason code recorded by Cancel
func (t *Transfer) CancelReason() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelReason
}

// Advance moves to the next state
func (t *Transfer) Advance(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, next := range transitions[t.state] {
		if next == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, t.state, to)
}

// Cancel ends the transfer, reporting whether this call ended it
func (t *Transfer) Cancel(reason uint16) bool {
	return t.finish(Canceled, reason)
}

// TimeOut ends the transfer because a step took too long
func (t *Transfer) TimeOut() bool {
	return t.finish(TimedOut, protocol.CancelReasonTimedOut)
}

func (t *Transfer) finish(to State, reason uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = to
	t.cancelReason = reason
	return true
}

// startFile marks file i as the one in flight
func (t *Transfer) startFile(i int, info FileInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.FileIndex = i
	if i < len(t.files) {
		t.files[i] = info
	} else {
		t.files = append(t.files, info)
		t.progress.BytesTotal += uint64(info.Size)
	}
	if t.progress.FilesTotal < len(t.files) {
		t.progress.FilesTotal = len(t.files)
	}
}

func (t *Transfer) addBytes(n int) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.BytesDone += uint64(n)
	return t.progress
}

func (t *Transfer) fileDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.FilesDone++
}

// markComplete moves to Complete and reports whether this call did so.
// Complete is announced once per transfer no matter how many files it had.
func (t *Transfer) markComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed || t.state != Transferring {
		return false
	}
	t.completed = true
	t.state = Complete
	return true
}
