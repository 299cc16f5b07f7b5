package oscartest

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// Session is one client connection to the server
type Session struct {
	ID         uint64
	ScreenName string
	// Service is the family the connection was redirected for, 0 for the
	// primary connection
	Service uint16

	conn    net.Conn
	writeMu sync.Mutex
	seq     uint16
	ready   atomic.Bool
	room    *room
}

// IsReady reports whether the client finished its handshake
func (s *Session) IsReady() bool {
	return s.ready.Load()
}

// SendFrame writes one FLAP frame
func (s *Session) SendFrame(channel uint8, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.seq++
	return protocol.EncodeFrame(s.conn, &protocol.Frame{Channel: channel, Sequence: s.seq, Payload: payload})
}

// SendSNAC writes one SNAC. A nil msg sends an empty body.
func (s *Session) SendSNAC(family, subtype, flags uint16, requestID uint32, msg protocol.Message) error {
	var body []byte
	if msg != nil {
		var err error
		if body, err = msg.Encode(); err != nil {
			return err
		}
	}
	payload, err := protocol.EncodeSNAC(family, subtype, flags, requestID, body)
	if err != nil {
		return err
	}
	return s.SendFrame(protocol.ChannelData, payload)
}

// SendError answers a request with an xx/01 error
func (s *Session) SendError(family uint16, requestID uint32, code uint16) error {
	return s.SendSNAC(family, protocol.SubtypeError, 0, requestID, &protocol.SNACErrorMessage{Code: code})
}

// hello sends the channel-1 frame every service opens with
func (s *Session) hello() error {
	m := protocol.SignOnMessage{Version: 1}
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	return s.SendFrame(protocol.ChannelSignOn, payload)
}

// Close drops the connection
func (s *Session) Close() error {
	return s.conn.Close()
}

// SessionManager tracks the open sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
}

// NewSessionManager creates an empty session table
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		nextID:   1,
	}
}

// CreateSession registers a new connection
func (sm *SessionManager) CreateSession(conn net.Conn, screenName string, service uint16) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1
	sess := &Session{
		ID:         sessionID,
		ScreenName: screenName,
		Service:    service,
		conn:       conn,
	}
	sm.sessions[sessionID] = sess
	return sess
}

// GetAllSessions returns all active sessions
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Primary returns the ready primary session of a screen name
func (sm *SessionManager) Primary(screenName string) (*Session, bool) {
	key := contactlist.Normalize(screenName)
	for _, sess := range sm.GetAllSessions() {
		if sess.Service == 0 && sess.IsReady() && contactlist.Normalize(sess.ScreenName) == key {
			return sess, true
		}
	}
	return nil, false
}

// RemoveSession removes a session and closes the connection
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	sess.conn.Close()
}

// CloseAll closes every connection
func (sm *SessionManager) CloseAll() {
	for _, sess := range sm.GetAllSessions() {
		sess.conn.Close()
	}
}
