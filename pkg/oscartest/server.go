// Package oscartest runs a scripted OSCAR service on loopback for tests. One
// listener plays the login service; a second plays every service a login
// or service request redirects to.
package oscartest

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// LoginKey is the challenge handed to every client
const LoginKey = "3141592653"

const receivedBuffer = 1024

// Account is one screen name the server knows
type Account struct {
	Password string
	Feedbag  []protocol.FeedbagItem
	// AckCodes answers feedbag edits of the named items with a code other
	// than success. Refused edits are not applied.
	AckCodes map[string]uint16
	// Offline holds messages replayed when a numeric account asks for them
	Offline []protocol.OfflineMessage
}

// Config holds the scripted behaviour of a server
type Config struct {
	Accounts         map[string]*Account
	MaxMessageLength uint16
	// FeedbagLimits is indexed by item class
	FeedbagLimits []uint16
	// Unavailable lists service families whose requests are refused
	Unavailable []uint16
	Logger      *log.Logger
}

// Received is one SNAC a client sent after its handshake
type Received struct {
	ScreenName string
	Service    uint16
	SNAC       *protocol.SNAC
}

// ticket is what a cookie from a redirect grants
type ticket struct {
	screenName string
	service    uint16
	room       *room
}

// Server is the scripted service
type Server struct {
	cfg      Config
	authLn   net.Listener
	bosLn    net.Listener
	sessions *SessionManager
	received chan Received
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	accounts map[string]*Account
	tickets  map[string]ticket
	rooms    map[string]*room
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = protocol.DefaultMaxMessageLength
	}
	if cfg.FeedbagLimits == nil {
		cfg.FeedbagLimits = []uint16{400, 100, 200, 200}
	}
	accounts := make(map[string]*Account, len(cfg.Accounts))
	for name, acct := range cfg.Accounts {
		accounts[contactlist.Normalize(name)] = acct
	}
	return &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		received: make(chan Received, receivedBuffer),
		shutdown: make(chan struct{}),
		accounts: accounts,
		tickets:  make(map[string]ticket),
		rooms:    make(map[string]*room),
	}
}

// Start listens on two loopback ports
func (s *Server) Start() error {
	authLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen for login: %w", err)
	}
	bosLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		authLn.Close()
		return fmt.Errorf("failed to listen for services: %w", err)
	}
	s.authLn, s.bosLn = authLn, bosLn
	s.cfg.Logger.Printf("Login service on %s, services on %s", authLn.Addr(), bosLn.Addr())

	s.wg.Add(2)
	go s.acceptLoop(authLn, s.handleAuth)
	go s.acceptLoop(bosLn, s.handleService)
	return nil
}

// Stop closes the listeners and every session
func (s *Server) Stop() {
	select {
	case <-s.shutdown:
		return
	default:
	}
	close(s.shutdown)
	if s.authLn != nil {
		s.authLn.Close()
	}
	if s.bosLn != nil {
		s.bosLn.Close()
	}
	s.sessions.CloseAll()
	s.wg.Wait()
}

// AuthAddr is the address clients sign on at
func (s *Server) AuthAddr() string {
	return s.authLn.Addr().String()
}

// ServiceAddr is the address every redirect points at
func (s *Server) ServiceAddr() string {
	return s.bosLn.Addr().String()
}

// Received delivers every SNAC clients send once their handshake is done.
// SNACs are dropped when nobody reads and the buffer fills.
func (s *Server) Received() <-chan Received {
	return s.received
}

// Next waits for the next received SNAC of the given type, discarding
// others
func (s *Server) Next(family, subtype uint16, timeout time.Duration) (Received, error) {
	deadline := time.After(timeout)
	for {
		select {
		case r := <-s.received:
			if r.SNAC.Family == family && r.SNAC.Subtype == subtype {
				return r, nil
			}
		case <-deadline:
			return Received{}, fmt.Errorf("no %02X/%02X within %s", family, subtype, timeout)
		}
	}
}

func (s *Server) record(sess *Session, snac *protocol.SNAC) {
	select {
	case s.received <- Received{ScreenName: sess.ScreenName, Service: sess.Service, SNAC: snac}:
	default:
	}
}

// acceptLoop accepts connections until the listener closes
func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.Printf("Accept error: %v", err)
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(conn)
		}()
	}
}

func (s *Server) account(name string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[contactlist.Normalize(name)]
	return acct, ok
}

// issue stores a one-time cookie for a redirect
func (s *Server) issue(t ticket) []byte {
	cookie := make([]byte, 16)
	rand.Read(cookie)
	s.mu.Lock()
	s.tickets[string(cookie)] = t
	s.mu.Unlock()
	return cookie
}

func (s *Server) redeem(cookie []byte) (ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[string(cookie)]
	delete(s.tickets, string(cookie))
	return t, ok
}

// handleAuth plays the login service: hello, key, credentials, redirect
func (s *Server) handleAuth(conn net.Conn) {
	sess := s.sessions.CreateSession(conn, "", 0)
	defer s.sessions.RemoveSession(sess.ID)

	if err := sess.hello(); err != nil {
		return
	}
	for {
		f, err := protocol.DecodeFrame(conn)
		if err != nil {
			return
		}
		if f.Channel != protocol.ChannelData {
			continue
		}
		snac, err := protocol.DecodeSNAC(f.Payload)
		if err != nil {
			s.cfg.Logger.Printf("Login session %d: %v", sess.ID, err)
			return
		}
		switch snac.Subtype {
		case protocol.BUCPKeyRequest:
			var m protocol.KeyRequestMessage
			if err := m.Decode(snac.Body); err != nil {
				return
			}
			sess.ScreenName = m.ScreenName
			sess.SendSNAC(protocol.FamilyBUCP, protocol.BUCPKeyReply, 0, snac.RequestID,
				&protocol.KeyReplyMessage{Key: LoginKey})
		case protocol.BUCPLoginRequest:
			var m protocol.LoginRequestMessage
			if err := m.Decode(snac.Body); err != nil {
				return
			}
			sess.SendSNAC(protocol.FamilyBUCP, protocol.BUCPLoginReply, 0, snac.RequestID, s.login(&m))
			return
		}
	}
}

// login checks the hashed password and issues the primary cookie
func (s *Server) login(m *protocol.LoginRequestMessage) *protocol.LoginReplyMessage {
	acct, ok := s.account(m.ScreenName)
	if !ok {
		return &protocol.LoginReplyMessage{ScreenName: m.ScreenName, ErrorCode: protocol.AuthErrInvalidScreenName}
	}
	want := protocol.PasswordHash(LoginKey, acct.Password)
	if string(want) != string(m.PasswordHash) {
		return &protocol.LoginReplyMessage{ScreenName: m.ScreenName, ErrorCode: protocol.AuthErrBadPassword}
	}
	return &protocol.LoginReplyMessage{
		ScreenName: m.ScreenName,
		Address:    s.ServiceAddr(),
		Cookie:     s.issue(ticket{screenName: m.ScreenName}),
	}
}

// handleService plays whichever service the presented cookie was issued
// for
func (s *Server) handleService(conn net.Conn) {
	sess := s.sessions.CreateSession(conn, "", 0)
	defer s.closeSession(sess)

	if err := sess.hello(); err != nil {
		return
	}
	f, err := protocol.DecodeFrame(conn)
	if err != nil || f.Channel != protocol.ChannelSignOn {
		return
	}
	var signOn protocol.SignOnMessage
	if err := signOn.Decode(f.Payload); err != nil {
		return
	}
	cookie, _ := signOn.TLVs.Bytes(protocol.TLVCookie)
	t, ok := s.redeem(cookie)
	if !ok {
		s.cfg.Logger.Printf("Session %d presented an unknown cookie", sess.ID)
		return
	}
	sess.ScreenName = t.screenName
	sess.Service = t.service
	sess.room = t.room

	if err := sess.SendSNAC(protocol.FamilyOService, protocol.OServiceHostOnline, 0, 0,
		&protocol.HostOnlineMessage{Families: familiesOf(t.service)}); err != nil {
		return
	}

	for {
		f, err := protocol.DecodeFrame(conn)
		if err != nil {
			return
		}
		switch f.Channel {
		case protocol.ChannelSignOff:
			return
		case protocol.ChannelData:
		default:
			continue
		}
		snac, err := protocol.DecodeSNAC(f.Payload)
		if err != nil {
			s.cfg.Logger.Printf("Session %d: %v", sess.ID, err)
			return
		}
		if err := s.handleSNAC(sess, snac); err != nil {
			s.cfg.Logger.Printf("Session %d handle error: %v", sess.ID, err)
			return
		}
	}
}

// familiesOf lists what a service connection offers
func familiesOf(service uint16) []uint16 {
	if service == 0 {
		return []uint16{
			protocol.FamilyOService, protocol.FamilyLocate, protocol.FamilyBuddy,
			protocol.FamilyICBM, protocol.FamilyPD, protocol.FamilyFeedbag, protocol.FamilyICQ,
		}
	}
	return []uint16{protocol.FamilyOService, service}
}

// closeSession removes a session and tells everyone who can see it
func (s *Server) closeSession(sess *Session) {
	s.sessions.RemoveSession(sess.ID)
	if !sess.IsReady() {
		return
	}
	switch {
	case sess.Service == 0:
		s.announceDeparture(sess)
	case sess.room != nil:
		s.leaveRoom(sess)
	}
}
