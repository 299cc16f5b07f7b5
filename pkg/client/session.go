package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
	"github.com/aeolun/oscarchat/pkg/rendezvous"
)

const (
	// DefaultKeepAlive is the interval between channel-5 frames on the
	// primary connection
	DefaultKeepAlive = 60 * time.Second

	eventQueueSize      = 256
	signOffFlushTimeout = time.Second
)

// SessionState is the sign-on progress of a session
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnectingAuth
	StateAwaitingKey
	StateSendingCredentials
	StateRedirected
	StateConnectingPrimary
	StateReady
	StateSignedOff
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectingAuth:
		return "connecting to auth"
	case StateAwaitingKey:
		return "awaiting key"
	case StateSendingCredentials:
		return "sending credentials"
	case StateRedirected:
		return "redirected"
	case StateConnectingPrimary:
		return "connecting to primary"
	case StateReady:
		return "ready"
	case StateSignedOff:
		return "signed off"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransferConfig controls peer-to-peer sessions
type TransferConfig struct {
	// ListenHost is the address listeners bind to; empty binds every
	// interface
	ListenHost string
	PortLow    int
	PortHigh   int
	// DownloadDir receives accepted files
	DownloadDir string
	// Timeout bounds each connect attempt and each protocol step
	Timeout time.Duration
	// BytesPerSec caps outgoing file data, 0 for unlimited
	BytesPerSec int
}

// SessionConfig is what a session needs to sign on
type SessionConfig struct {
	ScreenName string
	Password   string
	// AuthServer is host or host:port of the login service
	AuthServer string
	KeepAlive  time.Duration
	Profile    string
	// MaxMessageLength overrides the server-advertised ceiling when smaller
	MaxMessageLength int
	Transfer         TransferConfig
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger for debug output
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics records session activity on m
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithDialer routes service connections through d
func WithDialer(d *Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithContactCache seeds the contact list from cache and saves it back
func WithContactCache(cache ContactCache) Option {
	return func(s *Session) {
		s.cache = cache
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session is one signed-on account. All state is owned by the goroutine
// calling Poll; other goroutines hand work over with Post.
type Session struct {
	cfg     SessionConfig
	handler Handler
	logger  *log.Logger
	metrics *Metrics
	dialer  *Dialer
	cache   ContactCache
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	closed chan struct{}
	conns  *connTable
	disp   *dispatcher

	state      SessionState
	screenName string
	err        error
	keepAlive  *time.Ticker

	waiters   map[ServiceType][]serviceWaiter
	requested map[ServiceType]bool

	cookies          *cookieSource
	maxMessageLength int
	typingCapable    map[string]bool
	offline          offlineState

	syncer  *contactlist.Syncer
	feedbag feedbagState

	rooms map[string]*Room

	transfers *rendezvous.Table
	peers     map[string]*peer
}

// New creates a session. Nothing happens on the network until Connect or
// Run.
func New(cfg SessionConfig, handler Handler, opts ...Option) *Session {
	if handler == nil {
		handler = NopHandler{}
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Transfer.Timeout <= 0 {
		cfg.Transfer.Timeout = rendezvous.DefaultStepTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:              cfg,
		handler:          handler,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
		events:           make(chan event, eventQueueSize),
		closed:           make(chan struct{}),
		conns:            newConnTable(),
		disp:             newDispatcher(),
		screenName:       cfg.ScreenName,
		waiters:          make(map[ServiceType][]serviceWaiter),
		requested:        make(map[ServiceType]bool),
		maxMessageLength: protocol.DefaultMaxMessageLength,
		typingCapable:    make(map[string]bool),
		syncer:           contactlist.NewSyncer(),
		rooms:            make(map[string]*Room),
		transfers:        rendezvous.NewTable(),
		peers:            make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer, _ = NewDialer("")
	}
	s.cookies = newCookieSource(s.now)
	s.syncer.SetLogger(s.logger)
	s.feedbag.reset()

	s.registerAuth()
	s.registerOService()
	s.registerICBM()
	s.registerContactList()
	s.registerChat()
	s.registerMail()
	s.registerOffline()
	s.disp.fallback = s.snacErrorFallback
	s.disp.unknown = func(c *Conn, snac *protocol.SNAC) {
		s.logf("Unhandled SNAC %s on %s", describeSNAC(snac), c.Service)
	}
	return s
}

// logf logs a message if a logger is set
func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// State returns the sign-on state
func (s *Session) State() SessionState {
	return s.state
}

// ScreenName returns the account name as the server formats it
func (s *Session) ScreenName() string {
	return s.screenName
}

// Err returns why the session ended, nil after a requested sign-off
func (s *Session) Err() error {
	return s.err
}

// ConnInfo is a snapshot of one connection
type ConnInfo struct {
	ID            ConnID
	Service       ServiceType
	State         ConnState
	Addr          string
	BytesSent     uint64
	BytesReceived uint64
}

// Connections lists the open connections
func (s *Session) Connections() []ConnInfo {
	var out []ConnInfo
	for _, c := range s.conns.all() {
		out = append(out, ConnInfo{
			ID:            c.ID,
			Service:       c.Service,
			State:         c.state,
			Addr:          c.Addr,
			BytesSent:     c.BytesSent(),
			BytesReceived: c.BytesReceived(),
		})
	}
	return out
}

// Connect starts signing on. Progress is reported through the handler.
func (s *Session) Connect() error {
	if s.state != StateDisconnected {
		return fmt.Errorf("connect: session is %s", s.state)
	}
	if s.cache != nil {
		items, err := s.cache.LoadContacts(s.cfg.ScreenName)
		if err != nil {
			s.logf("Contact cache unavailable: %v", err)
		} else if len(items) > 0 {
			s.syncer.Seed(items)
		}
	}
	s.state = StateConnectingAuth
	s.open(ServiceAuth, s.cfg.AuthServer, nil, nil)
	return nil
}

// Post runs fn on the goroutine calling Poll. It reports false once the
// session has ended.
func (s *Session) Post(fn func()) bool {
	select {
	case s.events <- event{kind: evFunc, fn: fn}:
		return true
	case <-s.closed:
		return false
	}
}

// Poll handles exactly one event: a frame, a connect result, a lost
// connection, a keep-alive tick or a posted function. It blocks until one
// is available or ctx ends.
func (s *Session) Poll(ctx context.Context) error {
	if s.state == StateSignedOff {
		return ErrSignedOff
	}
	var tick <-chan time.Time
	if s.keepAlive != nil {
		tick = s.keepAlive.C
	}
	select {
	case ev := <-s.events:
		s.handleEvent(ev)
	case <-tick:
		s.sendKeepAlive()
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Run signs on if needed and polls until the session ends. It returns the
// error that ended it, nil after SignOff.
func (s *Session) Run(ctx context.Context) error {
	if s.state == StateDisconnected {
		if err := s.Connect(); err != nil {
			return err
		}
	}
	for s.state != StateSignedOff {
		if err := s.Poll(ctx); err != nil && ctx.Err() != nil {
			s.SignOff()
			return ctx.Err()
		}
	}
	return s.err
}

// SignOff announces the sign-off on the primary connection and closes
// every connection
func (s *Session) SignOff() {
	if s.state == StateSignedOff {
		return
	}
	if c := s.conns.byService(ServicePrimary); c != nil && c.nc != nil {
		c.flush(&protocol.Frame{Channel: protocol.ChannelSignOff}, signOffFlushTimeout)
	}
	s.terminate(nil)
}

// terminate ends the session once
func (s *Session) terminate(err error) {
	if s.state == StateSignedOff {
		return
	}
	s.state = StateSignedOff
	s.err = err
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
	if err != nil {
		s.logf("Session ended: %v", err)
	} else {
		s.logf("Signed off")
	}

	s.cancelTransfers(protocol.CancelReasonUnknown, "signed off")
	for _, c := range s.conns.all() {
		s.closeConn(c)
	}
	s.failWaiters(err)
	s.saveContacts()
	s.cancel()
	close(s.closed)

	s.handler.SignedOff(err)
}

// open creates a connection and starts dialing. A nil dial uses the
// session dialer.
func (s *Session) open(svc ServiceType, addr string, cookie []byte, dial func(ctx context.Context, addr string) (net.Conn, error)) *Conn {
	c := newConn(s.conns.allocID(), svc, addr, cookie, s.events, s.logger, s.metrics)
	if old := s.conns.add(c); old != nil {
		s.disp.dropConn(old.ID)
		old.close()
	}
	if dial == nil {
		dial = s.dialer.DialContext
	}
	c.dial(s.ctx, dial)
	return c
}

// closeConn removes c from the table and waits for its goroutines
func (s *Session) closeConn(c *Conn) {
	s.conns.remove(c.ID)
	s.disp.dropConn(c.ID)
	c.close()
}

func (s *Session) handleEvent(ev event) {
	var c *Conn
	if ev.conn != 0 {
		var ok bool
		if c, ok = s.conns.get(ev.conn); !ok {
			if ev.nc != nil {
				ev.nc.Close()
			}
			return
		}
	}

	switch ev.kind {
	case evFunc:
		ev.fn()
	case evConnected:
		s.connected(c, ev.nc, ev.err)
	case evClosed:
		s.connLost(c, ev.err)
	case evFrame:
		c.lastActivity = s.now()
		s.handleFrame(c, ev.frame)
	}
}

func (s *Session) connected(c *Conn, nc net.Conn, err error) {
	if err != nil {
		s.connLost(c, &TransportError{Service: c.Service, Op: "dial", Err: err})
		return
	}
	c.attach(nc)
	c.state = ConnHandshaking
	c.lastActivity = s.now()
	s.logf("Connected to %s service at %s", c.Service, c.Addr)
	if c.raw {
		s.peerConnected(c)
	}
}

func (s *Session) handleFrame(c *Conn, f *protocol.Frame) {
	switch f.Channel {
	case protocol.ChannelSignOn:
		s.serverHello(c)
	case protocol.ChannelData:
		snac, err := protocol.DecodeSNAC(f.Payload)
		if err != nil {
			s.connLost(c, &DecodeError{Service: c.Service, Err: err})
			return
		}
		if err := s.disp.dispatch(c, snac); err != nil {
			s.handlerFailed(c, err)
		}
	case protocol.ChannelError:
		s.logf("Channel error frame on %s connection", c.Service)
		s.handler.Error(ErrorTransport, fmt.Sprintf("%s connection reported a protocol error", c.Service))
	case protocol.ChannelSignOff:
		s.serverSignOff(c, f)
	case protocol.ChannelKeepAlive:
	}
}

// handlerFailed reports a failed SNAC handler. Malformed input closes the
// connection it arrived on.
func (s *Session) handlerFailed(c *Conn, err error) {
	var derr *DecodeError
	if errors.As(err, &derr) {
		s.connLost(c, err)
		return
	}
	s.logf("Handler error on %s connection: %v", c.Service, err)
	s.handler.Error(kindOf(err), err.Error())
}

// serverSignOff handles a channel-4 frame. The server uses it to push us
// off, e.g. when the account signs on elsewhere.
func (s *Session) serverSignOff(c *Conn, f *protocol.Frame) {
	var m protocol.SignOffMessage
	if err := m.Decode(f.Payload); err != nil {
		s.connLost(c, &DecodeError{Service: c.Service, Err: err})
		return
	}
	reason := protocol.SignOffReason(m.ErrorCode())
	err := &TransportError{Service: c.Service, Op: "sign-off", Err: fmt.Errorf("%w: %s", ErrForcedSignOff, reason)}
	if c.Service == ServiceAuth || c.Service == ServicePrimary {
		s.handler.Error(ErrorService, fmt.Sprintf("disconnected by server: %s", reason))
	}
	s.connLost(c, err)
}

// connLost applies the peer-close policy of each service
func (s *Session) connLost(c *Conn, err error) {
	s.closeConn(c)
	s.logf("%s connection #%d lost: %v", c.Service, c.ID, err)

	switch c.Service {
	case ServiceAuth, ServicePrimary:
		s.terminate(err)
	case ServiceChat:
		s.roomLost(c, err)
	case ServiceRendezvous:
		s.peerLost(c, err)
	default:
		s.failService(c.Service, err)
		s.handler.Error(kindOf(err), err.Error())
	}
}

func (s *Session) sendKeepAlive() {
	c := s.conns.byService(ServicePrimary)
	if c == nil || c.state != ConnReady {
		return
	}
	if err := c.send(&protocol.Frame{Channel: protocol.ChannelKeepAlive}); err != nil {
		s.logf("Keep-alive failed: %v", err)
	}
}

// primary returns the ready primary connection
func (s *Session) primary() (*Conn, error) {
	if s.state == StateSignedOff {
		return nil, ErrSignedOff
	}
	c := s.conns.byService(ServicePrimary)
	if s.state != StateReady || c == nil || c.state != ConnReady {
		return nil, ErrNotReady
	}
	return c, nil
}

// kindOf maps an error to the kind reported through Handler.Error
func kindOf(err error) ErrorKind {
	var (
		aerr *AuthError
		terr *TransportError
		derr *DecodeError
		ierr *DeliveryError
		cerr *SyncConflictError
	)
	switch {
	case errors.As(err, &aerr):
		return ErrorAuth
	case errors.As(err, &derr):
		return ErrorDecode
	case errors.As(err, &terr):
		return ErrorTransport
	case errors.As(err, &ierr):
		return ErrorDelivery
	case errors.As(err, &cerr):
		return ErrorSync
	default:
		return ErrorService
	}
}
