package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/oscarchat/pkg/protocol"
	"github.com/aeolun/oscarchat/pkg/ratelimit"
)

// ServiceType is the role of a connection
type ServiceType int

const (
	ServiceAuth ServiceType = iota
	ServicePrimary
	ServiceChatNav
	ServiceChat
	ServiceAdmin
	ServiceMail
	ServiceRendezvous
)

func (s ServiceType) String() string {
	switch s {
	case ServiceAuth:
		return "auth"
	case ServicePrimary:
		return "primary"
	case ServiceChatNav:
		return "chatnav"
	case ServiceChat:
		return "chat"
	case ServiceAdmin:
		return "admin"
	case ServiceMail:
		return "mail"
	case ServiceRendezvous:
		return "rendezvous"
	default:
		return fmt.Sprintf("service(%d)", int(s))
	}
}

// Family is the SNAC family requested from the primary connection to reach
// this service
func (s ServiceType) Family() uint16 {
	switch s {
	case ServiceChatNav:
		return protocol.FamilyChatNav
	case ServiceChat:
		return protocol.FamilyChat
	case ServiceAdmin:
		return protocol.FamilyAdmin
	case ServiceMail:
		return protocol.FamilyAlert
	default:
		return 0
	}
}

// MultiInstance reports whether several connections of this type may be
// open at once
func (s ServiceType) MultiInstance() bool {
	return s == ServiceChat || s == ServiceRendezvous
}

// ConnID identifies a connection for the lifetime of the session. IDs are
// never reused.
type ConnID uint32

// ConnState is the lifecycle state of one connection
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnHandshaking
	ConnReady
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnHandshaking:
		return "handshaking"
	case ConnReady:
		return "ready"
	case ConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("conn(%d)", int(s))
	}
}

const flapVersion = 1

// outbound is one queued frame. SNAC frames carry their family and subtype
// so the writer can book them with the rate limiter.
type outbound struct {
	frame   *protocol.Frame
	family  uint16
	subtype uint16
	snac    bool
	flushed chan struct{}
}

// Conn is one socket bound to one service. Fields without a lock are owned
// by the goroutine running Session.Poll; the reader and writer goroutines
// touch only the socket, the counters and the limiter.
type Conn struct {
	ID      ConnID
	Service ServiceType
	Addr    string

	state        ConnState
	cookie       []byte
	room         *Room
	lastActivity time.Time
	pendingSetup int

	limiter *ratelimit.Limiter
	nc      net.Conn
	raw     bool
	seq     uint16

	qmu       sync.Mutex
	backlog   []outbound
	wake      chan struct{}
	events    chan<- event
	shutdown  chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger  *log.Logger
	metrics *Metrics
}

func newConn(id ConnID, svc ServiceType, addr string, cookie []byte, events chan<- event, logger *log.Logger, metrics *Metrics) *Conn {
	return &Conn{
		ID:       id,
		Service:  svc,
		Addr:     addr,
		cookie:   cookie,
		raw:      svc == ServiceRendezvous,
		limiter:  ratelimit.New(ratelimit.WithLogger(logger)),
		seq:      uint16(rand.IntN(0x8000)),
		wake:     make(chan struct{}, 1),
		events:   events,
		shutdown: make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

// logf logs a message if a logger is set
func (c *Conn) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf("[%s#%d] "+format, append([]interface{}{c.Service, c.ID}, args...)...)
	}
}

// State returns the connection state
func (c *Conn) State() ConnState {
	return c.state
}

// Limiter returns the rate limiter of this connection
func (c *Conn) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// BytesSent returns the total bytes written
func (c *Conn) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the total bytes read
func (c *Conn) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// LocalAddr returns the local socket address once connected
func (c *Conn) LocalAddr() net.Addr {
	if c.nc == nil {
		return nil
	}
	return c.nc.LocalAddr()
}

// post hands an event to the session unless the connection was closed
func (c *Conn) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.shutdown:
		return false
	}
}

// dial connects in the background and reports the result as an event
func (c *Conn) dial(parent context.Context, dial func(ctx context.Context, addr string) (net.Conn, error)) {
	ctx, cancel := context.WithCancel(parent)
	c.ctx, c.cancel = ctx, cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logf("Connecting to %s...", c.Addr)
		nc, err := dial(ctx, c.Addr)
		if err != nil {
			c.logf("Connection failed: %v", err)
		}
		if !c.post(event{kind: evConnected, conn: c.ID, nc: nc, err: err}) && nc != nil {
			nc.Close()
		}
	}()
}

// attach adopts an established socket and starts the reader and writer.
// Raw connections are driven by their rendezvous driver instead.
func (c *Conn) attach(nc net.Conn) {
	c.nc = nc
	c.metrics.connOpened(c.Service)
	if c.raw {
		return
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// drive runs fn against the socket of a raw connection. Its return is
// reported as the connection closing; nil means the peer session finished.
func (c *Conn) drive(fn func(ctx context.Context, nc net.Conn) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := fn(c.ctx, c.nc)
		c.post(event{kind: evClosed, conn: c.ID, err: err})
	}()
}

// close tears the connection down and waits for its goroutines. Once it
// returns no further event for this connection reaches the session.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		if c.cancel != nil {
			c.cancel()
		}
		if c.nc != nil {
			c.nc.Close()
			c.metrics.connClosed(c.Service)
		}
		c.state = ConnClosed
	})
	c.wg.Wait()
}

// send queues a raw frame
func (c *Conn) send(f *protocol.Frame) error {
	return c.enqueue(outbound{frame: f})
}

// flush queues f and waits until it is written or timeout passes
func (c *Conn) flush(f *protocol.Frame, timeout time.Duration) {
	done := make(chan struct{})
	if err := c.enqueue(outbound{frame: f, flushed: done}); err != nil {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

// sendSNAC encodes and queues a SNAC on the data channel
func (c *Conn) sendSNAC(family, subtype uint16, reqID uint32, msg protocol.Message) error {
	var body []byte
	if msg != nil {
		var err error
		if body, err = msg.Encode(); err != nil {
			return fmt.Errorf("encode %02X/%02X: %w", family, subtype, err)
		}
	}
	payload, err := protocol.EncodeSNAC(family, subtype, 0, reqID, body)
	if err != nil {
		return fmt.Errorf("encode %02X/%02X: %w", family, subtype, err)
	}
	f := &protocol.Frame{Channel: protocol.ChannelData, Payload: payload}
	return c.enqueue(outbound{frame: f, family: family, subtype: subtype, snac: true})
}

func (c *Conn) enqueue(o outbound) error {
	if c.state == ConnClosed {
		return &TransportError{Service: c.Service, Op: "send", Err: net.ErrClosed}
	}
	select {
	case <-c.shutdown:
		return &TransportError{Service: c.Service, Op: "send", Err: net.ErrClosed}
	default:
	}
	c.qmu.Lock()
	c.backlog = append(c.backlog, o)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// next pops the oldest queued frame, waiting until one arrives. The backlog
// has no bound: frames held by the rate limiter pile up here, never dropped.
func (c *Conn) next() (outbound, bool) {
	for {
		c.qmu.Lock()
		if len(c.backlog) > 0 {
			o := c.backlog[0]
			c.backlog[0] = outbound{}
			c.backlog = c.backlog[1:]
			c.qmu.Unlock()
			return o, true
		}
		c.qmu.Unlock()
		select {
		case <-c.wake:
		case <-c.shutdown:
			return outbound{}, false
		}
	}
}

// queued returns the number of frames waiting for the writer
func (c *Conn) queued() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.backlog)
}

// readLoop reads frames from the socket and posts them in arrival order
func (c *Conn) readLoop() {
	defer c.wg.Done()

	reader := &countingReader{r: c.nc, counter: &c.bytesReceived}
	for {
		before := c.bytesReceived.Load()
		frame, err := protocol.DecodeFrame(reader)
		if err != nil {
			select {
			case <-c.shutdown:
				return
			default:
			}
			var cerr error
			switch {
			case errors.Is(err, protocol.ErrMalformed):
				c.logf("Decode error: %v", err)
				cerr = &DecodeError{Service: c.Service, Err: err}
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				c.logf("Connection closed by server (EOF)")
				cerr = &TransportError{Service: c.Service, Op: "read", Err: io.EOF}
			default:
				c.logf("Read error: %v", err)
				cerr = &TransportError{Service: c.Service, Op: "read", Err: err}
			}
			c.post(event{kind: evClosed, conn: c.ID, err: cerr})
			return
		}

		c.metrics.frameReceived(c.Service, int(c.bytesReceived.Load()-before))
		c.logf("← RECV: Channel=%d Seq=%d %sPayloadLen=%d", frame.Channel, frame.Sequence, snacLabel(frame), len(frame.Payload))

		if !c.post(event{kind: evFrame, conn: c.ID, frame: frame}) {
			return
		}
	}
}

// writeLoop writes queued frames, holding each SNAC back for as long as its
// rate class asks. A cleared class releases every held frame at once.
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	writer := &countingWriter{w: c.nc, counter: &c.bytesSent}
	for {
		o, ok := c.next()
		if !ok {
			return
		}

		if o.snac {
			if delay := c.limiter.Reserve(o.family, o.subtype); delay > 0 {
				c.metrics.deferred(c.Service, delay)
				c.logf("Rate limited: holding %02X/%02X for %v", o.family, o.subtype, delay)
				released := c.limiter.Released()
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-released:
					timer.Stop()
				case <-c.shutdown:
					timer.Stop()
					return
				}
			}
		}

		o.frame.Sequence = c.seq
		c.seq++

		var buf bytes.Buffer
		if err := protocol.EncodeFrame(&buf, o.frame); err != nil {
			c.logf("Encode error: %v", err)
			if o.flushed != nil {
				close(o.flushed)
			}
			continue
		}
		if _, err := writer.Write(buf.Bytes()); err != nil {
			select {
			case <-c.shutdown:
				return
			default:
			}
			c.logf("Write error: %v", err)
			c.post(event{kind: evClosed, conn: c.ID, err: &TransportError{Service: c.Service, Op: "write", Err: err}})
			return
		}

		if o.flushed != nil {
			close(o.flushed)
		}
		c.metrics.frameSent(c.Service, buf.Len())
		c.logf("→ SEND: Channel=%d Seq=%d %sPayloadLen=%d", o.frame.Channel, o.frame.Sequence, snacLabel(o.frame), len(o.frame.Payload))
	}
}

// snacLabel renders the family/subtype of a data-channel frame for logs
func snacLabel(f *protocol.Frame) string {
	if f.Channel != protocol.ChannelData || len(f.Payload) < 4 {
		return ""
	}
	family := uint16(f.Payload[0])<<8 | uint16(f.Payload[1])
	subtype := uint16(f.Payload[2])<<8 | uint16(f.Payload[3])
	return fmt.Sprintf("SNAC=%02X/%02X ", family, subtype)
}

// countingReader wraps an io.Reader and counts bytes read using atomic counter
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.counter != nil {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

// countingWriter wraps an io.Writer and counts bytes written using atomic counter
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.counter != nil {
		cw.counter.Add(uint64(n))
	}
	return n, err
}
