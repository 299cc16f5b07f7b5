package rendezvous

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// DirectMessage is one frame received over a direct-IM link: either text
// or a typing change
type DirectMessage struct {
	From   string
	Text   string
	Typing uint16
	// IsTyping is set for typing-only frames
	IsTyping bool
}

// DirectLink is an established ODC connection with one peer
type DirectLink struct {
	conn    net.Conn
	cookie  protocol.Cookie
	self    string
	writeMu sync.Mutex
	logger  *log.Logger

	closeOnce sync.Once
}

// NewDirectLink wraps an established peer connection. self is our screen
// name as carried in outgoing frames.
func NewDirectLink(conn net.Conn, cookie protocol.Cookie, self string) *DirectLink {
	return &DirectLink{conn: conn, cookie: cookie, self: self}
}

// SetLogger sets the logger for debug output
func (l *DirectLink) SetLogger(logger *log.Logger) {
	l.logger = logger
}

func (l *DirectLink) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// RemoteAddr returns the peer's address
func (l *DirectLink) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// Send writes one text message using the narrowest charset
func (l *DirectLink) Send(text string) error {
	cs, body := protocol.EncodeText(text)
	return l.write(&protocol.ODCFrame{Encoding: cs, Flags: protocol.ODCFlagMessage, Payload: body})
}

// SendTyping writes a typing notification
func (l *DirectLink) SendTyping(state uint16) error {
	flags := protocol.ODCFlagTypingStopped
	if state == protocol.TypingBegun {
		flags = protocol.ODCFlagTypingBegun
	}
	return l.write(&protocol.ODCFrame{Flags: flags})
}

func (l *DirectLink) write(f *protocol.ODCFrame) error {
	f.Cookie = l.cookie
	f.ScreenName = l.self
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := f.EncodeTo(l.conn); err != nil {
		return fmt.Errorf("direct im write: %w", err)
	}
	l.logf("→ ODC flags=0x%04X len=%d", f.Flags, len(f.Payload))
	return nil
}

// Receive reads the next frame
func (l *DirectLink) Receive() (DirectMessage, error) {
	var f protocol.ODCFrame
	if err := f.DecodeFrom(l.conn); err != nil {
		return DirectMessage{}, err
	}
	l.logf("← ODC flags=0x%04X len=%d from %s", f.Flags, len(f.Payload), f.ScreenName)

	msg := DirectMessage{From: f.ScreenName}
	switch {
	case f.Flags == protocol.ODCFlagTypingBegun:
		msg.IsTyping = true
		msg.Typing = protocol.TypingBegun
	case f.Flags == protocol.ODCFlagTypingStopped && len(f.Payload) == 0:
		msg.IsTyping = true
		msg.Typing = protocol.TypingFinished
	default:
		text, err := protocol.DecodeText(f.Encoding, f.Payload)
		if err != nil {
			return DirectMessage{}, err
		}
		msg.Text = text
	}
	return msg, nil
}

// Run delivers frames to deliver until the link closes or ctx ends
func (l *DirectLink) Run(ctx context.Context, deliver func(DirectMessage)) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		msg, err := l.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		deliver(msg)
	}
}

// Close tears the link down. It is safe to call more than once.
func (l *DirectLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	return err
}
