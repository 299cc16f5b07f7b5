package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrNoFreePort is returned when every port in the range is taken
var ErrNoFreePort = errors.New("no free port in rendezvous range")

// Listen opens a TCP listener on host using the first free port in
// [low, high]. A zero range lets the system pick.
func Listen(host string, low, high int) (net.Listener, error) {
	if low == 0 && high == 0 {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}
	if high < low {
		high = low
	}
	var lastErr error
	for port := low; port <= high; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w %d-%d: %v", ErrNoFreePort, low, high, lastErr)
}

// ListenerPort returns the TCP port a listener is bound to
func ListenerPort(ln net.Listener) uint16 {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// LocalIP returns the address our side of conn uses, the one to advertise
// to a peer that should connect to us
func LocalIP(conn net.Conn) net.IP {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// Accept waits for one peer connection, giving up after timeout or when
// ctx ends. The listener is closed on return.
func Accept(ctx context.Context, ln net.Listener, timeout time.Duration) (net.Conn, error) {
	defer ln.Close()
	if timeout > 0 {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(timeout))
		}
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()
	conn, err := ln.Accept()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return conn, err
}

// Dial connects to a peer, giving up after timeout or when ctx ends
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}
