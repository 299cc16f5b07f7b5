package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestNewDialerDirect(t *testing.T) {
	d, err := NewDialer("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Method() != "tcp" {
		t.Fatalf("expected tcp method, got %s", d.Method())
	}
	if d.Proxy() != "" {
		t.Fatalf("expected no proxy for direct dialer, got %q", d.Proxy())
	}
	if d.Warning() != "" {
		t.Fatalf("expected no warning for TCP, got %q", d.Warning())
	}
}

func TestNewDialerSSH(t *testing.T) {
	t.Setenv("OSCAR_SSH_USER", "tester")
	t.Setenv("SSH_KNOWN_HOSTS", filepath.Join(t.TempDir(), "missing_known_hosts"))

	d, err := NewDialer("ssh://jump.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := "ssh://tester@jump.example.com:22"; d.String() != expected {
		t.Fatalf("expected display %s, got %s", expected, d.String())
	}
	if d.Proxy() != d.String() {
		t.Fatalf("expected proxy to round-trip, got %q", d.Proxy())
	}
	if d.Warning() == "" {
		t.Fatal("expected warning when known_hosts is missing")
	}
}

func TestNewDialerBareHostIsSSH(t *testing.T) {
	t.Setenv("OSCAR_SSH_USER", "tester")
	d, err := NewDialer("jump.example.com:2222")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Method() != "ssh" {
		t.Fatalf("expected ssh method, got %s", d.Method())
	}
}

func TestNewDialerWebSocketDefaultPath(t *testing.T) {
	d, err := NewDialer("wss://gateway.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Method() != "wss" {
		t.Fatalf("expected wss method, got %s", d.Method())
	}
	if !strings.HasSuffix(d.String(), "/oscar") {
		t.Fatalf("expected default gateway path, got %s", d.String())
	}
}

func TestNewDialerInvalidScheme(t *testing.T) {
	if _, err := NewDialer("udp://example.com"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	} else if !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDialContextDefaultPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan struct{})
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
		close(accepted)
	}()

	d, _ := NewDialer("")
	conn, err := d.DialContext(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the connection")
	}

	host, port, err := splitHostPortWithDefault("login.example.com", DefaultPort)
	if err != nil || host != "login.example.com" || port != DefaultPort {
		t.Fatalf("expected default port, got %s %s %v", host, port, err)
	}
}

func TestAppendKnownHostAddsComment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert test key: %v", err)
	}

	if err := appendKnownHost(path, "example.com", "SSH-2.0-Gateway", key); err != nil {
		t.Fatalf("appendKnownHost returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read known_hosts file: %v", err)
	}

	contents := string(data)
	if !strings.Contains(contents, "oscar jump host") {
		t.Fatalf("expected comment in known_hosts entry, got %q", contents)
	}
	if !strings.Contains(contents, "example.com") {
		t.Fatalf("expected hostname in known_hosts entry, got %q", contents)
	}
}

func TestResolveProxy(t *testing.T) {
	state := NewMockState()
	state.SetHistory("login.example.com:5190", "ssh://me@jump:22")

	if got := ResolveProxy("login.example.com", "", state, nil); got != "ssh://me@jump:22" {
		t.Fatalf("expected proxy from history, got %q", got)
	}
	if got := ResolveProxy("login.example.com", "wss://gw/oscar", state, nil); got != "wss://gw/oscar" {
		t.Fatalf("configured proxy must win, got %q", got)
	}
	if got := ResolveProxy("other.example.com:5190", "", state, nil); got != "" {
		t.Fatalf("expected direct connection without history, got %q", got)
	}
	if got := ResolveProxy("login.example.com:5190", "", nil, nil); got != "" {
		t.Fatalf("expected direct connection without state, got %q", got)
	}
}
