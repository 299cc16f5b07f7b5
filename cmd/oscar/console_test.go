package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aeolun/oscarchat/pkg/client"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

func TestCut(t *testing.T) {
	word, rest := cut("  bob   hello there  ")
	assert.Equal(t, "bob", word)
	assert.Equal(t, "hello there", rest)

	word, rest = cut("quit")
	assert.Equal(t, "quit", word)
	assert.Empty(t, rest)
}

func TestRoomLabel(t *testing.T) {
	assert.Equal(t, "gophers", roomLabel(protocol.ChatRoomRef{Exchange: 4, Cookie: "!aol://2719:10-4-gophers"}))
	assert.Equal(t, "odd", roomLabel(protocol.ChatRoomRef{Cookie: "odd"}))
}

func TestBackoff(t *testing.T) {
	max := 10 * time.Second
	assert.Equal(t, time.Second, backoff(1, max))
	assert.Equal(t, 2*time.Second, backoff(2, max))
	assert.Equal(t, 8*time.Second, backoff(4, max))
	assert.Equal(t, max, backoff(5, max))
	assert.Equal(t, max, backoff(50, max))
	assert.Equal(t, 30*time.Second, backoff(50, 0))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&client.TransportError{Service: client.ServicePrimary, Op: "read", Err: fmt.Errorf("reset")}))
	assert.False(t, retryable(&client.AuthError{Code: protocol.AuthErrBadPassword}))
	assert.False(t, retryable(fmt.Errorf("kicked: %w", client.ErrForcedSignOff)))
}

func TestConsoleUnknownInput(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out)
	c.execute("hello")
	assert.Contains(t, out.String(), "commands start with /")

	out.Reset()
	c.execute("   ")
	assert.Empty(t, out.String())
}
