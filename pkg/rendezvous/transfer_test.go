package rendezvous

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

var testCookie = protocol.Cookie{1, 2, 3, 4, 5, 6, 7, 8}

func TestTransferLifecycle(t *testing.T) {
	tr := NewTransfer("bob", Outbound, testCookie, []FileInfo{{Name: "a", Size: 100}, {Name: "b", Size: 200}})
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, Proposed, tr.State())
	assert.Equal(t, Progress{FilesTotal: 2, BytesTotal: 300}, tr.Progress())

	require.NoError(t, tr.Advance(Negotiating))
	require.NoError(t, tr.Advance(Negotiating), "reverse connect renegotiates")
	require.NoError(t, tr.Advance(Connected))
	require.NoError(t, tr.Advance(Transferring))

	err := tr.Advance(Proposed)
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Contains(t, err.Error(), "transferring -> proposed")

	assert.True(t, tr.markComplete())
	assert.False(t, tr.markComplete(), "complete is announced once")
	assert.Equal(t, Complete, tr.State())
	assert.False(t, tr.Cancel(protocol.CancelReasonDeclined), "terminal states stay put")
}

func TestTransferCancelAndTimeout(t *testing.T) {
	tr := NewTransfer("bob", Inbound, testCookie, nil)
	assert.True(t, tr.Cancel(protocol.CancelReasonDeclined))
	assert.Equal(t, Canceled, tr.State())
	assert.Equal(t, protocol.CancelReasonDeclined, tr.CancelReason())
	assert.ErrorIs(t, tr.Advance(Negotiating), ErrBadTransition)

	tr = NewTransfer("bob", Inbound, testCookie, nil)
	assert.True(t, tr.TimeOut())
	assert.Equal(t, TimedOut, tr.State())
	assert.Equal(t, protocol.CancelReasonTimedOut, tr.CancelReason())
}

func TestTransferIDsAreUnique(t *testing.T) {
	a := NewTransfer("bob", Outbound, testCookie, nil)
	b := NewTransfer("bob", Outbound, testCookie, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDirectIMTransfer(t *testing.T) {
	tr := NewDirectIM("bob", Inbound, testCookie)
	assert.Equal(t, KindDirectIM, tr.Kind)
	tr.SetPeerAddr("10.0.0.2:5190")
	tr.SetRequestNumber(2)
	assert.Equal(t, "10.0.0.2:5190", tr.PeerAddr())
	assert.Equal(t, uint16(2), tr.RequestNumber())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "timed out", TimedOut.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, Canceled.Terminal())
	assert.False(t, Connected.Terminal())
	assert.Equal(t, "inbound", Inbound.String())
}

func TestTable(t *testing.T) {
	tb := NewTable()
	a := NewTransfer("bob", Outbound, testCookie, nil)
	tb.Add(a)

	got, ok := tb.ByCookie(testCookie)
	require.True(t, ok)
	assert.Same(t, a, got)
	got, ok = tb.ByID(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	// a new proposal with the same cookie replaces the old one
	b := NewTransfer("bob", Outbound, testCookie, nil)
	tb.Add(b)
	assert.Equal(t, 1, tb.Len())
	_, ok = tb.ByID(a.ID)
	assert.False(t, ok)

	tb.Remove(a)
	assert.Equal(t, 1, tb.Len(), "removing a stale entry keeps the current one")
	tb.Remove(b)
	assert.Zero(t, tb.Len())
	assert.Empty(t, tb.All())
}
