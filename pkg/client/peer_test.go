package client

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/oscarchat/pkg/oscartest"
	"github.com/aeolun/oscarchat/pkg/protocol"
	"github.com/aeolun/oscarchat/pkg/rendezvous"
)

func signOnPair(t *testing.T) (alice, bob *Session, aliceRec, bobRec *recorder) {
	t.Helper()
	_, alice, bob, aliceRec, bobRec = signOnPairWithServer(t)
	return alice, bob, aliceRec, bobRec
}

func signOnPairWithServer(t *testing.T) (srv *oscartest.Server, alice, bob *Session, aliceRec, bobRec *recorder) {
	t.Helper()
	srv = startServer(t, oscartest.Config{Accounts: accounts()})
	alice, aliceRec = signOn(t, srv, "alice", "wonderland")
	wait(t, aliceRec.signedOn, "alice sign-on")
	bob, bobRec = signOn(t, srv, "bob", "builder")
	wait(t, bobRec.signedOn, "bob sign-on")
	require.NoError(t, srv.WaitReady("alice", waitTimeout))
	require.NoError(t, srv.WaitReady("bob", waitTimeout))
	return srv, alice, bob, aliceRec, bobRec
}

// offerFile has alice offer a file of content to bob and returns both ids
func offerFile(t *testing.T, alice *Session, bobRec *recorder, content string) (sendID string, offer FileOffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, call(t, alice, func() error {
		var err error
		sendID, err = alice.SendFile("bob", path)
		return err
	}))
	return sendID, wait(t, bobRec.offers, "file offer")
}

// quiet fails if ch yields anything within a short grace period
func quiet[T any](t *testing.T, ch chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileTransferThroughRendezvous(t *testing.T) {
	alice, bob, aliceRec, bobRec := signOnPair(t)

	content := strings.Repeat("all work and no play ", 2000)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	var sendID string
	require.NoError(t, call(t, alice, func() error {
		var err error
		sendID, err = alice.SendFile("bob", path)
		return err
	}))

	offer := wait(t, bobRec.offers, "file offer")
	assert.Equal(t, "alice", offer.From)
	assert.Equal(t, "notes.txt", offer.Name)
	assert.Equal(t, 1, offer.Files)
	assert.Equal(t, uint32(len(content)), offer.TotalSize)

	require.NoError(t, call(t, bob, func() error { return bob.AcceptFile(offer.ID) }))

	assert.Equal(t, sendID, wait(t, aliceRec.completed, "sender complete"))
	assert.Equal(t, offer.ID, wait(t, bobRec.completed, "receiver complete"))

	got, err := os.ReadFile(filepath.Join(bob.cfg.Transfer.DownloadDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	assert.Eventually(t, func() bool {
		n := make(chan int, 1)
		if !alice.Post(func() { n <- len(alice.Transfers()) }) {
			return false
		}
		return <-n == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestFileTransferDeclined(t *testing.T) {
	alice, bob, aliceRec, bobRec := signOnPair(t)

	path := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))

	var sendID string
	require.NoError(t, call(t, alice, func() error {
		var err error
		sendID, err = alice.SendFile("bob", path)
		return err
	}))

	offer := wait(t, bobRec.offers, "file offer")
	require.NoError(t, call(t, bob, func() error { return bob.DeclineFile(offer.ID) }))
	assert.Equal(t, offer.ID+"|"+protocol.CancelReason(protocol.CancelReasonDeclined), wait(t, bobRec.canceled, "receiver canceled"))

	got := wait(t, aliceRec.canceled, "sender canceled")
	assert.Equal(t, sendID+"|"+protocol.CancelReason(protocol.CancelReasonDeclined), got)

	err := call(t, bob, func() error { return bob.AcceptFile(offer.ID) })
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestSendFileMissingPath(t *testing.T) {
	alice, _, _, _ := signOnPair(t)

	err := call(t, alice, func() error {
		_, err := alice.SendFile("bob", filepath.Join(t.TempDir(), "missing"))
		return err
	})
	assert.Error(t, err)

	require.NoError(t, call(t, alice, func() error {
		assert.Empty(t, alice.Transfers())
		return nil
	}))
}

func TestDirectIM(t *testing.T) {
	alice, bob, aliceRec, bobRec := signOnPair(t)

	require.NoError(t, call(t, alice, func() error {
		_, err := alice.RequestDirectIM("bob")
		return err
	}))

	id := wait(t, bobRec.proposed, "direct IM proposal")
	require.NoError(t, call(t, bob, func() error { return bob.AcceptDirectIM(id) }))

	assert.Equal(t, "bob", wait(t, aliceRec.linked, "alice link"))
	assert.Equal(t, "alice", wait(t, bobRec.linked, "bob link"))

	require.NoError(t, call(t, alice, func() error { return alice.SendDirectIM("bob", "just us now") }))
	m := waitFor(t, bobRec.messages, "direct message", func(m Message) bool { return m.Flags&FlagDirect != 0 })
	assert.Equal(t, "alice", m.From)
	assert.Equal(t, "just us now", m.Text)

	require.NoError(t, call(t, alice, func() error { return alice.CloseDirectIM("bob") }))
	wait(t, aliceRec.unlinked, "alice closed")
	assert.Equal(t, id, wait(t, bobRec.unlinked, "bob closed"))

	err := call(t, alice, func() error { return alice.SendDirectIM("bob", "hello?") })
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestFileTransferFallsBackToReverseConnect(t *testing.T) {
	srv, alice, bob, aliceRec, bobRec := signOnPairWithServer(t)

	content := strings.Repeat("reverse ", 4096)
	sendID, offer := offerFile(t, alice, bobRec, content)

	// Nothing listens on port 1, so bob's dial fails and it must ask alice
	// to connect instead
	require.NoError(t, call(t, bob, func() error {
		tr, ok := bob.transfers.ByID(offer.ID)
		if !ok {
			return ErrUnknownTransfer
		}
		tr.SetPeerAddr("127.0.0.1:1")
		return bob.AcceptFile(offer.ID)
	}))

	assert.Equal(t, sendID, wait(t, aliceRec.completed, "sender complete"))
	assert.Equal(t, offer.ID, wait(t, bobRec.completed, "receiver complete"))

	got, err := os.ReadFile(filepath.Join(bob.cfg.Transfer.DownloadDir, "payload.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	var reverse *protocol.RendezvousBody
	for reverse == nil {
		r, err := srv.Next(protocol.FamilyICBM, protocol.ICBMSend, waitTimeout)
		require.NoError(t, err, "no second proposal from bob")
		var m protocol.SendICBMMessage
		require.NoError(t, m.Decode(r.SNAC.Body))
		body, ok := m.Body.(*protocol.RendezvousBody)
		if ok && r.ScreenName == "bob" && body.Status == protocol.RendezvousPropose {
			reverse = body
		}
	}
	assert.Equal(t, uint16(2), reverse.RequestNumber)

	quiet(t, aliceRec.canceled, "sender cancel")
	quiet(t, bobRec.canceled, "receiver cancel")
}

func TestFileTransferCanceledMidway(t *testing.T) {
	alice, bob, aliceRec, bobRec := signOnPair(t)

	require.NoError(t, call(t, alice, func() error {
		alice.cfg.Transfer.BytesPerSec = 64 * 1024
		return nil
	}))
	content := strings.Repeat("x", 1<<20)
	sendID, offer := offerFile(t, alice, bobRec, content)
	require.NoError(t, call(t, bob, func() error { return bob.AcceptFile(offer.ID) }))

	waitFor(t, bobRec.progress, "receiver progress", func(done uint64) bool { return done > 0 })
	require.NoError(t, call(t, bob, func() error { return bob.CancelTransfer(offer.ID) }))

	unknown := protocol.CancelReason(protocol.CancelReasonUnknown)
	assert.Equal(t, offer.ID+"|"+unknown, wait(t, bobRec.canceled, "receiver canceled"))
	bobDone := wait(t, bobRec.partial, "receiver byte count")
	assert.Greater(t, bobDone, uint64(0))
	assert.Less(t, bobDone, uint64(len(content)))

	assert.Equal(t, sendID+"|"+unknown, wait(t, aliceRec.canceled, "sender canceled"))
	aliceDone := wait(t, aliceRec.partial, "sender byte count")
	assert.Greater(t, aliceDone, uint64(0))
	assert.Less(t, aliceDone, uint64(len(content)))

	quiet(t, aliceRec.canceled, "second sender cancel")
	quiet(t, aliceRec.completed, "sender completion")
	quiet(t, bobRec.completed, "receiver completion")

	err := call(t, bob, func() error { return bob.CancelTransfer(offer.ID) })
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestCancelAfterCompleteKeepsCompletion(t *testing.T) {
	rec := newRecorder()
	sess := New(SessionConfig{ScreenName: "alice", Transfer: TransferConfig{DownloadDir: t.TempDir()}}, rec)

	tr := rendezvous.NewTransfer("bob", rendezvous.Inbound, protocol.Cookie{1}, nil)
	for _, st := range []rendezvous.State{rendezvous.Connected, rendezvous.Transferring, rendezvous.Complete} {
		require.NoError(t, tr.Advance(st))
	}
	sess.transfers.Add(tr)
	sess.peers[tr.ID] = &peer{transfer: tr}

	require.NoError(t, sess.CancelTransfer(tr.ID))
	assert.Equal(t, rendezvous.Complete, tr.State())
	quiet(t, rec.canceled, "cancel after completion")
}

func TestDriverFailureReportsOneCancel(t *testing.T) {
	rec := newRecorder()
	sess := New(SessionConfig{ScreenName: "alice", Transfer: TransferConfig{DownloadDir: t.TempDir()}}, rec)

	tr := rendezvous.NewTransfer("bob", rendezvous.Inbound, protocol.Cookie{2}, nil)
	require.NoError(t, tr.Advance(rendezvous.Connected))
	require.NoError(t, tr.Advance(rendezvous.Transferring))
	require.True(t, tr.TimeOut())
	sess.transfers.Add(tr)
	sess.peers[tr.ID] = &peer{transfer: tr}

	sess.endTransfer(tr, protocol.CancelReasonUnknown, true)
	assert.Equal(t, tr.ID+"|"+protocol.CancelReason(protocol.CancelReasonTimedOut), wait(t, rec.canceled, "cancel"))

	sess.endTransfer(tr, protocol.CancelReasonUnknown, true)
	quiet(t, rec.canceled, "second cancel")
}
