package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/oscartest"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

const waitTimeout = 5 * time.Second

// recorder captures upcalls on channels so tests can wait for them
type recorder struct {
	NopHandler

	signedOn   chan struct{}
	signedOff  chan error
	messages   chan Message
	failures   chan *DeliveryError
	presence   chan Presence
	synced     chan []contactlist.Item
	warnings   chan string
	errs       chan string
	membership chan string
	chat       chan string
	mail       chan int
	typing     chan string
	offers     chan FileOffer
	completed  chan string
	canceled   chan string
	partial    chan uint64
	progress   chan uint64
	proposed   chan string
	linked     chan string
	unlinked   chan string
}

func newRecorder() *recorder {
	return &recorder{
		signedOn:   make(chan struct{}, 4),
		signedOff:  make(chan error, 4),
		messages:   make(chan Message, 64),
		failures:   make(chan *DeliveryError, 64),
		presence:   make(chan Presence, 64),
		synced:     make(chan []contactlist.Item, 64),
		warnings:   make(chan string, 64),
		errs:       make(chan string, 64),
		membership: make(chan string, 64),
		chat:       make(chan string, 64),
		mail:       make(chan int, 4),
		typing:     make(chan string, 16),
		offers:     make(chan FileOffer, 4),
		completed:  make(chan string, 4),
		canceled:   make(chan string, 4),
		partial:    make(chan uint64, 4),
		progress:   make(chan uint64, 1024),
		proposed:   make(chan string, 4),
		linked:     make(chan string, 4),
		unlinked:   make(chan string, 4),
	}
}

func push[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (r *recorder) SignedOn() { push(r.signedOn, struct{}{}) }
func (r *recorder) SignedOff(err error) { push(r.signedOff, err) }
func (r *recorder) MessageReceived(m Message) { push(r.messages, m) }
func (r *recorder) DeliveryFailed(to string, err *DeliveryError) { push(r.failures, err) }
func (r *recorder) BuddyPresenceChanged(p Presence) { push(r.presence, p) }
func (r *recorder) ContactListSynced(items []contactlist.Item) { push(r.synced, items) }
func (r *recorder) ContactListWarning(message string) { push(r.warnings, message) }
func (r *recorder) MailStatus(unread int, url string) { push(r.mail, unread) }
func (r *recorder) TypingChanged(from string, state uint16) { push(r.typing, from) }
func (r *recorder) ChatMessageReceived(room, from, text string) { push(r.chat, room+"|"+from+"|"+text) }
func (r *recorder) FileTransferRequested(offer FileOffer) { push(r.offers, offer) }
func (r *recorder) FileTransferComplete(id string) { push(r.completed, id) }
func (r *recorder) FileTransferProgress(id string, done, total uint64) { push(r.progress, done) }
func (r *recorder) FileTransferCanceled(id string, reason string, done uint64) {
	push(r.canceled, id+"|"+reason)
	push(r.partial, done)
}
func (r *recorder) DirectConnectProposed(id, from string) { push(r.proposed, id) }
func (r *recorder) DirectConnectEstablished(id, peer string) { push(r.linked, peer) }
func (r *recorder) DirectConnectClosed(id string, err error) { push(r.unlinked, id) }
func (r *recorder) ChatMembershipChanged(room, who string, joined bool) {
	state := "left"
	if joined {
		state = "joined"
	}
	push(r.membership, room+"|"+who+"|"+state)
}

func (r *recorder) Error(kind ErrorKind, message string) {
	push(r.errs, kind.String()+": "+message)
}

func wait[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// waitFor reads ch until match accepts a value
func waitFor[T any](t *testing.T, ch chan T, what string, match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			var zero T
			return zero
		}
	}
}

func startServer(t *testing.T, cfg oscartest.Config) *oscartest.Server {
	t.Helper()
	srv := oscartest.NewServer(cfg)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func buddyGroup(t *testing.T, name string, groupID uint16, members ...uint16) protocol.FeedbagItem {
	t.Helper()
	g := protocol.FeedbagItem{Name: name, GroupID: groupID, Class: protocol.FeedbagClassGroup}
	g.SetMembers(members)
	return g
}

func accounts() map[string]*oscartest.Account {
	return map[string]*oscartest.Account{
		"alice": {Password: "wonderland"},
		"bob":   {Password: "builder"},
	}
}

// signOn runs a session for name until the test ends
func signOn(t *testing.T, srv *oscartest.Server, name, password string, opts ...Option) (*Session, *recorder) {
	t.Helper()
	rec := newRecorder()
	sess := New(SessionConfig{
		ScreenName: name,
		Password:   password,
		AuthServer: srv.AuthAddr(),
		Transfer:   TransferConfig{DownloadDir: t.TempDir(), Timeout: 2 * time.Second},
	}, rec, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sess, rec
}

// call runs fn on the session goroutine and returns its result
func call(t *testing.T, sess *Session, fn func() error) error {
	t.Helper()
	res := make(chan error, 1)
	require.True(t, sess.Post(func() { res <- fn() }), "session has ended")
	return wait(t, res, "session call")
}

func TestSessionSignOn(t *testing.T) {
	accts := accounts()
	accts["alice"].Feedbag = []protocol.FeedbagItem{
		buddyGroup(t, "Buddies", 1, 5),
		{Name: "bob", GroupID: 1, ItemID: 5, Class: protocol.FeedbagClassBuddy},
	}
	srv := startServer(t, oscartest.Config{Accounts: accts, MaxMessageLength: 512})

	sess, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	items := wait(t, rec.synced, "contact list")
	var names []string
	for _, it := range items {
		names = append(names, it.Type.String()+":"+it.Name)
	}
	assert.Contains(t, names, "buddy:bob")
	assert.Contains(t, names, "group:Buddies")

	require.NoError(t, call(t, sess, func() error {
		assert.Equal(t, StateReady, sess.State())
		assert.Equal(t, 512, sess.MaxMessageLength())
		conns := sess.Connections()
		require.Len(t, conns, 1)
		assert.Equal(t, ServicePrimary, conns[0].Service)
		assert.Equal(t, ConnReady, conns[0].State)
		return nil
	}))

	_, err := srv.Next(protocol.FamilyFeedbag, protocol.FeedbagActivate, waitTimeout)
	require.NoError(t, err)
}

func TestSessionBadPassword(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	_, rec := signOn(t, srv, "alice", "looking-glass")
	err := wait(t, rec.signedOff, "sign-off")

	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, protocol.AuthErrBadPassword, aerr.Code)
	msg := wait(t, rec.errs, "auth error")
	assert.True(t, strings.HasPrefix(msg, ErrorAuth.String()), msg)
}

func TestSessionUnknownAccount(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	_, rec := signOn(t, srv, "mallory", "whatever")
	err := wait(t, rec.signedOff, "sign-off")

	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, protocol.AuthErrInvalidScreenName, aerr.Code)
}

func TestSessionOperationsBeforeSignOn(t *testing.T) {
	sess := New(SessionConfig{ScreenName: "alice", AuthServer: "127.0.0.1:1"}, nil)

	assert.ErrorIs(t, sess.SendIM("bob", "hi", SendOptions{}), ErrNotReady)
	assert.ErrorIs(t, sess.SendTyping("bob", protocol.TypingBegun), ErrNotReady)
	assert.ErrorIs(t, sess.SetAway("gone"), ErrNotReady)
	assert.ErrorIs(t, sess.SendChat("gophers", "hi"), ErrUnknownRoom)
	assert.ErrorIs(t, sess.CancelTransfer("nope"), ErrUnknownTransfer)
}

func TestSendIMDelivered(t *testing.T) {
	accts := accounts()
	accts["alice"].Feedbag = []protocol.FeedbagItem{
		buddyGroup(t, "Buddies", 1, 5),
		{Name: "bob", GroupID: 1, ItemID: 5, Class: protocol.FeedbagClassBuddy},
	}
	srv := startServer(t, oscartest.Config{Accounts: accts})

	alice, aliceRec := signOn(t, srv, "alice", "wonderland")
	wait(t, aliceRec.signedOn, "alice sign-on")
	_, bobRec := signOn(t, srv, "bob", "builder")
	wait(t, bobRec.signedOn, "bob sign-on")

	p := waitFor(t, aliceRec.presence, "bob online", func(p Presence) bool { return p.Name == "bob" })
	assert.True(t, p.Online)

	require.NoError(t, call(t, alice, func() error {
		return alice.SendIM("bob", "hello bob", SendOptions{})
	}))

	m := wait(t, bobRec.messages, "message")
	assert.Equal(t, "alice", m.From)
	assert.Equal(t, "hello bob", m.Text)
	assert.NotZero(t, m.Flags&FlagTypingCapable)
	assert.Zero(t, m.Flags&FlagOffline)

	_, err := srv.Next(protocol.FamilyICBM, protocol.ICBMSend, waitTimeout)
	require.NoError(t, err)
}

func TestSendIMRecipientOffline(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.NoError(t, call(t, alice, func() error {
		return alice.SendIM("carol", "anyone home?", SendOptions{})
	}))

	derr := wait(t, rec.failures, "delivery failure")
	assert.Equal(t, "carol", derr.To)
	assert.Equal(t, uint16(0x0004), derr.Code)
	assert.Equal(t, "not logged in", derr.Reason)
}

func TestSendIMTooLong(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts(), MaxMessageLength: 64})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	err := call(t, alice, func() error {
		return alice.SendIM("bob", strings.Repeat("x", 65), SendOptions{})
	})
	assert.ErrorIs(t, err, protocol.ErrMessageTooLarge)

	err = call(t, alice, func() error {
		return alice.SendIM("bob", strings.Repeat("x", 64), SendOptions{AutoResponse: true})
	})
	assert.NoError(t, err)
}

func TestIncomingMessageEnablesTyping(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	err := call(t, alice, func() error {
		return alice.SendTyping("bob", protocol.TypingBegun)
	})
	assert.ErrorIs(t, err, ErrNotTypingCapable)

	require.NoError(t, srv.Deliver("Bob", "alice", "psst"))
	m := wait(t, rec.messages, "message")
	assert.Equal(t, "Bob", m.From)
	assert.Equal(t, "psst", m.Text)

	require.NoError(t, call(t, alice, func() error {
		return alice.SendTyping("bob", protocol.TypingBegun)
	}))
	_, err = srv.Next(protocol.FamilyICBM, protocol.ICBMTypingNotify, waitTimeout)
	require.NoError(t, err)
}

func TestBuddyDeparture(t *testing.T) {
	accts := accounts()
	accts["alice"].Feedbag = []protocol.FeedbagItem{
		buddyGroup(t, "Buddies", 1, 5),
		{Name: "bob", GroupID: 1, ItemID: 5, Class: protocol.FeedbagClassBuddy},
	}
	srv := startServer(t, oscartest.Config{Accounts: accts})

	_, aliceRec := signOn(t, srv, "alice", "wonderland")
	wait(t, aliceRec.signedOn, "alice sign-on")

	bob, bobRec := signOn(t, srv, "bob", "builder")
	wait(t, bobRec.signedOn, "bob sign-on")
	waitFor(t, aliceRec.presence, "bob online", func(p Presence) bool { return p.Online })

	require.True(t, bob.Post(bob.SignOff))
	err := wait(t, bobRec.signedOff, "bob sign-off")
	assert.NoError(t, err)

	p := waitFor(t, aliceRec.presence, "bob offline", func(p Presence) bool { return !p.Online })
	assert.Equal(t, "bob", p.Name)
}

func TestForcedSignOff(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	_, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")
	require.NoError(t, srv.WaitReady("alice", waitTimeout))

	require.NoError(t, srv.Kick("alice", 0x0001))
	err := wait(t, rec.signedOff, "sign-off")
	assert.ErrorIs(t, err, ErrForcedSignOff)
	assert.Equal(t, ErrorTransport, kindOf(err))
}

func TestAddBuddyAcked(t *testing.T) {
	accts := accounts()
	accts["alice"].Feedbag = []protocol.FeedbagItem{buddyGroup(t, "Buddies", 1)}
	srv := startServer(t, oscartest.Config{Accounts: accts})
	cache := NewMockState()

	alice, rec := signOn(t, srv, "alice", "wonderland", WithContactCache(cache))
	wait(t, rec.signedOn, "sign-on")
	wait(t, rec.synced, "initial contact list")

	require.NoError(t, call(t, alice, func() error {
		return alice.AddBuddy("dave", "Buddies")
	}))

	items := waitFor(t, rec.synced, "synced list with dave", func(items []contactlist.Item) bool {
		for _, it := range items {
			if it.Type == contactlist.Buddy && it.Name == "dave" {
				return true
			}
		}
		return false
	})
	assert.NotEmpty(t, items)

	var stored []string
	for _, fb := range srv.Feedbag("alice") {
		if fb.Class == protocol.FeedbagClassBuddy {
			stored = append(stored, fb.Name)
		}
	}
	assert.Equal(t, []string{"dave"}, stored)

	var cached []string
	for _, it := range cache.Contacts("alice") {
		if it.Type == contactlist.Buddy {
			cached = append(cached, it.Name)
		}
	}
	assert.Equal(t, []string{"dave"}, cached)
}

func TestAddBuddyAuthorizationRequired(t *testing.T) {
	accts := accounts()
	accts["alice"].Feedbag = []protocol.FeedbagItem{buddyGroup(t, "Buddies", 1)}
	accts["alice"].AckCodes = map[string]uint16{"erin": contactlist.AckAuthRequired}
	srv := startServer(t, oscartest.Config{Accounts: accts})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.NoError(t, call(t, alice, func() error {
		return alice.AddBuddy("erin", "Buddies")
	}))

	warning := wait(t, rec.warnings, "authorization warning")
	assert.Contains(t, warning, "erin")

	r, err := srv.Next(protocol.FamilyICBM, protocol.ICBMSend, waitTimeout)
	require.NoError(t, err)
	var m protocol.SendICBMMessage
	require.NoError(t, m.Decode(r.SNAC.Body))
	assert.Equal(t, "erin", m.ScreenName)
	assert.Equal(t, protocol.ICBMChannelExtended, m.Body.Channel())

	_, err = srv.Next(protocol.FamilyICBM, protocol.ICBMSend, 300*time.Millisecond)
	assert.Error(t, err, "only one authorization request per add")
}

func TestAddBuddyRejected(t *testing.T) {
	accts := accounts()
	accts["alice"].Feedbag = []protocol.FeedbagItem{buddyGroup(t, "Buddies", 1)}
	accts["alice"].AckCodes = map[string]uint16{"frank": contactlist.AckInvalidName}
	srv := startServer(t, oscartest.Config{Accounts: accts})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.NoError(t, call(t, alice, func() error {
		return alice.AddBuddy("frank", "Buddies")
	}))

	msg := waitFor(t, rec.errs, "sync error", func(m string) bool {
		return strings.HasPrefix(m, ErrorSync.String())
	})
	assert.Contains(t, msg, "frank")

	require.NoError(t, call(t, alice, func() error {
		for _, it := range alice.Contacts() {
			assert.NotEqual(t, "frank", it.Name)
		}
		return nil
	}))
}

func TestChatCreateJoinAndTalk(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, aliceRec := signOn(t, srv, "alice", "wonderland")
	wait(t, aliceRec.signedOn, "alice sign-on")
	bob, bobRec := signOn(t, srv, "bob", "builder")
	wait(t, bobRec.signedOn, "bob sign-on")

	require.NoError(t, call(t, alice, func() error { return alice.CreateRoom("gophers") }))
	waitFor(t, aliceRec.membership, "alice in room", func(m string) bool { return m == "gophers|alice|joined" })

	ref := srv.CreateRoom(protocol.DefaultChatExchange, "gophers")
	require.NoError(t, call(t, bob, func() error {
		return bob.JoinRoom(ChatInvite{Room: ref, From: "alice"})
	}))
	waitFor(t, bobRec.membership, "bob sees alice", func(m string) bool { return m == "gophers|alice|joined" })
	waitFor(t, aliceRec.membership, "alice sees bob", func(m string) bool { return m == "gophers|bob|joined" })

	require.NoError(t, call(t, alice, func() error { return alice.SendChat("gophers", "welcome") }))
	assert.Equal(t, "gophers|alice|welcome", wait(t, bobRec.chat, "chat message"))

	require.NoError(t, call(t, bob, func() error {
		rooms := bob.Rooms()
		require.Len(t, rooms, 1)
		assert.Equal(t, []string{"alice", "bob"}, rooms[0].Members())
		return bob.LeaveRoom("Gophers")
	}))
	waitFor(t, bobRec.membership, "bob left", func(m string) bool { return m == "gophers|bob|left" })
	waitFor(t, aliceRec.membership, "alice sees bob leave", func(m string) bool { return m == "gophers|bob|left" })

	err := call(t, bob, func() error { return bob.SendChat("gophers", "still here?") })
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestCheckMail(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.NoError(t, call(t, alice, alice.CheckMail))
	assert.Equal(t, 3, wait(t, rec.mail, "mail status"))
}

func TestServiceUnavailable(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts(), Unavailable: []uint16{protocol.FamilyAlert}})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.NoError(t, call(t, alice, alice.CheckMail))
	msg := waitFor(t, rec.errs, "service error", func(m string) bool { return strings.Contains(m, "unavailable") })
	assert.Contains(t, msg, "mail")

	// The session survives a refused service
	require.NoError(t, call(t, alice, func() error {
		assert.Equal(t, StateReady, alice.State())
		return nil
	}))
}

func TestFormatScreenName(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	done := make(chan error, 2)
	require.NoError(t, call(t, alice, func() error {
		return alice.FormatScreenName("ALICE", func(err error) { done <- err })
	}))
	require.NoError(t, wait(t, done, "format reply"))
	require.NoError(t, call(t, alice, func() error {
		assert.Equal(t, "ALICE", alice.ScreenName())
		return nil
	}))

	require.NoError(t, call(t, alice, func() error {
		return alice.FormatScreenName("bob", func(err error) { done <- err })
	}))
	err := wait(t, done, "refused format")
	var aerr *AdminError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, protocol.AdminErrInvalidName, aerr.Code)
}

func TestChangePassword(t *testing.T) {
	accts := accounts()
	srv := startServer(t, oscartest.Config{Accounts: accts})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	done := make(chan error, 2)
	require.NoError(t, call(t, alice, func() error {
		return alice.ChangePassword("wrong", "rabbit-hole", func(err error) { done <- err })
	}))
	var aerr *AdminError
	require.ErrorAs(t, wait(t, done, "refused change"), &aerr)
	assert.Equal(t, protocol.AdminErrInvalidPassword, aerr.Code)

	require.NoError(t, call(t, alice, func() error {
		return alice.ChangePassword("wonderland", "rabbit-hole", func(err error) { done <- err })
	}))
	require.NoError(t, wait(t, done, "password change"))
}

func TestSignOffEndsOperations(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.True(t, alice.Post(alice.SignOff))
	assert.NoError(t, wait(t, rec.signedOff, "sign-off"))

	assert.False(t, alice.Post(func() {}))
	assert.ErrorIs(t, alice.SendIM("bob", "late", SendOptions{}), ErrSignedOff)
	assert.ErrorIs(t, alice.Poll(context.Background()), ErrSignedOff)
}

func TestOfflineMessagesReplayedOnce(t *testing.T) {
	sent := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	srv := startServer(t, oscartest.Config{Accounts: map[string]*oscartest.Account{
		"12345": {
			Password: "secret",
			Offline: []protocol.OfflineMessage{
				{Sender: 777, Sent: sent, Type: protocol.ExtendedPlain, Message: []byte("see you tomorrow")},
			},
		},
	}})
	_, rec := signOn(t, srv, "12345", "secret")
	wait(t, rec.signedOn, "sign-on")

	m := waitFor(t, rec.messages, "offline message", func(m Message) bool { return m.Flags&FlagOffline != 0 })
	assert.Equal(t, "777", m.From)
	assert.Equal(t, "see you tomorrow", m.Text)
	assert.True(t, m.Time.Equal(sent))

	var commands []uint16
	for len(commands) < 2 {
		r, err := srv.Next(protocol.FamilyICQ, protocol.ICQMetaRequest, waitTimeout)
		require.NoError(t, err)
		var meta protocol.ICQMetaMessage
		require.NoError(t, meta.Decode(r.SNAC.Body))
		assert.Equal(t, uint32(12345), meta.UIN)
		commands = append(commands, meta.Command)
	}
	assert.Equal(t, []uint16{protocol.ICQCmdOfflineRequest, protocol.ICQCmdOfflineAck}, commands)
}

func TestReplyAuthorizationSendsGrant(t *testing.T) {
	srv := startServer(t, oscartest.Config{Accounts: accounts()})

	alice, rec := signOn(t, srv, "alice", "wonderland")
	wait(t, rec.signedOn, "sign-on")

	require.NoError(t, call(t, alice, func() error {
		return alice.ReplyAuthorization("erin", true)
	}))

	r, err := srv.Next(protocol.FamilyICBM, protocol.ICBMSend, waitTimeout)
	require.NoError(t, err)
	var m protocol.SendICBMMessage
	require.NoError(t, m.Decode(r.SNAC.Body))
	assert.Equal(t, "erin", m.ScreenName)
	body, ok := m.Body.(*protocol.ExtendedBody)
	require.True(t, ok)
	assert.Equal(t, protocol.ExtendedAuthGrant, body.Type)
}
