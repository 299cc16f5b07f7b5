package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/oscarchat/pkg/client"
	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
)

// console prints session upcalls and runs slash commands. Upcalls and
// commands both run on the session goroutine; only printf is shared.
type console struct {
	out io.Writer
	mu  sync.Mutex

	sess       *client.Session
	signedOn   bool
	onSignedOn func()

	invites  map[string]client.ChatInvite
	directs  map[string]bool
	progress map[string]uint64
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// attach points the console at a fresh session
func (c *console) attach(sess *client.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = sess
	c.signedOn = false
	c.invites = make(map[string]client.ChatInvite)
	c.directs = make(map[string]bool)
	c.progress = make(map[string]uint64)
}

func (c *console) wasSignedOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signedOn
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] "+format, append([]interface{}{time.Now().Format("15:04:05")}, args...)...)
}

func (c *console) SignedOn() {
	c.mu.Lock()
	c.signedOn = true
	c.mu.Unlock()
	c.printf("Signed on as %s (max message %d). Type /help for commands.\n", c.sess.ScreenName(), c.sess.MaxMessageLength())
	if c.onSignedOn != nil {
		c.onSignedOn()
	}
}

func (c *console) SignedOff(err error) {
	if err != nil {
		c.printf("Signed off: %v\n", err)
		return
	}
	c.printf("Signed off\n")
}

func (c *console) BuddyPresenceChanged(p client.Presence) {
	c.printf("* %s\n", client.FormatPresence(p))
}

func (c *console) MessageReceived(m client.Message) {
	var tags []string
	if m.Flags&client.FlagAway != 0 {
		tags = append(tags, "auto")
	}
	if m.Flags&client.FlagOffline != 0 {
		tags = append(tags, "offline "+client.FormatRelativeTime(m.Time))
	}
	if m.Flags&client.FlagDirect != 0 {
		tags = append(tags, "direct")
	}
	if len(tags) > 0 {
		c.printf("<%s> (%s) %s\n", m.From, strings.Join(tags, ", "), m.Text)
		return
	}
	c.printf("<%s> %s\n", m.From, m.Text)
}

func (c *console) TypingChanged(from string, state uint16) {
	if state == protocol.TypingBegun {
		c.printf("%s is typing...\n", from)
	}
}

func (c *console) DeliveryFailed(to string, err *client.DeliveryError) {
	c.printf("! %v\n", err)
}

func (c *console) MissedMessages(from string, count int, reason string) {
	c.printf("! missed %d message(s) from %s: %s\n", count, from, reason)
}

func (c *console) ContactsReceived(from string, contacts []string) {
	c.printf("%s sent contacts: %s\n", from, strings.Join(contacts, ", "))
}

func (c *console) ChatInviteReceived(inv client.ChatInvite) {
	name := roomLabel(inv.Room)
	c.invites[contactlist.Normalize(name)] = inv
	c.printf("%s invites you to %s: %s (/join %s)\n", inv.From, name, inv.Message, name)
}

func (c *console) ChatMembershipChanged(room, who string, joined bool) {
	if joined {
		c.printf("[%s] %s joined\n", room, who)
		return
	}
	c.printf("[%s] %s left\n", room, who)
}

func (c *console) ChatMessageReceived(room, from, text string) {
	c.printf("[%s] <%s> %s\n", room, from, text)
}

func (c *console) FileTransferRequested(offer client.FileOffer) {
	c.printf("%s offers %s (%d file(s), %s): /accept %s or /decline %s\n",
		offer.From, offer.Name, offer.Files, client.FormatBytes(uint64(offer.TotalSize)), offer.ID, offer.ID)
}

func (c *console) FileTransferProgress(id string, done, total uint64) {
	if total == 0 {
		return
	}
	// report every tenth
	step := done * 10 / total
	if step == c.progress[id] {
		return
	}
	c.progress[id] = step
	c.printf("transfer %s: %s of %s\n", id, client.FormatBytes(done), client.FormatBytes(total))
}

func (c *console) FileTransferComplete(id string) {
	delete(c.progress, id)
	c.printf("transfer %s complete\n", id)
}

func (c *console) FileTransferCanceled(id string, reason string, done uint64) {
	delete(c.progress, id)
	c.printf("transfer %s canceled after %s: %s\n", id, client.FormatBytes(done), reason)
}

func (c *console) DirectConnectProposed(id, from string) {
	c.directs[id] = true
	c.printf("%s wants a direct connection: /accept %s or /decline %s\n", from, id, id)
}

func (c *console) DirectConnectEstablished(id, peer string) {
	c.printf("direct connection with %s open (/dsay %s <text>)\n", peer, peer)
}

func (c *console) DirectConnectClosed(id string, err error) {
	delete(c.directs, id)
	if err != nil {
		c.printf("direct connection %s closed: %v\n", id, err)
		return
	}
	c.printf("direct connection %s closed\n", id)
}

func (c *console) AuthorizationRequestReceived(from, reason string) {
	c.printf("%s asks to add you: %q (/auth %s yes|no)\n", from, reason, from)
}

func (c *console) ContactListSynced(items []contactlist.Item) {
	buddies := 0
	for _, it := range items {
		if it.Type == contactlist.Buddy {
			buddies++
		}
	}
	c.printf("Contact list synced: %d buddies\n", buddies)
}

func (c *console) ContactListWarning(message string) {
	c.printf("! %s\n", message)
}

func (c *console) MailStatus(unread int, url string) {
	c.printf("%d unread mail message(s) %s\n", unread, url)
}

func (c *console) Error(kind client.ErrorKind, message string) {
	c.printf("! %s: %s\n", kind, message)
}

// roomLabel extracts the room name from an exchange cookie of the form
// !aol://2719:10-<exchange>-<name>
func roomLabel(ref protocol.ChatRoomRef) string {
	parts := strings.SplitN(ref.Cookie, "-", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return ref.Cookie
}

// cut splits off the first word of s
func cut(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

const helpText = `Commands:
  /im <name> <text>          send a message
  /away [message]            set away, no message to come back
  /profile <text>            set your profile
  /buddies                   list contacts
  /add <name> [group]        add a buddy
  /remove <name>             remove a buddy
  /alias <name> <alias>      set a buddy's display name
  /block <name>              add to the deny list
  /unblock <name>            remove from the deny list
  /auth <name> yes|no        answer an authorization request
  /create <room>             create and join a chat room
  /join <room>               join a room you were invited to
  /say <room> <text>         talk in a room
  /invite <room> <name>      invite someone to a room
  /leave <room>              leave a room
  /send <name> <path>        offer a file
  /accept <id>               accept a file or direct connection
  /decline <id>              decline a file or direct connection
  /cancel <id>               cancel a transfer
  /transfers                 list transfers
  /direct <name>             ask for a direct connection
  /dsay <name> <text>        send over a direct connection
  /dclose <name>             close a direct connection
  /mail                      check for mail
  /password <old> <new>      change your password
  /format <name>             change capitalization and spacing of your name
  /conns                     list open connections
  /quit                      sign off
`

// execute runs one input line on the session goroutine
func (c *console) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		c.printf("unknown input, commands start with / (try /help)\n")
		return
	}
	name, rest := cut(line[1:])
	if err := c.run(strings.ToLower(name), rest); err != nil {
		c.printf("! %s: %v\n", name, err)
	}
}

func (c *console) run(name, rest string) error {
	s := c.sess
	arg, text := cut(rest)

	switch name {
	case "help":
		c.printf("%s", helpText)
	case "quit":
		s.SignOff()
	case "im":
		return s.SendIM(arg, text, client.SendOptions{StoreOffline: true})
	case "away":
		return s.SetAway(rest)
	case "profile":
		return s.SetProfile(rest)
	case "buddies":
		c.listContacts()
	case "add":
		if text == "" {
			text = "Buddies"
		}
		return s.AddBuddy(arg, text)
	case "remove":
		return s.RemoveBuddy(arg)
	case "alias":
		return s.SetAlias(arg, text)
	case "block":
		return s.AddDeny(arg)
	case "unblock":
		return s.RemoveDeny(arg)
	case "auth":
		return s.ReplyAuthorization(arg, strings.EqualFold(text, "yes"))
	case "create":
		return s.CreateRoom(rest)
	case "join":
		inv, ok := c.invites[contactlist.Normalize(rest)]
		if !ok {
			return fmt.Errorf("no invitation to %s", rest)
		}
		return s.JoinRoom(inv)
	case "say":
		return s.SendChat(arg, text)
	case "invite":
		who, msg := cut(text)
		if msg == "" {
			msg = "Join me in this chat room."
		}
		return s.InviteToRoom(arg, who, msg)
	case "leave":
		return s.LeaveRoom(rest)
	case "send":
		id, err := s.SendFile(arg, text)
		if err == nil {
			c.printf("offered %s to %s as %s\n", text, arg, id)
		}
		return err
	case "accept":
		if c.directs[arg] {
			return s.AcceptDirectIM(arg)
		}
		return s.AcceptFile(arg)
	case "decline":
		delete(c.directs, arg)
		return s.DeclineFile(arg)
	case "cancel":
		return s.CancelTransfer(arg)
	case "transfers":
		c.listTransfers()
	case "direct":
		_, err := s.RequestDirectIM(arg)
		return err
	case "dsay":
		return s.SendDirectIM(arg, text)
	case "dclose":
		return s.CloseDirectIM(arg)
	case "mail":
		return s.CheckMail()
	case "password":
		return s.ChangePassword(arg, text, func(err error) {
			if err != nil {
				c.printf("! password: %v\n", err)
				return
			}
			c.printf("password changed\n")
		})
	case "format":
		return s.FormatScreenName(rest, func(err error) {
			if err != nil {
				c.printf("! format: %v\n", err)
				return
			}
			c.printf("screen name is now %s\n", s.ScreenName())
		})
	case "conns":
		for _, ci := range s.Connections() {
			c.printf("#%d %s %s %s sent %s received %s\n", ci.ID, ci.Service, ci.State, ci.Addr,
				client.FormatBytes(ci.BytesSent), client.FormatBytes(ci.BytesReceived))
		}
	default:
		return fmt.Errorf("unknown command (try /help)")
	}
	return nil
}

func (c *console) listContacts() {
	items := c.sess.Contacts()
	groups := make(map[string][]string)
	var order []string
	for _, it := range items {
		switch it.Type {
		case contactlist.Group:
			if _, ok := groups[it.Name]; !ok {
				order = append(order, it.Name)
				groups[it.Name] = nil
			}
		case contactlist.Buddy:
			label := it.Name
			if it.Alias != "" {
				label = fmt.Sprintf("%s (%s)", it.Alias, it.Name)
			}
			if _, ok := groups[it.Group]; !ok {
				order = append(order, it.Group)
			}
			groups[it.Group] = append(groups[it.Group], label)
		case contactlist.Deny:
			c.printf("blocked: %s\n", it.Name)
		}
	}
	sort.Strings(order)
	for _, g := range order {
		c.printf("%s: %s\n", g, strings.Join(groups[g], ", "))
	}
}

func (c *console) listTransfers() {
	transfers := c.sess.Transfers()
	if len(transfers) == 0 {
		c.printf("no transfers\n")
		return
	}
	for _, t := range transfers {
		p := t.Progress()
		c.printf("%s %s %s %s: %s of %s\n", t.ID, t.Direction, t.Peer, t.State(),
			client.FormatBytes(p.BytesDone), client.FormatBytes(p.BytesTotal))
	}
}
