package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/aeolun/oscarchat/pkg/contactlist"
	"github.com/aeolun/oscarchat/pkg/protocol"
	"github.com/aeolun/oscarchat/pkg/rendezvous"
)

// peer is the session side of one rendezvous: the transfer, the connection
// attempt in progress and what runs on it once connected
type peer struct {
	transfer *rendezvous.Transfer
	conn     ConnID
	// dialed is set when the current attempt connects out to the peer
	// rather than waiting for it
	dialed   bool
	source   rendezvous.Source
	link     *rendezvous.DirectLink
	reported uint64
}

// peerObserver forwards driver progress to the session goroutine
type peerObserver struct {
	s    *Session
	conn *Conn
}

func (o peerObserver) Progress(t *rendezvous.Transfer, p rendezvous.Progress) {
	o.conn.post(event{kind: evFunc, conn: o.conn.ID, fn: func() {
		o.s.transferProgress(t, p)
	}})
}

func (o peerObserver) Complete(t *rendezvous.Transfer) {
	o.conn.post(event{kind: evFunc, conn: o.conn.ID, fn: func() {
		o.s.logf("Transfer %s with %s complete", t.ID, t.Peer)
		o.s.metrics.transferFinished("complete")
		o.s.handler.FileTransferComplete(t.ID)
	}})
}

func (s *Session) transferProgress(t *rendezvous.Transfer, prog rendezvous.Progress) {
	if p, ok := s.peers[t.ID]; ok && prog.BytesDone > p.reported {
		s.metrics.transferred(t.Direction.String(), prog.BytesDone-p.reported)
		p.reported = prog.BytesDone
	}
	s.handler.FileTransferProgress(t.ID, prog.BytesDone, prog.BytesTotal)
}

// Transfers lists the rendezvous sessions in progress
func (s *Session) Transfers() []*rendezvous.Transfer {
	return s.transfers.All()
}

// handleRendezvous routes a channel-2 message by capability and status
func (s *Session) handleRendezvous(c *Conn, from *protocol.UserInfo, body *protocol.RendezvousBody) error {
	if body.Capability == protocol.CapChat {
		if body.Status != protocol.RendezvousPropose {
			return nil
		}
		var info protocol.ChatInviteInfo
		if err := info.Decode(body.ServiceData); err != nil {
			return &DecodeError{Service: c.Service, Family: protocol.FamilyICBM, Subtype: protocol.ICBMIncoming, Err: err}
		}
		s.handler.ChatInviteReceived(ChatInvite{Room: info.Room, From: from.ScreenName, Message: body.Message})
		return nil
	}

	t, known := s.transfers.ByCookie(body.Cookie)
	switch body.Status {
	case protocol.RendezvousCancel:
		if known {
			s.logf("%s canceled rendezvous %s: %s", from.ScreenName, t.ID, protocol.CancelReason(body.CancelReason))
			s.endTransfer(t, body.CancelReason, false)
		}
		return nil
	case protocol.RendezvousAccept:
		if known {
			s.logf("%s accepted rendezvous %s", from.ScreenName, t.ID)
			t.Advance(rendezvous.Negotiating)
		}
		return nil
	}

	if known {
		return s.reverseProposal(t, body)
	}
	switch body.Capability {
	case protocol.CapSendFile:
		return s.fileProposed(from.ScreenName, body)
	case protocol.CapDirectIM:
		t := rendezvous.NewDirectIM(from.ScreenName, rendezvous.Inbound, body.Cookie)
		t.SetPeerAddr(body.PeerAddr())
		t.SetRequestNumber(body.RequestNumber)
		s.transfers.Add(t)
		s.peers[t.ID] = &peer{transfer: t}
		s.handler.DirectConnectProposed(t.ID, from.ScreenName)
	default:
		s.logf("Declining unsupported rendezvous %s from %s", body.Capability, from.ScreenName)
		return s.sendRendezvous(from.ScreenName, &protocol.RendezvousBody{
			Status:       protocol.RendezvousCancel,
			Cookie:       body.Cookie,
			Capability:   body.Capability,
			CancelReason: protocol.CancelReasonNotSupported,
		})
	}
	return nil
}

func (s *Session) fileProposed(from string, body *protocol.RendezvousBody) error {
	var info protocol.FileListInfo
	if err := info.Decode(body.ServiceData); err != nil {
		return &DecodeError{Service: ServicePrimary, Family: protocol.FamilyICBM, Subtype: protocol.ICBMIncoming, Err: err}
	}
	t := rendezvous.NewTransfer(from, rendezvous.Inbound, body.Cookie, nil)
	t.SetPeerAddr(body.PeerAddr())
	t.SetRequestNumber(body.RequestNumber)
	s.transfers.Add(t)
	s.peers[t.ID] = &peer{transfer: t}
	s.logf("%s offers %d file(s), %d bytes (%s)", from, info.FileCount, info.TotalSize, t.ID)
	s.handler.FileTransferRequested(FileOffer{
		ID:        t.ID,
		From:      from,
		Name:      info.Name,
		Files:     int(info.FileCount),
		TotalSize: info.TotalSize,
		Message:   body.Message,
	})
	return nil
}

// reverseProposal handles a second proposal for a known cookie: the peer
// could not reach us and now waits for us to connect to it
func (s *Session) reverseProposal(t *rendezvous.Transfer, body *protocol.RendezvousBody) error {
	p, ok := s.peers[t.ID]
	if !ok || t.State() >= rendezvous.Connected {
		return nil
	}
	s.logf("%s asks us to connect for %s (request %d)", t.Peer, t.ID, body.RequestNumber)
	t.SetRequestNumber(body.RequestNumber)
	t.SetPeerAddr(body.PeerAddr())
	t.Advance(rendezvous.Negotiating)
	if c, ok := s.conns.get(p.conn); ok {
		s.closeConn(c)
	}
	s.dialPeer(p)
	return nil
}

// SendFile offers files to a buddy and waits for it to connect
func (s *Session) SendFile(to string, paths ...string) (string, error) {
	if _, err := s.primary(); err != nil {
		return "", err
	}
	src, err := rendezvous.NewFileSource(paths...)
	if err != nil {
		return "", err
	}
	files := src.Files()
	t := rendezvous.NewTransfer(to, rendezvous.Outbound, s.cookies.next(), files)
	info := &protocol.FileListInfo{FileCount: uint16(len(files))}
	for _, f := range files {
		info.TotalSize += f.Size
	}
	if len(files) == 1 {
		info.Name = files[0].Name
	} else if len(paths) > 0 {
		info.Name = filepath.Base(filepath.Dir(paths[0]))
	}
	data, err := info.Encode()
	if err != nil {
		return "", err
	}

	p := &peer{transfer: t, source: src}
	s.transfers.Add(t)
	s.peers[t.ID] = p
	if err := s.proposeListening(p, protocol.CapSendFile, 1, data); err != nil {
		s.dropPeer(p)
		return "", err
	}
	return t.ID, nil
}

// RequestDirectIM proposes a direct connection to a buddy. Accepting
// reveals each side's address to the other.
func (s *Session) RequestDirectIM(to string) (string, error) {
	if _, err := s.primary(); err != nil {
		return "", err
	}
	t := rendezvous.NewDirectIM(to, rendezvous.Outbound, s.cookies.next())
	p := &peer{transfer: t}
	s.transfers.Add(t)
	s.peers[t.ID] = p
	if err := s.proposeListening(p, protocol.CapDirectIM, 1, nil); err != nil {
		s.dropPeer(p)
		return "", err
	}
	return t.ID, nil
}

// AcceptFile accepts an offered transfer. Files go to the configured
// download directory.
func (s *Session) AcceptFile(id string) error {
	return s.acceptProposal(id, rendezvous.KindFileTransfer)
}

// AcceptDirectIM accepts a direct-IM proposal
func (s *Session) AcceptDirectIM(id string) error {
	return s.acceptProposal(id, rendezvous.KindDirectIM)
}

func (s *Session) acceptProposal(id string, kind rendezvous.Kind) error {
	p, ok := s.peers[id]
	if !ok || p.transfer.Kind != kind || p.transfer.Direction != rendezvous.Inbound {
		return ErrUnknownTransfer
	}
	if p.transfer.State() != rendezvous.Proposed {
		return fmt.Errorf("transfer %s is %s", id, p.transfer.State())
	}
	if _, err := s.primary(); err != nil {
		return err
	}
	p.transfer.Advance(rendezvous.Negotiating)
	s.dialPeer(p)
	return nil
}

// DeclineFile refuses an offered transfer
func (s *Session) DeclineFile(id string) error {
	t, ok := s.transfers.ByID(id)
	if !ok {
		return ErrUnknownTransfer
	}
	s.endTransfer(t, protocol.CancelReasonDeclined, true)
	return nil
}

// CancelTransfer ends a transfer or direct link in any state. No callback
// for it fires after this returns.
func (s *Session) CancelTransfer(id string) error {
	t, ok := s.transfers.ByID(id)
	if !ok {
		return ErrUnknownTransfer
	}
	s.endTransfer(t, protocol.CancelReasonUnknown, true)
	return nil
}

// SendDirectIM sends text over an established direct link
func (s *Session) SendDirectIM(to, text string) error {
	p := s.directLinkTo(to)
	if p == nil {
		return ErrNotReady
	}
	return p.link.Send(text)
}

// CloseDirectIM closes the direct link with a buddy
func (s *Session) CloseDirectIM(to string) error {
	p := s.directLinkTo(to)
	if p == nil {
		return ErrUnknownTransfer
	}
	s.endTransfer(p.transfer, protocol.CancelReasonUnknown, true)
	return nil
}

// directLinkTo returns the peer with an established direct link to name
func (s *Session) directLinkTo(name string) *peer {
	n := contactlist.Normalize(name)
	for _, p := range s.peers {
		if p.link != nil && contactlist.Normalize(p.transfer.Peer) == n {
			return p
		}
	}
	return nil
}

// proposeListening opens a listener and tells the peer where to connect
func (s *Session) proposeListening(p *peer, capability protocol.Capability, request uint16, data []byte) error {
	primary, err := s.primary()
	if err != nil {
		return err
	}
	cfg := s.cfg.Transfer
	ln, err := rendezvous.Listen(cfg.ListenHost, cfg.PortLow, cfg.PortHigh)
	if err != nil {
		return err
	}
	t := p.transfer
	t.SetRequestNumber(request)
	body := &protocol.RendezvousBody{
		Status:        protocol.RendezvousPropose,
		Cookie:        t.Cookie,
		Capability:    capability,
		Port:          rendezvous.ListenerPort(ln),
		RequestNumber: request,
		ServiceData:   data,
		RequestAck:    true,
	}
	if primary.nc != nil {
		body.ClientIP = rendezvous.LocalIP(primary.nc)
	}
	if err := s.sendRendezvous(t.Peer, body); err != nil {
		ln.Close()
		return err
	}

	timeout := cfg.Timeout
	c := s.open(ServiceRendezvous, ln.Addr().String(), nil, func(ctx context.Context, _ string) (net.Conn, error) {
		return rendezvous.Accept(ctx, ln, timeout)
	})
	p.conn = c.ID
	p.dialed = false
	s.logf("Waiting for %s on port %d (%s, request %d)", t.Peer, body.Port, t.ID, request)
	return nil
}

// dialPeer connects to the address the peer proposed
func (s *Session) dialPeer(p *peer) {
	timeout := s.cfg.Transfer.Timeout
	c := s.open(ServiceRendezvous, p.transfer.PeerAddr(), nil, func(ctx context.Context, addr string) (net.Conn, error) {
		return rendezvous.Dial(ctx, addr, timeout)
	})
	p.conn = c.ID
	p.dialed = true
}

func (s *Session) peerByConn(id ConnID) *peer {
	for _, p := range s.peers {
		if p.conn == id {
			return p
		}
	}
	return nil
}

func capabilityOf(t *rendezvous.Transfer) protocol.Capability {
	if t.Kind == rendezvous.KindDirectIM {
		return protocol.CapDirectIM
	}
	return protocol.CapSendFile
}

// peerConnected starts the file driver or direct link on a fresh peer
// socket. The side that connected out tells the peer through the server.
func (s *Session) peerConnected(c *Conn) {
	p := s.peerByConn(c.ID)
	if p == nil {
		s.closeConn(c)
		return
	}
	t := p.transfer
	if p.dialed {
		if err := s.sendRendezvous(t.Peer, &protocol.RendezvousBody{
			Status:     protocol.RendezvousAccept,
			Cookie:     t.Cookie,
			Capability: capabilityOf(t),
		}); err != nil {
			s.logf("Rendezvous accept to %s failed: %v", t.Peer, err)
		}
	}
	if err := t.Advance(rendezvous.Connected); err != nil {
		s.logf("Transfer %s: %v", t.ID, err)
	}
	c.state = ConnReady
	s.logf("Peer connection with %s for %s (%s)", t.Peer, t.ID, c.nc.RemoteAddr())

	cfg := s.cfg.Transfer
	opts := []rendezvous.DriverOption{
		rendezvous.WithStepTimeout(cfg.Timeout),
		rendezvous.WithBandwidth(cfg.BytesPerSec),
		rendezvous.WithDriverLogger(s.logger),
	}
	obs := peerObserver{s: s, conn: c}

	switch {
	case t.Kind == rendezvous.KindDirectIM:
		p.link = rendezvous.NewDirectLink(c.nc, t.Cookie, s.screenName)
		p.link.SetLogger(s.logger)
		t.Advance(rendezvous.Transferring)
		s.handler.DirectConnectEstablished(t.ID, t.Peer)
		link := p.link
		c.drive(func(ctx context.Context, _ net.Conn) error {
			return link.Run(ctx, func(m rendezvous.DirectMessage) {
				c.post(event{kind: evFunc, conn: c.ID, fn: func() { s.directMessage(t, m) }})
			})
		})
	case t.Direction == rendezvous.Outbound:
		sender := rendezvous.NewSender(t, c.nc, p.source, obs, opts...)
		c.drive(func(ctx context.Context, _ net.Conn) error { return sender.Run(ctx) })
	default:
		receiver := rendezvous.NewReceiver(t, c.nc, rendezvous.DirSink{Dir: cfg.DownloadDir}, obs, opts...)
		c.drive(func(ctx context.Context, _ net.Conn) error { return receiver.Run(ctx) })
	}
}

func (s *Session) directMessage(t *rendezvous.Transfer, m rendezvous.DirectMessage) {
	if m.IsTyping {
		s.handler.TypingChanged(t.Peer, m.Typing)
		return
	}
	s.metrics.messageReceived("direct")
	s.handler.MessageReceived(Message{From: t.Peer, Text: m.Text, Flags: FlagDirect, Time: s.now()})
}

// peerLost handles the end of a peer connection: a finished driver, a
// failed connect that can fall back to the reverse direction, or a failure
// that ends the transfer
func (s *Session) peerLost(c *Conn, err error) {
	p := s.peerByConn(c.ID)
	if p == nil {
		return
	}
	p.conn = 0
	t := p.transfer

	switch {
	case t.State() == rendezvous.Complete:
		s.dropPeer(p)
	case p.link != nil:
		t.Cancel(protocol.CancelReasonUnknown)
		s.dropPeer(p)
		s.handler.DirectConnectClosed(t.ID, err)
	case t.State() < rendezvous.Connected && p.dialed && t.RequestNumber() == 1:
		// we could not reach the peer; ask it to connect to us instead
		s.logf("Could not reach %s for %s: %v", t.Peer, t.ID, err)
		if perr := s.proposeListening(p, capabilityOf(t), 2, nil); perr != nil {
			s.endTransfer(t, protocol.CancelReasonUnknown, true)
		}
	default:
		reason := protocol.CancelReasonUnknown
		var ne net.Error
		if t.State() == rendezvous.TimedOut || (errors.As(err, &ne) && ne.Timeout()) {
			reason = protocol.CancelReasonTimedOut
		}
		s.endTransfer(t, reason, true)
	}
}

// endTransfer finishes a transfer that did not complete, closing its
// connection. No callback for it fires afterwards. A transfer that already
// completed keeps its completion as the only terminal event.
func (s *Session) endTransfer(t *rendezvous.Transfer, reason uint16, notifyPeer bool) {
	p, ok := s.peers[t.ID]
	if !ok {
		return
	}
	var changed bool
	if reason == protocol.CancelReasonTimedOut {
		changed = t.TimeOut()
	} else {
		changed = t.Cancel(reason)
	}
	if !changed {
		if t.State() == rendezvous.Complete {
			return
		}
		// the driver ended it first
		reason = t.CancelReason()
	}
	if notifyPeer && changed {
		if err := s.sendRendezvous(t.Peer, &protocol.RendezvousBody{
			Status:       protocol.RendezvousCancel,
			Cookie:       t.Cookie,
			Capability:   capabilityOf(t),
			CancelReason: reason,
		}); err != nil {
			s.logf("Rendezvous cancel to %s failed: %v", t.Peer, err)
		}
	}
	established := p.link != nil
	s.dropPeer(p)

	if t.Kind == rendezvous.KindDirectIM {
		if established {
			s.handler.DirectConnectClosed(t.ID, nil)
		} else {
			s.handler.DirectConnectClosed(t.ID, fmt.Errorf("direct connection %s", protocol.CancelReason(reason)))
		}
		return
	}
	outcome := "canceled"
	if t.State() == rendezvous.TimedOut {
		outcome = "timed_out"
	}
	s.metrics.transferFinished(outcome)
	s.handler.FileTransferCanceled(t.ID, protocol.CancelReason(reason), t.Progress().BytesDone)
}

// dropPeer forgets a peer and closes its connection
func (s *Session) dropPeer(p *peer) {
	if c, ok := s.conns.get(p.conn); ok {
		s.closeConn(c)
	}
	if p.link != nil {
		p.link.Close()
	}
	delete(s.peers, p.transfer.ID)
	s.transfers.Remove(p.transfer)
}

// cancelTransfers ends every rendezvous, used at sign-off
func (s *Session) cancelTransfers(reason uint16, why string) {
	for _, t := range s.transfers.All() {
		s.logf("Canceling %s with %s: %s", t.ID, t.Peer, why)
		s.endTransfer(t, reason, false)
	}
}

func (s *Session) sendRendezvous(to string, body *protocol.RendezvousBody) error {
	c, err := s.primary()
	if err != nil {
		return err
	}
	return c.sendSNAC(protocol.FamilyICBM, protocol.ICBMSend, s.disp.allocRequest(c.ID, nil),
		&protocol.SendICBMMessage{Cookie: body.Cookie, ScreenName: to, Body: body})
}
