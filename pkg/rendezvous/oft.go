package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// DefaultChunkSize is how many file bytes are written per progress report
const DefaultChunkSize = 8192

// DefaultStepTimeout bounds a connect attempt or one header exchange when
// the caller sets nothing
const DefaultStepTimeout = 2 * time.Minute

// Source supplies the files of an outbound transfer
type Source interface {
	Files() []FileInfo
	Open(i int) (io.ReadCloser, error)
}

// Sink stores the files of an inbound transfer
type Sink interface {
	Create(info FileInfo) (io.WriteCloser, error)
}

// Observer receives driver progress. Calls come from the driver goroutine.
type Observer interface {
	Progress(t *Transfer, p Progress)
	Complete(t *Transfer)
}

// DriverOption configures a Sender or Receiver
type DriverOption func(*driver)

// WithChunkSize sets the data chunk size
func WithChunkSize(n int) DriverOption {
	return func(d *driver) {
		if n > 0 {
			d.chunk = n
		}
	}
}

// WithStepTimeout bounds every header exchange
func WithStepTimeout(timeout time.Duration) DriverOption {
	return func(d *driver) {
		d.timeout = timeout
	}
}

// WithBandwidth caps file data at bytesPerSec, 0 for unlimited
func WithBandwidth(bytesPerSec int) DriverOption {
	return func(d *driver) {
		d.bytesPerSec = bytesPerSec
	}
}

// WithDriverLogger enables debug logging
func WithDriverLogger(logger *log.Logger) DriverOption {
	return func(d *driver) {
		d.logger = logger
	}
}

// driver holds what Sender and Receiver share
type driver struct {
	transfer    *Transfer
	conn        net.Conn
	observer    Observer
	chunk       int
	timeout     time.Duration
	bytesPerSec int
	logger      *log.Logger
}

func newDriver(t *Transfer, conn net.Conn, obs Observer, opts []DriverOption) driver {
	d := driver{transfer: t, conn: conn, observer: obs, chunk: DefaultChunkSize}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (d *driver) logf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// watch closes the connection when ctx ends so blocked reads return
func (d *driver) watch(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (d *driver) readHeader(want ...uint16) (*protocol.OFTHeader, error) {
	if d.timeout > 0 {
		d.conn.SetReadDeadline(time.Now().Add(d.timeout))
		defer d.conn.SetReadDeadline(time.Time{})
	}
	var h protocol.OFTHeader
	if err := h.DecodeFrom(d.conn); err != nil {
		return nil, err
	}
	d.logf("← OFT 0x%04X %q size=%d left=%d", h.Type, h.Name, h.Size, h.FilesLeft)
	for _, w := range want {
		if h.Type == w {
			return &h, nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%04X", ErrUnexpectedHeader, h.Type)
}

func (d *driver) writeHeader(h *protocol.OFTHeader) error {
	if d.timeout > 0 {
		d.conn.SetWriteDeadline(time.Now().Add(d.timeout))
		defer d.conn.SetWriteDeadline(time.Time{})
	}
	h.Cookie = d.transfer.Cookie
	d.logf("→ OFT 0x%04X %q size=%d left=%d", h.Type, h.Name, h.Size, h.FilesLeft)
	return h.EncodeTo(d.conn)
}

// fail maps a driver error onto the transfer state
func (d *driver) fail(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		d.transfer.Cancel(protocol.CancelReasonUnknown)
		return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case isTimeout(err):
		d.transfer.TimeOut()
	default:
		d.transfer.Cancel(protocol.CancelReasonUnknown)
	}
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// progressWriter reports every chunk to the observer
type progressWriter struct {
	d *driver
}

func (pw progressWriter) Write(p []byte) (int, error) {
	prog := pw.d.transfer.addBytes(len(p))
	if pw.d.observer != nil {
		pw.d.observer.Progress(pw.d.transfer, prog)
	}
	return len(p), nil
}

// Sender streams the files of an outbound transfer to the peer
type Sender struct {
	driver
	source Source
}

// NewSender creates a sender over an established peer connection
func NewSender(t *Transfer, conn net.Conn, src Source, obs Observer, opts ...DriverOption) *Sender {
	return &Sender{driver: newDriver(t, conn, obs, opts), source: src}
}

// Run sends every file: prompt header, peer ack, data, peer done. It
// returns nil once the peer acknowledged the last file.
func (s *Sender) Run(ctx context.Context) error {
	stop := s.watch(ctx)
	defer stop()

	files := s.source.Files()
	s.transfer.SetFiles(files)
	if err := s.transfer.Advance(Transferring); err != nil {
		return err
	}

	var total uint32
	for _, f := range files {
		total += f.Size
	}
	for i, f := range files {
		if err := s.sendFile(i, f, len(files), total); err != nil {
			return s.fail(ctx, err)
		}
	}
	if s.transfer.markComplete() && s.observer != nil {
		s.observer.Complete(s.transfer)
	}
	return nil
}

func (s *Sender) sendFile(i int, f FileInfo, count int, total uint32) error {
	s.transfer.startFile(i, f)
	prompt := &protocol.OFTHeader{
		Type:       protocol.OFTPrompt,
		TotalFiles: uint16(count),
		FilesLeft:  uint16(count - i),
		TotalParts: 1,
		PartsLeft:  1,
		TotalSize:  total,
		Size:       f.Size,
		ModTime:    f.ModTime,
		Checksum:   f.Checksum,
		Name:       f.Name,
	}
	if err := s.writeHeader(prompt); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	if _, err := s.readHeader(protocol.OFTAck); err != nil {
		return fmt.Errorf("await ack: %w", err)
	}

	r, err := s.source.Open(i)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer r.Close()

	var w io.Writer = s.conn
	if s.bytesPerSec > 0 {
		w = newThrottledWriter(w, s.bytesPerSec)
	}
	buf := make([]byte, s.chunk)
	n, err := io.CopyBuffer(io.MultiWriter(w, progressWriter{&s.driver}), io.LimitReader(r, int64(f.Size)), buf)
	if err != nil {
		return fmt.Errorf("send %s: %w", f.Name, err)
	}
	if n != int64(f.Size) {
		return fmt.Errorf("send %s: %w after %d of %d bytes", f.Name, io.ErrUnexpectedEOF, n, f.Size)
	}

	done, err := s.readHeader(protocol.OFTDone)
	if err != nil {
		return fmt.Errorf("await done: %w", err)
	}
	if done.ReceivedCsum != 0 && done.ReceivedCsum != f.Checksum {
		return fmt.Errorf("%s: %w", f.Name, ErrChecksumMismatch)
	}
	s.transfer.fileDone()
	s.logf("Sent %s (%d bytes)", f.Name, f.Size)
	return nil
}

// Receiver accepts the files of an inbound transfer from the peer
type Receiver struct {
	driver
	sink Sink
}

// NewReceiver creates a receiver over an established peer connection
func NewReceiver(t *Transfer, conn net.Conn, sink Sink, obs Observer, opts ...DriverOption) *Receiver {
	return &Receiver{driver: newDriver(t, conn, obs, opts), sink: sink}
}

// Run receives files until the peer announces the last one, verifying each
// checksum and answering with a done header. It returns nil once the last
// done header has been written.
func (r *Receiver) Run(ctx context.Context) error {
	stop := r.watch(ctx)
	defer stop()

	if err := r.transfer.Advance(Transferring); err != nil {
		return err
	}
	for i := 0; ; i++ {
		last, err := r.receiveFile(i)
		if err != nil {
			return r.fail(ctx, err)
		}
		if last {
			break
		}
	}
	if r.transfer.markComplete() && r.observer != nil {
		r.observer.Complete(r.transfer)
	}
	return nil
}

func (r *Receiver) receiveFile(i int) (bool, error) {
	prompt, err := r.readHeader(protocol.OFTPrompt)
	if err != nil {
		return false, fmt.Errorf("await prompt: %w", err)
	}
	info := FileInfo{Name: prompt.Name, Size: prompt.Size, ModTime: prompt.ModTime, Checksum: prompt.Checksum}
	r.transfer.startFile(i, info)

	out, err := r.sink.Create(info)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", info.Name, err)
	}
	defer out.Close()

	ack := *prompt
	ack.Type = protocol.OFTAck
	if err := r.writeHeader(&ack); err != nil {
		return false, fmt.Errorf("send ack: %w", err)
	}

	sum := NewChecksum()
	buf := make([]byte, r.chunk)
	n, err := io.CopyBuffer(io.MultiWriter(out, sum, progressWriter{&r.driver}), io.LimitReader(r.conn, int64(info.Size)), buf)
	if err != nil {
		return false, fmt.Errorf("receive %s: %w", info.Name, err)
	}
	if n != int64(info.Size) {
		return false, fmt.Errorf("receive %s: %w after %d of %d bytes", info.Name, io.ErrUnexpectedEOF, n, info.Size)
	}
	if got := sum.Sum32(); got != info.Checksum {
		return false, fmt.Errorf("%s: %w: got 0x%08X want 0x%08X", info.Name, ErrChecksumMismatch, got, info.Checksum)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", info.Name, err)
	}

	done := *prompt
	done.Type = protocol.OFTDone
	done.BytesReceived = info.Size
	done.ReceivedCsum = sum.Sum32()
	if prompt.FilesLeft > 0 {
		done.FilesLeft = prompt.FilesLeft - 1
	}
	if err := r.writeHeader(&done); err != nil {
		return false, fmt.Errorf("send done: %w", err)
	}
	r.transfer.fileDone()
	r.logf("Received %s (%d bytes)", info.Name, info.Size)
	return prompt.FilesLeft <= 1, nil
}
