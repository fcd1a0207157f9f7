package transport

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	readChunk = 256
	idleSleep = 5 * time.Millisecond
)

// Link owns one open Port and runs its read loop. Received bytes go to the
// data sink on the reader goroutine.
type Link struct {
	opener  Opener
	onData  func([]byte)
	onError func(error)
	logger  *slog.Logger

	mu   sync.Mutex
	port Port
	name string
	baud int

	running atomic.Bool
	wg      sync.WaitGroup

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

type LinkOption func(*Link)

func WithLinkLogger(logger *slog.Logger) LinkOption {
	return func(l *Link) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithErrorHandler registers fn for read failures. It runs on the reader
// goroutine after the port has been released and must not call Close.
func WithErrorHandler(fn func(error)) LinkOption {
	return func(l *Link) { l.onError = fn }
}

// NewLink returns a closed link. The slice passed to onData is reused once it
// returns.
func NewLink(opener Opener, onData func([]byte), opts ...LinkOption) *Link {
	l := &Link{
		opener: opener,
		onData: onData,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open opens name at baud and starts reading. The link must be closed.
func (l *Link) Open(name string, baud int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil || l.running.Load() {
		return fmt.Errorf("open %s: %w", name, ErrAlreadyOpen)
	}

	port, err := l.opener.Open(name, baud)
	if err != nil {
		return err
	}
	l.port = port
	l.name = name
	l.baud = baud
	l.bytesIn.Store(0)
	l.bytesOut.Store(0)

	l.running.Store(true)
	l.wg.Add(1)
	go l.readLoop(port)

	l.logger.Info("serial link opened", "port", name, "baud", baud)
	return nil
}

// Close stops the read loop, waits for it and releases the port. Closing a
// closed link is a no-op.
func (l *Link) Close() error {
	l.running.Store(false)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked()
}

func (l *Link) releaseLocked() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.logger.Info("serial link closed", "port", l.name, "bytes_in", l.bytesIn.Load(), "bytes_out", l.bytesOut.Load())
	if err != nil {
		return fmt.Errorf("close %s: %w", l.name, err)
	}
	return nil
}

func (l *Link) IsOpen() bool {
	if !l.running.Load() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

func (l *Link) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

func (l *Link) Baud() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baud
}

// Ports lists the ports the opener can see.
func (l *Link) Ports() ([]string, error) { return l.opener.List() }

// Counters returns the bytes read and written since the last Open.
func (l *Link) Counters() (in, out uint64) {
	return l.bytesIn.Load(), l.bytesOut.Load()
}

// Write sends p to the device. It fails with ErrClosed unless the link is open.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil || !l.running.Load() {
		return 0, ErrClosed
	}
	n, err := l.port.Write(p)
	l.bytesOut.Add(uint64(n))
	if err != nil {
		return n, fmt.Errorf("write %s: %w", l.name, err)
	}
	return n, nil
}

func (l *Link) readLoop(port Port) {
	defer l.wg.Done()

	buf := make([]byte, readChunk)
	for l.running.Load() {
		n, err := port.Read(buf)
		if n > 0 {
			l.bytesIn.Add(uint64(n))
			if l.onData != nil {
				l.onData(buf[:n])
			}
		}
		if err != nil {
			if !l.running.Load() {
				return
			}
			l.fail(err)
			return
		}
		if n == 0 {
			time.Sleep(idleSleep)
		}
	}
}

func (l *Link) fail(err error) {
	l.running.Store(false)

	l.mu.Lock()
	name := l.name
	_ = l.releaseLocked()
	l.mu.Unlock()

	l.logger.Error("serial read failed", "port", name, "reason", DescribeError(err), "error", err)
	if l.onError != nil {
		l.onError(fmt.Errorf("read %s: %w", name, err))
	}
}
