// Package transporttest provides in-memory transports for tests.
package transporttest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/komcat/SiphogAdapter/internal/transport"
)

// Port is a scripted serial port. Bytes queued with Push are returned by Read;
// Read returns (0, nil) after a short wait when nothing is queued.
type Port struct {
	mu       sync.Mutex
	pending  []byte
	readErr  error
	writes   [][]byte
	writeErr error
	closed   bool
	baud     int
}

func NewPort() *Port { return &Port{} }

func (p *Port) Push(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

// FailRead makes the next Read return err once the queued bytes are drained.
func (p *Port) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *Port) FailWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, transport.ErrClosed
	}
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	if err := p.readErr; err != nil {
		p.readErr = nil
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, transport.ErrClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Writes returns a copy of every Write call, in order.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *Port) Baud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

var ErrNoSuchPort = errors.New("no such port")

// Opener hands out registered Ports by name.
type Opener struct {
	mu      sync.Mutex
	ports   map[string]*Port
	OpenErr error
	ListErr error
	opens   int
}

func NewOpener() *Opener { return &Opener{ports: make(map[string]*Port)} }

// Add registers a fresh Port under name and returns it.
func (o *Opener) Add(name string) *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := NewPort()
	o.ports[name] = p
	return p
}

func (o *Opener) Open(name string, baud int) (transport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	p, ok := o.ports[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, ErrNoSuchPort)
	}
	p.mu.Lock()
	p.closed = false
	p.baud = baud
	p.mu.Unlock()
	o.opens++
	return p, nil
}

func (o *Opener) List() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ListErr != nil {
		return nil, o.ListErr
	}
	names := make([]string, 0, len(o.ports))
	for n := range o.ports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// Listener is an in-memory server socket. Dial queues a client for Accept.
type Listener struct {
	mu      sync.Mutex
	queue   []*Conn
	closed  bool
	addr    string
	accepts int
}

func NewListener(addr string) *Listener { return &Listener{addr: addr} }

// Listen returns a transport.ListenFunc that always yields l.
func (l *Listener) Listen() transport.ListenFunc {
	return func(host string, port int) (transport.Listener, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed = false
		if l.addr == "" {
			l.addr = fmt.Sprintf("%s:%d", host, port)
		}
		return l, nil
	}
}

// Dial queues a new client and returns it.
func (l *Listener) Dial(info string) *Conn {
	c := &Conn{info: info, lines: make(chan []byte, 1024)}
	l.mu.Lock()
	l.queue = append(l.queue, c)
	l.mu.Unlock()
	return c
}

func (l *Listener) Accept() (transport.Conn, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false, transport.ErrClosed
	}
	if len(l.queue) == 0 {
		return nil, false, nil
	}
	c := l.queue[0]
	l.queue = l.queue[1:]
	l.accepts++
	return c, true, nil
}

func (l *Listener) Addr() string { return l.addr }

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Listener) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) Accepts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepts
}

// Conn records everything the server sends.
type Conn struct {
	info  string
	lines chan []byte

	mu      sync.Mutex
	closed  bool
	sendErr error
}

func (c *Conn) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, transport.ErrClosed
	}
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	select {
	case c.lines <- append([]byte(nil), p...):
	default:
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) ClientInfo() string { return c.info }

// Hangup makes every further Send fail, as if the peer went away.
func (c *Conn) Hangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = errors.New("broken pipe")
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns the channel of payloads passed to Send.
func (c *Conn) Sent() <-chan []byte { return c.lines }
