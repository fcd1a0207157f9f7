// Package broadcast streams the newest telemetry sample to one TCP client as
// a CSV line.
package broadcast

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/komcat/SiphogAdapter/internal/telemetry"
	"github.com/komcat/SiphogAdapter/internal/transport"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 65432

	defaultAcceptIdle = 100 * time.Millisecond
	defaultSendPoll   = 5 * time.Millisecond
)

var ErrAlreadyRunning = errors.New("broadcast server is already running")

type State int

const (
	Stopped State = iota
	Listening
	Serving
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Listening:
		return "listening"
	case Serving:
		return "serving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Info describes the server for status displays.
type Info struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Addr            string `json:"addr,omitempty"`
	State           string `json:"state"`
	ClientConnected bool   `json:"client_connected"`
	Client          string `json:"client,omitempty"`
}

type Stats struct {
	Clients     uint64 `json:"clients"`
	LinesSent   uint64 `json:"lines_sent"`
	BytesSent   uint64 `json:"bytes_sent"`
	SendErrors  uint64 `json:"send_errors"`
	Overwritten uint64 `json:"overwritten"`
}

// Server accepts one client at a time and sends it each new sample put in its
// mailbox. The accept loop and the send loop run on their own goroutines and
// are joined by Stop.
type Server struct {
	listen     transport.ListenFunc
	logger     *slog.Logger
	acceptIdle time.Duration
	sendPoll   time.Duration

	mailbox Mailbox

	// lifecycle serializes Start and Stop so the listener has one owner.
	lifecycle sync.Mutex

	mu       sync.Mutex
	host     string
	port     int
	state    State
	listener transport.Listener
	conn     transport.Conn
	stopCh   chan struct{}
	onLog    func(msg string, isError bool)
	onStatus func(msg string)

	running         atomic.Bool
	clientConnected atomic.Bool
	wg              sync.WaitGroup

	clients    atomic.Uint64
	linesSent  atomic.Uint64
	bytesSent  atomic.Uint64
	sendErrors atomic.Uint64
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithListen replaces the TCP listener factory.
func WithListen(fn transport.ListenFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.listen = fn
		}
	}
}

// WithTiming overrides the accept idle interval and the send poll interval.
func WithTiming(acceptIdle, sendPoll time.Duration) Option {
	return func(s *Server) {
		if acceptIdle > 0 {
			s.acceptIdle = acceptIdle
		}
		if sendPoll > 0 {
			s.sendPoll = sendPoll
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		listen:     transport.ListenTCP,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		acceptIdle: defaultAcceptIdle,
		sendPoll:   defaultSendPoll,
		host:       DefaultHost,
		port:       DefaultPort,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnLog registers the log observer. It fires on whichever goroutine noticed
// the event.
func (s *Server) OnLog(fn func(msg string, isError bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLog = fn
}

// OnStatus registers the status observer.
func (s *Server) OnStatus(fn func(msg string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// Start binds host:port and begins accepting clients.
func (s *Server) Start(host string, port int) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		s.log("Server is already running", true)
		return ErrAlreadyRunning
	}

	l, err := s.listen(host, port)
	if err != nil {
		s.log(fmt.Sprintf("Failed to create server on %s:%d", host, port), true)
		return fmt.Errorf("start broadcast server: %w", err)
	}

	s.mu.Lock()
	s.host = host
	s.port = port
	s.listener = l
	s.state = Listening
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.running.Store(true)
	s.wg.Add(1)
	go s.acceptLoop(l, stopCh)

	s.log(fmt.Sprintf("Starting server on %s:%d", host, port), false)
	return nil
}

// Stop closes the listener and any client, then waits for both loops to exit.
func (s *Server) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	close(s.stopCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.conn = nil
	s.state = Stopped
	s.mu.Unlock()
	s.clientConnected.Store(false)

	s.logger.Info("broadcast server stopped",
		"lines_sent", s.linesSent.Load(),
		"bytes_sent", humanize.Bytes(s.bytesSent.Load()),
	)
	s.log("Server stopped", false)
	s.status("Server stopped")
}

// UpdateData offers m to the connected client. Only the newest sample is kept.
func (s *Server) UpdateData(m telemetry.MessageModel) {
	s.mailbox.Put(m)
}

func (s *Server) IsRunning() bool { return s.running.Load() }

func (s *Server) IsClientConnected() bool { return s.clientConnected.Load() }

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) DataKeys() []string {
	return append([]string(nil), DataKeys...)
}

func (s *Server) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Host:            s.host,
		Port:            s.port,
		State:           s.state.String(),
		ClientConnected: s.clientConnected.Load(),
	}
	if s.listener != nil {
		info.Addr = s.listener.Addr()
	}
	if s.conn != nil {
		info.Client = s.conn.ClientInfo()
	}
	return info
}

func (s *Server) Stats() Stats {
	return Stats{
		Clients:     s.clients.Load(),
		LinesSent:   s.linesSent.Load(),
		BytesSent:   s.bytesSent.Load(),
		SendErrors:  s.sendErrors.Load(),
		Overwritten: s.mailbox.Overwritten(),
	}
}

func (s *Server) acceptLoop(l transport.Listener, stopCh <-chan struct{}) {
	defer s.wg.Done()

	s.log(fmt.Sprintf("Server listening on %s", l.Addr()), false)
	s.status("Server running, waiting for connection...")

	for s.running.Load() {
		conn, ok, err := l.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("broadcast accept failed", "error", err)
		}
		if !ok {
			if !sleep(stopCh, s.acceptIdle) {
				return
			}
			continue
		}

		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.state = Serving
		s.mu.Unlock()

		s.clients.Add(1)
		s.clientConnected.Store(true)
		msg := "Connected with " + conn.ClientInfo()
		s.log(msg, false)
		s.status(msg)

		done := make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer close(done)
			s.serve(conn, stopCh)
		}()

		select {
		case <-done:
		case <-stopCh:
			<-done
			return
		}
	}
}

func (s *Server) serve(conn transport.Conn, stopCh <-chan struct{}) {
	for s.running.Load() && s.clientConnected.Load() {
		m, ok := s.mailbox.Take()
		if !ok {
			if !sleep(stopCh, s.sendPoll) {
				break
			}
			continue
		}

		line := FormatLine(m) + "\n"
		n, err := conn.Send([]byte(line))
		s.bytesSent.Add(uint64(n))
		if err != nil {
			if s.running.Load() {
				s.sendErrors.Add(1)
				s.logger.Warn("broadcast send failed", "client", conn.ClientInfo(), "error", err)
				s.log("Failed to send data to client", true)
			}
			break
		}
		s.linesSent.Add(1)
	}

	_ = conn.Close()
	s.clientConnected.Store(false)

	s.mu.Lock()
	s.conn = nil
	if s.running.Load() {
		s.state = Listening
	}
	s.mu.Unlock()

	s.log("Client disconnected", false)
	s.status("Client disconnected")
}

func (s *Server) log(msg string, isError bool) {
	if isError {
		s.logger.Error(msg)
	} else {
		s.logger.Info(msg)
	}
	s.mu.Lock()
	fn := s.onLog
	s.mu.Unlock()
	if fn != nil {
		fn(msg, isError)
	}
}

func (s *Server) status(msg string) {
	s.mu.Lock()
	fn := s.onStatus
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// sleep waits for d and reports false if stopCh closed first.
func sleep(stopCh <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}
