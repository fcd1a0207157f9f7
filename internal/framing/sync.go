package framing

import (
	"bytes"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

const (
	DefaultHighWater = 2000
	DefaultDropSize  = 1000
)

var preamble = []byte{telemetry.Preamble0, telemetry.Preamble1}

// State is the synchronizer's position relative to the next frame.
type State int

const (
	Seeking State = iota
	FoundIncomplete
	Emit
)

func (s State) String() string {
	switch s {
	case Seeking:
		return "seeking"
	case FoundIncomplete:
		return "found_incomplete"
	case Emit:
		return "emit"
	default:
		return "unknown"
	}
}

// Handler receives decoded samples on the goroutine that fed the bytes.
type Handler func(telemetry.MessageModel)

type Stats struct {
	Frames        uint64 `json:"frames"`
	DecodeErrors  uint64 `json:"decode_errors"`
	Faults        uint64 `json:"conversion_faults"`
	Overflows     uint64 `json:"overflows"`
	DroppedBytes  uint64 `json:"dropped_bytes"`
	BufferedBytes int    `json:"buffered_bytes"`
}

// Synchronizer accumulates a raw byte stream and cuts it into factory frames.
type Synchronizer struct {
	mu      sync.Mutex
	buf     []byte
	state   State
	stats   Stats
	handler Handler
	logger  *slog.Logger

	highWater int
	dropSize  int
}

type Option func(*Synchronizer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHighWater sets the backlog size that triggers eviction and how many of
// the oldest bytes are evicted.
func WithHighWater(limit, drop int) Option {
	return func(s *Synchronizer) {
		if limit > 0 && drop > 0 && drop <= limit {
			s.highWater, s.dropSize = limit, drop
		}
	}
}

func New(handler Handler, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		buf:       make([]byte, 0, 1024),
		handler:   handler,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		highWater: DefaultHighWater,
		dropSize:  DefaultDropSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implements io.Writer so a transport read loop can stream into it.
func (s *Synchronizer) Write(p []byte) (int, error) {
	s.Feed(p)
	return len(p), nil
}

// Feed appends p and emits every complete frame now in the buffer. It returns
// the number of samples emitted.
func (s *Synchronizer) Feed(p []byte) int {
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	out := s.extractLocked()
	s.evictLocked()
	s.mu.Unlock()

	if s.handler != nil {
		for _, m := range out {
			s.handler(m)
		}
	}
	return len(out)
}

func (s *Synchronizer) extractLocked() []telemetry.MessageModel {
	var out []telemetry.MessageModel
	for {
		i := bytes.Index(s.buf, preamble)
		if i < 0 {
			s.state = Seeking
			return out
		}
		end := i + telemetry.FrameSize
		if end > len(s.buf) {
			s.state = FoundIncomplete
			return out
		}

		s.state = Emit
		m, faults, err := telemetry.DecodeModel(s.buf[i:end])
		if err != nil {
			s.stats.DecodeErrors++
			s.logger.Error("telemetry frame decode failed", "error", err)
		} else {
			s.stats.Frames++
			for _, f := range faults {
				s.stats.Faults++
				s.logger.Warn("telemetry conversion fault",
					"field", f.Field,
					"raw", f.Raw,
					"counter", m.Counter,
					"error", f.Err,
				)
			}
			out = append(out, m)
		}

		n := copy(s.buf, s.buf[end:])
		s.buf = s.buf[:n]
	}
}

func (s *Synchronizer) evictLocked() {
	if len(s.buf) <= s.highWater {
		return
	}
	n := copy(s.buf, s.buf[s.dropSize:])
	s.buf = s.buf[:n]
	s.stats.Overflows++
	s.stats.DroppedBytes += uint64(s.dropSize)
	s.logger.Warn("telemetry backlog over high-water mark, dropped oldest bytes",
		"dropped", humanize.Bytes(uint64(s.dropSize)),
		"buffered", humanize.Bytes(uint64(len(s.buf))),
		"overflows", s.stats.Overflows,
	)
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.BufferedBytes = len(s.buf)
	return st
}

// Reset discards buffered bytes and counters.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.state = Seeking
	s.stats = Stats{}
	s.mu.Unlock()
}
