package uplink

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

const DefaultInterval = time.Second

// Sampler decimates the telemetry stream to one sample per interval and hands
// it to a Publisher. Offer never blocks, so it can sit on the serial read path.
type Sampler struct {
	pub      Publisher
	interval time.Duration
	logger   *slog.Logger
	mailbox  broadcast.Mailbox

	published atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

type SamplerStats struct {
	Publisher string `json:"publisher"`
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Dropped   uint64 `json:"dropped"`
}

func NewSampler(pub Publisher, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{pub: pub, interval: interval, logger: logger}
}

func (s *Sampler) Offer(m telemetry.MessageModel) {
	s.mailbox.Put(m)
}

// Run connects the publisher and forwards samples until ctx is cancelled.
// The publisher is disconnected on return.
func (s *Sampler) Run(ctx context.Context) error {
	defer s.pub.Disconnect()

	if err := s.pub.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
			return nil
		}
		// Publishers keep reconnecting on their own; samples are skipped meanwhile.
		s.logger.Warn("uplink connect failed", "publisher", s.pub.Name(), "error", err)
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.flush()
		}
	}
}

func (s *Sampler) flush() {
	m, ok := s.mailbox.Take()
	if !ok {
		return
	}
	if !s.pub.IsConnected() {
		s.skipped.Add(1)
		return
	}
	if err := s.pub.Publish(m); err != nil {
		s.failed.Add(1)
		s.logger.Warn("uplink publish failed", "publisher", s.pub.Name(), "error", err)
		return
	}
	s.published.Add(1)
}

func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Publisher: s.pub.Name(),
		Connected: s.pub.IsConnected(),
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Dropped:   s.mailbox.Overwritten(),
	}
}
