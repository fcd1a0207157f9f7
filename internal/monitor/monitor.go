// Package monitor follows a SiPhOG broadcast stream and reports its rate.
package monitor

import (
	"sync"
	"time"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
)

const (
	// RateWindow is how many arrival times the rate is computed over.
	RateWindow = 50

	ExcellentHz = 30.0
	GoodHz      = 10.0
)

// Quality grades a sample rate.
func Quality(rateHz float64) string {
	switch {
	case rateHz > ExcellentHz:
		return "Excellent"
	case rateHz > GoodHz:
		return "Good"
	default:
		return "Slow"
	}
}

// RateTracker keeps the last RateWindow arrival times.
type RateTracker struct {
	times []time.Time
	next  int
	full  bool
}

func NewRateTracker() *RateTracker {
	return &RateTracker{times: make([]time.Time, RateWindow)}
}

func (r *RateTracker) Add(t time.Time) {
	r.times[r.next] = t
	r.next = (r.next + 1) % len(r.times)
	if r.next == 0 {
		r.full = true
	}
}

func (r *RateTracker) count() int {
	if r.full {
		return len(r.times)
	}
	return r.next
}

// Rate is (n-1)/span over the window, or 0 with fewer than two samples or a
// zero span.
func (r *RateTracker) Rate() float64 {
	n := r.count()
	if n < 2 {
		return 0
	}
	oldest := 0
	if r.full {
		oldest = r.next
	}
	newest := (r.next - 1 + len(r.times)) % len(r.times)
	span := r.times[newest].Sub(r.times[oldest]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}

// Snapshot is what the monitor has seen so far.
type Snapshot struct {
	Messages  uint64
	Malformed uint64
	Rate      float64
	Quality   string
	Latest    broadcast.Sample
	LatestAt  time.Time
	Started   time.Time
}

// AverageRate is messages over the time since Started.
func (s Snapshot) AverageRate(now time.Time) float64 {
	d := now.Sub(s.Started).Seconds()
	if d < 1 {
		d = 1
	}
	return float64(s.Messages) / d
}

// Monitor aggregates samples from any source. It is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	rate      *RateTracker
	messages  uint64
	malformed uint64
	latest    broadcast.Sample
	latestAt  time.Time
	started   time.Time
}

func New(now time.Time) *Monitor {
	return &Monitor{rate: NewRateTracker(), started: now}
}

func (m *Monitor) Observe(s broadcast.Sample, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages++
	m.rate.Add(at)
	m.latest = s
	m.latestAt = at
}

func (m *Monitor) Malformed() {
	m.mu.Lock()
	m.malformed++
	m.mu.Unlock()
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rate.Rate()
	return Snapshot{
		Messages:  m.messages,
		Malformed: m.malformed,
		Rate:      r,
		Quality:   Quality(r),
		Latest:    m.latest,
		LatestAt:  m.latestAt,
		Started:   m.started,
	}
}
