package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"testing"
	"time"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
)

func TestQuality(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "Slow"},
		{10, "Slow"},
		{10.5, "Good"},
		{30, "Good"},
		{30.1, "Excellent"},
		{200, "Excellent"},
	}
	for _, tt := range tests {
		if got := Quality(tt.rate); got != tt.want {
			t.Errorf("Quality(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestRateTracker(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := NewRateTracker()
	if r.Rate() != 0 {
		t.Fatalf("empty rate = %v", r.Rate())
	}
	r.Add(base)
	if r.Rate() != 0 {
		t.Fatalf("single-sample rate = %v", r.Rate())
	}

	// 20 samples 10 ms apart: 19 intervals over 190 ms.
	for i := 1; i < 20; i++ {
		r.Add(base.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	if got := r.Rate(); math.Abs(got-100) > 1e-9 {
		t.Fatalf("rate = %v, want 100", got)
	}

	// Slow down to 20 ms; once the window is all slow samples the rate is 50 Hz.
	last := base.Add(190 * time.Millisecond)
	for i := 1; i <= RateWindow; i++ {
		r.Add(last.Add(time.Duration(i) * 20 * time.Millisecond))
	}
	if got := r.Rate(); math.Abs(got-50) > 1e-9 {
		t.Fatalf("rate after wrap = %v, want 50", got)
	}
}

func TestRateTracker_ZeroSpan(t *testing.T) {
	r := NewRateTracker()
	at := time.Now()
	r.Add(at)
	r.Add(at)
	if r.Rate() != 0 {
		t.Fatalf("zero span rate = %v", r.Rate())
	}
}

func TestSnapshot_AverageRate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Snapshot{Messages: 400, Started: start}
	if got := s.AverageRate(start.Add(2 * time.Second)); got != 200 {
		t.Fatalf("average = %v", got)
	}
	if got := s.AverageRate(start); got != 400 {
		t.Fatalf("average with sub-second session = %v, want 400", got)
	}
}

func serve(t *testing.T, lines ...string) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, line := range lines {
			if _, err := io.WriteString(conn, line); err != nil {
				return
			}
		}
	}()
	return l.Addr().String()
}

func TestClient_ReadsUntilHangup(t *testing.T) {
	addr := serve(t,
		"150.000000,625.000000,25.000000,0.050000,0.500000,-12.000000\n",
		"not,a,line\n",
		"\n",
		"151.000000,626.000000,25.100000,0.050000,0.510000,-12.100000\n",
	)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	mon := New(base)
	c := &Client{
		Addr:    addr,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Monitor: mon,
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * 25 * time.Millisecond)
		},
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := mon.Snapshot()
	if s.Messages != 2 || s.Malformed != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	want := broadcast.Sample{SledCurrent: 151, PhotoCurrent: 626, SledTemp: 25.1, TargetSagPower: 0.05, SagPower: 0.51, TECCurrent: -12.1}
	if s.Latest != want {
		t.Fatalf("latest = %+v, want %+v", s.Latest, want)
	}
	if math.Abs(s.Rate-40) > 1e-9 || s.Quality != "Excellent" {
		t.Fatalf("rate = %v quality = %q", s.Rate, s.Quality)
	}
}

func TestClient_DialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	c := &Client{Addr: addr, DialTimeout: time.Second, Monitor: New(time.Now()), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestClient_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		// Hold the connection open without sending anything.
		_, _ = io.Copy(io.Discard, conn)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{Addr: l.Addr().String(), Monitor: New(time.Now()), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
