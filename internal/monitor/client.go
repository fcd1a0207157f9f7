package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
)

const DefaultDialTimeout = 5 * time.Second

// Client reads broadcast lines from a SiPhOG server into a Monitor.
type Client struct {
	Addr        string
	DialTimeout time.Duration
	Logger      *slog.Logger
	Monitor     *Monitor

	now func() time.Time
}

// Run connects and reads until the server hangs up or ctx is done. A server
// hangup is not an error.
func (c *Client) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := c.now
	if now == nil {
		now = time.Now
	}
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	d := net.Dialer{Timeout: timeout}
	logger.Info("connecting", "addr", c.Addr)
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.Addr, err)
	}
	logger.Info("connected", "addr", c.Addr)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		s, err := broadcast.ParseLine(line)
		if err != nil {
			c.Monitor.Malformed()
			logger.Debug("skipping line", "error", err)
			continue
		}
		c.Monitor.Observe(s, now())
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("read %s: %w", c.Addr, err)
	}
	logger.Info("server disconnected", "addr", c.Addr)
	return nil
}
