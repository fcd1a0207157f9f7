package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

type NATSPublisher struct {
	url      string
	deviceID string
	subject  string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *nats.Conn
	stopped bool
}

func NewNATSPublisher(cfg config.Config, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		url:      cfg.NATSURL,
		deviceID: cfg.DeviceID,
		subject:  TelemetrySubject(cfg.NATSSubjectPrefix, cfg.DeviceID),
		logger:   logger,
	}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Connect dials the server. An unreachable server is not an error: the
// connection keeps retrying in the background.
func (p *NATSPublisher) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.conn != nil {
		return nil
	}

	logger := p.logger
	opts := []nats.Option{
		nats.Name("siphog-" + p.deviceID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	conn, err := nats.Connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", p.url, err)
	}
	p.conn = conn
	logger.Info("nats connecting", "url", p.url, "subject", p.subject)
	return nil
}

func (p *NATSPublisher) Publish(m telemetry.MessageModel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || !p.conn.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(NewEnvelope(p.deviceID, m, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

func (p *NATSPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && p.conn.IsConnected()
}

// Disconnect flushes pending messages and closes the connection.
func (p *NATSPublisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if p.conn == nil {
		return
	}
	if p.conn.IsConnected() {
		if err := p.conn.FlushTimeout(time.Second); err != nil {
			p.logger.Warn("nats flush failed", "error", err)
		}
	}
	p.conn.Close()
	p.conn = nil
}
