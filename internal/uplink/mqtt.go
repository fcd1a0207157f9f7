package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

const publishTimeout = 5 * time.Second

type MQTTPublisher struct {
	client      mqtt.Client
	cfg         config.Config
	logger      *slog.Logger
	topic       string
	statusTopic string

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTTPublisher(cfg config.Config, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &MQTTPublisher{
		cfg:         cfg,
		logger:      logger,
		topic:       TelemetryTopic(cfg.MQTTTopicPrefix, cfg.DeviceID),
		statusTopic: StatusTopic(cfg.MQTTTopicPrefix, cfg.DeviceID),
		stopCh:      make(chan struct{}),
	}

	offline, err := json.Marshal(Status{DeviceID: cfg.DeviceID, Online: false})
	if err != nil {
		return nil, fmt.Errorf("marshal will: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker marks the device offline if we vanish without Disconnect.
	opts.SetBinaryWill(p.statusTopic, offline, 1, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		go func() {
			if err := p.PublishStatus(true); err != nil {
				logger.Warn("mqtt status publish failed", "error", err)
			}
		}()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Connect waits for the first broker connection, honouring ctx and Disconnect.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

func (p *MQTTPublisher) Publish(m telemetry.MessageModel) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(NewEnvelope(p.cfg.DeviceID, m, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", p.topic)
	}
	if token.Error() != nil {
		p.logger.Error("failed to publish telemetry", "topic", p.topic, "error", token.Error())
		return fmt.Errorf("publish telemetry: %w", token.Error())
	}

	p.logger.Debug("published telemetry", "topic", p.topic, "counter", m.Counter)
	return nil
}

// PublishStatus publishes the retained online marker for this device.
func (p *MQTTPublisher) PublishStatus(online bool) error {
	data, err := json.Marshal(Status{DeviceID: p.cfg.DeviceID, Online: online, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	token := p.client.Publish(p.statusTopic, 1, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", p.statusTopic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish status: %w", token.Error())
	}
	p.logger.Debug("published status", "topic", p.statusTopic, "online", online)
	return nil
}

func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect marks the device offline and closes the connection. It is
// idempotent; Connect fails with ErrStopped afterwards.
func (p *MQTTPublisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if p.IsConnected() {
		if err := p.PublishStatus(false); err != nil {
			p.logger.Warn("mqtt offline status failed", "error", err)
		}
	}
	if p.client != nil {
		p.client.Disconnect(250)
	}

	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
