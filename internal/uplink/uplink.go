// Package uplink forwards decimated telemetry to a message broker.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

var (
	ErrNotConnected = errors.New("uplink not connected")
	ErrStopped      = errors.New("uplink stopped")
)

// Publisher delivers samples to a broker.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(m telemetry.MessageModel) error
	IsConnected() bool
	Disconnect()
	Name() string
}

// Envelope is the JSON document published for each sample. Non-finite values
// are sent as zero and listed in Invalid.
type Envelope struct {
	DeviceID  string                 `json:"device_id"`
	Timestamp time.Time              `json:"timestamp"`
	Telemetry telemetry.MessageModel `json:"telemetry"`
	Invalid   []string               `json:"invalid,omitempty"`
}

func NewEnvelope(deviceID string, m telemetry.MessageModel, now time.Time) Envelope {
	clean, invalid := m.Finite()
	return Envelope{
		DeviceID:  deviceID,
		Timestamp: now.UTC(),
		Telemetry: clean,
		Invalid:   invalid,
	}
}

// Status is the retained online/offline marker for a device.
type Status struct {
	DeviceID  string    `json:"device_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

func TelemetryTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", prefix, deviceID)
}

func StatusTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/status", prefix, deviceID)
}

func TelemetrySubject(prefix, deviceID string) string {
	return fmt.Sprintf("%s.%s.telemetry", prefix, deviceID)
}

// New builds the publisher selected by cfg.Uplink. It returns nil, nil when
// the uplink is disabled.
func New(cfg config.Config, logger *slog.Logger) (Publisher, error) {
	switch cfg.Uplink {
	case config.UplinkNone, "":
		return nil, nil
	case config.UplinkMQTT:
		return NewMQTTPublisher(cfg, logger)
	case config.UplinkNATS:
		return NewNATSPublisher(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown uplink %q", cfg.Uplink)
	}
}
