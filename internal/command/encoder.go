package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultCommandDelay is how long the device needs to process one command
// before it accepts the next.
const DefaultCommandDelay = 50 * time.Millisecond

var (
	ErrTransportClosed = errors.New("transport is not open")
	ErrShortWrite      = errors.New("short write")
)

// Writer is the outgoing side of a device transport.
type Writer interface {
	Write(p []byte) (int, error)
	IsOpen() bool
}

// Encoder sends command frames to the device.
type Encoder struct {
	w      Writer
	delay  time.Duration
	logger *slog.Logger
}

type Option func(*Encoder)

// WithDelay replaces DefaultCommandDelay. The device drops commands that
// arrive closer together than DefaultCommandDelay, so only tests driving a
// fake writer shorten it; zero disables the pause and negative values are
// ignored.
func WithDelay(d time.Duration) Option {
	return func(e *Encoder) {
		if d >= 0 {
			e.delay = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Encoder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEncoder(w Writer, opts ...Option) *Encoder {
	e := &Encoder{
		w:      w,
		delay:  DefaultCommandDelay,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send writes one framed command. Nothing is written if the transport is closed.
func (e *Encoder) Send(frame []byte) error {
	if e.w == nil || !e.w.IsOpen() {
		return ErrTransportClosed
	}
	n, err := e.w.Write(frame)
	if err != nil {
		return fmt.Errorf("write command %#02x: %w", commandType(frame), err)
	}
	if n != len(frame) {
		return fmt.Errorf("write command %#02x: %w (%d of %d bytes)", commandType(frame), ErrShortWrite, n, len(frame))
	}
	e.logger.Debug("command sent", "type", fmt.Sprintf("%#02x", commandType(frame)), "frame", fmt.Sprintf("% X", frame))
	return nil
}

// InitializeDevice unlocks factory commands and puts the SLED in constant
// current and the TEC in constant temperature mode, pausing after each command.
func (e *Encoder) InitializeDevice(ctx context.Context) error {
	if err := e.Send(Unlock()); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if err := e.wait(ctx); err != nil {
		return err
	}
	if err := e.Send(ControlMode(SledConstantCurrent, TECConstantTemperature)); err != nil {
		return fmt.Errorf("set control mode: %w", err)
	}
	return e.wait(ctx)
}

func (e *Encoder) SetSledCurrent(milliamps uint16) error {
	if err := e.Send(SledCurrentSetpoint(milliamps)); err != nil {
		return fmt.Errorf("set sled current: %w", err)
	}
	return nil
}

func (e *Encoder) SetTemperature(celsius int16) error {
	if err := e.Send(TemperatureSetpoint(celsius)); err != nil {
		return fmt.Errorf("set temperature: %w", err)
	}
	return nil
}

func (e *Encoder) wait(ctx context.Context) error {
	if e.delay <= 0 {
		return nil
	}
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func commandType(frame []byte) byte {
	if len(frame) < 3 {
		return 0
	}
	return frame[2]
}
