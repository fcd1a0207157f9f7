// Package control wires the serial link, the frame synchronizer, the chart
// buffer, the broadcast server and the command encoder into one device session.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
	"github.com/komcat/SiphogAdapter/internal/chart"
	"github.com/komcat/SiphogAdapter/internal/command"
	"github.com/komcat/SiphogAdapter/internal/framing"
	"github.com/komcat/SiphogAdapter/internal/telemetry"
	"github.com/komcat/SiphogAdapter/internal/transport"
)

const (
	DefaultBaud          = 691200
	DefaultSledCurrentMA = 150
	DefaultTemperatureC  = 25

	MinSledCurrentMA = 0
	MaxSledCurrentMA = 500
	MinTemperatureC  = 0
	MaxTemperatureC  = 50
)

var (
	ErrAlreadyConnected = errors.New("already connected to a device")
	ErrNotConnected     = errors.New("serial port is not open")
	ErrInvalidSetting   = errors.New("invalid setting")
)

// Sink receives every decoded sample on the reader goroutine. It must not block.
type Sink interface {
	Offer(telemetry.MessageModel)
}

type Settings struct {
	SledCurrentMA int `json:"sled_current_ma"`
	TemperatureC  int `json:"temperature_c"`
	Baud          int `json:"baud"`
}

// State is a point-in-time view of the session.
type State struct {
	Connected     bool                    `json:"connected"`
	Port          string                  `json:"port,omitempty"`
	Status        string                  `json:"status"`
	ServerStatus  string                  `json:"server_status,omitempty"`
	Ports         []string                `json:"ports"`
	Settings      Settings                `json:"settings"`
	Messages      uint64                  `json:"messages"`
	LastMessage   *telemetry.MessageModel `json:"last_message,omitempty"`
	LastMessageAt time.Time               `json:"last_message_at,omitempty"`
	BytesIn       uint64                  `json:"bytes_in"`
	BytesOut      uint64                  `json:"bytes_out"`
}

type Controller struct {
	logger       *slog.Logger
	commandDelay time.Duration
	now          func() time.Time

	link    *transport.Link
	framer  *framing.Synchronizer
	encoder *command.Encoder
	chart   *chart.Buffer
	server  *broadcast.Server
	sinks   []Sink
	events  eventLog

	// connMu serializes Connect, Disconnect and ApplySettings.
	connMu sync.Mutex

	mu           sync.RWMutex
	connected    bool
	port         string
	status       string
	serverStatus string
	ports        []string
	settings     Settings
	last         telemetry.MessageModel
	hasLast      bool
	lastAt       time.Time

	messages atomic.Uint64

	obsMu          sync.RWMutex
	onLog          []func(msg string, isError bool)
	onMessage      []func(telemetry.MessageModel)
	onConnection   []func(connected bool, port string)
	onServerStatus []func(msg string)
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithChart(b *chart.Buffer) Option {
	return func(c *Controller) { c.chart = b }
}

func WithServer(s *broadcast.Server) Option {
	return func(c *Controller) { c.server = s }
}

func WithSink(s Sink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithSettings sets the baud rate and the setpoints sent on Connect.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithCommandDelay overrides the pause between device commands. Production
// wiring keeps command.DefaultCommandDelay; tests pass zero.
func WithCommandDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.commandDelay = d
		}
	}
}

func New(opener transport.Opener, opts ...Option) *Controller {
	c := &Controller{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		commandDelay: command.DefaultCommandDelay,
		now:          time.Now,
		status:       "Not connected",
		settings: Settings{
			SledCurrentMA: DefaultSledCurrentMA,
			TemperatureC:  DefaultTemperatureC,
			Baud:          DefaultBaud,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.chart == nil {
		c.chart = chart.NewBuffer(chart.DefaultMaxPoints)
	}
	if c.server == nil {
		c.server = broadcast.NewServer(broadcast.WithLogger(c.logger))
	}
	c.framer = framing.New(c.handleMessage, framing.WithLogger(c.logger))
	c.link = transport.NewLink(opener, func(p []byte) { c.framer.Feed(p) },
		transport.WithLinkLogger(c.logger),
		transport.WithErrorHandler(c.handleLinkError),
	)
	c.encoder = command.NewEncoder(c.link, command.WithDelay(c.commandDelay), command.WithLogger(c.logger))

	c.server.OnLog(c.recordEvent)
	c.server.OnStatus(c.handleServerStatus)
	return c
}

// OnLog registers a listener for operator log lines. Listeners run
// synchronously on the goroutine that produced the event.
func (c *Controller) OnLog(fn func(msg string, isError bool)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onLog = append(c.onLog, fn)
}

// OnMessage registers a listener for decoded samples. It runs on the serial
// reader goroutine.
func (c *Controller) OnMessage(fn func(telemetry.MessageModel)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *Controller) OnConnection(fn func(connected bool, port string)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onConnection = append(c.onConnection, fn)
}

func (c *Controller) OnServerStatus(fn func(msg string)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onServerStatus = append(c.onServerStatus, fn)
}

// AvailablePorts enumerates serial ports and remembers the result.
func (c *Controller) AvailablePorts() ([]string, error) {
	ports, err := c.link.Ports()
	if err != nil {
		c.logEvent("Failed to list serial ports: "+err.Error(), true)
		return nil, err
	}
	c.mu.Lock()
	c.ports = append([]string(nil), ports...)
	c.mu.Unlock()
	c.logEvent(fmt.Sprintf("COM ports refreshed. Found %d ports.", len(ports)), false)
	return ports, nil
}

// Connect opens port, unlocks the device, selects the control modes and sends
// the current setpoints. On any failure the port is closed again.
func (c *Controller) Connect(ctx context.Context, port string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.IsConnected() {
		c.logEvent("Already connected to a device", true)
		return ErrAlreadyConnected
	}
	if port == "" {
		return fmt.Errorf("%w: empty port name", ErrInvalidSetting)
	}

	settings := c.Settings()
	c.framer.Reset()
	if err := c.link.Open(port, settings.Baud); err != nil {
		c.logEvent(fmt.Sprintf("Failed to open serial port: %s (%s)", port, transport.DescribeError(err)), true)
		c.notifyConnection(false, port)
		return fmt.Errorf("connect %s: %w", port, err)
	}

	if err := c.initialize(ctx, settings); err != nil {
		c.logEvent("Device initialization error: "+err.Error(), true)
		_ = c.link.Close()
		c.notifyConnection(false, port)
		return fmt.Errorf("connect %s: %w", port, err)
	}

	status := fmt.Sprintf("Connected to %s at %d baud", port, settings.Baud)
	c.mu.Lock()
	c.connected = true
	c.port = port
	c.status = status
	c.mu.Unlock()

	c.logEvent(status, false)
	c.notifyConnection(true, port)
	return nil
}

func (c *Controller) initialize(ctx context.Context, s Settings) error {
	if err := c.encoder.InitializeDevice(ctx); err != nil {
		return err
	}
	c.logEvent("Device initialized with factory unlock and control modes set", false)

	if err := c.encoder.SetSledCurrent(uint16(s.SledCurrentMA)); err != nil {
		return err
	}
	if err := c.encoder.SetTemperature(int16(s.TemperatureC)); err != nil {
		return err
	}
	c.logEvent(fmt.Sprintf("Initial settings applied: SLED Current = %d mA, Temperature = %d °C",
		s.SledCurrentMA, s.TemperatureC), false)
	return nil
}

// Disconnect closes the serial port.
func (c *Controller) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}

	err := c.link.Close()

	c.mu.Lock()
	port := c.port
	c.connected = false
	c.status = "Disconnected"
	c.mu.Unlock()

	c.logEvent("Disconnected from serial port", false)
	c.notifyConnection(false, port)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", port, err)
	}
	return nil
}

// ApplySettings validates and sends new setpoints. They are kept only if the
// device accepted both commands.
func (c *Controller) ApplySettings(ctx context.Context, sledCurrentMA, temperatureC int) error {
	if sledCurrentMA < MinSledCurrentMA || sledCurrentMA > MaxSledCurrentMA {
		c.logEvent(fmt.Sprintf("Invalid SLED current value: %d mA. Must be between %d and %d mA.",
			sledCurrentMA, MinSledCurrentMA, MaxSledCurrentMA), true)
		return fmt.Errorf("%w: sled current %d mA outside %d..%d", ErrInvalidSetting, sledCurrentMA, MinSledCurrentMA, MaxSledCurrentMA)
	}
	if temperatureC < MinTemperatureC || temperatureC > MaxTemperatureC {
		c.logEvent(fmt.Sprintf("Invalid temperature value: %d °C. Must be between %d and %d °C.",
			temperatureC, MinTemperatureC, MaxTemperatureC), true)
		return fmt.Errorf("%w: temperature %d °C outside %d..%d", ErrInvalidSetting, temperatureC, MinTemperatureC, MaxTemperatureC)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.IsConnected() {
		c.logEvent("Cannot apply settings: Serial port is not open", true)
		return ErrNotConnected
	}

	if err := c.encoder.SetSledCurrent(uint16(sledCurrentMA)); err != nil {
		c.logEvent("Error applying settings: "+err.Error(), true)
		return err
	}
	if err := c.encoder.SetTemperature(int16(temperatureC)); err != nil {
		c.logEvent("Error applying settings: "+err.Error(), true)
		return err
	}

	c.mu.Lock()
	c.settings.SledCurrentMA = sledCurrentMA
	c.settings.TemperatureC = temperatureC
	c.mu.Unlock()

	c.logEvent(fmt.Sprintf("Settings applied: SLED Current = %d mA, Temperature = %d °C", sledCurrentMA, temperatureC), false)
	return nil
}

// SetBaudrate takes effect on the next Connect.
func (c *Controller) SetBaudrate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidSetting, baud)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Baud = baud
	return nil
}

func (c *Controller) Baudrate() int { return c.Settings().Baud }

func (c *Controller) SledCurrent() int { return c.Settings().SledCurrentMA }

func (c *Controller) Temperature() int { return c.Settings().TemperatureC }

func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func (c *Controller) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Controller) PortName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ""
	}
	return c.port
}

func (c *Controller) ConnectionInfo() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return "Not connected"
	}
	return fmt.Sprintf("Connected to %s at %d baud", c.port, c.settings.Baud)
}

// LastMessage returns the newest decoded sample; ok is false before the first.
func (c *Controller) LastMessage() (telemetry.MessageModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.hasLast
}

func (c *Controller) State() State {
	in, out := c.link.Counters()

	c.mu.RLock()
	defer c.mu.RUnlock()
	s := State{
		Connected:    c.connected,
		Port:         c.port,
		Status:       c.status,
		ServerStatus: c.serverStatus,
		Ports:        append([]string{}, c.ports...),
		Settings:     c.settings,
		Messages:     c.messages.Load(),
		BytesIn:      in,
		BytesOut:     out,
	}
	if c.hasLast {
		last := c.last
		s.LastMessage = &last
		s.LastMessageAt = c.lastAt
	}
	return s
}

func (c *Controller) Chart() *chart.Buffer { return c.chart }

func (c *Controller) FramingStats() framing.Stats { return c.framer.Stats() }

// Export writes the chart buffer as CSV to path.
func (c *Controller) Export(path string) (int64, error) {
	rows := c.chart.Len()
	n, err := c.chart.ExportCSV(path)
	if err != nil {
		c.logEvent("Export failed: "+err.Error(), true)
		return 0, err
	}
	c.logEvent(fmt.Sprintf("Exported %d samples to %s (%s)", rows, path, humanize.Bytes(uint64(n))), false)
	return n, nil
}

func (c *Controller) Events() []Event { return c.events.list() }

func (c *Controller) ClearEvents() {
	c.events.clear()
	c.logEvent("Log cleared", false)
}

func (c *Controller) StartServer(host string, port int) error {
	return c.server.Start(host, port)
}

func (c *Controller) StopServer() { c.server.Stop() }

func (c *Controller) IsServerRunning() bool { return c.server.IsRunning() }

func (c *Controller) IsClientConnected() bool { return c.server.IsClientConnected() }

func (c *Controller) ServerInfo() broadcast.Info { return c.server.Info() }

func (c *Controller) ServerStats() broadcast.Stats { return c.server.Stats() }

func (c *Controller) ServerDataKeys() []string { return c.server.DataKeys() }

// Close disconnects the device and stops the broadcast server.
func (c *Controller) Close() error {
	var errs []error
	if err := c.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		errs = append(errs, err)
	}
	if err := c.link.Close(); err != nil {
		errs = append(errs, err)
	}
	c.server.Stop()
	return errors.Join(errs...)
}

func (c *Controller) handleMessage(m telemetry.MessageModel) {
	c.mu.Lock()
	c.last = m
	c.hasLast = true
	c.lastAt = c.now()
	c.mu.Unlock()
	c.messages.Add(1)

	c.chart.Add(m)
	c.server.UpdateData(m)
	for _, s := range c.sinks {
		s.Offer(m)
	}

	c.obsMu.RLock()
	listeners := c.onMessage
	c.obsMu.RUnlock()
	for _, fn := range listeners {
		fn(m)
	}
}

func (c *Controller) handleLinkError(err error) {
	c.mu.Lock()
	port := c.port
	wasConnected := c.connected
	c.connected = false
	c.status = "Connection lost: " + transport.DescribeError(err)
	c.mu.Unlock()

	c.logEvent("Serial read error: "+err.Error(), true)
	if wasConnected {
		c.notifyConnection(false, port)
	}
}

func (c *Controller) handleServerStatus(msg string) {
	c.mu.Lock()
	c.serverStatus = msg
	c.mu.Unlock()

	c.obsMu.RLock()
	listeners := c.onServerStatus
	c.obsMu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

func (c *Controller) logEvent(msg string, isError bool) {
	if isError {
		c.logger.Error(msg)
	} else {
		c.logger.Info(msg)
	}
	c.recordEvent(msg, isError)
}

// recordEvent adds to the event log and notifies listeners without writing to
// the structured log.
func (c *Controller) recordEvent(msg string, isError bool) {
	c.events.add(Event{Time: c.now(), Message: msg, Error: isError})

	c.obsMu.RLock()
	listeners := c.onLog
	c.obsMu.RUnlock()
	for _, fn := range listeners {
		fn(msg, isError)
	}
}

func (c *Controller) notifyConnection(connected bool, port string) {
	c.obsMu.RLock()
	listeners := c.onConnection
	c.obsMu.RUnlock()
	for _, fn := range listeners {
		fn(connected, port)
	}
}
