package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

var envVars = []string{
	"CONFIG_FILE", "APP_ENV", "LOG_LEVEL", "HTTP_ADDR",
	"SERIAL_PORT", "SERIAL_BAUD", "SERIAL_READ_TIMEOUT",
	"DEVICE_ID", "SLED_CURRENT_MA", "TEC_TEMPERATURE_C",
	"BROADCAST_ENABLED", "BROADCAST_HOST", "BROADCAST_PORT",
	"CHART_MAX_POINTS", "EXPORT_DIR", "UPLINK", "UPLINK_INTERVAL",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID", "MQTT_TOPIC_PREFIX",
	"NATS_URL", "NATS_SUBJECT_PREFIX",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	wd, _ := os.Getwd()
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"AppEnv", got.AppEnv, "dev"},
		{"LogLevel", got.LogLevel, slog.LevelInfo},
		{"HTTPAddr", got.HTTPAddr, ":8080"},
		{"SerialPort", got.SerialPort, ""},
		{"SerialBaud", got.SerialBaud, 691200},
		{"SerialReadTimeout", got.SerialReadTimeout, 500 * time.Millisecond},
		{"DeviceID", got.DeviceID, "siphog"},
		{"SledCurrentMA", got.SledCurrentMA, 150},
		{"TemperatureC", got.TemperatureC, 25},
		{"BroadcastEnabled", got.BroadcastEnabled, true},
		{"BroadcastHost", got.BroadcastHost, "127.0.0.1"},
		{"BroadcastPort", got.BroadcastPort, 65432},
		{"ChartMaxPoints", got.ChartMaxPoints, 1000},
		{"ExportDir", got.ExportDir, wd},
		{"Uplink", got.Uplink, UplinkNone},
		{"UplinkInterval", got.UplinkInterval, time.Second},
		{"MQTTBroker", got.MQTTBroker, "localhost"},
		{"MQTTPort", got.MQTTPort, 1883},
		{"MQTTClientID", got.MQTTClientID, "siphog-adapter"},
		{"MQTTTopicPrefix", got.MQTTTopicPrefix, "siphog"},
		{"NATSURL", got.NATSURL, "nats://127.0.0.1:4222"},
		{"NATSSubjectPrefix", got.NATSSubjectPrefix, "siphog"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromEnv_AppEnv(t *testing.T) {
	tests := []struct {
		name    string
		appEnv  string
		want    string
		wantErr bool
	}{
		{name: "dev", appEnv: "dev", want: "dev"},
		{name: "prod", appEnv: "prod", want: "prod"},
		{name: "prod with whitespace", appEnv: "\nprod\t", want: "prod"},
		{name: "staging", appEnv: "staging", wantErr: true},
		{name: "uppercase", appEnv: "DEV", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", tt.appEnv)

			got, err := LoadFromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LoadFromEnv() error = nil, want non-nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v, want nil", err)
			}
			if got.AppEnv != tt.want {
				t.Errorf("AppEnv = %q, want %q", got.AppEnv, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"baud not a number", "SERIAL_BAUD", "fast"},
		{"baud zero", "SERIAL_BAUD", "0"},
		{"read timeout garbage", "SERIAL_READ_TIMEOUT", "soon"},
		{"read timeout negative", "SERIAL_READ_TIMEOUT", "-1s"},
		{"sled current too high", "SLED_CURRENT_MA", "501"},
		{"sled current negative", "SLED_CURRENT_MA", "-5"},
		{"temperature too high", "TEC_TEMPERATURE_C", "51"},
		{"temperature not a number", "TEC_TEMPERATURE_C", "warm"},
		{"broadcast enabled garbage", "BROADCAST_ENABLED", "maybe"},
		{"broadcast port out of range", "BROADCAST_PORT", "70000"},
		{"chart max points zero", "CHART_MAX_POINTS", "0"},
		{"unknown uplink", "UPLINK", "kafka"},
		{"uplink interval zero", "UPLINK_INTERVAL", "0s"},
		{"mqtt port garbage", "MQTT_PORT", "abc"},
		{"log level", "LOG_LEVEL", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q error = nil, want non-nil", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERIAL_PORT", " /dev/ttyUSB0 ")
	t.Setenv("SERIAL_BAUD", "115200")
	t.Setenv("UPLINK", "MQTT")
	t.Setenv("BROADCAST_ENABLED", "false")
	t.Setenv("BROADCAST_PORT", "0")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.SerialPort != "/dev/ttyUSB0" || got.SerialBaud != 115200 {
		t.Errorf("serial = %q @ %d", got.SerialPort, got.SerialBaud)
	}
	if got.Uplink != UplinkMQTT {
		t.Errorf("Uplink = %q, want mqtt", got.Uplink)
	}
	if got.BroadcastEnabled || got.BroadcastPort != 0 {
		t.Errorf("broadcast enabled=%v port=%d", got.BroadcastEnabled, got.BroadcastPort)
	}
}

const sampleFile = `
appEnv: prod
logLevel: debug
serial:
  port: /dev/ttyACM0
  baud: 921600
  readTimeout: 250ms
device:
  id: bench-1
  sledCurrentMA: 0
  temperatureC: 30
broadcast:
  enabled: false
  port: 7000
chart:
  maxPoints: 5000
uplink:
  kind: nats
  interval: 2s
nats:
  url: nats://broker:4222
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siphog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromEnv_ConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeFile(t, sampleFile))
	t.Setenv("SERIAL_BAUD", "691200") // env wins over the file

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "prod" || got.LogLevel != slog.LevelDebug {
		t.Errorf("env=%q level=%v", got.AppEnv, got.LogLevel)
	}
	if got.SerialPort != "/dev/ttyACM0" || got.SerialBaud != 691200 || got.SerialReadTimeout != 250*time.Millisecond {
		t.Errorf("serial = %q @ %d, timeout %v", got.SerialPort, got.SerialBaud, got.SerialReadTimeout)
	}
	if got.DeviceID != "bench-1" || got.SledCurrentMA != 0 || got.TemperatureC != 30 {
		t.Errorf("device = %q %d mA %d °C", got.DeviceID, got.SledCurrentMA, got.TemperatureC)
	}
	if got.BroadcastEnabled || got.BroadcastPort != 7000 || got.BroadcastHost != "127.0.0.1" {
		t.Errorf("broadcast = %v %s:%d", got.BroadcastEnabled, got.BroadcastHost, got.BroadcastPort)
	}
	if got.ChartMaxPoints != 5000 {
		t.Errorf("ChartMaxPoints = %d", got.ChartMaxPoints)
	}
	if got.Uplink != UplinkNATS || got.UplinkInterval != 2*time.Second || got.NATSURL != "nats://broker:4222" {
		t.Errorf("uplink = %q every %v to %q", got.Uplink, got.UplinkInterval, got.NATSURL)
	}
}

func TestLoadFromEnv_ConfigFileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{"unknown key", func(t *testing.T) string { return writeFile(t, "serial:\n  speed: 9600\n") }},
		{"bad duration", func(t *testing.T) string { return writeFile(t, "uplink:\n  interval: often\n") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CONFIG_FILE", tt.path(t))
			if _, err := LoadFromEnv(); err == nil {
				t.Fatal("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 1m30s\n"), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if time.Duration(v.D) != 90*time.Second {
		t.Errorf("D = %v, want 1m30s", time.Duration(v.D))
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != "d: 1m30s\n" {
		t.Errorf("Marshal = %q", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "DeBuG", want: slog.LevelDebug},
		{in: "  warn \n", want: slog.LevelWarn},
		{in: "", want: slog.LevelInfo, wantErr: true},
		{in: "warns", want: slog.LevelInfo, wantErr: true},
		{in: "1", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
