package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	UplinkNone = "none"
	UplinkMQTT = "mqtt"
	UplinkNATS = "nats"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SerialPort        string
	SerialBaud        int
	SerialReadTimeout time.Duration

	DeviceID      string
	SledCurrentMA int
	TemperatureC  int

	BroadcastEnabled bool
	BroadcastHost    string
	BroadcastPort    int

	ChartMaxPoints int
	// ExportDir is absolute; relative values are resolved against the working
	// directory at startup.
	ExportDir string

	Uplink         string
	UplinkInterval time.Duration

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	NATSURL           string
	NATSSubjectPrefix string
}

// LoadFromEnv builds the configuration from the environment. When CONFIG_FILE
// names a YAML file its values replace the built-in defaults; non-empty
// environment variables win over both.
func LoadFromEnv() (Config, error) {
	seed := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("CONFIG_FILE %q: %w", path, err)
		}
		seed = f.values()
	}
	get := func(name, def string) string {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
		if v, ok := seed[name]; ok {
			return v
		}
		return def
	}

	appEnv := get("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(get("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	serialBaud, err := positiveInt("SERIAL_BAUD", get("SERIAL_BAUD", "691200"))
	if err != nil {
		return Config{}, err
	}

	readTimeoutStr := get("SERIAL_READ_TIMEOUT", "500ms")
	readTimeout, err := time.ParseDuration(readTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SERIAL_READ_TIMEOUT %q: %w", readTimeoutStr, err)
	}
	if readTimeout <= 0 {
		return Config{}, fmt.Errorf("SERIAL_READ_TIMEOUT must be positive, got %v", readTimeout)
	}

	sledStr := get("SLED_CURRENT_MA", "150")
	sled, err := strconv.Atoi(sledStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SLED_CURRENT_MA %q: %w", sledStr, err)
	}
	if sled < 0 || sled > 500 {
		return Config{}, fmt.Errorf("SLED_CURRENT_MA must be within 0..500, got %d", sled)
	}

	tempStr := get("TEC_TEMPERATURE_C", "25")
	temp, err := strconv.Atoi(tempStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TEC_TEMPERATURE_C %q: %w", tempStr, err)
	}
	if temp < 0 || temp > 50 {
		return Config{}, fmt.Errorf("TEC_TEMPERATURE_C must be within 0..50, got %d", temp)
	}

	broadcastEnabledStr := get("BROADCAST_ENABLED", "true")
	broadcastEnabled, err := strconv.ParseBool(broadcastEnabledStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BROADCAST_ENABLED %q: %w", broadcastEnabledStr, err)
	}

	broadcastPort, err := portNumber("BROADCAST_PORT", get("BROADCAST_PORT", "65432"))
	if err != nil {
		return Config{}, err
	}

	maxPoints, err := positiveInt("CHART_MAX_POINTS", get("CHART_MAX_POINTS", "1000"))
	if err != nil {
		return Config{}, err
	}

	exportDir := get("EXPORT_DIR", ".")
	exportDir, err = filepath.Abs(exportDir)
	if err != nil {
		return Config{}, fmt.Errorf("EXPORT_DIR %q: %w", exportDir, err)
	}

	uplink := strings.ToLower(get("UPLINK", UplinkNone))
	switch uplink {
	case UplinkNone, UplinkMQTT, UplinkNATS:
	default:
		return Config{}, fmt.Errorf("invalid UPLINK %q (allowed: none, mqtt, nats)", uplink)
	}

	uplinkIntervalStr := get("UPLINK_INTERVAL", "1s")
	uplinkInterval, err := time.ParseDuration(uplinkIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid UPLINK_INTERVAL %q: %w", uplinkIntervalStr, err)
	}
	if uplinkInterval <= 0 {
		return Config{}, fmt.Errorf("UPLINK_INTERVAL must be positive, got %v", uplinkInterval)
	}

	mqttPort, err := portNumber("MQTT_PORT", get("MQTT_PORT", "1883"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		HTTPAddr:          get("HTTP_ADDR", ":8080"),
		SerialPort:        get("SERIAL_PORT", ""),
		SerialBaud:        serialBaud,
		SerialReadTimeout: readTimeout,
		DeviceID:          get("DEVICE_ID", "siphog"),
		SledCurrentMA:     sled,
		TemperatureC:      temp,
		BroadcastEnabled:  broadcastEnabled,
		BroadcastHost:     get("BROADCAST_HOST", "127.0.0.1"),
		BroadcastPort:     broadcastPort,
		ChartMaxPoints:    maxPoints,
		ExportDir:         exportDir,
		Uplink:            uplink,
		UplinkInterval:    uplinkInterval,
		MQTTBroker:        get("MQTT_BROKER", "localhost"),
		MQTTPort:          mqttPort,
		MQTTClientID:      get("MQTT_CLIENT_ID", "siphog-adapter"),
		MQTTTopicPrefix:   get("MQTT_TOPIC_PREFIX", "siphog"),
		NATSURL:           get("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubjectPrefix: get("NATS_SUBJECT_PREFIX", "siphog"),
	}, nil
}

func positiveInt(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return v, nil
}

func portNumber(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v < 0 || v > 65535 {
		return 0, fmt.Errorf("%s must be within 0..65535, got %d", name, v)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
