package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration reads Go duration strings ("500ms", "1s") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// File is the optional YAML configuration named by CONFIG_FILE. Every value
// it sets can still be overridden by the matching environment variable.
type File struct {
	AppEnv   string `yaml:"appEnv"`
	LogLevel string `yaml:"logLevel"`
	HTTPAddr string `yaml:"httpAddr"`

	Serial struct {
		Port        string   `yaml:"port"`
		Baud        int      `yaml:"baud"`
		ReadTimeout Duration `yaml:"readTimeout"`
	} `yaml:"serial"`

	Device struct {
		ID            string `yaml:"id"`
		SledCurrentMA *int   `yaml:"sledCurrentMA"`
		TemperatureC  *int   `yaml:"temperatureC"`
	} `yaml:"device"`

	Broadcast struct {
		Enabled *bool  `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"broadcast"`

	Chart struct {
		MaxPoints int    `yaml:"maxPoints"`
		ExportDir string `yaml:"exportDir"`
	} `yaml:"chart"`

	Uplink struct {
		Kind     string   `yaml:"kind"`
		Interval Duration `yaml:"interval"`
	} `yaml:"uplink"`

	MQTT struct {
		Broker      string `yaml:"broker"`
		Port        int    `yaml:"port"`
		ClientID    string `yaml:"clientID"`
		TopicPrefix string `yaml:"topicPrefix"`
	} `yaml:"mqtt"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subjectPrefix"`
	} `yaml:"nats"`
}

// ReadFile parses the YAML file at path. Unknown keys are rejected.
func ReadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return File{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// values flattens the file into the environment variable names it seeds.
func (f File) values() map[string]string {
	out := map[string]string{}
	set := func(name, v string) {
		if v != "" {
			out[name] = v
		}
	}
	setInt := func(name string, v int) {
		if v != 0 {
			out[name] = strconv.Itoa(v)
		}
	}
	setDur := func(name string, d Duration) {
		if d != 0 {
			out[name] = time.Duration(d).String()
		}
	}

	set("APP_ENV", f.AppEnv)
	set("LOG_LEVEL", f.LogLevel)
	set("HTTP_ADDR", f.HTTPAddr)
	set("SERIAL_PORT", f.Serial.Port)
	setInt("SERIAL_BAUD", f.Serial.Baud)
	setDur("SERIAL_READ_TIMEOUT", f.Serial.ReadTimeout)
	set("DEVICE_ID", f.Device.ID)
	if f.Device.SledCurrentMA != nil {
		out["SLED_CURRENT_MA"] = strconv.Itoa(*f.Device.SledCurrentMA)
	}
	if f.Device.TemperatureC != nil {
		out["TEC_TEMPERATURE_C"] = strconv.Itoa(*f.Device.TemperatureC)
	}
	if f.Broadcast.Enabled != nil {
		out["BROADCAST_ENABLED"] = strconv.FormatBool(*f.Broadcast.Enabled)
	}
	set("BROADCAST_HOST", f.Broadcast.Host)
	setInt("BROADCAST_PORT", f.Broadcast.Port)
	setInt("CHART_MAX_POINTS", f.Chart.MaxPoints)
	set("EXPORT_DIR", f.Chart.ExportDir)
	set("UPLINK", f.Uplink.Kind)
	setDur("UPLINK_INTERVAL", f.Uplink.Interval)
	set("MQTT_BROKER", f.MQTT.Broker)
	setInt("MQTT_PORT", f.MQTT.Port)
	set("MQTT_CLIENT_ID", f.MQTT.ClientID)
	set("MQTT_TOPIC_PREFIX", f.MQTT.TopicPrefix)
	set("NATS_URL", f.NATS.URL)
	set("NATS_SUBJECT_PREFIX", f.NATS.SubjectPrefix)
	return out
}
