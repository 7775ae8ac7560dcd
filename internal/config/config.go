// Package config loads the daemon configuration.
//
// Loading order:
//  1. Default values
//  2. YAML file (optional)
//  3. Environment variables (SONOFF_SECTION_KEY)
//
// Command-line flags are applied by main on top of the result.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/sonoff-relay/internal/gpio"
)

// GPIO backends.
const (
	BackendCdev = "gpiocdev"
	BackendRpio = "rpio"
)

// Config is the root configuration.
type Config struct {
	Device    DeviceConfig   `yaml:"device"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	HTTP      HTTPConfig     `yaml:"http"`
	State     StateConfig    `yaml:"state"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
	Logging   LoggingConfig  `yaml:"logging"`
	Heartbeat time.Duration  `yaml:"heartbeat"`
}

// DeviceConfig selects the hardware.
type DeviceConfig struct {
	Name        string            `yaml:"name"`
	Backend     string            `yaml:"backend"`
	Chip        string            `yaml:"chip"`
	Pins        PinsConfig        `yaml:"pins"`
	Poll        time.Duration     `yaml:"poll"`
	Debounce    time.Duration     `yaml:"debounce"`
	Suppress    time.Duration     `yaml:"suppress"`
	Temperature TemperatureConfig `yaml:"temperature"`
}

// PinsConfig is the line assignment.
type PinsConfig struct {
	Button int `yaml:"button"`
	Relay  int `yaml:"relay"`
	LED    int `yaml:"led"`
}

// TemperatureConfig enables the 1-Wire probe.
type TemperatureConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DevicesDir string        `yaml:"devices_dir"`
	Interval   time.Duration `yaml:"interval"`
}

// MQTTConfig contains broker connection and topic settings.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	BaseTopic       string `yaml:"base_topic"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BufferSize      int    `yaml:"buffer_size"`
}

// HTTPConfig contains the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StateConfig controls persistence of the relay state.
type StateConfig struct {
	Path    string `yaml:"path"`
	Restore bool   `yaml:"restore"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:    "sonoff",
			Backend: BackendCdev,
			Chip:    "gpiochip0",
			Pins: PinsConfig{
				Button: gpio.DefaultPinButton,
				Relay:  gpio.DefaultPinRelay,
				LED:    gpio.DefaultPinLED,
			},
			Poll:     20 * time.Millisecond,
			Debounce: 10 * time.Millisecond,
			Suppress: 250 * time.Millisecond,
			Temperature: TemperatureConfig{
				Interval: time.Minute,
			},
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://127.0.0.1:1883",
			BaseTopic:       "sonoff",
			DiscoveryPrefix: "homeassistant",
			BufferSize:      100,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		State: StateConfig{
			Path:    "/var/lib/sonoff-relay/state.yaml",
			Restore: true,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Heartbeat: 15 * time.Minute,
	}
}

// Load reads path on fs (if path is non-empty) over the defaults, applies
// environment overrides and validates the result.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config file")
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// applyEnvOverrides applies SONOFF_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SONOFF_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("SONOFF_DEVICE_BACKEND"); v != "" {
		cfg.Device.Backend = v
	}
	if v := os.Getenv("SONOFF_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("SONOFF_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("SONOFF_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("SONOFF_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SONOFF_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("SONOFF_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("SONOFF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SONOFF_TEMPERATURE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "SONOFF_TEMPERATURE_ENABLED=%q", v)
		}
		cfg.Device.Temperature.Enabled = b
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}
	if strings.ContainsAny(c.Device.Name, "/+# ") {
		errs = append(errs, "device.name must not contain '/', '+', '#' or spaces")
	}
	switch c.Device.Backend {
	case BackendCdev, BackendRpio:
	default:
		errs = append(errs, "device.backend must be "+BackendCdev+" or "+BackendRpio)
	}
	if c.Device.Backend == BackendCdev && c.Device.Chip == "" {
		errs = append(errs, "device.chip is required for "+BackendCdev)
	}
	p := c.Device.Pins
	if p.Button < 0 || p.Relay < 0 || p.LED < 0 {
		errs = append(errs, "device.pins must be non-negative")
	}
	if p.Button == p.Relay || p.Button == p.LED || p.Relay == p.LED {
		errs = append(errs, "device.pins must be distinct")
	}
	if c.Device.Poll <= 0 {
		errs = append(errs, "device.poll must be positive")
	}
	if c.Device.Temperature.Enabled && c.Device.Temperature.Interval <= 0 {
		errs = append(errs, "device.temperature.interval must be positive")
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if c.MQTT.BufferSize < 0 {
		errs = append(errs, "mqtt.buffer_size must not be negative")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level: "+err.Error())
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if len(errs) > 0 {
		return errors.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
