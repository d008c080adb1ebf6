// Package config holds application configuration for the wearlink CLI and
// library consumers that prefer file-based setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config selects the transport backend and its addressing at construction
// time; there is no build-time transport branching.
type Config struct {
	// Transport is one of serial, bluetooth, ble, bridge.
	Transport string `yaml:"transport" default:"serial"`

	// Address is the serial port path, Bluetooth MAC, or BLE address,
	// depending on the transport.
	Address string `yaml:"address"`

	// URL is the bridge endpoint (bridge transport only).
	URL string `yaml:"url"`

	Baud           int           `yaml:"baud" default:"115200"`
	RFCOMMChannel  uint8         `yaml:"rfcomm_channel" default:"1"`
	SamplingRate   float64       `yaml:"sampling_rate" default:"51.2"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	LogLevel string `yaml:"log_level" default:"info"`
}

// Default returns a Config with the struct defaults applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger creates a logger configured from the config's log level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
