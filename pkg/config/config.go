// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the coordinator's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/experiments"
	"github.com/Thermoquad/tamcoord/pkg/link"
	"github.com/Thermoquad/tamcoord/pkg/protocol"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Log formats
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds everything the coordinator binary can be told
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Experiment  ExperimentConfig  `yaml:"experiment"`
	Feed        FeedConfig        `yaml:"feed"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SerialConfig selects the local radio
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// BridgeConfig selects a websocket serial bridge instead of a local port
type BridgeConfig struct {
	URL         string `yaml:"url"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// CoordinatorConfig holds the timing and protocol parameters
type CoordinatorConfig struct {
	StepInterval      time.Duration `yaml:"step_interval"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	LivenessInterval  time.Duration `yaml:"liveness_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	CommandRetries    int           `yaml:"command_retries"`
	LowVoltage        float64       `yaml:"low_voltage"`
	InboxSize         int           `yaml:"inbox_size"`
	Seed              int64         `yaml:"seed"`
}

// ExperimentConfig picks the experiment to run
type ExperimentConfig struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
}

// FeedConfig enables the websocket status feed when Addr is set
type FeedConfig struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig controls the root logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration holding only defaults
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// LoadConfig reads path, applies defaults and environment overrides, and
// validates the result
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	c.ApplyDefaults()
	if err := c.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero fields
func (c *Config) ApplyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = link.DefaultBaud
	}

	cc := &c.Coordinator
	if cc.StepInterval == 0 {
		cc.StepInterval = coordinator.DefaultStepInterval
	}
	if cc.DiscoveryInterval == 0 {
		cc.DiscoveryInterval = coordinator.DefaultDiscoveryInterval
	}
	if cc.LivenessInterval == 0 {
		cc.LivenessInterval = coordinator.DefaultLivenessInterval
	}
	if cc.StaleAfter == 0 {
		cc.StaleAfter = coordinator.DefaultStaleAfter
	}
	if cc.CommandTimeout == 0 {
		cc.CommandTimeout = protocol.DefaultTimeout
	}
	if cc.CommandRetries == 0 {
		cc.CommandRetries = protocol.DefaultRetries
	}
	if cc.LowVoltage == 0 {
		cc.LowVoltage = tamproto.DefaultLowVoltage
	}
	if cc.InboxSize == 0 {
		cc.InboxSize = coordinator.DefaultInboxSize
	}

	if c.Experiment.Name == "" {
		c.Experiment.Name = "calibration"
	}
	if c.Feed.Interval == 0 {
		c.Feed.Interval = coordinator.DefaultPublishInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = FormatAuto
	}
}

// OverrideFromEnv applies the TAM_* and LOG_LEVEL environment variables
func (c *Config) OverrideFromEnv() error {
	if v := os.Getenv("TAM_SERIAL_DEVICE"); v != "" {
		c.Serial.Device = v
	}
	if v := os.Getenv("TAM_SERIAL_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TAM_SERIAL_BAUD=%q: %w", ErrInvalid, v, err)
		}
		c.Serial.Baud = baud
	}
	if v := os.Getenv("TAM_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("TAM_EXPERIMENT"); v != "" {
		c.Experiment.Name = v
	}
	if v := os.Getenv("TAM_FEED_ADDR"); v != "" {
		c.Feed.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate reports the first invalid field
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial baud must be positive, got %d", ErrInvalid, c.Serial.Baud)
	}
	if c.Bridge.URL != "" && !strings.HasPrefix(c.Bridge.URL, "ws://") && !strings.HasPrefix(c.Bridge.URL, "wss://") {
		return fmt.Errorf("%w: bridge url must start with ws:// or wss://", ErrInvalid)
	}

	cc := c.Coordinator
	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"step_interval", cc.StepInterval},
		{"discovery_interval", cc.DiscoveryInterval},
		{"liveness_interval", cc.LivenessInterval},
		{"stale_after", cc.StaleAfter},
		{"command_timeout", cc.CommandTimeout},
		{"feed.interval", c.Feed.Interval},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalid, iv.name, iv.d)
		}
	}
	if c.Experiment.Duration < 0 {
		return fmt.Errorf("%w: experiment duration must not be negative", ErrInvalid)
	}

	if cc.CommandRetries < 1 {
		return fmt.Errorf("%w: command_retries must be at least 1, got %d", ErrInvalid, cc.CommandRetries)
	}
	if cc.InboxSize < 1 {
		return fmt.Errorf("%w: inbox_size must be at least 1, got %d", ErrInvalid, cc.InboxSize)
	}
	if !experiments.Known(c.Experiment.Name) {
		return fmt.Errorf("%w: unknown experiment %q (have %v)", ErrInvalid, c.Experiment.Name, experiments.Names())
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: log level: %w", ErrInvalid, err)
	}
	switch c.Logging.Format {
	case FormatAuto, FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("%w: log format must be auto, json or console, got %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// CoordinatorOptions converts the coordinator section
func (c *Config) CoordinatorOptions() coordinator.Options {
	opts := coordinator.DefaultOptions()
	cc := c.Coordinator
	opts.StepInterval = cc.StepInterval
	opts.DiscoveryInterval = cc.DiscoveryInterval
	opts.LivenessInterval = cc.LivenessInterval
	opts.StaleAfter = cc.StaleAfter
	opts.PublishInterval = c.Feed.Interval
	opts.InboxSize = cc.InboxSize
	opts.Seed = cc.Seed
	opts.Protocol.Timeout = cc.CommandTimeout
	opts.Protocol.Retries = cc.CommandRetries
	opts.Protocol.LowVoltage = cc.LowVoltage
	return opts
}

// ExperimentOptions converts the experiment section
func (c *Config) ExperimentOptions(logger zerolog.Logger) experiments.Options {
	return experiments.Options{
		Duration: c.Experiment.Duration,
		Logger:   logger,
	}
}

// String summarises the configuration for the startup log
func (c *Config) String() string {
	target := c.Serial.Device
	if c.Bridge.URL != "" {
		target = c.Bridge.URL
	}
	return fmt.Sprintf("Config{Radio: %s@%d, Experiment: %s, Duration: %v, Feed: %q, Log: %s/%s}",
		target,
		c.Serial.Baud,
		c.Experiment.Name,
		c.Experiment.Duration,
		c.Feed.Addr,
		c.Logging.Level,
		c.Logging.Format,
	)
}
