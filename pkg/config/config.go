package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/driver/goble"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"warn"`
	LogFormat    string `yaml:"log_format" default:"text"`      // text, json
	OutputFormat string `yaml:"output_format" default:"table"` // table, json

	ScanDuration    time.Duration `yaml:"scan_duration" default:"10s"`
	AllowDuplicates bool          `yaml:"allow_duplicates" default:"false"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"10s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"5s"`
	ConnectRetries   int           `yaml:"connect_retries" default:"0"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" default:"500ms"`

	EventBuffer  int `yaml:"event_buffer" default:"256"`
	CommandQueue int `yaml:"command_queue" default:"32"`

	WriteChunkSize  int           `yaml:"write_chunk_size" default:"0"`
	WriteChunkDelay time.Duration `yaml:"write_chunk_delay" default:"10ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every value is usable
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unknown format %q (want text or json)", c.LogFormat))
	}
	switch strings.ToLower(c.OutputFormat) {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format: unknown format %q (want table or json)", c.OutputFormat))
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout},
		{"operation_timeout", c.OperationTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.value))
		}
	}

	if c.ScanDuration < 0 {
		errs = append(errs, fmt.Errorf("scan_duration must not be negative, got %s", c.ScanDuration))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff must not be negative, got %s", c.RetryBackoff))
	}
	if c.WriteChunkDelay < 0 {
		errs = append(errs, fmt.Errorf("write_chunk_delay must not be negative, got %s", c.WriteChunkDelay))
	}
	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("connect_retries must not be negative, got %d", c.ConnectRetries))
	}
	if c.WriteChunkSize < 0 {
		errs = append(errs, fmt.Errorf("write_chunk_size must not be negative, got %d", c.WriteChunkSize))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer))
	}
	if c.CommandQueue <= 0 {
		errs = append(errs, fmt.Errorf("command_queue must be positive, got %d", c.CommandQueue))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		return logger
	}

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// AdapterOptions returns the central adapter settings.
// A retry_backoff of zero retries without pausing.
func (c *Config) AdapterOptions() *central.Options {
	backoff := c.RetryBackoff
	if backoff == 0 {
		backoff = central.NoRetryBackoff
	}
	return &central.Options{
		ConnectTimeout:   c.ConnectTimeout,
		OperationTimeout: c.OperationTimeout,
		ConnectRetries:   c.ConnectRetries,
		RetryBackoff:     backoff,
		QueueSize:        c.CommandQueue,
	}
}

// DriverOptions returns the go-ble driver settings
func (c *Config) DriverOptions() goble.Options {
	return goble.Options{
		WriteChunkSize:  c.WriteChunkSize,
		WriteChunkDelay: c.WriteChunkDelay,
	}
}

// ScanFilter returns the scan settings shared by every scan
func (c *Config) ScanFilter() *central.ScanFilter {
	return &central.ScanFilter{
		Duration:        c.ScanDuration,
		AllowDuplicates: c.AllowDuplicates,
	}
}
