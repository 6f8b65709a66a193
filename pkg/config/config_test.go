package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 10*time.Second, cfg.ScanDuration)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 0, cfg.ConnectRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 256, cfg.EventBuffer)
	assert.Equal(t, 32, cfg.CommandQueue)
	assert.Equal(t, 0, cfg.WriteChunkSize)
	assert.Equal(t, 10*time.Millisecond, cfg.WriteChunkDelay)
	assert.False(t, cfg.AllowDuplicates)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
log_format: json
connect_timeout: 3s
connect_retries: 2
write_chunk_size: 20
allow_duplicates: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2, cfg.ConnectRetries)
	assert.Equal(t, 20, cfg.WriteChunkSize)
	assert.True(t, cfg.AllowDuplicates)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout, "keys absent from the file MUST keep their defaults")
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeConfig(t, "connect_timeout: [1"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "connect_timeout: soon"))
	assert.Error(t, err, "durations MUST be parsed strictly")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		err    string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"output format", func(c *Config) { c.OutputFormat = "csv" }, "output_format"},
		{"connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect_timeout must be positive"},
		{"operation timeout", func(c *Config) { c.OperationTimeout = -time.Second }, "operation_timeout must be positive"},
		{"scan duration", func(c *Config) { c.ScanDuration = -time.Second }, "scan_duration"},
		{"retries", func(c *Config) { c.ConnectRetries = -1 }, "connect_retries"},
		{"backoff", func(c *Config) { c.RetryBackoff = -time.Millisecond }, "retry_backoff"},
		{"chunk size", func(c *Config) { c.WriteChunkSize = -4 }, "write_chunk_size"},
		{"chunk delay", func(c *Config) { c.WriteChunkDelay = -time.Millisecond }, "write_chunk_delay"},
		{"event buffer", func(c *Config) { c.EventBuffer = 0 }, "event_buffer"},
		{"command queue", func(c *Config) { c.CommandQueue = 0 }, "command_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.err)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.EventBuffer = -1

	err := cfg.Validate()
	assert.ErrorContains(t, err, "log_level")
	assert.ErrorContains(t, err, "event_buffer")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with warn level", "WARN", logrus.WarnLevel},
		{"falls back to info on invalid level", "loud", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = tt.logLevel

			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}

	cfg := DefaultConfig()
	cfg.LogFormat = "json"
	_, ok := cfg.NewLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "json log format MUST use the JSON formatter")
}

func TestConfig_DerivedOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectRetries = 3
	cfg.WriteChunkSize = 20
	cfg.ScanDuration = time.Second
	cfg.AllowDuplicates = true

	assert.Equal(t, &central.Options{
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 5 * time.Second,
		ConnectRetries:   3,
		RetryBackoff:     500 * time.Millisecond,
		QueueSize:        32,
	}, cfg.AdapterOptions())

	cfg.RetryBackoff = 0
	assert.Equal(t, central.NoRetryBackoff, cfg.AdapterOptions().RetryBackoff,
		"retry_backoff 0 MUST disable the pause instead of taking the default")

	drv := cfg.DriverOptions()
	assert.Equal(t, 20, drv.WriteChunkSize)
	assert.Equal(t, 10*time.Millisecond, drv.WriteChunkDelay)

	filter := cfg.ScanFilter()
	assert.Equal(t, time.Second, filter.Duration)
	assert.True(t, filter.AllowDuplicates)
}
