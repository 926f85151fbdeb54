// Package config loads batchwatch settings from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Upload server
	ServerURL      string
	PollInterval   time.Duration
	MaxPolls       int
	RequestTimeout time.Duration
	SubmitTimeout  time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Stub server
	StubPort      string
	StubBatchSize int
	StubStepDelay time.Duration
}

// fileConfig mirrors Config in a YAML file. Unset keys keep the current value.
type fileConfig struct {
	ServerURL      string `yaml:"server_url"`
	PollInterval   string `yaml:"poll_interval"`
	MaxPolls       *int   `yaml:"max_polls"`
	RequestTimeout string `yaml:"request_timeout"`
	SubmitTimeout  string `yaml:"submit_timeout"`
	LogFile        string `yaml:"log_file"`
	LogLevel       string `yaml:"log_level"`
	Stub           struct {
		Port      string `yaml:"port"`
		BatchSize *int   `yaml:"batch_size"`
		StepDelay string `yaml:"step_delay"`
	} `yaml:"stub"`
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ServerURL:      getEnv("BATCHWATCH_SERVER_URL", "http://localhost:8585/api"),
		PollInterval:   getDuration("BATCHWATCH_POLL_INTERVAL", time.Second),
		MaxPolls:       getInt("BATCHWATCH_MAX_POLLS", 0),
		RequestTimeout: getDuration("BATCHWATCH_REQUEST_TIMEOUT", 10*time.Second),
		SubmitTimeout:  getDuration("BATCHWATCH_SUBMIT_TIMEOUT", 10*time.Minute),

		LogFile:  getEnv("BATCHWATCH_LOG_FILE", "/tmp/batchwatch.log"),
		LogLevel: parseLogLevel(getEnv("BATCHWATCH_LOG_LEVEL", "INFO")),

		StubPort:      getEnv("BATCHWATCH_STUB_PORT", "8585"),
		StubBatchSize: getInt("BATCHWATCH_STUB_BATCH_SIZE", 2),
		StubStepDelay: getDuration("BATCHWATCH_STUB_STEP_DELAY", 300*time.Millisecond),
	}
}

// LoadFile returns Load() overlaid with the values set in the YAML file at path.
func LoadFile(path string) (Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := cfg.apply(data); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ServerURL != "" {
		c.ServerURL = fc.ServerURL
	}
	if fc.MaxPolls != nil {
		c.MaxPolls = *fc.MaxPolls
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.Stub.Port != "" {
		c.StubPort = fc.Stub.Port
	}
	if fc.Stub.BatchSize != nil {
		c.StubBatchSize = *fc.Stub.BatchSize
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &c.PollInterval},
		{"request_timeout", fc.RequestTimeout, &c.RequestTimeout},
		{"submit_timeout", fc.SubmitTimeout, &c.SubmitTimeout},
		{"stub.step_delay", fc.Stub.StepDelay, &c.StubStepDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
