// Package config loads the virtwatch configuration from YAML, an optional
// .env file, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/virtwatch/internal/hypervisor"
	"github.com/jbweber/virtwatch/internal/logging"
)

// Environment variables that override file settings.
const (
	EnvLogLevel      = "VIRTWATCH_LOG_LEVEL"
	EnvLogFormat     = "VIRTWATCH_LOG_FORMAT"
	EnvNATSURL       = "VIRTWATCH_NATS_URL"
	EnvMetricsListen = "VIRTWATCH_METRICS_LISTEN"
	EnvConnections   = "VIRTWATCH_CONNECTIONS" // comma separated URIs
)

const (
	DefaultTickInterval = time.Second
	DefaultDialTimeout  = 5 * time.Second
	DefaultNATSSubject  = "virtwatch"
)

// Config is the complete virtwatch configuration.
type Config struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	Connections  []Connection  `yaml:"connections"`
	Log          LogConfig     `yaml:"log"`
	Metrics      MetricsConfig `yaml:"metrics"`
	NATS         NATSConfig    `yaml:"nats"`
}

// Connection is one hypervisor to watch.
type Connection struct {
	URI string `yaml:"uri"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // auto, console, json
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// NATSConfig configures the NATS event sink. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		TickInterval: DefaultTickInterval,
		DialTimeout:  DefaultDialTimeout,
		Log:          LogConfig{Level: "info", Format: "auto"},
		NATS:         NATSConfig{Subject: DefaultNATSSubject},
	}
}

// Load reads path (if non-empty), loads a .env file next to it or in the
// working directory, applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := LoadDotEnv(dotEnvDir(path)); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromYAML parses and validates data without consulting the environment.
func LoadFromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func dotEnvDir(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}

// LoadDotEnv loads dir/.env into the process environment if it exists.
// Variables already set are not overridden.
func LoadDotEnv(dir string) error {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		c.Log.Format = v
	}
	if v, ok := lookup(EnvNATSURL); ok {
		c.NATS.URL = v
	}
	if v, ok := lookup(EnvMetricsListen); ok {
		c.Metrics.Listen = v
	}
	if v, ok := lookup(EnvConnections); ok {
		c.Connections = nil
		for _, uri := range strings.Split(v, ",") {
			if uri = strings.TrimSpace(uri); uri != "" {
				c.Connections = append(c.Connections, Connection{URI: uri})
			}
		}
	}
}

// Normalize trims user input and fills values left empty.
func (c *Config) Normalize() {
	for i := range c.Connections {
		c.Connections[i].URI = strings.TrimSpace(c.Connections[i].URI)
	}
	if len(c.Connections) == 0 {
		c.Connections = []Connection{{URI: hypervisor.DefaultURI}}
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultNATSSubject
	}
}

// Validate checks the configuration for errors. It does not contact any
// hypervisor.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be > 0, got %s", c.TickInterval)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be > 0, got %s", c.DialTimeout)
	}

	if len(c.Connections) == 0 {
		return fmt.Errorf("at least one connections entry is required")
	}
	seen := make(map[string]int, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.URI == "" {
			return fmt.Errorf("connections[%d]: uri is required", i)
		}
		if _, err := hypervisor.ParseURI(conn.URI); err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
		if j, dup := seen[conn.URI]; dup {
			return fmt.Errorf("connections[%d]: duplicate uri %q (also connections[%d])", i, conn.URI, j)
		}
		seen[conn.URI] = i
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be one of %s, got %q", strings.Join(logging.Formats, ", "), c.Log.Format)
	}

	if strings.ContainsAny(c.NATS.Subject, " \t*>") {
		return fmt.Errorf("nats.subject must not contain whitespace or wildcards, got %q", c.NATS.Subject)
	}
	if strings.HasPrefix(c.NATS.Subject, ".") || strings.HasSuffix(c.NATS.Subject, ".") {
		return fmt.Errorf("nats.subject must not start or end with '.', got %q", c.NATS.Subject)
	}

	return nil
}

// URIs returns the configured connection URIs in order.
func (c *Config) URIs() []string {
	out := make([]string, 0, len(c.Connections))
	for _, conn := range c.Connections {
		out = append(out, conn.URI)
	}
	return out
}

// LoggingConfig converts the log section for logging.New.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
