// Package config loads the Kohaku configuration file. Values can also come
// from flags and KOHAKU_* environment variables through the CLI layer; the
// YAML file is the durable form.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level configuration file.
type YAMLConfig struct {
	Server        ServerConfig       `yaml:"server"`
	Auth          AuthConfig         `yaml:"auth"`
	Store         StoreConfig        `yaml:"store"`
	Notifications NotificationConfig `yaml:"notifications"`
	Jobs          []JobConfig        `yaml:"jobs"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     int64      `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	RateLimit       int        `yaml:"rate_limit"`
	LoginRateLimit  int        `yaml:"login_rate_limit"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// AuthConfig holds the credential settings. SessionSecret signs session
// tokens; BootstrapKey is the out-of-band key that can mint other keys.
// Both are usually injected as ${KOHAKU_SESSION_SECRET} style references
// expanded from the environment.
type AuthConfig struct {
	SessionSecret string `yaml:"session_secret"`
	BootstrapKey  string `yaml:"bootstrap_key"`
}

// StoreConfig selects the backing database.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

// NotificationConfig wires the notification subsystem to the outside world.
// WebhookURL receives dispatched payloads; RefreshURL is polled by the
// data-refresh job for new events. Either may be empty, which disables the
// respective job.
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	RefreshURL string `yaml:"refresh_url"`
	QueueSize  int    `yaml:"queue_size"`
}

// JobConfig declares one scheduled job by name. The name must match a job
// body registered in the binary; unknown names fail startup.
type JobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Timeout  string `yaml:"timeout"`
	Disabled bool   `yaml:"disabled"`
}

// ParseTimeout returns the job's timeout as a duration, 0 when unset.
func (j JobConfig) ParseTimeout() (time.Duration, error) {
	if j.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(j.Timeout)
	if err != nil {
		return 0, fmt.Errorf("job %s: invalid timeout %q: %w", j.Name, j.Timeout, err)
	}
	return d, nil
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as ${VAR_NAME} in the file are expanded before parsing.
func Load(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns a YAMLConfig pre-filled with production defaults.
func Default() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     1024 * 1024,
			ShutdownTimeout: "30s",
			RateLimit:       120,
			LoginRateLimit:  10,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: "data",
		},
		Notifications: NotificationConfig{
			QueueSize: 1024,
		},
		Jobs: []JobConfig{
			{Name: "data-refresh", Schedule: "@hourly", Timeout: "5m", Disabled: true},
			{Name: "notification-dispatch", Schedule: "*/5 * * * *", Timeout: "1m"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ShutdownTimeout parses the configured shutdown timeout, falling back to
// 30 seconds when unset or malformed.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	if s.ShutdownTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(s.ShutdownTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
