// Package config loads runtime configuration with the precedence
// defaults -> yaml file -> environment. Environment variables use the
// COACHLINE_ prefix with underscores for nesting, e.g.
// COACHLINE_HTTP_PORT=9090 overrides http.port.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before mapping them
// onto config keys.
const EnvPrefix = "COACHLINE_"

// DefaultConfigPaths are searched in order when no explicit path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/coachline/config.yaml",
}

type Config struct {
	HTTP       HTTPConfig       `koanf:"http" validate:"required"`
	WebSocket  WebSocketConfig  `koanf:"websocket" validate:"required"`
	Auth       AuthConfig       `koanf:"auth" validate:"required"`
	Database   DatabaseConfig   `koanf:"database" validate:"required"`
	Escalation EscalationConfig `koanf:"escalation" validate:"required"`
	Delivery   DeliveryConfig   `koanf:"delivery" validate:"required"`
	Relay      RelayConfig      `koanf:"relay" validate:"required"`
	Log        LogConfig        `koanf:"log"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type WebSocketConfig struct {
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	ReadDeadline     time.Duration `koanf:"read_deadline" validate:"gt=0"`
	PingInterval     time.Duration `koanf:"ping_interval" validate:"gt=0"`
	WriteTimeout     time.Duration `koanf:"write_timeout" validate:"gt=0"`
	SendBuffer       int           `koanf:"send_buffer" validate:"min=1"`
}

type AuthConfig struct {
	// Secret signs and verifies connection tokens. HS256 requires at
	// least 32 bytes.
	Secret   string        `koanf:"secret" validate:"required,min=32"`
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

type DatabaseConfig struct {
	Path        string        `koanf:"path" validate:"required"`
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"gt=0"`
}

type EscalationConfig struct {
	// Delay before an unacknowledged message escalates to the external
	// channel. Long on purpose: ordinary read receipts cancel the timer
	// well before it fires.
	Delay time.Duration `koanf:"delay" validate:"gt=0"`
}

type DeliveryConfig struct {
	// CronSpec triggers the daily program content run, evaluated in UTC.
	CronSpec string `koanf:"cron_spec" validate:"required"`
	// RunOnStart performs a delivery pass at startup so a restart cannot
	// skip the day's content.
	RunOnStart bool `koanf:"run_on_start"`
}

type RelayConfig struct {
	// MessagesPerMinute is the per-user send rate limit.
	MessagesPerMinute int `koanf:"messages_per_minute" validate:"min=1"`
	// HistoryLimit bounds the message replay sent on conversation join.
	HistoryLimit int `koanf:"history_limit" validate:"min=0"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration. The auth secret has no
// default and must come from file or environment.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			HandshakeTimeout: 5 * time.Second,
			ReadDeadline:     60 * time.Second,
			PingInterval:     30 * time.Second,
			WriteTimeout:     10 * time.Second,
			SendBuffer:       100,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:        "./coachline.db",
			BusyTimeout: 5 * time.Second,
		},
		Escalation: EscalationConfig{
			Delay: 5 * time.Minute,
		},
		Delivery: DeliveryConfig{
			CronSpec:   "0 6 * * *",
			RunOnStart: true,
		},
		Relay: RelayConfig{
			MessagesPerMinute: 100,
			HistoryLimit:      50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional yaml file and
// the environment, then validates it. An empty path searches
// DefaultConfigPaths; a missing search-path file is not an error, an
// explicitly given path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envTransform maps COACHLINE_HTTP_READ_TIMEOUT to http.read_timeout:
// the first segment names the section, the remainder is the snake_case
// leaf key.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
