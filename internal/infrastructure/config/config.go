// Package config loads orchestrator configuration from environment
// variables, with an optional YAML overlay file for deployments that
// prefer checked-in config.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
}

// PoolConfig holds scheduler configuration.
type PoolConfig struct {
	MainQueueCapacity     int `envconfig:"POOL_MAIN_QUEUE_CAPACITY" default:"3" yaml:"main_queue_capacity"`
	AgentLimit            int `envconfig:"POOL_AGENT_LIMIT" default:"8" yaml:"agent_limit"`
	WindowInitialMaxTurns int `envconfig:"POOL_WINDOW_INITIAL_MAX_TURNS" default:"5" yaml:"window_initial_max_turns"`
}

// SessionConfig holds session log configuration.
type SessionConfig struct {
	LogPath string `envconfig:"SESSION_LOG_PATH" default:"/tmp/yaar/session.jsonl" yaml:"log_path"`
	Restore bool   `envconfig:"SESSION_RESTORE" default:"true" yaml:"restore"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFile loads configuration from the environment, then applies the
// YAML file at path on top. Environment defaults fill anything the file
// omits.
func LoadWithFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "0.0.0.0",
		},
		Pool: PoolConfig{
			MainQueueCapacity:     3,
			AgentLimit:            8,
			WindowInitialMaxTurns: 5,
		},
		Session: SessionConfig{
			LogPath: "/tmp/yaar/session.jsonl",
			Restore: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
