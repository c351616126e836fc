package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// Key is the path segment clients must present (PeerJS "key").
	Key                string `mapstructure:"key" yaml:"key"`
	AllowDiscovery     bool   `mapstructure:"allow_discovery" yaml:"allow_discovery"`
	MaxMessageBytes    int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`

	ExpireInterval  time.Duration `mapstructure:"expire_interval" yaml:"expire_interval"`
	ExpireTimeout   time.Duration `mapstructure:"expire_timeout" yaml:"expire_timeout"`
	AliveTimeout    time.Duration `mapstructure:"alive_timeout" yaml:"alive_timeout"`
	PruneInterval   time.Duration `mapstructure:"prune_interval" yaml:"prune_interval"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" yaml:"delivery_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":9000",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		Key:                "peerjs",
		AllowDiscovery:     false,
		MaxMessageBytes:    64 << 10,
		RateLimitPerMinute: 600,
		ExpireInterval:     60 * time.Second,
		ExpireTimeout:      30 * time.Second,
		AliveTimeout:       60 * time.Second,
		PruneInterval:      30 * time.Second,
		DeliveryTimeout:    5 * time.Second,
		DatabasePath:       "wiresignal.db",
	}
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Key == "" {
		errs = append(errs, errors.New("key must not be empty"))
	}
	durations := map[string]time.Duration{
		"expire_interval":  c.ExpireInterval,
		"expire_timeout":   c.ExpireTimeout,
		"alive_timeout":    c.AliveTimeout,
		"prune_interval":   c.PruneInterval,
		"delivery_timeout": c.DeliveryTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_message_bytes must be positive, got %d", c.MaxMessageBytes))
	}
	return errors.Join(errs...)
}
