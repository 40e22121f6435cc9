// Package config loads and validates jobstream configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taskwire/jobstream/internal/worker"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Auth      AuthConfig               `mapstructure:"auth"`
	Channel   ChannelConfig            `mapstructure:"channel"`
	Registry  RegistryConfig           `mapstructure:"registry"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Templates map[string][]worker.Step `mapstructure:"templates"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ChannelConfig bounds per-job event buffering.
type ChannelConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// RegistryConfig governs retention of finished jobs.
type RegistryConfig struct {
	RetentionSeconds int `mapstructure:"retention_seconds"`
	SweepSeconds     int `mapstructure:"sweep_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("channel.capacity", 64)
	v.SetDefault("registry.retention_seconds", 300)
	v.SetDefault("registry.sweep_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Channel.Capacity <= 0 {
		return fmt.Errorf("channel.capacity must be > 0")
	}
	if c.Registry.RetentionSeconds <= 0 {
		return fmt.Errorf("registry.retention_seconds must be > 0")
	}
	if c.Registry.SweepSeconds <= 0 {
		return fmt.Errorf("registry.sweep_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for name, steps := range c.Templates {
		if err := worker.ValidatePlan(steps); err != nil {
			return fmt.Errorf("templates.%s: %w", name, err)
		}
	}
	return nil
}

// Retention converts the configured retention window into a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Registry.RetentionSeconds) * time.Second
}

// SweepInterval converts the configured sweep cadence into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepSeconds) * time.Second
}
