// Package config loads and validates the service configuration from YAML
// with environment expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Quota    QuotaConfig    `yaml:"quota"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds the HTTP front-end settings.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	WriteTimeout     Duration `yaml:"write_timeout"`
}

// ProviderConfig holds the LLM backend settings.
type ProviderConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	Model          string   `yaml:"model"`
	RequestTimeout Duration `yaml:"request_timeout"`
	HealthTimeout  Duration `yaml:"health_timeout"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    float64  `yaml:"temperature"`
}

// SessionConfig holds session store tuning.
type SessionConfig struct {
	TTL             Duration `yaml:"ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// QuotaConfig holds quota manager tuning.
type QuotaConfig struct {
	DefaultPerMinute int `yaml:"default_per_minute"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the optional result cache settings. An empty address
// disables caching.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// PipelineConfig holds eye pipeline tuning.
type PipelineConfig struct {
	EyeTimeout Duration `yaml:"eye_timeout"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses duration strings.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// AsDuration converts to the standard type.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}
