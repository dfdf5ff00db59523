package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaults returns the built-in configuration. User YAML overrides these
// field by field.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8300,
			WriteTimeout: Duration(10 * time.Second),
		},
		Provider: ProviderConfig{
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.3-70b-versatile",
			RequestTimeout: Duration(30 * time.Second),
			HealthTimeout:  Duration(5 * time.Second),
			MaxTokens:      4096,
			Temperature:    0.2,
		},
		Session: SessionConfig{
			TTL:             Duration(7 * 24 * time.Hour),
			CleanupInterval: Duration(300 * time.Second),
		},
		Quota: QuotaConfig{
			DefaultPerMinute: 60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
		},
		Redis: RedisConfig{
			TTL: Duration(time.Hour),
		},
		Pipeline: PipelineConfig{
			EyeTimeout: Duration(30 * time.Second),
		},
	}
}

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Load .env if present (never overrides real environment)
//  2. Read the YAML file, if one is configured
//  3. Expand environment variables
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment from .env")
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := mergo.Merge(&cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration initialized",
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"provider_base_url", cfg.Provider.BaseURL,
		"model", cfg.Provider.Model,
		"redis_enabled", cfg.Redis.Addr != "")

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if cfg.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if cfg.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if cfg.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session.cleanup_interval must be positive")
	}
	if cfg.Quota.DefaultPerMinute <= 0 {
		return fmt.Errorf("quota.default_per_minute must be positive")
	}
	if cfg.Pipeline.EyeTimeout <= 0 {
		return fmt.Errorf("pipeline.eye_timeout must be positive")
	}
	return nil
}
