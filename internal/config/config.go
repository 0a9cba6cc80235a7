package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTLHours int    `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Crypto struct {
		// BidKey is a base64-encoded 32-byte AES key for bid encryption at rest.
		BidKey string `yaml:"bid_key"`
	} `yaml:"crypto"`
	Scheduler struct {
		SweepCron string `yaml:"sweep_cron"`
	} `yaml:"scheduler"`
	Identifier struct {
		Attempts  int `yaml:"attempts"`
		BackoffMS int `yaml:"backoff_ms"`
	} `yaml:"identifier"`
	Tiebreaker struct {
		WindowMinutes int `yaml:"window_minutes"`
		MaxAttempts   int `yaml:"max_attempts"`
	} `yaml:"tiebreaker"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BID_ENCRYPTION_KEY"); v != "" {
		cfg.Crypto.BidKey = v
	}
	if v := os.Getenv("SWEEP_CRON"); v != "" {
		cfg.Scheduler.SweepCron = v
	}
	if v := os.Getenv("ID_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Identifier.Attempts = n
		}
	}
	if v := os.Getenv("TIEBREAKER_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tiebreaker.WindowMinutes = n
		}
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "ssleague-secret-key"
	}
	if cfg.Auth.TokenTTLHours == 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "ssleague.db"
	}
	if cfg.Scheduler.SweepCron == "" {
		cfg.Scheduler.SweepCron = "0 */1 * * * *" // every minute, with seconds field
	}
	if cfg.Identifier.Attempts == 0 {
		cfg.Identifier.Attempts = 5
	}
	if cfg.Identifier.BackoffMS == 0 {
		cfg.Identifier.BackoffMS = 50
	}
	if cfg.Tiebreaker.WindowMinutes == 0 {
		cfg.Tiebreaker.WindowMinutes = 10
	}
	if cfg.Tiebreaker.MaxAttempts == 0 {
		cfg.Tiebreaker.MaxAttempts = 3
	}

	return cfg, nil
}

// IdentifierBackoff returns the collision-retry backoff as a duration.
func (c *Config) IdentifierBackoff() time.Duration {
	return time.Duration(c.Identifier.BackoffMS) * time.Millisecond
}

// TiebreakerWindow returns the length of a tiebreaker bidding window.
func (c *Config) TiebreakerWindow() time.Duration {
	return time.Duration(c.Tiebreaker.WindowMinutes) * time.Minute
}
