// Package config loads application configuration from a YAML file with
// environment-variable overrides. A .env file is honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach services.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds the ceilings applied by the Redis fast path. The
// per-account DB caps remain authoritative; these bound the advisory
// counters when Redis is configured.
type RateLimitConfig struct {
	HourlyCap int `yaml:"hourly_cap"`
	DailyCap  int `yaml:"daily_cap"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL              string `yaml:"url"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
	ConnLifetimeMins int    `yaml:"conn_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMins) * time.Minute
}

// RedisConfig holds optional Redis settings. When URL is empty, the rate
// limiter runs purely on Postgres counters and distributed locks fall back
// to advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig holds worker loop settings.
type SchedulerConfig struct {
	Workers          int `yaml:"workers"`
	BatchSize        int `yaml:"batch_size"`
	PollIntervalSecs int `yaml:"poll_interval_seconds"`
	LeaseTimeoutMins int `yaml:"lease_timeout_minutes"`
	MaxRetries       int `yaml:"max_retries"`
}

// PollInterval returns the poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// LeaseTimeout returns the lease timeout as a duration.
func (c SchedulerConfig) LeaseTimeout() time.Duration {
	return time.Duration(c.LeaseTimeoutMins) * time.Minute
}

// TrackingConfig holds open/click tracking settings.
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
}

// SMTPConfig holds per-dispatch SMTP behavior (accounts carry credentials).
type SMTPConfig struct {
	DialTimeoutSecs int     `yaml:"dial_timeout_seconds"`
	RatePerSec      float64 `yaml:"rate_per_sec"`
}

// DialTimeout returns the SMTP dial timeout as a duration.
func (c SMTPConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSecs) * time.Second
}

// Load reads configuration from the given YAML file (optional) and applies
// environment overrides. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (DATABASE_URL)")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnLifetimeMins: 5,
		},
		Scheduler: SchedulerConfig{
			Workers:          4,
			BatchSize:        50,
			PollIntervalSecs: 60,
			LeaseTimeoutMins: 30,
			MaxRetries:       3,
		},
		SMTP: SMTPConfig{
			DialTimeoutSecs: 30,
			RatePerSec:      5,
		},
		RateLimit: RateLimitConfig{
			HourlyCap: 50,
			DailyCap:  500,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TRACKING_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.PollIntervalSecs = n
		}
	}
	if v := os.Getenv("LEASE_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.LeaseTimeoutMins = n
		}
	}
}
