// Package config defines the top-level configuration for the ecovest
// settlement service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ECOVEST_* environment variables.
type Config struct {
	Settlement SettlementConfig `toml:"settlement"`
	Projection ProjectionConfig `toml:"projection"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SettlementConfig drives the batch settlement scheduler.
type SettlementConfig struct {
	// Schedule is a standard cron expression or descriptor ("@every 1m").
	Schedule         string   `toml:"schedule"`
	PayoutFraction   float64  `toml:"payout_fraction"`
	ShockProbability float64  `toml:"shock_probability"`
	Workers          int      `toml:"workers"`
	DistributedLock  bool     `toml:"distributed_lock"`
	LockKey          string   `toml:"lock_key"`
	LockTTL          duration `toml:"lock_ttl"`
	SanityTimeout    duration `toml:"sanity_timeout"`
	// Seed makes cycles reproducible when non-zero. Leave unset in production.
	Seed          uint64 `toml:"seed"`
	Archive       bool   `toml:"archive"`
	ArchivePrefix string `toml:"archive_prefix"`
}

// ProjectionConfig bounds the projection endpoint.
type ProjectionConfig struct {
	MaxPeriods int `toml:"max_periods"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the mutating endpoints when set.
	APIKey string `toml:"api_key"`
	// RateLimit is the number of projection requests allowed per client per
	// RateWindow. Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Settlement: SettlementConfig{
			Schedule:         "@every 1m",
			PayoutFraction:   1.0,
			ShockProbability: 0.05,
			Workers:          8,
			DistributedLock:  true,
			LockKey:          "settlement:cycle",
			LockTTL:          duration{20 * time.Minute},
			SanityTimeout:    duration{15 * time.Minute},
			Archive:          false,
			ArchivePrefix:    "settlement",
		},
		Projection: ProjectionConfig{
			MaxPeriods: 600,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ecovest",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "ecovest:",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ecovest-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPIBase: "https://api.telegram.org",
			Events:          []string{"settlement_stuck", "settlement_failures"},
			Cooldown:        duration{10 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scheduler": true,
	"server":    true,
	"full":      true,
	"once":      true,
	"demo":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the mode persists to PostgreSQL. Demo mode
// runs entirely on in-memory stores.
func (c *Config) NeedsPostgres() bool {
	return strings.ToLower(c.Mode) != "demo"
}

// RunsScheduler reports whether the mode drives the cron trigger.
func (c *Config) RunsScheduler() bool {
	switch strings.ToLower(c.Mode) {
	case "scheduler", "full", "demo":
		return true
	}
	return false
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool {
	switch strings.ToLower(c.Mode) {
	case "server", "full", "demo":
		return c.Server.Enabled
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scheduler, server, full, once, demo)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Settlement
	s := c.Settlement
	if _, err := cron.ParseStandard(s.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("settlement: invalid schedule %q: %v", s.Schedule, err))
	}
	if s.PayoutFraction < 0 || s.PayoutFraction > 1 {
		errs = append(errs, fmt.Sprintf("settlement: payout_fraction must be within [0, 1], got %g", s.PayoutFraction))
	}
	if s.ShockProbability < 0 || s.ShockProbability > 1 {
		errs = append(errs, fmt.Sprintf("settlement: shock_probability must be within [0, 1], got %g", s.ShockProbability))
	}
	if s.Workers < 1 {
		errs = append(errs, "settlement: workers must be >= 1")
	}
	if s.SanityTimeout.Duration <= 0 {
		errs = append(errs, "settlement: sanity_timeout must be positive")
	}
	// The run lock is taken once per cycle and not renewed.
	if s.LockTTL.Duration <= s.SanityTimeout.Duration {
		errs = append(errs, fmt.Sprintf("settlement: lock_ttl (%s) must exceed sanity_timeout (%s)",
			s.LockTTL.Duration, s.SanityTimeout.Duration))
	}
	if s.DistributedLock {
		if s.LockKey == "" {
			errs = append(errs, "settlement: lock_key must not be empty when distributed_lock is set")
		}
		if s.LockTTL.Duration <= 0 {
			errs = append(errs, "settlement: lock_ttl must be positive when distributed_lock is set")
		}
		if !c.Redis.Enabled && c.NeedsPostgres() {
			errs = append(errs, "settlement: distributed_lock requires redis.enabled")
		}
	}

	if c.Projection.MaxPeriods < 1 {
		errs = append(errs, "projection: max_periods must be >= 1")
	}

	// Postgres
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is only dialled when reports are archived.
	if s.Archive {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when settlement.archive is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when settlement.archive is set")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
