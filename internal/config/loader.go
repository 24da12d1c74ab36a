package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ECOVEST_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ECOVEST_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Later calls win, so the ECOVEST_* names take precedence over the
// legacy aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Settlement ──
	setStr(&cfg.Settlement.Schedule, "SIMULATION_CRON") // legacy alias
	setStr(&cfg.Settlement.Schedule, "ECOVEST_SETTLEMENT_SCHEDULE")
	setFloat64(&cfg.Settlement.PayoutFraction, "PAYOUT_FRACTION") // legacy alias
	setFloat64(&cfg.Settlement.PayoutFraction, "ECOVEST_SETTLEMENT_PAYOUT_FRACTION")
	setFloat64(&cfg.Settlement.ShockProbability, "ECOVEST_SETTLEMENT_SHOCK_PROBABILITY")
	setInt(&cfg.Settlement.Workers, "ECOVEST_SETTLEMENT_WORKERS")
	setBool(&cfg.Settlement.DistributedLock, "ECOVEST_SETTLEMENT_DISTRIBUTED_LOCK")
	setStr(&cfg.Settlement.LockKey, "ECOVEST_SETTLEMENT_LOCK_KEY")
	setDuration(&cfg.Settlement.LockTTL, "ECOVEST_SETTLEMENT_LOCK_TTL")
	setDuration(&cfg.Settlement.SanityTimeout, "ECOVEST_SETTLEMENT_SANITY_TIMEOUT")
	setUint64(&cfg.Settlement.Seed, "ECOVEST_SETTLEMENT_SEED")
	setBool(&cfg.Settlement.Archive, "ECOVEST_SETTLEMENT_ARCHIVE")
	setStr(&cfg.Settlement.ArchivePrefix, "ECOVEST_SETTLEMENT_ARCHIVE_PREFIX")

	// ── Projection ──
	setInt(&cfg.Projection.MaxPeriods, "ECOVEST_PROJECTION_MAX_PERIODS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // legacy alias
	setStr(&cfg.Postgres.DSN, "ECOVEST_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ECOVEST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ECOVEST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ECOVEST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ECOVEST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ECOVEST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ECOVEST_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ECOVEST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ECOVEST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ECOVEST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ECOVEST_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ECOVEST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ECOVEST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ECOVEST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ECOVEST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ECOVEST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ECOVEST_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ECOVEST_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "ECOVEST_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ECOVEST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ECOVEST_S3_REGION")
	setStr(&cfg.S3.Bucket, "ECOVEST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ECOVEST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ECOVEST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ECOVEST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ECOVEST_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "ECOVEST_S3_KEY_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ECOVEST_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ECOVEST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ECOVEST_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ECOVEST_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ECOVEST_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ECOVEST_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIBase, "ECOVEST_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.TelegramToken, "ECOVEST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ECOVEST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ECOVEST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ECOVEST_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "ECOVEST_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "ECOVEST_MODE")
	setStr(&cfg.LogLevel, "ECOVEST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
