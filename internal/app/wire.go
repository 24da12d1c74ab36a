package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/ecovest/internal/blob/s3"
	"github.com/alanyoungcy/ecovest/internal/cache/redis"
	"github.com/alanyoungcy/ecovest/internal/config"
	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/notify"
	"github.com/alanyoungcy/ecovest/internal/server/handler"
	"github.com/alanyoungcy/ecovest/internal/settlement"
	"github.com/alanyoungcy/ecovest/internal/store/memory"
	"github.com/alanyoungcy/ecovest/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Accounts  domain.AccountStore
	Ledger    domain.AccountLedger
	Runs      domain.SettlementRunStore
	Audit     domain.AuditStore

	// Caches and messaging
	Bus         domain.SignalBus
	Locks       domain.LockManager // nil when the cycle lock is process-local
	RateLimiter domain.RateLimiter // nil disables projection rate limiting

	// Archiver is nil unless settlement.archive is set.
	Archiver *settlement.ReportArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes the HTTP health endpoint reports on.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// Demo mode keeps everything in process: memory stores seeded with sample
// positions and an in-process bus, with no Postgres, Redis or S3.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}
	demo := !cfg.NeedsPostgres()

	// --- Stores ---
	if demo {
		positions := memory.NewPositionStore()
		accounts := memory.NewAccountStore()
		deps.Positions = positions
		deps.Accounts = accounts
		deps.Ledger = accounts
		deps.Runs = memory.NewRunStore()
		deps.Audit = memory.NewAuditStore()
		if err := seedDemo(ctx, positions, accounts, time.Now()); err != nil {
			return nil, nil, fmt.Errorf("wire: seed demo data: %w", err)
		}
		logger.InfoContext(ctx, "wire: demo mode, using in-memory stores")
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		accounts := postgres.NewAccountStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Accounts = accounts
		deps.Ledger = accounts
		deps.Runs = postgres.NewSettlementRunStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled && !demo {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		if cfg.Settlement.DistributedLock {
			deps.Locks = redis.NewLockManager(redisClient)
		}
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		}
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Bus = memory.NewSignalBus()
	}

	// --- S3 report archive ---
	if cfg.Settlement.Archive && !demo {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = settlement.NewReportArchiver(s3blob.NewWriter(s3Client), cfg.Settlement.ArchivePrefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	senders := []notify.Sender{notify.NewLogSender(logger)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	return deps, cleanup, nil
}
