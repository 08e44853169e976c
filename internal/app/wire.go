package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/insightra/internal/blob/s3"
	"github.com/alanyoungcy/insightra/internal/cache/redis"
	"github.com/alanyoungcy/insightra/internal/config"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/metrics"
	"github.com/alanyoungcy/insightra/internal/notify"
	"github.com/alanyoungcy/insightra/internal/server/handler"
	"github.com/alanyoungcy/insightra/internal/store/memory"
	"github.com/alanyoungcy/insightra/internal/store/postgres"
)

// Dependencies bundles the storage, cache and notification backends the
// modes build on. Stores are always set, backed by Postgres when enabled and
// by the in-memory store otherwise. Caches, the bus and blob storage are nil
// when their backend is disabled.
type Dependencies struct {
	// Stores
	Questions domain.QuestionStore
	Markets   domain.MarketStore
	Events    domain.EventStore
	Txs       domain.TxStore
	Audit     domain.AuditStore
	Secrets   domain.SecretStore

	// Caches
	MarketCache   domain.MarketCache
	QuestionCache domain.QuestionCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are the health probes of every connected backend.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	mem := memory.New()
	deps.Questions = mem.Questions()
	deps.Markets = mem.Markets()
	deps.Events = mem.Events()
	deps.Txs = mem.Txs()
	deps.Audit = mem.Audit()
	deps.Secrets = mem.Secrets()

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			cleanup()
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
		deps.Questions = postgres.NewQuestionStore(pool)
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Txs = postgres.NewTxStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.QuestionCache = redis.NewQuestionCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Secrets = redis.NewSecretStore(redisClient, cfg.Redis.SecretTTL.Duration)
		deps.Checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, deps.Questions, deps.Markets, deps.Events, deps.Audit)
		deps.Checks["s3"] = s3Client.Health
		logger.InfoContext(ctx, "s3 configured", slog.String("bucket", s3Client.Bucket()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, notify.Formatter{
		ExplorerURL:  cfg.Chain.ExplorerURL,
		BondDecimals: cfg.Sim.BondDecimals,
		BondSymbol:   cfg.Sim.BondSymbol,
	}, logger)

	deps.Metrics = metrics.New()

	return deps, cleanup, nil
}
