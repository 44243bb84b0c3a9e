package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/cache/redis"
	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. Optional
// backends that are disabled in config stay nil.
type Dependencies struct {
	// Postgres
	Trades       *postgres.TradeStore
	Audit        *postgres.AuditStore
	Transactions *postgres.TransactionStore

	// Redis
	Locks   domain.LockManager
	Nonces  domain.NonceStore
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// S3
	BlobArchive *s3blob.TransactionArchiver

	Notifier *notify.Notifier

	// Pingers are reported by the health endpoint, keyed by backend name.
	Pingers map[string]handler.Pinger
}

// Archive returns the destinations for evicted transaction records, or nil
// when neither Postgres nor S3 is enabled.
func (d *Dependencies) Archive() domain.TransactionArchive {
	var out multiArchive
	if d.Transactions != nil {
		out = append(out, d.Transactions)
	}
	if d.BlobArchive != nil {
		out = append(out, d.BlobArchive)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// multiArchive hands every batch to each archive. A failure anywhere fails
// the batch so the monitor keeps the records for the next pass.
type multiArchive []domain.TransactionArchive

func (m multiArchive) ArchiveTransactions(ctx context.Context, recs []domain.TransactionRecord) error {
	var errs []error
	for _, a := range m {
		if err := a.ArchiveTransactions(ctx, recs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wire connects the enabled backends and returns them together with a
// cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

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
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.Pingers["postgres"] = pgClient
		logger.InfoContext(ctx, "wire: postgres connected")
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

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Pingers["redis"] = redisClient
		logger.InfoContext(ctx, "wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobArchive = s3blob.NewTransactionArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		logger.InfoContext(ctx, "wire: s3 archive enabled",
			slog.String("bucket", cfg.S3.Bucket),
			slog.String("prefix", cfg.S3.Prefix),
		)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
