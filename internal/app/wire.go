package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/rankpool/internal/blob/s3"
	"github.com/alanyoungcy/rankpool/internal/cache/redis"
	"github.com/alanyoungcy/rankpool/internal/config"
	"github.com/alanyoungcy/rankpool/internal/crypto"
	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/metrics"
	"github.com/alanyoungcy/rankpool/internal/notify"
	"github.com/alanyoungcy/rankpool/internal/server/handler"
	"github.com/alanyoungcy/rankpool/internal/store/pebble"
	"github.com/alanyoungcy/rankpool/internal/store/postgres"
)

// Dependencies bundles every collaborator the modes need. It is constructed
// by Wire and torn down by the returned cleanup function. Optional pieces are
// nil when their backend is disabled.
type Dependencies struct {
	// Stores
	PoolStore   domain.PoolStore
	AnswerStore domain.AnswerStore
	AuditStore  domain.AuditStore

	// Redis
	PoolCache   domain.PoolCache
	EventBus    domain.EventBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Settlement reports
	Archiver *s3blob.Archiver
	Signer   *crypto.Signer

	Metrics  *metrics.PoolMetrics
	Notifier *notify.Notifier

	// HealthChecks are probed by GET /api/health.
	HealthChecks map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Pinger)}

	// --- Pool snapshots, answers and audit log ---
	switch cfg.Storage.Backend {
	case "postgres":
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.PoolStore = postgres.NewPoolStore(pool)
		deps.AnswerStore = postgres.NewAnswerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool
	default:
		store, err := pebble.Open(cfg.Pebble.Dir)
		if err != nil {
			return fail(fmt.Errorf("wire: pebble: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.PoolStore = store
		deps.AnswerStore = store
		deps.AuditStore = store
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PoolCache = redis.NewPoolCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient
	}

	// --- S3 report archive ---
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		deps.HealthChecks["s3"] = pingFunc(s3Client.Health)
	}

	// --- Operator key ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	switch {
	case errors.Is(err, crypto.ErrNoKey):
		logger.WarnContext(ctx, "no operator key; settlement reports will not be signed")
	case err != nil:
		return fail(fmt.Errorf("wire: operator key: %w", err))
	default:
		signer, err := crypto.NewSigner(keyHex, cfg.Protocol.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "operator key loaded", slog.String("address", signer.Address().Hex()))
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(cfg.Protocol.AmountDecimals)
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
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events,
			cfg.Protocol.AmountDecimals, cfg.Protocol.AmountSymbol, logger)
	}

	return deps, cleanup, nil
}
