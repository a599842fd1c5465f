package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/hyperpredict/predictd/internal/blob/s3"
	"github.com/hyperpredict/predictd/internal/cache/redis"
	"github.com/hyperpredict/predictd/internal/config"
	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/events"
	"github.com/hyperpredict/predictd/internal/notify"
	"github.com/hyperpredict/predictd/internal/oracle"
	"github.com/hyperpredict/predictd/internal/pipeline"
	"github.com/hyperpredict/predictd/internal/referral"
	"github.com/hyperpredict/predictd/internal/registry"
	"github.com/hyperpredict/predictd/internal/scheduler"
	"github.com/hyperpredict/predictd/internal/server/handler"
	"github.com/hyperpredict/predictd/internal/server/ws"
	"github.com/hyperpredict/predictd/internal/store/postgres"
	"github.com/hyperpredict/predictd/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Core engine collaborators.
	Params    *domain.Params
	Bank      *token.MemoryBank
	Referrals *referral.Registry
	Oracle    domain.PriceOracle
	Registry  *registry.Registry
	Emitter   *events.Fanout

	// Durable stores (nil when Postgres is disabled).
	RoundStore    *postgres.RoundStore
	BetStore      *postgres.BetStore
	EventStore    *postgres.EventStore
	InstanceStore *postgres.InstanceStore

	// Redis-backed collaborators (nil when Redis is disabled).
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    *redis.EventBus

	// Round archives (nil when S3 or Postgres is disabled).
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.RoundArchiver

	// Background workers.
	Recorder  *pipeline.Recorder
	Scheduler *scheduler.Scheduler
	Hub       *ws.Hub

	// Health pingers keyed by dependency name, for GET /api/ready.
	Pingers map[string]handler.Pinger
}

// pingerFunc adapts a bare function to handler.Pinger.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

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
		deps.Pingers["postgres"] = pgClient

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.RoundStore = postgres.NewRoundStore(pool)
		deps.BetStore = postgres.NewBetStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.InstanceStore = postgres.NewInstanceStore(pool)
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
		deps.Pingers["redis"] = pingerFunc(redisClient.Ping)

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient, logger)
	}

	// --- S3 round archives ---
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
		deps.Pingers["s3"] = pingerFunc(s3Client.Health)

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// The archiver pages settled bets out of Postgres, so it needs
		// both backends.
		if deps.BetStore != nil {
			deps.Archiver = s3blob.NewRoundArchiver(deps.BlobWriter, deps.BetStore)
		}
	}

	// --- Oracle ---
	var priceOracle domain.PriceOracle = oracle.NewHermesClientWithTimeout(
		cfg.Oracle.HermesURL, cfg.Oracle.Timeout.Duration)
	if deps.PriceCache != nil {
		priceOracle = oracle.NewCachedOracle(priceOracle, deps.PriceCache, logger)
	}
	deps.Oracle = priceOracle

	// --- Shared parameters ---
	minBet, ok := new(big.Int).SetString(cfg.Params.MinBetAmount, 10)
	if !ok {
		cleanup()
		return nil, nil, fmt.Errorf("wire: params: invalid min_bet_amount %q", cfg.Params.MinBetAmount)
	}
	params, err := domain.NewParams(
		common.HexToAddress(cfg.Params.Owner),
		common.HexToAddress(cfg.Params.Admin),
		minBet,
		cfg.Params.BufferSeconds,
		cfg.Params.TreasuryFeeBps,
		cfg.Params.ReferralFeeBps,
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: params: %w", err)
	}
	deps.Params = params

	// --- Token bank ---
	deps.Bank = token.NewMemoryBank()
	for _, m := range cfg.Token.Mint {
		amount, ok := new(big.Int).SetString(m.Amount, 10)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: token: invalid mint amount %q", m.Amount)
		}
		deps.Bank.Mint(common.HexToAddress(m.Address), amount)
	}

	// --- Event plumbing ---
	// The fanout is created before the registry so engines emit through it;
	// the recorder joins after the registry exists (it resolves instances
	// through it).
	emitter := events.NewFanout(events.NewLogEmitter(logger))
	if deps.EventBus != nil {
		emitter.Add(deps.EventBus)
	}
	if alerter := buildAlerter(cfg, logger); alerter != nil {
		emitter.Add(alerter)
	}
	deps.Emitter = emitter

	deps.Referrals = referral.New(emitter, logger)

	deps.Registry = registry.New(registry.Config{
		Params:     params,
		Oracle:     deps.Oracle,
		Token:      deps.Bank,
		Referrals:  deps.Referrals,
		Emitter:    emitter,
		Logger:     logger,
		RouterAddr: common.HexToAddress(cfg.Params.RouterAddress),
	})

	if deps.RoundStore != nil {
		var archiver pipeline.RoundArchiver
		if deps.Archiver != nil {
			archiver = deps.Archiver
		}
		var instances *pipeline.InstanceRecorder
		if deps.InstanceStore != nil {
			instances = &pipeline.InstanceRecorder{Store: deps.InstanceStore}
		}
		deps.Recorder = pipeline.NewRecorder(pipeline.RecorderConfig{
			Source:    deps.Registry,
			Rounds:    deps.RoundStore,
			Bets:      deps.BetStore,
			Events:    deps.EventStore,
			Instances: instances,
			Archiver:  archiver,
			Logger:    logger,
		})
		emitter.Add(deps.Recorder)
	}

	// --- Scheduler ---
	if cfg.Scheduler.Enabled {
		var locks domain.LockManager
		if cfg.Scheduler.DistributedLock {
			locks = deps.LockManager
		}
		deps.Scheduler = scheduler.New(scheduler.Config{
			Source:       deps.Registry,
			Operator:     common.HexToAddress(cfg.Scheduler.Operator),
			Locks:        locks,
			Logger:       logger,
			PollInterval: cfg.Scheduler.PollInterval.Duration,
			AutoRestart:  cfg.Scheduler.AutoRestart,
		})
	}

	// --- WebSocket hub ---
	if deps.EventBus != nil {
		deps.Hub = ws.NewHub(deps.EventBus, deps.Registry, logger)
	}

	return deps, cleanup, nil
}

// buildAlerter assembles the operator alerter from configured channels.
// Returns nil when no channel has credentials.
func buildAlerter(cfg *config.Config, logger *slog.Logger) *notify.Alerter {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewAlerter(senders, cfg.Notify.Events, logger)
}
