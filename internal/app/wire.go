package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/stockex/marketd/internal/blob/s3"
	"github.com/stockex/marketd/internal/cache/redis"
	"github.com/stockex/marketd/internal/config"
	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/exchange"
	"github.com/stockex/marketd/internal/ledger"
	"github.com/stockex/marketd/internal/metrics"
	"github.com/stockex/marketd/internal/notify"
	"github.com/stockex/marketd/internal/service"
	"github.com/stockex/marketd/internal/store/postgres"

	"github.com/stockex/marketd/internal/allowance"
	"github.com/stockex/marketd/internal/eventlog"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core exchange state.
	Ledger *ledger.Ledger
	Engine *exchange.Engine
	Market *service.MarketService

	// Adapters. Optional ones are nil when their backend is disabled.
	TradeStore  domain.TradeStore
	Cache       domain.BalanceCache
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	BlobWriter  domain.BlobWriter
	Archiver    *s3blob.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Collector

	// Connectivity probes for the health endpoint.
	PgClient    *postgres.Client
	RedisClient *redis.Client
}

// needsRedis returns true for modes that require the cache/bus/limiter
// backend. The sim mode runs fully in process.
func needsRedis(mode string) bool {
	return strings.ToLower(mode) == "serve"
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.NewCollector(),
	}

	// --- Core exchange state ---
	market, err := domain.ParseAccount(cfg.Market.Account)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: market account: %w", err)
	}

	l := ledger.New()
	guard := allowance.New()
	log := eventlog.New()

	if err := seedGenesis(l, market, cfg.Market.Genesis); err != nil {
		return nil, nil, fmt.Errorf("wire: genesis: %w", err)
	}

	engine, err := exchange.New(l, guard, log, market, cfg.Market.Rate)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}
	deps.Ledger = l
	deps.Engine = engine

	// --- PostgreSQL trade store ---
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

		deps.PgClient = pgClient
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- Redis cache, bus, limiter, locks ---
	if needsRedis(cfg.Mode) {
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

		deps.RedisClient = redisClient
		deps.Cache = redis.NewBalanceCache(redisClient, cfg.Redis.BalanceTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage for trade archives ---
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.TradeStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore)
		}
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

	// --- Market service ---
	deps.Market = service.NewMarketService(engine, service.MarketServiceDeps{
		Trades:   deps.TradeStore,
		Cache:    deps.Cache,
		Bus:      deps.Bus,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}, logger)

	return deps, cleanup, nil
}

// seedGenesis mints the configured supplies to the issuer and funds the
// market account, mirroring the original deployment provisioning.
func seedGenesis(l *ledger.Ledger, market domain.Account, g config.GenesisConfig) error {
	issuer, err := domain.ParseAccount(g.Issuer)
	if err != nil {
		return fmt.Errorf("issuer: %w", err)
	}

	if err := l.Issue(issuer, domain.AssetFiat, domain.Units(g.FiatSupply)); err != nil {
		return fmt.Errorf("issue fiat: %w", err)
	}
	if err := l.Issue(issuer, domain.AssetStock, domain.Units(g.StockSupply)); err != nil {
		return fmt.Errorf("issue stock: %w", err)
	}

	if err := l.Transfer(issuer, market, domain.AssetFiat, domain.Units(g.MarketFiat)); err != nil {
		return fmt.Errorf("fund market fiat: %w", err)
	}
	if err := l.Transfer(issuer, market, domain.AssetStock, domain.Units(g.MarketStock)); err != nil {
		return fmt.Errorf("fund market stock: %w", err)
	}

	return nil
}
