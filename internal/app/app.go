// Package app initializes and holds the long-lived services shared by the
// dispatch and gateway commands, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/broker"
	"github.com/parsera-labs/dispatch/internal/config"
	"github.com/parsera-labs/dispatch/internal/identity"
	"github.com/parsera-labs/dispatch/internal/logging"
	"github.com/parsera-labs/dispatch/internal/metrics"
	"github.com/parsera-labs/dispatch/internal/ratelimit"
	"github.com/parsera-labs/dispatch/internal/retry"
	"github.com/parsera-labs/dispatch/internal/router"
	"github.com/parsera-labs/dispatch/internal/store"
)

// App holds the shared, long-lived services for the process. It is built once
// at startup and handed to whichever command is running. The broker and redis
// clients connect lazily; the relational store connects eagerly via
// ConnectStore because only the gateway needs it.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	broker     *broker.Broker
	redis      redis.UniversalClient
	limiter    *ratelimit.Limiter
	identities *identity.Pool

	store  store.CrawlerStore
	pgPool *pgxpool.Pool
}

// New wires every service that does not require an upfront connection.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	metrics.Init()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	topology := broker.Topology{
		ProduceExchange: cfg.Broker.ProduceExchange,
		ConsumeExchange: cfg.Broker.ConsumeExchange,
		ConsumeQueue:    cfg.Broker.ConsumeQueue,
		StageQueues:     cfg.Pipeline.StageQueues(),
	}
	acquire := retry.New(retry.WithLogger(logger))
	acquire.MaxAttempts = cfg.Retry.MaxAttempts
	acquire.MinDelay = time.Duration(cfg.Retry.MinDelayMs) * time.Millisecond
	acquire.StepDelay = time.Duration(cfg.Retry.StepDelayMs) * time.Millisecond
	acquire.MaxDelay = time.Duration(cfg.Retry.MaxDelaySec) * time.Second
	publish := retry.Fixed(
		cfg.Retry.MaxAttempts,
		time.Duration(cfg.Retry.IntervalMs)*time.Millisecond,
		retry.WithLogger(logger),
	)
	b := broker.New(
		broker.Config{
			URL:      cfg.Broker.URL(),
			PoolSize: cfg.Broker.PoolSize,
			Prefetch: cfg.Broker.Prefetch,
		},
		topology,
		logger,
		broker.WithAcquireRetry(acquire),
		broker.WithPublishRetry(publish),
	)

	limiter := ratelimit.New(
		ratelimit.NewRedisStore(rdb, cfg.Pipeline.Cooldown()),
		logger,
	)
	identities := identity.NewPool(
		cfg.Identity.PoolSize,
		identity.NewRedisStore(rdb, logger),
		cfg.Identity.RotationRate,
		logger,
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		broker:     b,
		redis:      rdb,
		limiter:    limiter,
		identities: identities,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Broker returns the shared AMQP transport.
func (a *App) Broker() *broker.Broker { return a.broker }

// Limiter returns the domain cooldown limiter.
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Identities returns the identity rotation pool.
func (a *App) Identities() *identity.Pool { return a.identities }

// Stages maps the configured queue names into the router's stage sets.
func (a *App) Stages() router.Stages {
	p := a.cfg.Pipeline
	return router.Stages{
		Scrape:        p.ScrapeQueues(),
		HeavyRetry:    []string{p.HeavyRetryQueue},
		Extract:       []string{p.ExtractQueue},
		Notify:        []string{p.NotifyQueue},
		DBManager:     []string{p.DBManagerQueue},
		StatusManager: []string{p.StatusManagerQueue},
	}
}

// ConnectStore opens the relational store. Fails when database.dsn is unset.
func (a *App) ConnectStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is not set")
	}
	st, pool, err := store.NewPostgres(ctx, a.cfg.Database.DSN, int32(a.cfg.Database.MaxConns))
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	a.store = st
	a.pgPool = pool
	return nil
}

// Store returns the relational store, or nil before ConnectStore.
func (a *App) Store() store.CrawlerStore { return a.store }

// Close releases every held connection. Safe to call on a partially
// initialized App.
func (a *App) Close() {
	if a.broker != nil {
		a.broker.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
