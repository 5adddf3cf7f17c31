// Package app is the composition root shared by the api server, the worker
// and the operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"leadintel_backend/internal/billing"
	"leadintel_backend/internal/enrichment"
	"leadintel_backend/internal/events"
	"leadintel_backend/internal/goals"
	goalrepo "leadintel_backend/internal/goals/repository"
	"leadintel_backend/internal/leads/repository"
	"leadintel_backend/internal/leads/scoring"
	"leadintel_backend/internal/lifecycle"
	"leadintel_backend/internal/pipeline"
	"leadintel_backend/internal/pipeline/service"
	"leadintel_backend/internal/ratelimit"
	"leadintel_backend/internal/scheduler"
	"leadintel_backend/platform/config"
	"leadintel_backend/platform/db"
	"leadintel_backend/platform/lock"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"
	"leadintel_backend/platform/retry"
	"leadintel_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Components holds everything the binaries share.
type Components struct {
	Config    *config.Config
	Log       *logger.Logger
	Pool      *pgxpool.Pool
	Redis     redis.UniversalClient
	Metrics   *metrics.Metrics
	Bus       *events.InMemoryBus
	Validator *validator.Validator
	Limiter   *ratelimit.Limiter
	Goals     *goals.Module
	Pipeline  *pipeline.Module

	closers []func()
}

// Build connects to the database and Redis and wires every module. Redis is
// optional: without it rate limits stay in process and the sweep guard is
// local to this instance.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Components, error) {
	c := &Components{
		Config:    cfg,
		Log:       log,
		Metrics:   metrics.New(),
		Bus:       events.NewInMemoryBus(log),
		Validator: validator.New(),
	}

	if err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		c.Pool = p
		return nil
	}); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Pool.Close)

	if url := cfg.GetRedisURL(); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		c.Redis = client
		c.closers = append(c.closers, func() { _ = client.Close() })
	} else {
		log.Warn("REDIS_URL not configured; rate limits and sweep guard are per instance")
	}

	profile, err := scoring.LoadProfile(cfg.GetScoringProfilePath())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load scoring profile: %w", err)
	}
	engine, err := scoring.NewEngine(profile)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("scoring profile: %w", err)
	}
	log.Info("scoring profile loaded", "version", profile.Version, "questions", len(profile.Questions))

	c.Limiter = ratelimit.New(c.limiterStore(), log, c.Metrics)

	store := repository.New(c.Pool)
	locks := lock.NewKeyed[uuid.UUID]()
	ledger := billing.NewRepository(c.Pool)

	var archive enrichment.Archive
	if cfg.IsMinIOEnabled() {
		a, err := enrichment.NewMinIOArchive(ctx, cfg)
		if err != nil {
			log.Error("enrichment payload archive disabled", "error", err)
		} else {
			archive = a
			log.Info("enrichment payload archive enabled", "bucket", cfg.GetMinioBucketEnrichmentPayloads())
		}
	}

	orchestrator := enrichment.NewOrchestrator(enrichment.Deps{
		Store:        store,
		Providers:    enrichment.BuildProviders(ctx, cfg, log),
		Entitlements: ledger,
		Ledger:       ledger,
		Archive:      archive,
		Locks:        locks,
		Bus:          c.Bus,
		Log:          log,
		Metrics:      c.Metrics,
	}, enrichment.OptionsFromConfig(cfg))
	log.Info("enrichment providers registered", "providers", orchestrator.Providers())

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithConcurrency(cfg.GetSweepConcurrency()),
		lifecycle.WithEvents(c.Bus),
	}
	if c.Redis != nil {
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithRedisGuard(c.Redis))
	}
	manager := lifecycle.NewManager(store, locks, lifecycle.PolicyFromConfig(cfg), log, c.Metrics, lifecycleOpts...)

	c.Goals = goals.NewModule(goalrepo.New(c.Pool), store, engine, c.Validator, log, c.Metrics)
	c.Goals.RegisterHandlers(c.Bus)
	c.Pipeline = pipeline.NewModule(service.Deps{
		Store:     store,
		Locks:     locks,
		Engine:    engine,
		Enricher:  orchestrator,
		Lifecycle: manager,
		Goals:     c.Goals.Service(),
		Bus:       c.Bus,
		Log:       log,
	}, c.Validator)

	if c.Redis != nil {
		queue, err := scheduler.NewClient(cfg)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("task queue: %w", err)
		}
		c.closers = append(c.closers, func() { _ = queue.Close() })
		c.Pipeline.Service().SetQueue(queue)
	}

	return c, nil
}

func (c *Components) limiterStore() ratelimit.Store {
	if c.Config.GetRateLimitBackend() == "redis" && c.Redis != nil {
		c.Log.Info("rate limit store", "backend", "redis")
		return ratelimit.NewRedisStore(c.Redis, time.Now)
	}
	c.Log.Info("rate limit store", "backend", "memory")
	return ratelimit.NewMemoryStore(time.Now)
}

// Close releases connections in reverse order of acquisition.
func (c *Components) Close() {
	c.Bus.Wait()
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// WithRetry runs fn until it succeeds or attempts run out, backing off
// exponentially from baseDelay.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	attempt := 0
	out := retry.Run(ctx, retry.Policy{MaxRetries: attempts - 1, BaseDelay: baseDelay, MaxDelay: 30 * time.Second},
		func(error) bool { return true },
		func(context.Context) (struct{}, error) {
			attempt++
			err := fn()
			if err != nil {
				log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
			}
			return struct{}{}, err
		})
	if !out.OK() {
		return fmt.Errorf("%s: %w", name, out.Err)
	}
	return nil
}
