// voriond wires the decision core and runs its background loops.
// Transport wiring (HTTP routes, gRPC) lives in a separate deployment
// repo; this binary owns component construction and shutdown ordering.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voriongit/vorion/core/pkg/audit"
	"github.com/voriongit/vorion/core/pkg/basis"
	"github.com/voriongit/vorion/core/pkg/cache"
	"github.com/voriongit/vorion/core/pkg/config"
	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/enforce"
	"github.com/voriongit/vorion/core/pkg/escalation"
	"github.com/voriongit/vorion/core/pkg/kernel"
	"github.com/voriongit/vorion/core/pkg/observability"
	"github.com/voriongit/vorion/core/pkg/ratelimit"
	"github.com/voriongit/vorion/core/pkg/replay"
	"github.com/voriongit/vorion/core/pkg/tenants"
)

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.LogLevel == "DEBUG" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := buildCore(ctx, cfg, logger)
	if err != nil {
		logger.Error("core construction failed", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	core.Start(ctx)
	logger.Info("vorion core started",
		"environment", cfg.Environment,
		"cache_enabled", cfg.CacheEnabled,
		"fail_open", cfg.RateLimitFailOpen,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutdown requested")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	core.Shutdown(shutdownCtx)
	logger.Info("vorion core stopped")
}

// Core is the fully wired decision service handed to the transport layer.
// One instance per process; tests build their own with fresh components.
type Core struct {
	Config      *config.Config
	Kernel      *kernel.Kernel
	Limiter     *ratelimit.Limiter
	Cache       *cache.DecisionCache
	Engine      *enforce.Engine
	Escalations *escalation.Manager
	Sink        *audit.Sink
	Snapshots   *replay.Manager
	Replay      *replay.Engine
	Simulator   *replay.Simulator

	obs        *observability.Provider
	auditStore *audit.SQLiteStore
	snapStore  *replay.SQLiteSnapshotStore
	logger     *slog.Logger
}

func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "vorion-core",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTELEnabled,
		Insecure:       cfg.Environment != "production",
	})
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, shared tiers degraded", "error", err)
		}
	}

	auditStore, err := audit.OpenSQLiteStore(cfg.AuditDBPath)
	if err != nil {
		return nil, err
	}
	sink := audit.NewSink(audit.Options{
		Store:         auditStore,
		FlushInterval: cfg.AuditFlushInterval,
		BatchSize:     cfg.AuditBatchSize,
		BufferCeiling: cfg.AuditBufferCeiling,
		FlushAttempts: cfg.AuditFlushAttempts,
		Logger:        logger,
		Observability: obs,
	})

	trustKernel := kernel.New(kernel.Options{Auditor: sinkAuditor{sink}, Logger: logger})

	registry := tenants.NewRegistry()
	limiterOpts := ratelimit.Options{
		Registry:      registry,
		FailOpen:      cfg.RateLimitFailOpen,
		SweepInterval: cfg.RateLimitSweep,
		IdleEviction:  cfg.RateLimitIdleEvict,
		Logger:        logger,
	}
	if redisClient != nil {
		limiterOpts.Store = ratelimit.NewRedisStore(redisClient)
	}
	limiter := ratelimit.New(limiterOpts)

	var decisionCache *cache.DecisionCache
	if cfg.CacheEnabled {
		decisionCache = cache.New(cache.Options{
			TTL:           cfg.CacheTTL,
			LocalSize:     cfg.CacheLocalSize,
			Redis:         redisClient,
			SweepInterval: cfg.CacheSweepEvery,
			Logger:        logger,
			Observability: obs,
		})
	}

	evaluator, err := basis.NewCELEvaluator()
	if err != nil {
		_ = auditStore.Close()
		return nil, err
	}

	escalations := escalation.NewManager(sinkAuditor{sink})

	engine := enforce.New(enforce.Options{
		Evaluator:         evaluator,
		Cache:             decisionCache,
		Recorder:          sink,
		Escalations:       escalations,
		Logger:            logger,
		Observability:     obs,
		DefaultAction:     contracts.ControlAction(cfg.DefaultAction),
		ConstraintTimeout: cfg.ConstraintTimeout,
	})

	snapStore, err := replay.OpenSQLiteSnapshotStore(cfg.SnapshotDBPath)
	if err != nil {
		_ = auditStore.Close()
		return nil, err
	}
	snapshots := replay.NewManager(snapStore)

	// Replay and simulation run a cache-less, audit-less engine so they
	// always recompute and never persist.
	replayEngine := enforce.New(enforce.Options{
		Evaluator:         evaluator,
		Logger:            logger,
		DefaultAction:     contracts.ControlAction(cfg.DefaultAction),
		ConstraintTimeout: cfg.ConstraintTimeout,
	})

	return &Core{
		Config:      cfg,
		Kernel:      trustKernel,
		Limiter:     limiter,
		Cache:       decisionCache,
		Engine:      engine,
		Escalations: escalations,
		Sink:        sink,
		Snapshots:   snapshots,
		Replay:      replay.NewEngine(snapshots, replayEngine),
		Simulator:   replay.NewSimulator(replayEngine),
		obs:         obs,
		auditStore:  auditStore,
		snapStore:   snapStore,
		logger:      logger,
	}, nil
}

// Start launches the background loops.
func (c *Core) Start(ctx context.Context) {
	go c.Sink.Run(ctx)
	go c.Escalations.Run(ctx, 30*time.Second)
	go c.Limiter.Run(ctx)
	if c.Cache != nil {
		go c.Cache.Run(ctx)
	}
}

// Shutdown drains the audit sink and flushes telemetry.
func (c *Core) Shutdown(ctx context.Context) {
	if err := c.Sink.Shutdown(ctx); err != nil {
		c.logger.Error("audit sink shutdown incomplete", "error", err)
	}
	if err := c.obs.Shutdown(ctx); err != nil {
		c.logger.Error("observability shutdown incomplete", "error", err)
	}
}

// Close releases persistent resources.
func (c *Core) Close() {
	if c.auditStore != nil {
		_ = c.auditStore.Close()
	}
	if c.snapStore != nil {
		_ = c.snapStore.Close()
	}
}

// sinkAuditor adapts the audit sink to the kernel and escalation Auditor
// interfaces.
type sinkAuditor struct {
	sink *audit.Sink
}

func (a sinkAuditor) Record(ctx context.Context, rec *contracts.AuditRecord) {
	a.sink.Record(ctx, rec)
}
