// Package cache implements the two-tier decision cache: an in-process LRU
// in front of a shared Redis store. Both tiers are keyed by the decision
// fingerprint and carry the same TTL. Reads from the shared tier are
// guarded by a circuit breaker; a broken breaker or a corrupt entry simply
// counts as a miss and the decision path recomputes.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/observability"
	"github.com/voriongit/vorion/core/pkg/resiliency"
)

// Options configures the decision cache.
type Options struct {
	TTL       time.Duration
	LocalSize int
	// Redis enables the shared tier when non-nil.
	Redis         *redis.Client
	SweepInterval time.Duration
	Logger        *slog.Logger
	Observability *observability.Provider
}

// DecisionCache is the two-tier cache.
type DecisionCache struct {
	local  *localCache
	shared *sharedTier

	readBreaker  *resiliency.Breaker
	writeBreaker *resiliency.Breaker

	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	obs           *observability.Provider
	clock         func() time.Time

	gaugeMu   sync.Mutex
	lastSizes map[string]int
}

// New creates a decision cache.
func New(opts Options) *DecisionCache {
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &DecisionCache{
		local:         newLocalCache(opts.LocalSize),
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger.With("component", "decision-cache"),
		obs:           opts.Observability,
		clock:         time.Now,
		lastSizes:     make(map[string]int),
	}
	if opts.Redis != nil {
		c.shared = newSharedTier(opts.Redis)
		c.readBreaker = resiliency.New("cache-read", resiliency.Config{}, opts.Logger)
		c.writeBreaker = resiliency.New("cache-write", resiliency.Config{}, opts.Logger)
	}
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *DecisionCache) WithClock(clock func() time.Time) *DecisionCache {
	c.clock = clock
	if c.shared != nil {
		c.shared.clock = clock
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *DecisionCache) TTL() time.Duration { return c.ttl }

// Get returns the cached decision for a fingerprint, or nil on miss.
// A hit never returns an expired entry.
func (c *DecisionCache) Get(ctx context.Context, tenantID, fingerprint string) *contracts.Decision {
	now := c.clock()

	if e := c.local.get(fingerprint, now); e != nil {
		c.recordHit(ctx, tenantID)
		return e.Decision
	}

	if c.shared == nil {
		c.recordMiss(ctx, tenantID)
		return nil
	}

	var entry *Entry
	err := c.readBreaker.Execute(ctx, func(ctx context.Context) error {
		var ierr error
		entry, ierr = c.shared.get(ctx, tenantID, fingerprint)
		if errors.Is(ierr, errCorrupt) {
			c.logger.WarnContext(ctx, "corrupt shared cache entry deleted",
				"tenant", tenantID, "fingerprint", fingerprint)
			entry = nil
			return nil
		}
		return ierr
	})
	if err != nil {
		if errors.Is(err, resiliency.ErrOpen) {
			c.logger.DebugContext(ctx, "cache read breaker open, treating as miss")
		} else {
			c.logger.WarnContext(ctx, "shared cache read failed", "error", err)
		}
		c.recordMiss(ctx, tenantID)
		return nil
	}
	if entry == nil {
		c.recordMiss(ctx, tenantID)
		return nil
	}

	// Populate the local tier with the remaining lifetime.
	entry.LastAccessedAt = now
	entry.AccessCount++
	c.local.set(fingerprint, entry)
	c.recordHit(ctx, tenantID)
	return entry.Decision
}

// Set writes the decision to both tiers under the configured TTL.
func (c *DecisionCache) Set(ctx context.Context, fingerprint string, decision *contracts.Decision) {
	now := c.clock()
	expires := now.Add(c.ttl)
	entry := &Entry{
		Decision:       decision,
		ExpiresAt:      expires,
		ExpiresAtUnix:  expires.UnixMilli(),
		LastAccessedAt: now,
	}

	c.local.set(fingerprint, entry)

	if c.shared == nil {
		return
	}
	err := c.writeBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.shared.set(ctx, decision.TenantID, fingerprint, entry, c.ttl)
	})
	if err != nil && !errors.Is(err, resiliency.ErrOpen) {
		c.logger.WarnContext(ctx, "shared cache write failed", "error", err)
	}
}

// Invalidate removes every entry whose decision carries the intent id.
func (c *DecisionCache) Invalidate(ctx context.Context, intentID string) int {
	n := c.local.deleteWhere(func(e *Entry) bool {
		return e.Decision != nil && e.Decision.IntentID == intentID
	})
	if c.shared != nil {
		shared, err := c.shared.deleteByIntent(ctx, intentID)
		if err != nil {
			c.logger.WarnContext(ctx, "shared invalidate failed", "intent", intentID, "error", err)
		}
		n += shared
	}
	return n
}

// InvalidateTenant removes every entry for the tenant.
func (c *DecisionCache) InvalidateTenant(ctx context.Context, tenantID string) int {
	n := c.local.deleteWhere(func(e *Entry) bool {
		return e.Decision != nil && e.Decision.TenantID == tenantID
	})
	if c.shared != nil {
		shared, err := c.shared.deleteTenant(ctx, tenantID)
		if err != nil {
			c.logger.WarnContext(ctx, "shared tenant invalidate failed", "tenant", tenantID, "error", err)
		}
		n += shared
	}
	return n
}

// Run starts the background sweeper. Blocks until ctx is cancelled.
func (c *DecisionCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep removes expired local entries and republishes per-tenant size
// gauges as deltas against the last published sizes.
func (c *DecisionCache) Sweep(ctx context.Context) {
	sizes := c.local.sweep(c.clock())
	if c.obs == nil {
		return
	}
	c.gaugeMu.Lock()
	defer c.gaugeMu.Unlock()
	for tenant, size := range sizes {
		if delta := size - c.lastSizes[tenant]; delta != 0 {
			c.obs.AddCacheSize(ctx, tenant, int64(delta))
		}
	}
	for tenant, prev := range c.lastSizes {
		if _, live := sizes[tenant]; !live && prev != 0 {
			c.obs.AddCacheSize(ctx, tenant, int64(-prev))
		}
	}
	c.lastSizes = sizes
}

// LocalSize returns the number of live local entries.
func (c *DecisionCache) LocalSize() int { return c.local.size() }

func (c *DecisionCache) recordHit(ctx context.Context, tenant string) {
	if c.obs != nil {
		c.obs.RecordCacheHit(ctx, tenant)
	}
}

func (c *DecisionCache) recordMiss(ctx context.Context, tenant string) {
	if c.obs != nil {
		c.obs.RecordCacheMiss(ctx, tenant)
	}
}
