// Package ratelimit enforces per-tenant sliding-window request limits at
// three granularities: per-second (burst), per-minute, and per-hour.
// Window reset is lazy: a boundary is observed the next time the window is
// read, so the hot path is three counter reads plus one conditional
// increment.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/voriongit/vorion/core/pkg/resiliency"
	"github.com/voriongit/vorion/core/pkg/tenants"
)

// Remaining reports headroom per window.
type Remaining struct {
	Second int `json:"second"`
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
}

// ResetAt reports when each window rolls over.
type ResetAt struct {
	Second time.Time `json:"second"`
	Minute time.Time `json:"minute"`
	Hour   time.Time `json:"hour"`
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limits     tenants.Limits `json:"-"`
	Remaining  Remaining     `json:"remaining"`
	ResetAt    ResetAt       `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Degraded   bool          `json:"-"`
}

type window struct {
	count int
	start time.Time
}

// reset rolls the window forward if its span has elapsed.
func (w *window) reset(now time.Time, span time.Duration) {
	if now.Sub(w.start) >= span {
		w.start = now.Truncate(span)
		w.count = 0
	}
}

type entry struct {
	second   window
	minute   window
	hour     window
	lastSeen time.Time
}

// Store is an optional distributed backing store for multi-replica
// deployments. Implementations count hits within a fixed window.
type Store interface {
	// Incr increments the counter for key within the window span and
	// returns the post-increment count.
	Incr(ctx context.Context, key string, span time.Duration) (int64, error)
}

// Options configures a Limiter.
type Options struct {
	Registry *tenants.Registry
	Store    Store // nil = in-process only
	// FailOpen admits requests when the backing store is unavailable.
	// This is deployment configuration, not per-request.
	FailOpen      bool
	SweepInterval time.Duration
	IdleEviction  time.Duration
	Logger        *slog.Logger
}

// Limiter is the per-tenant, per-endpoint sliding-window rate limiter.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	registry *tenants.Registry
	store    Store
	breaker  *resiliency.Breaker
	failOpen bool

	sweepInterval time.Duration
	idleEviction  time.Duration

	anonMu       sync.Mutex
	anonLimiters map[string]*anonVisitor

	logger *slog.Logger
	clock  func() time.Time
}

type anonVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter.
func New(opts Options) *Limiter {
	if opts.Registry == nil {
		opts.Registry = tenants.NewRegistry()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.IdleEviction <= 0 {
		opts.IdleEviction = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := &Limiter{
		entries:       make(map[string]*entry),
		registry:      opts.Registry,
		store:         opts.Store,
		failOpen:      opts.FailOpen,
		sweepInterval: opts.SweepInterval,
		idleEviction:  opts.IdleEviction,
		anonLimiters:  make(map[string]*anonVisitor),
		logger:        opts.Logger.With("component", "ratelimit"),
		clock:         time.Now,
	}
	if opts.Store != nil {
		l.breaker = resiliency.New("ratelimit-store", resiliency.Config{}, opts.Logger)
	}
	return l
}

// WithClock overrides the clock for deterministic testing.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// Check evaluates the three windows for a tenant and endpoint. The
// in-process counters are incremented only when the request is admitted;
// with a backing store, each shared window counter is incremented as it is
// checked, so a denied request is counted too.
func (l *Limiter) Check(ctx context.Context, tenantID, endpoint string) Result {
	limits := l.registry.LimitsFor(tenantID)
	now := l.clock()
	key := tenantID + "|" + endpoint

	if l.store != nil {
		if res, ok := l.checkDistributed(ctx, key, limits, now); ok {
			return res
		}
		// Backing store unavailable: fall through to the local counters
		// under the configured degradation policy.
		if !l.failOpen {
			return Result{Allowed: false, Limits: limits, RetryAfter: time.Second, Degraded: true}
		}
		l.logger.WarnContext(ctx, "rate-limit store unavailable, admitting (fail open)",
			"tenant", tenantID, "endpoint", endpoint)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{
			second: window{start: now.Truncate(time.Second)},
			minute: window{start: now.Truncate(time.Minute)},
			hour:   window{start: now.Truncate(time.Hour)},
		}
		l.entries[key] = e
	}
	e.lastSeen = now

	e.second.reset(now, time.Second)
	e.minute.reset(now, time.Minute)
	e.hour.reset(now, time.Hour)

	res := Result{
		Allowed: true,
		Limits:  limits,
		ResetAt: ResetAt{
			Second: e.second.start.Add(time.Second),
			Minute: e.minute.start.Add(time.Minute),
			Hour:   e.hour.start.Add(time.Hour),
		},
	}

	exceeded := func(count, limit int) bool {
		return !tenants.IsUnlimited(limit) && count >= limit
	}

	switch {
	case exceeded(e.second.count, limits.PerSecond):
		res.Allowed = false
		res.RetryAfter = res.ResetAt.Second.Sub(now)
	case exceeded(e.minute.count, limits.PerMinute):
		res.Allowed = false
		res.RetryAfter = res.ResetAt.Minute.Sub(now)
	case exceeded(e.hour.count, limits.PerHour):
		res.Allowed = false
		res.RetryAfter = res.ResetAt.Hour.Sub(now)
	}

	if res.Allowed {
		e.second.count++
		e.minute.count++
		e.hour.count++
	}

	res.Remaining = Remaining{
		Second: headroom(e.second.count, limits.PerSecond),
		Minute: headroom(e.minute.count, limits.PerMinute),
		Hour:   headroom(e.hour.count, limits.PerHour),
	}
	if res.RetryAfter < 0 {
		res.RetryAfter = 0
	}
	if !res.Allowed && res.RetryAfter == 0 {
		res.RetryAfter = time.Second
	}
	return res
}

func headroom(count, limit int) int {
	if tenants.IsUnlimited(limit) {
		return -1
	}
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}

// checkDistributed consults the backing store. ok=false means the store
// could not be reached and the degradation policy applies.
func (l *Limiter) checkDistributed(ctx context.Context, key string, limits tenants.Limits, now time.Time) (Result, bool) {
	spans := []struct {
		span  time.Duration
		limit int
	}{
		{time.Second, limits.PerSecond},
		{time.Minute, limits.PerMinute},
		{time.Hour, limits.PerHour},
	}

	res := Result{
		Allowed: true,
		Limits:  limits,
		ResetAt: ResetAt{
			Second: now.Truncate(time.Second).Add(time.Second),
			Minute: now.Truncate(time.Minute).Add(time.Minute),
			Hour:   now.Truncate(time.Hour).Add(time.Hour),
		},
	}
	counts := make([]int64, len(spans))

	for i, s := range spans {
		var count int64
		err := l.breaker.Execute(ctx, func(ctx context.Context) error {
			var ierr error
			count, ierr = l.store.Incr(ctx, key, s.span)
			return ierr
		})
		if err != nil {
			return Result{}, false
		}
		counts[i] = count
		if !tenants.IsUnlimited(s.limit) && count > int64(s.limit) {
			res.Allowed = false
			switch s.span {
			case time.Second:
				res.RetryAfter = res.ResetAt.Second.Sub(now)
			case time.Minute:
				res.RetryAfter = res.ResetAt.Minute.Sub(now)
			default:
				res.RetryAfter = res.ResetAt.Hour.Sub(now)
			}
			break
		}
	}

	res.Remaining = Remaining{
		Second: headroom(int(counts[0]), limits.PerSecond),
		Minute: headroom(int(counts[1]), limits.PerMinute),
		Hour:   headroom(int(counts[2]), limits.PerHour),
	}
	if !res.Allowed && res.RetryAfter <= 0 {
		res.RetryAfter = time.Second
	}
	return res, true
}

// AllowAnonymous applies the stricter anonymous limit keyed by client IP
// and endpoint: half the default per-second limit.
func (l *Limiter) AllowAnonymous(ip, endpoint string) bool {
	limits := l.registry.LimitsFor("")
	perSecond := limits.PerSecond / 2
	if perSecond < 1 {
		perSecond = 1
	}

	key := ip + "|" + endpoint
	l.anonMu.Lock()
	v, ok := l.anonLimiters[key]
	if !ok {
		v = &anonVisitor{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
		l.anonLimiters[key] = v
	}
	v.lastSeen = l.clock()
	l.anonMu.Unlock()

	return v.limiter.Allow()
}

// Run starts the background sweep loop. Blocks until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep evicts tenant entries whose windows have all been idle past the
// eviction horizon, and stale anonymous visitors.
func (l *Limiter) Sweep() {
	now := l.clock()

	l.mu.Lock()
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idleEviction {
			delete(l.entries, key)
		}
	}
	l.mu.Unlock()

	l.anonMu.Lock()
	for key, v := range l.anonLimiters {
		if now.Sub(v.lastSeen) > l.idleEviction {
			delete(l.anonLimiters, key)
		}
	}
	l.anonMu.Unlock()
}

// Size returns the number of tracked tenant entries.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
