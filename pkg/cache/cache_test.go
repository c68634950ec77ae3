package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

func testDecision(id, intentID, tenant string) *contracts.Decision {
	return &contracts.Decision{
		ID:          id,
		IntentID:    intentID,
		TenantID:    tenant,
		FinalAction: contracts.ActionAllow,
		Reason:      "rule matched",
		Confidence:  1.0,
		DecidedAt:   time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func testIntent(id, tenant string) *contracts.Intent {
	return &contracts.Intent{
		ID:       id,
		TenantID: tenant,
		EntityID: "a1",
		Type:     "data.read",
		Context:  map[string]any{"k": "v"},
	}
}

func TestFingerprintStability(t *testing.T) {
	i1 := testIntent("i1", "t1")
	i1.Context = map[string]any{"a": 1, "b": 2}
	i2 := testIntent("i1", "t1")
	i2.Context = map[string]any{"b": 2, "a": 1}

	fp1, err := Fingerprint(i1, contracts.TierT3)
	if err != nil {
		t.Fatal(err)
	}
	fp2, _ := Fingerprint(i2, contracts.TierT3)
	if fp1 != fp2 {
		t.Errorf("context key order must not change the fingerprint: %s vs %s", fp1, fp2)
	}
	if len(fp1) != 16 {
		t.Errorf("fingerprint length = %d", len(fp1))
	}

	fp3, _ := Fingerprint(testIntent("i2", "t1"), contracts.TierT3)
	if fp1 == fp3 {
		t.Error("different intent ids must not collide")
	}
	fp4, _ := Fingerprint(i1, contracts.TierT4)
	if fp1 == fp4 {
		t.Error("tier is part of the key")
	}
}

func TestLocalHitAndExpiry(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := New(Options{TTL: 60 * time.Second}).WithClock(func() time.Time { return now })
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("d1", "i1", "t1"))
	if got := c.Get(ctx, "t1", "fp1"); got == nil || got.ID != "d1" {
		t.Fatal("expected local hit")
	}

	now = now.Add(61 * time.Second)
	if got := c.Get(ctx, "t1", "fp1"); got != nil {
		t.Error("a hit must never return an expired entry")
	}
}

func TestLocalLRUEviction(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := New(Options{TTL: time.Minute, LocalSize: 2}).WithClock(func() time.Time { return now })
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("d1", "i1", "t1"))
	now = now.Add(time.Millisecond)
	c.Set(ctx, "fp2", testDecision("d2", "i2", "t1"))
	now = now.Add(time.Millisecond)
	c.Get(ctx, "t1", "fp1") // fp1 is now the most recently accessed
	now = now.Add(time.Millisecond)
	c.Set(ctx, "fp3", testDecision("d3", "i3", "t1"))

	if c.Get(ctx, "t1", "fp2") != nil {
		t.Error("fp2 was least recently accessed and must be evicted")
	}
	if c.Get(ctx, "t1", "fp1") == nil {
		t.Error("fp1 must survive")
	}
}

func newSharedCache(t *testing.T) (*DecisionCache, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := New(Options{TTL: 60 * time.Second, Redis: client}).WithClock(func() time.Time { return now })
	return c, mr, &now
}

func TestSharedTierPopulatesLocal(t *testing.T) {
	c, _, _ := newSharedCache(t)
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("d1", "i1", "t1"))
	c.local.delete("fp1")

	if got := c.Get(ctx, "t1", "fp1"); got == nil || got.ID != "d1" {
		t.Fatal("shared tier must serve after local miss")
	}
	if c.local.get("fp1", c.clock()) == nil {
		t.Error("shared hit must populate the local tier")
	}
}

func TestCorruptSharedEntryCountsAsMiss(t *testing.T) {
	c, mr, _ := newSharedCache(t)
	ctx := context.Background()

	key := entryKey("t1", "fpX")
	mr.Set(key, "{not valid json")

	if got := c.Get(ctx, "t1", "fpX"); got != nil {
		t.Fatal("corrupt entry must count as a miss")
	}
	if mr.Exists(key) {
		t.Error("corrupt entry must be deleted from the shared store")
	}

	// A subsequent set + get works normally.
	c.Set(ctx, "fpX", testDecision("d9", "i9", "t1"))
	if got := c.Get(ctx, "t1", "fpX"); got == nil || got.ID != "d9" {
		t.Error("cache must recover after corruption")
	}
}

func TestSchemaMismatchCountsAsMiss(t *testing.T) {
	c, mr, _ := newSharedCache(t)
	ctx := context.Background()

	key := entryKey("t1", "fpY")
	// Valid JSON, invalid shape: no decision.
	mr.Set(key, `{"expires_at":"2027-01-01T00:00:00Z","expires_at_unix_ms":1798761600000}`)

	if got := c.Get(ctx, "t1", "fpY"); got != nil {
		t.Fatal("schema-mismatched entry must count as a miss")
	}
	if mr.Exists(key) {
		t.Error("schema-mismatched entry must be deleted")
	}
}

func TestSetNeverOverwritesNewer(t *testing.T) {
	c, _, now := newSharedCache(t)
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("newer", "i1", "t1"))

	// An older writer (earlier expiry) must not clobber the newer entry.
	*now = now.Add(-30 * time.Second)
	c.shared.clock = func() time.Time { return *now }
	older := &Entry{
		Decision:      testDecision("older", "i1", "t1"),
		ExpiresAt:     now.Add(60 * time.Second),
		ExpiresAtUnix: now.Add(60 * time.Second).UnixMilli(),
	}
	if err := c.shared.set(ctx, "t1", "fp1", older, 60*time.Second); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(30 * time.Second)

	entry, err := c.shared.get(ctx, "t1", "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Decision.ID != "newer" {
		t.Error("compare-before-write must keep the later entry")
	}
}

func TestInvalidateByIntent(t *testing.T) {
	c, _, _ := newSharedCache(t)
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("d1", "i1", "t1"))
	c.Set(ctx, "fp2", testDecision("d2", "i2", "t1"))

	n := c.Invalidate(ctx, "i1")
	if n < 1 {
		t.Fatalf("invalidate removed %d entries", n)
	}
	if c.Get(ctx, "t1", "fp1") != nil {
		t.Error("i1 entries must be gone from both tiers")
	}
	if c.Get(ctx, "t1", "fp2") == nil {
		t.Error("i2 entries must survive")
	}
}

func TestInvalidateTenant(t *testing.T) {
	c, _, _ := newSharedCache(t)
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("d1", "i1", "t1"))
	c.Set(ctx, "fp2", testDecision("d2", "i2", "t2"))

	c.InvalidateTenant(ctx, "t1")
	if c.Get(ctx, "t1", "fp1") != nil {
		t.Error("t1 entries must be gone")
	}
	if c.Get(ctx, "t2", "fp2") == nil {
		t.Error("t2 entries must survive")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := New(Options{TTL: time.Second}).WithClock(func() time.Time { return now })
	ctx := context.Background()

	c.Set(ctx, "fp1", testDecision("d1", "i1", "t1"))
	now = now.Add(2 * time.Second)
	c.Sweep(ctx)
	if c.LocalSize() != 0 {
		t.Errorf("sweep must remove expired entries, size = %d", c.LocalSize())
	}
}
