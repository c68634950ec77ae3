package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voriongit/vorion/core/pkg/tenants"
)

func testLimiter(t *testing.T, opts Options) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	l := New(opts).WithClock(func() time.Time { return now })
	return l, &now
}

func TestPerMinuteBoundary(t *testing.T) {
	reg := tenants.NewRegistry()
	reg.SetOverride("t1", tenants.Limits{PerSecond: -1, PerMinute: 5, PerHour: -1})
	l, now := testLimiter(t, Options{Registry: reg})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res := l.Check(ctx, "t1", "/decide")
		if !res.Allowed {
			t.Fatalf("request %d must be allowed", i+1)
		}
		*now = now.Add(time.Millisecond)
	}

	res := l.Check(ctx, "t1", "/decide")
	if res.Allowed {
		t.Fatal("request N+1 inside the window must be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("denial must carry retry_after > 0, got %v", res.RetryAfter)
	}
	if res.Remaining.Minute != 0 {
		t.Errorf("remaining minute = %d", res.Remaining.Minute)
	}
}

func TestLazyWindowReset(t *testing.T) {
	reg := tenants.NewRegistry()
	reg.SetOverride("t1", tenants.Limits{PerSecond: 2, PerMinute: -1, PerHour: -1})
	l, now := testLimiter(t, Options{Registry: reg})
	ctx := context.Background()

	l.Check(ctx, "t1", "/e")
	l.Check(ctx, "t1", "/e")
	if l.Check(ctx, "t1", "/e").Allowed {
		t.Fatal("burst limit must deny third request")
	}

	*now = now.Add(1100 * time.Millisecond)
	if !l.Check(ctx, "t1", "/e").Allowed {
		t.Fatal("window boundary crossed on read must reset the counter")
	}
}

func TestEndpointsAreIndependent(t *testing.T) {
	reg := tenants.NewRegistry()
	reg.SetOverride("t1", tenants.Limits{PerSecond: 1, PerMinute: -1, PerHour: -1})
	l, _ := testLimiter(t, Options{Registry: reg})
	ctx := context.Background()

	if !l.Check(ctx, "t1", "/a").Allowed {
		t.Fatal("first /a must pass")
	}
	if !l.Check(ctx, "t1", "/b").Allowed {
		t.Fatal("/b has its own window")
	}
	if l.Check(ctx, "t1", "/a").Allowed {
		t.Fatal("second /a must be denied")
	}
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	l, now := testLimiter(t, Options{})
	ctx := context.Background()

	l.Check(ctx, "t1", "/e")
	l.Check(ctx, "t2", "/e")
	if l.Size() != 2 {
		t.Fatalf("size = %d", l.Size())
	}

	*now = now.Add(61 * time.Minute)
	l.Sweep()
	if l.Size() != 0 {
		t.Errorf("idle entries must be evicted, size = %d", l.Size())
	}
}

func TestAnonymousHalfLimit(t *testing.T) {
	reg := tenants.NewRegistry()
	l, _ := testLimiter(t, Options{Registry: reg})

	// Free default is 10/s, so anonymous gets a burst of 5.
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.AllowAnonymous("203.0.113.9", "/decide") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("anonymous burst = %d, want 5", allowed)
	}
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func TestFailOpenAdmitsOnStoreFailure(t *testing.T) {
	l, _ := testLimiter(t, Options{Store: failingStore{}, FailOpen: true})
	res := l.Check(context.Background(), "t1", "/e")
	if !res.Allowed {
		t.Error("graceful degradation must admit on store failure")
	}
}

func TestFailClosedDeniesOnStoreFailure(t *testing.T) {
	l, _ := testLimiter(t, Options{Store: failingStore{}, FailOpen: false})
	res := l.Check(context.Background(), "t1", "/e")
	if res.Allowed {
		t.Error("fail-closed deployment must deny on store failure")
	}
	if !res.Degraded {
		t.Error("result must be marked degraded")
	}
}

func TestRedisStoreCounts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)

	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := store.Incr(ctx, "t1|/e", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}
}

func TestDistributedDenialOverLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	reg := tenants.NewRegistry()
	reg.SetOverride("t1", tenants.Limits{PerSecond: -1, PerMinute: 2, PerHour: -1})
	l := New(Options{Registry: reg, Store: NewRedisStore(client)})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if !l.Check(ctx, "t1", "/e").Allowed {
			t.Fatalf("request %d must pass", i+1)
		}
	}
	res := l.Check(ctx, "t1", "/e")
	if res.Allowed {
		t.Fatal("third request must be denied by shared counter")
	}
	if res.RetryAfter <= 0 {
		t.Error("retry_after must be positive")
	}
}
