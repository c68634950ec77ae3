package kernel

import (
	"sync"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// ResourceType identifies a capability ceiling dimension.
type ResourceType string

const (
	ResourceAPICalls   ResourceType = "API_CALLS"
	ResourceDataAccess ResourceType = "DATA_ACCESS"
	ResourceCompute    ResourceType = "COMPUTE"
	ResourceStorage    ResourceType = "STORAGE"
	ResourceNetwork    ResourceType = "NETWORK"
)

// CeilingCheck is the outcome of a capability ceiling check.
type CeilingCheck struct {
	Allowed      bool      `json:"allowed"`
	CurrentUsage int       `json:"current_usage"`
	Ceiling      int       `json:"ceiling"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
}

// Per-tier ceiling multipliers applied to the base ceilings below.
var tierCeilingMultiplier = [contracts.TierCount]int{1, 2, 4, 8, 16, 32}

var baseCeilings = map[ResourceType]int{
	ResourceAPICalls:   100,
	ResourceDataAccess: 50,
	ResourceCompute:    20,
	ResourceStorage:    20,
	ResourceNetwork:    40,
}

type usageKey struct {
	agentID  string
	resource ResourceType
}

type usageWindow struct {
	used  int
	start time.Time
}

// CeilingTable tracks per-agent resource usage against tier-derived
// ceilings. Usage windows reset hourly, lazily on check.
type CeilingTable struct {
	mu    sync.Mutex
	usage map[usageKey]*usageWindow
	clock func() time.Time
}

// NewCeilingTable creates an empty table.
func NewCeilingTable() *CeilingTable {
	return &CeilingTable{
		usage: make(map[usageKey]*usageWindow),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *CeilingTable) WithClock(clock func() time.Time) *CeilingTable {
	t.clock = clock
	return t
}

// CeilingFor derives the ceiling for a resource at a tier.
func CeilingFor(resource ResourceType, tier contracts.TrustTier) int {
	base, ok := baseCeilings[resource]
	if !ok {
		return 0
	}
	if tier < contracts.TierT0 || tier > contracts.TierT5 {
		return 0
	}
	return base * tierCeilingMultiplier[tier]
}

// Check consumes amount against the agent's ceiling for the resource.
// Usage is committed only when the request fits.
func (t *CeilingTable) Check(agentID string, resource ResourceType, tier contracts.TrustTier, amount int) CeilingCheck {
	ceiling := CeilingFor(resource, tier)
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	key := usageKey{agentID: agentID, resource: resource}
	w, ok := t.usage[key]
	if !ok || now.Sub(w.start) >= time.Hour {
		w = &usageWindow{start: now.Truncate(time.Hour)}
		t.usage[key] = w
	}

	check := CeilingCheck{
		CurrentUsage: w.used,
		Ceiling:      ceiling,
		ResetAt:      w.start.Add(time.Hour),
	}
	if w.used+amount <= ceiling {
		w.used += amount
		check.Allowed = true
		check.CurrentUsage = w.used
	}
	check.Remaining = ceiling - check.CurrentUsage
	if check.Remaining < 0 {
		check.Remaining = 0
	}
	return check
}
