// Package kernel is the single source of truth for trust scores, tiers,
// role gates, context bindings, and creation facts. All writes pass
// through it; everything else reads what it derives.
package kernel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

var (
	// ErrIntegrity signals a sealed record whose hash no longer verifies.
	// Structural, not transient: the request is denied and an
	// administrator alert is expected.
	ErrIntegrity = errors.New("kernel: integrity hash mismatch")
	// ErrTenantMismatch rejects cross-tenant access unconditionally.
	ErrTenantMismatch = errors.New("kernel: cross-tenant access denied")
	// ErrContextViolation rejects an operation outside the binding hierarchy.
	ErrContextViolation = errors.New("kernel: operation outside context hierarchy")
	// ErrInvalidRoleTier rejects a (role, tier) pair outside the matrix.
	ErrInvalidRoleTier = errors.New("kernel: invalid role/tier pair")
	// ErrRoleGateDenied rejects a pair the gate matrix disallows.
	ErrRoleGateDenied = errors.New("kernel: role gate denied")
	// ErrAgentNotFound is returned for unknown agent ids.
	ErrAgentNotFound = errors.New("kernel: agent not found")
	// ErrInvalidSignal rejects a trust signal with out-of-range impact.
	ErrInvalidSignal = errors.New("kernel: signal impact out of range")
)

// Auditor receives kernel audit events. The audit sink implements it;
// recording must never block the caller.
type Auditor interface {
	Record(ctx context.Context, rec *contracts.AuditRecord)
}

// nopAuditor drops events; used when no sink is wired (tests).
type nopAuditor struct{}

func (nopAuditor) Record(context.Context, *contracts.AuditRecord) {}

// Kernel holds agent trust state and enforces the invariants that make
// the audit trail trustworthy.
type Kernel struct {
	mu     sync.RWMutex
	agents map[string]*contracts.Agent

	policy   *BasisPolicyEngine
	ceilings *CeilingTable
	stats    *Stats

	auditor  Auditor
	logger   *slog.Logger
	clock    func() time.Time
	baseline int
}

// Options configures a Kernel.
type Options struct {
	Auditor Auditor
	Logger  *slog.Logger
	// Baseline is the score a FRESH agent starts from before its
	// creation modifier. Defaults to 500.
	Baseline int
}

// New creates a kernel.
func New(opts Options) *Kernel {
	if opts.Auditor == nil {
		opts.Auditor = nopAuditor{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Baseline == 0 {
		opts.Baseline = 500
	}
	return &Kernel{
		agents:   make(map[string]*contracts.Agent),
		policy:   NewBasisPolicyEngine(),
		ceilings: NewCeilingTable(),
		stats:    &Stats{},
		auditor:  opts.Auditor,
		logger:   opts.Logger.With("component", "kernel"),
		clock:    time.Now,
		baseline: opts.Baseline,
	}
}

// WithClock overrides the clock for deterministic testing.
func (k *Kernel) WithClock(clock func() time.Time) *Kernel {
	k.clock = clock
	return k
}

// Policy returns the mutable gate policy layer.
func (k *Kernel) Policy() *BasisPolicyEngine { return k.policy }

// Ceilings returns the capability ceiling table.
func (k *Kernel) Ceilings() *CeilingTable { return k.ceilings }

// Stats returns the aggregate counters.
func (k *Kernel) Stats() *Stats { return k.stats }

// Register stores an agent. The binding and creation info must already be
// sealed; Register verifies both.
func (k *Kernel) Register(agent *contracts.Agent) error {
	if agent.Binding != nil {
		if err := VerifyContextIntegrity(agent.Binding); err != nil {
			return err
		}
	}
	if agent.Creation != nil {
		if err := VerifyCreationIntegrity(agent.Creation); err != nil {
			return err
		}
	}
	k.mu.Lock()
	k.agents[agent.ID] = agent
	k.mu.Unlock()
	return nil
}

// Agent returns a copy of the agent's current state.
func (k *Kernel) Agent(id string) (*contracts.Agent, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	a, ok := k.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

// NewAgent seals a fresh identity: context binding, creation info, and the
// initial score derived from the baseline and the creation modifier.
func (k *Kernel) NewAgent(entityType contracts.EntityType, role contracts.AgentRole, tenantID string, ctxType contracts.ContextType, creation contracts.CreationType, parentID string) (*contracts.Agent, error) {
	if role < contracts.RoleL0 || role > contracts.RoleL8 {
		return nil, ErrInvalidRoleTier
	}

	now := k.clock()
	binding, err := CreateAgentContext(tenantID, ctxType, now)
	if err != nil {
		return nil, err
	}
	info, err := SealCreationInfo(creation, parentID, now)
	if err != nil {
		return nil, err
	}

	raw := k.baseline + info.Modifier
	agent := &contracts.Agent{
		ID:       uuid.New().String(),
		Type:     entityType,
		Score:    contracts.TrustScore{Raw: raw, Effective: ClampScore(raw)},
		Role:     role,
		Binding:  binding,
		Creation: info,
	}
	agent.Tier = TierForScore(agent.Score.Effective)

	k.mu.Lock()
	k.agents[agent.ID] = agent
	k.mu.Unlock()
	return agent, nil
}

// ScoreUpdate reports the outcome of applying a trust signal.
type ScoreUpdate struct {
	EntityID  string               `json:"entity_id"`
	Raw       int                  `json:"raw"`
	Effective int                  `json:"effective"`
	Clamped   bool                 `json:"clamped"`
	Tier      contracts.TrustTier  `json:"tier"`
	Signal    contracts.SignalType `json:"signal_type"`
}

// ApplySignal applies a trust signal to the agent's raw score. The kernel
// clamps the effective value and audits every clamp that changed it, at
// warning severity when the raw value overflowed the ceiling.
func (k *Kernel) ApplySignal(ctx context.Context, signal contracts.TrustSignal) (*ScoreUpdate, error) {
	if signal.Impact < -100 || signal.Impact > 100 {
		return nil, ErrInvalidSignal
	}

	k.mu.Lock()
	agent, ok := k.agents[signal.EntityID]
	if !ok {
		k.mu.Unlock()
		return nil, ErrAgentNotFound
	}

	raw := agent.Score.Raw + signal.Impact
	effective := ClampScore(raw)
	clamped := raw != effective

	agent.Score = contracts.TrustScore{Raw: raw, Effective: effective}
	agent.Tier = TierForScore(effective)

	update := &ScoreUpdate{
		EntityID:  agent.ID,
		Raw:       raw,
		Effective: effective,
		Clamped:   clamped,
		Tier:      agent.Tier,
		Signal:    signal.Type,
	}
	tenantID := ""
	if agent.Binding != nil {
		tenantID = agent.Binding.TenantID
	}
	k.mu.Unlock()

	if clamped {
		severity := contracts.SeverityInfo
		if raw > 1000 {
			severity = contracts.SeverityWarning
		}
		k.auditor.Record(ctx, &contracts.AuditRecord{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			EventType: contracts.EventScoreClamp,
			Severity:  severity,
			Outcome:   contracts.OutcomeSuccess,
			Actor:     "kernel",
			Target:    agent.ID,
			Action:    "score.clamp",
			Reason:    "raw score clamped to ceiling",
			Metadata: map[string]any{
				"raw":       raw,
				"effective": effective,
				"signal":    string(signal.Type),
			},
			EventTime: k.clock(),
		})
		k.logger.Warn("trust score clamped",
			"entity", agent.ID, "raw", raw, "effective", effective)
	}
	return update, nil
}

// Evaluate runs the full kernel pass for a request: integrity checks,
// cross-tenant rejection, and both role-gate layers. It returns the frozen
// trust snapshot fed into enforcement. Synchronous and non-blocking.
func (k *Kernel) Evaluate(ctx context.Context, agentID, requestTenant string) (*contracts.TrustSnapshot, error) {
	k.mu.RLock()
	agent, ok := k.agents[agentID]
	if !ok {
		k.mu.RUnlock()
		return nil, ErrAgentNotFound
	}
	snapshot := contracts.TrustSnapshot{
		EntityID: agent.ID,
		Score:    agent.Score,
		Tier:     agent.Tier,
		Role:     agent.Role,
	}
	binding := agent.Binding
	creation := agent.Creation
	k.mu.RUnlock()

	if binding != nil {
		if err := VerifyContextIntegrity(binding); err != nil {
			k.auditIntegrityFailure(ctx, requestTenant, agentID, "context binding")
			return nil, err
		}
		if binding.TenantID != requestTenant {
			k.auditor.Record(ctx, &contracts.AuditRecord{
				ID:        uuid.New().String(),
				TenantID:  requestTenant,
				EventType: contracts.EventContextViolation,
				Severity:  contracts.SeverityCritical,
				Outcome:   contracts.OutcomeFailure,
				Actor:     agentID,
				Target:    requestTenant,
				Action:    "tenant.access",
				Reason:    "agent bound to a different tenant",
				EventTime: k.clock(),
			})
			return nil, ErrTenantMismatch
		}
	}
	if creation != nil {
		if err := VerifyCreationIntegrity(creation); err != nil {
			k.auditIntegrityFailure(ctx, requestTenant, agentID, "creation info")
			return nil, err
		}
	}

	// Layer 1: matrix gate, fail fast.
	if err := CheckRoleGate(snapshot.Role, snapshot.Tier); err != nil {
		k.stats.roleGateDenied(snapshot.Tier)
		return nil, err
	}
	// Layer 2: deployment policy, exception > rule > default-allow.
	decision := k.policy.EvaluateGate(agentID, snapshot.Role, snapshot.Tier, k.clock())
	k.stats.roleGateEvaluated(snapshot.Tier, decision.Allowed)
	if !decision.Allowed {
		k.auditor.Record(ctx, &contracts.AuditRecord{
			ID:        uuid.New().String(),
			TenantID:  requestTenant,
			EventType: contracts.EventRoleGate,
			Severity:  contracts.SeverityInfo,
			Outcome:   contracts.OutcomeFailure,
			Actor:     agentID,
			Action:    "rolegate.evaluate",
			Reason:    decision.Reason,
			EventTime: k.clock(),
		})
		return nil, ErrRoleGateDenied
	}

	return &snapshot, nil
}

func (k *Kernel) auditIntegrityFailure(ctx context.Context, tenantID, agentID, what string) {
	k.auditor.Record(ctx, &contracts.AuditRecord{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EventType: contracts.EventIntegrityFailure,
		Severity:  contracts.SeverityCritical,
		Outcome:   contracts.OutcomeFailure,
		Actor:     "kernel",
		Target:    agentID,
		Action:    "integrity.verify",
		Reason:    what + " hash mismatch",
		EventTime: k.clock(),
	})
	k.logger.Error("sealed record failed integrity verification",
		"entity", agentID, "record", what)
}

// MigrateAgent produces a new identity with a different creation type.
// Creation facts are sealed: the old identity is retired in place and a
// migration record links old to new.
func (k *Kernel) MigrateAgent(ctx context.Context, oldID string, creation contracts.CreationType) (*contracts.Agent, error) {
	old, err := k.Agent(oldID)
	if err != nil {
		return nil, err
	}

	now := k.clock()
	info, err := SealCreationInfo(creation, oldID, now)
	if err != nil {
		return nil, err
	}

	raw := k.baseline + info.Modifier
	migrated := &contracts.Agent{
		ID:       uuid.New().String(),
		Type:     old.Type,
		Score:    contracts.TrustScore{Raw: raw, Effective: ClampScore(raw)},
		Role:     old.Role,
		Binding:  old.Binding,
		Creation: info,
	}
	migrated.Tier = TierForScore(migrated.Score.Effective)

	k.mu.Lock()
	k.agents[migrated.ID] = migrated
	k.mu.Unlock()

	tenantID := ""
	if old.Binding != nil {
		tenantID = old.Binding.TenantID
	}
	k.auditor.Record(ctx, &contracts.AuditRecord{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EventType: contracts.EventMigration,
		Severity:  contracts.SeverityInfo,
		Outcome:   contracts.OutcomeSuccess,
		Actor:     "kernel",
		Target:    migrated.ID,
		Action:    "agent.migrate",
		Reason:    "creation type change requires a new identity",
		Metadata: map[string]any{
			"from_agent":    oldID,
			"to_agent":      migrated.ID,
			"creation_type": string(creation),
		},
		EventTime: now,
	})
	return migrated, nil
}
