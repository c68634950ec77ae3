package kernel

import (
	"sync"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// RoleGateMatrix is the fixed 9×6 kernel gate: rows are autonomy levels
// R-L0..R-L8, columns are trust tiers T0..T5. Read-only after load; a
// deployment that needs different gating layers it in via the policy
// engine, never by editing the matrix.
var RoleGateMatrix = [contracts.RoleCount][contracts.TierCount]bool{
	// T0     T1     T2     T3     T4     T5
	{true, true, true, true, true, true},       // R-L0 observe only
	{true, true, true, true, true, true},       // R-L1 suggest
	{false, true, true, true, true, true},      // R-L2 draft
	{false, false, true, true, true, true},     // R-L3 act with review
	{false, false, true, true, true, true},     // R-L4 act with sampling
	{false, false, false, true, true, true},    // R-L5 act autonomously
	{false, false, false, false, true, true},   // R-L6 delegate
	{false, false, false, false, true, true},   // R-L7 provision
	{false, false, false, false, false, true},  // R-L8 administer
}

// CheckRoleGate validates a (role, tier) pair against the kernel matrix.
// O(1) lookup, fail-fast on out-of-range arguments.
func CheckRoleGate(role contracts.AgentRole, tier contracts.TrustTier) error {
	if role < contracts.RoleL0 || role > contracts.RoleL8 {
		return ErrInvalidRoleTier
	}
	if tier < contracts.TierT0 || tier > contracts.TierT5 {
		return ErrInvalidRoleTier
	}
	if !RoleGateMatrix[role][tier] {
		return ErrRoleGateDenied
	}
	return nil
}

// GateRule is a deployment-level role-gate rule.
type GateRule struct {
	ID    string
	Role  contracts.AgentRole
	Tier  contracts.TrustTier
	Allow bool
}

// GateException grants or revokes access for one agent, with expiration.
type GateException struct {
	ID        string
	AgentID   string
	Allow     bool
	Reason    string
	ExpiresAt time.Time
}

// GateDecision is the outcome of a policy-layer gate evaluation.
type GateDecision struct {
	Allowed bool
	Reason  string
	Source  string // "exception", "rule", "default"
}

// gateTrailEntry records one policy-layer evaluation.
type gateTrailEntry struct {
	AgentID   string
	Role      contracts.AgentRole
	Tier      contracts.TrustTier
	Decision  GateDecision
	Version   int
	Timestamp time.Time
}

// BasisPolicyEngine holds the mutable per-deployment gate rules and
// per-agent exceptions sitting above the kernel matrix.
// Precedence: exception > rule > default-allow. Every rule or exception
// change bumps the policy version.
type BasisPolicyEngine struct {
	mu         sync.RWMutex
	version    int
	rules      map[string]GateRule
	exceptions map[string][]GateException
	trail      []gateTrailEntry
}

// NewBasisPolicyEngine creates an empty policy layer at version 1.
func NewBasisPolicyEngine() *BasisPolicyEngine {
	return &BasisPolicyEngine{
		version:    1,
		rules:      make(map[string]GateRule),
		exceptions: make(map[string][]GateException),
	}
}

// Version returns the current policy version.
func (e *BasisPolicyEngine) Version() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// SetRule installs or replaces a gate rule and bumps the version.
func (e *BasisPolicyEngine) SetRule(rule GateRule) {
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.version++
	e.mu.Unlock()
}

// RemoveRule deletes a rule and bumps the version.
func (e *BasisPolicyEngine) RemoveRule(id string) {
	e.mu.Lock()
	if _, ok := e.rules[id]; ok {
		delete(e.rules, id)
		e.version++
	}
	e.mu.Unlock()
}

// AddException installs a per-agent exception and bumps the version.
func (e *BasisPolicyEngine) AddException(exc GateException) {
	e.mu.Lock()
	e.exceptions[exc.AgentID] = append(e.exceptions[exc.AgentID], exc)
	e.version++
	e.mu.Unlock()
}

// EvaluateGate applies the policy layer for an agent's (role, tier) pair.
// The evaluation is appended to the audit trail.
func (e *BasisPolicyEngine) EvaluateGate(agentID string, role contracts.AgentRole, tier contracts.TrustTier, now time.Time) GateDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	decision := GateDecision{Allowed: true, Reason: "no matching rule", Source: "default"}

	for _, rule := range e.rules {
		if rule.Role == role && rule.Tier == tier {
			decision = GateDecision{Allowed: rule.Allow, Reason: "rule " + rule.ID, Source: "rule"}
			break
		}
	}

	for _, exc := range e.exceptions[agentID] {
		if now.Before(exc.ExpiresAt) {
			decision = GateDecision{Allowed: exc.Allow, Reason: exc.Reason, Source: "exception"}
			break
		}
	}

	e.trail = append(e.trail, gateTrailEntry{
		AgentID:   agentID,
		Role:      role,
		Tier:      tier,
		Decision:  decision,
		Version:   e.version,
		Timestamp: now,
	})
	return decision
}

// TrailLen returns the number of recorded evaluations.
func (e *BasisPolicyEngine) TrailLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.trail)
}
