package contracts

import "time"

// EntityType classifies the requesting principal.
type EntityType string

const (
	EntityAgent   EntityType = "agent"
	EntityUser    EntityType = "user"
	EntityService EntityType = "service"
	EntitySystem  EntityType = "system"
)

// TrustTier is the banded trust posture derived from the effective score.
type TrustTier int

const (
	TierT0 TrustTier = iota
	TierT1
	TierT2
	TierT3
	TierT4
	TierT5
)

func (t TrustTier) String() string {
	switch t {
	case TierT0:
		return "T0"
	case TierT1:
		return "T1"
	case TierT2:
		return "T2"
	case TierT3:
		return "T3"
	case TierT4:
		return "T4"
	case TierT5:
		return "T5"
	}
	return "T?"
}

// AgentRole is the autonomy level R-L0..R-L8.
type AgentRole int

const (
	RoleL0 AgentRole = iota
	RoleL1
	RoleL2
	RoleL3
	RoleL4
	RoleL5
	RoleL6
	RoleL7
	RoleL8

	// RoleCount is the number of autonomy levels.
	RoleCount = 9
	// TierCount is the number of trust tiers.
	TierCount = 6
)

func (r AgentRole) String() string {
	if r < RoleL0 || r > RoleL8 {
		return "R-L?"
	}
	return "R-L" + string(rune('0'+int(r)))
}

// TrustScore carries both the raw (unbounded, analytics) and effective
// (kernel-clamped, policy input) values. The effective value is always
// within [0, 1000].
type TrustScore struct {
	Raw       int `json:"raw"`
	Effective int `json:"effective"`
}

// CreationType records the origin of an agent identity. Baked in at
// instantiation; a change requires a new identity plus a migration record.
type CreationType string

const (
	CreationFresh    CreationType = "FRESH"
	CreationCloned   CreationType = "CLONED"
	CreationEvolved  CreationType = "EVOLVED"
	CreationPromoted CreationType = "PROMOTED"
	CreationImported CreationType = "IMPORTED"
)

// CreationInfo is sealed when the agent is instantiated.
type CreationInfo struct {
	Type          CreationType `json:"type"`
	ParentID      string       `json:"parent_id,omitempty"`
	Modifier      int          `json:"modifier"`
	CreatedAt     time.Time    `json:"created_at"`
	IntegrityHash string       `json:"integrity_hash"`
}

// ContextType scopes the binding under which an agent operates.
// Hierarchy: LOCAL < ENTERPRISE < SOVEREIGN.
type ContextType int

const (
	ContextLocal ContextType = iota
	ContextEnterprise
	ContextSovereign
)

func (c ContextType) String() string {
	switch c {
	case ContextLocal:
		return "LOCAL"
	case ContextEnterprise:
		return "ENTERPRISE"
	case ContextSovereign:
		return "SOVEREIGN"
	}
	return "UNKNOWN"
}

// ContextBinding is the sealed scope an agent operates under for its entire
// lifetime. Frozen after creation; the integrity hash is verified on read.
type ContextBinding struct {
	Type          ContextType `json:"type"`
	TenantID      string      `json:"tenant_id"`
	MaxTier       TrustTier   `json:"max_tier"`
	IntegrityHash string      `json:"integrity_hash"`
	SealedAt      time.Time   `json:"sealed_at"`
}

// Agent is the requesting entity together with its trust posture.
// The binding and creation info are created-once, sealed.
type Agent struct {
	ID       string          `json:"id"`
	Type     EntityType      `json:"type"`
	Score    TrustScore      `json:"score"`
	Tier     TrustTier       `json:"tier"`
	Role     AgentRole       `json:"role"`
	Binding  *ContextBinding `json:"binding,omitempty"`
	Creation *CreationInfo   `json:"creation,omitempty"`
}
