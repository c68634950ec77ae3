package contracts

import "time"

// TrustSnapshot freezes the trust posture observed at decision time,
// including the components that produced it.
type TrustSnapshot struct {
	EntityID   string         `json:"entity_id"`
	Score      TrustScore     `json:"score"`
	Tier       TrustTier      `json:"tier"`
	Role       AgentRole      `json:"role"`
	Components map[string]int `json:"components,omitempty"`
}

// PolicySnapshot pins the exact policy version and checksum evaluated.
type PolicySnapshot struct {
	PolicyID string `json:"policy_id"`
	Version  int    `json:"version"`
	Checksum string `json:"checksum"`
	Policy   *Policy `json:"policy,omitempty"`
}

// EnvironmentSnapshot captures ambient facts needed to reproduce a decision.
type EnvironmentSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Timezone  string    `json:"timezone"`
	RequestID string    `json:"request_id,omitempty"`
}

// Snapshot is the immutable capture of everything the decision saw,
// keyed by id and intent id for later replay.
type Snapshot struct {
	ID          string              `json:"id"`
	IntentID    string              `json:"intent_id"`
	TenantID    string              `json:"tenant_id"`
	Intent      *Intent             `json:"intent"`
	Trust       TrustSnapshot       `json:"trust"`
	Policies    []PolicySnapshot    `json:"policies"`
	Environment EnvironmentSnapshot `json:"environment"`
	Decision    *Decision           `json:"decision,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	CapturedAt  time.Time           `json:"captured_at"`
}
