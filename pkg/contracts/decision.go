package contracts

import "time"

// ConstraintKind classifies a constraint evaluation.
type ConstraintKind string

const (
	ConstraintTrustLevel     ConstraintKind = "trust_level"
	ConstraintPolicyRule     ConstraintKind = "policy_rule"
	ConstraintRateLimit      ConstraintKind = "rate_limit"
	ConstraintTimeWindow     ConstraintKind = "time_window"
	ConstraintGeoRestriction ConstraintKind = "geo_restriction"
	ConstraintCustom         ConstraintKind = "custom"
)

// ConstraintResult is a single constraint outcome inside a decision.
type ConstraintResult struct {
	ConstraintID string         `json:"constraint_id"`
	Kind         ConstraintKind `json:"kind"`
	Passed       bool           `json:"passed"`
	Action       ControlAction  `json:"action"`
	Reason       string         `json:"reason"`
	Details      map[string]any `json:"details,omitempty"`
	DurationMs   float64        `json:"duration_ms"`
}

// EscalationStatus is the lifecycle state of an escalation record.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationApproved  EscalationStatus = "approved"
	EscalationRejected  EscalationStatus = "rejected"
	EscalationTimeout   EscalationStatus = "timeout"
	EscalationCancelled EscalationStatus = "cancelled"
)

// EscalationRecord defers a decision to a human or external approver.
type EscalationRecord struct {
	ID         string           `json:"id"`
	IntentID   string           `json:"intent_id"`
	RuleID     string           `json:"rule_id"`
	Reason     string           `json:"reason"`
	EscalateTo string           `json:"escalate_to"`
	Timeout    time.Duration    `json:"timeout"`
	Status     EscalationStatus `json:"status"`
	Priority   int              `json:"priority"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy string           `json:"resolved_by,omitempty"`
}

// PolicyEvaluation summarizes a policy-level evaluation fed into the
// enforcement engine alongside per-rule results.
type PolicyEvaluation struct {
	PolicyID      string        `json:"policy_id"`
	PolicyVersion int           `json:"policy_version"`
	Checksum      string        `json:"checksum"`
	Action        ControlAction `json:"action"`
	Reason        string        `json:"reason"`
}

// Decision is the definitive output of the enforcement engine.
// Immutable once produced; the only permitted mutation is an escalation
// state transition, and each transition writes an audit record.
type Decision struct {
	ID          string        `json:"id"`
	IntentID    string        `json:"intent_id"`
	TenantID    string        `json:"tenant_id"`
	FinalAction ControlAction `json:"final_action"`
	Reason      string        `json:"reason"`
	Confidence  float64       `json:"confidence"`

	Constraints       []ConstraintResult `json:"constraints"`
	PoliciesEvaluated []PolicyEvaluation `json:"policies_evaluated,omitempty"`

	TrustScore TrustScore `json:"trust_score"`
	TrustTier  TrustTier  `json:"trust_tier"`

	DecidedAt  time.Time         `json:"decided_at"`
	DurationMs float64           `json:"duration_ms"`
	Cached     bool              `json:"cached"`
	Escalation *EscalationRecord `json:"escalation,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}
