package contracts

import "time"

// Policy is a versioned, immutable policy document. A new version replaces
// the old one wholesale; rules are never mutated in place.
type Policy struct {
	ID            string       `json:"id"`
	Namespace     string       `json:"namespace"`
	Version       int          `json:"version"`
	Checksum      string       `json:"checksum"`
	Rules         []PolicyRule `json:"rules"`
	DefaultAction ControlAction `json:"default_action"`

	// Target predicates. Empty means the policy targets everything.
	IntentTypes []string    `json:"intent_types,omitempty"`
	MinTier     *TrustTier  `json:"min_tier,omitempty"`

	// RequireMinTrustLevel, when set, adds a trust-level constraint to
	// every decision evaluated under this policy.
	RequireMinTrustLevel *TrustTier `json:"require_min_trust_level,omitempty"`

	EscalationRules []EscalationRule `json:"escalation_rules,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Targets reports whether the policy applies to the given intent type and tier.
func (p *Policy) Targets(intentType string, tier TrustTier) bool {
	if p.MinTier != nil && tier < *p.MinTier {
		return false
	}
	if len(p.IntentTypes) == 0 {
		return true
	}
	for _, t := range p.IntentTypes {
		if t == intentType {
			return true
		}
	}
	return false
}

// PolicyRule is a single rule inside a policy. The condition is opaque to
// the enforcement core; the rule evaluator interprets it.
type PolicyRule struct {
	ID        string        `json:"id"`
	Enabled   bool          `json:"enabled"`
	Condition string        `json:"condition"`
	Action    ControlAction `json:"action"`
	Reason    string        `json:"reason"`
	Priority  int           `json:"priority"`
}

// RuleResult is a per-rule match result produced by the rule evaluator.
type RuleResult struct {
	RuleID   string        `json:"rule_id"`
	PolicyID string        `json:"policy_id"`
	Matched  bool          `json:"matched"`
	Action   ControlAction `json:"action"`
	Reason   string        `json:"reason"`
	Priority int           `json:"priority"`
}

// EscalationConditionType enumerates the typed escalation condition forms.
type EscalationConditionType string

const (
	EscalationCondTrustBelow EscalationConditionType = "trust_below"
	EscalationCondActionType EscalationConditionType = "action_type"
	EscalationCondPolicyMatch EscalationConditionType = "policy_match"
	EscalationCondCustom     EscalationConditionType = "custom"
)

// EscalationRule upgrades a decision to escalate when its condition matches.
// Conditions come in two forms: a typed record, or a free-form string
// expression (Expression set, Type empty) matched by the enforcement engine.
type EscalationRule struct {
	ID         string                  `json:"id"`
	Type       EscalationConditionType `json:"type,omitempty"`
	Expression string                  `json:"expression,omitempty"`

	// Typed condition parameters.
	TrustBelow *TrustTier    `json:"trust_below,omitempty"`
	ActionType ControlAction `json:"action_type,omitempty"`
	PolicyID   string        `json:"policy_id,omitempty"`

	EscalateTo string        `json:"escalate_to"`
	Timeout    time.Duration `json:"timeout"`
	Priority   int           `json:"priority"`
	Reason     string        `json:"reason"`
}
