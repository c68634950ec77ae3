package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TierLimits defines rate-limit ceilings for one tenant tier.
// -1 means unlimited.
type TierLimits struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

// Duration wraps time.Duration with YAML support for "5m"-style strings
// and bare integers (seconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration value: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EscalationRuleProfile is the YAML form of an escalation rule.
type EscalationRuleProfile struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type,omitempty"`
	Expression string   `yaml:"expression,omitempty"`
	TrustBelow *int     `yaml:"trust_below,omitempty"`
	ActionType string   `yaml:"action_type,omitempty"`
	PolicyID   string   `yaml:"policy_id,omitempty"`
	EscalateTo string   `yaml:"escalate_to"`
	Timeout    Duration `yaml:"timeout"`
	Priority   int      `yaml:"priority"`
	Reason     string   `yaml:"reason,omitempty"`
}

// Profile is the deployment profile: tier tables, per-tenant overrides,
// and escalation rules.
type Profile struct {
	Tiers           map[string]TierLimits   `yaml:"tiers"`
	TenantTiers     map[string]string       `yaml:"tenant_tiers,omitempty"`
	TenantOverrides map[string]TierLimits   `yaml:"tenant_overrides,omitempty"`
	EscalationRules []EscalationRuleProfile `yaml:"escalation_rules,omitempty"`
}

// DefaultProfile returns the built-in tier table used when no profile file
// is supplied.
func DefaultProfile() *Profile {
	return &Profile{
		Tiers: map[string]TierLimits{
			"free":       {PerSecond: 10, PerMinute: 100, PerHour: 1_000},
			"pro":        {PerSecond: 50, PerMinute: 1_000, PerHour: 20_000},
			"enterprise": {PerSecond: 200, PerMinute: 10_000, PerHour: 200_000},
			"unlimited":  {PerSecond: -1, PerMinute: -1, PerHour: -1},
		},
	}
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}
	if len(p.Tiers) == 0 {
		p.Tiers = DefaultProfile().Tiers
	}
	for name, tl := range p.Tiers {
		if tl.PerSecond == 0 || tl.PerMinute == 0 || tl.PerHour == 0 {
			return nil, fmt.Errorf("config: tier %q has a zero limit; use -1 for unlimited", name)
		}
	}
	return &p, nil
}
