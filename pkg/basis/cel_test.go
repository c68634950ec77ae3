package basis

import (
	"context"
	"testing"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

func testRequest(policies ...*contracts.Policy) *EvalRequest {
	return &EvalRequest{
		Intent: &contracts.Intent{
			ID:       "i1",
			TenantID: "t1",
			EntityID: "a1",
			Type:     "data.read",
			Goal:     "read dataset",
			Context:  map[string]any{"dataset": "customers"},
		},
		Trust: &contracts.TrustSnapshot{
			EntityID: "a1",
			Score:    contracts.TrustScore{Raw: 600, Effective: 600},
			Tier:     contracts.TierT3,
			Role:     contracts.RoleL5,
		},
		Policies: policies,
	}
}

func testPolicy(rules ...contracts.PolicyRule) *contracts.Policy {
	return &contracts.Policy{
		ID:            "pol-1",
		Namespace:     "default",
		Version:       3,
		Checksum:      "sha256:abc",
		Rules:         rules,
		DefaultAction: contracts.ActionAllow,
		CreatedAt:     time.Now(),
	}
}

func TestCELRuleMatch(t *testing.T) {
	e, err := NewCELEvaluator()
	if err != nil {
		t.Fatal(err)
	}

	policy := testPolicy(
		contracts.PolicyRule{ID: "r1", Enabled: true, Condition: `intent.type == "data.read"`, Action: contracts.ActionAllow, Reason: "reads are fine", Priority: 5},
		contracts.PolicyRule{ID: "r2", Enabled: true, Condition: `trust.tier < 2`, Action: contracts.ActionDeny, Reason: "low tier", Priority: 9},
	)

	result, err := e.Evaluate(context.Background(), testRequest(policy))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rules) != 2 {
		t.Fatalf("expected 2 rule results, got %d", len(result.Rules))
	}
	if !result.Rules[0].Matched {
		t.Error("r1 must match")
	}
	if result.Rules[1].Matched {
		t.Error("r2 must not match at tier T3")
	}
	if result.FinalAction != contracts.ActionAllow {
		t.Errorf("final action = %s", result.FinalAction)
	}
	if len(result.Policies) != 1 || result.Policies[0].Action != contracts.ActionAllow {
		t.Errorf("policy summary: %+v", result.Policies)
	}
}

func TestCELHighestPriorityWins(t *testing.T) {
	e, _ := NewCELEvaluator()
	policy := testPolicy(
		contracts.PolicyRule{ID: "allow", Enabled: true, Condition: `true`, Action: contracts.ActionAllow, Priority: 6},
		contracts.PolicyRule{ID: "limit", Enabled: true, Condition: `true`, Action: contracts.ActionLimit, Priority: 3},
	)
	result, err := e.Evaluate(context.Background(), testRequest(policy))
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalAction != contracts.ActionAllow {
		t.Errorf("priority 6 allow must win over priority 3 limit, got %s", result.FinalAction)
	}
}

func TestCELDisabledRulesSkipped(t *testing.T) {
	e, _ := NewCELEvaluator()
	policy := testPolicy(
		contracts.PolicyRule{ID: "off", Enabled: false, Condition: `true`, Action: contracts.ActionDeny},
	)
	result, err := e.Evaluate(context.Background(), testRequest(policy))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rules) != 0 {
		t.Errorf("disabled rules must not evaluate: %+v", result.Rules)
	}
	if result.Policies[0].Action != contracts.ActionAllow {
		t.Errorf("policy falls back to default action, got %s", result.Policies[0].Action)
	}
}

func TestCELNonTargetingPolicySkipped(t *testing.T) {
	e, _ := NewCELEvaluator()
	policy := testPolicy(contracts.PolicyRule{ID: "r", Enabled: true, Condition: `true`, Action: contracts.ActionDeny})
	policy.IntentTypes = []string{"payments.transfer"}

	result, err := e.Evaluate(context.Background(), testRequest(policy))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rules) != 0 || len(result.Policies) != 0 {
		t.Error("non-targeting policy must be skipped entirely")
	}
}

func TestCELContextAccess(t *testing.T) {
	e, _ := NewCELEvaluator()
	policy := testPolicy(contracts.PolicyRule{
		ID: "ctx", Enabled: true,
		Condition: `intent.context["dataset"] == "customers"`,
		Action:    contracts.ActionMonitor, Priority: 2,
	})
	result, err := e.Evaluate(context.Background(), testRequest(policy))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Rules[0].Matched {
		t.Error("context key access must work")
	}
}

func TestCELBadConditionErrors(t *testing.T) {
	e, _ := NewCELEvaluator()
	policy := testPolicy(contracts.PolicyRule{ID: "bad", Enabled: true, Condition: `intent.type ==`, Action: contracts.ActionDeny})
	if _, err := e.Evaluate(context.Background(), testRequest(policy)); err == nil {
		t.Error("malformed condition must surface as an error")
	}
}

func TestStaticEvaluator(t *testing.T) {
	policy := testPolicy()
	rules := []contracts.RuleResult{
		{RuleID: "r1", PolicyID: policy.ID, Matched: true, Action: contracts.ActionLimit, Priority: 3},
	}
	s := &StaticEvaluator{Result: StaticResult([]*contracts.Policy{policy}, rules)}

	result, err := s.Evaluate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalAction != contracts.ActionLimit {
		t.Errorf("final action = %s", result.FinalAction)
	}
}
