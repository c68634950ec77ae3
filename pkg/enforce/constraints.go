package enforce

import (
	"fmt"
	"time"

	"github.com/voriongit/vorion/core/pkg/basis"
	"github.com/voriongit/vorion/core/pkg/contracts"
)

// DefaultConstraintTimeout bounds a single constraint evaluation.
const DefaultConstraintTimeout = 100 * time.Millisecond

// evaluateConstraint times a constraint body and converts an overrun into
// a failed constraint with a timeout reason.
func evaluateConstraint(id string, kind contracts.ConstraintKind, timeout time.Duration, clock func() time.Time, body func() (bool, contracts.ControlAction, string, map[string]any)) contracts.ConstraintResult {
	start := clock()
	passed, action, reason, details := body()
	elapsed := clock().Sub(start)

	result := contracts.ConstraintResult{
		ConstraintID: id,
		Kind:         kind,
		Passed:       passed,
		Action:       action,
		Reason:       reason,
		Details:      details,
		DurationMs:   float64(elapsed.Microseconds()) / 1000.0,
	}
	if timeout > 0 && elapsed > timeout {
		result.Passed = false
		result.Action = contracts.ActionDeny
		result.Reason = fmt.Sprintf("constraint evaluation exceeded %s: timeout", timeout)
	}
	return result
}

// buildConstraints assembles the constraint list for a decision:
// trust-level constraints from policies that require a minimum tier, one
// policy-evaluation constraint per evaluated policy, and one constraint
// per matched rule.
func buildConstraints(ec *Context, eval *basis.EvalResult, timeout time.Duration, clock func() time.Time) []contracts.ConstraintResult {
	var constraints []contracts.ConstraintResult

	for _, policy := range ec.Policies {
		if policy.RequireMinTrustLevel == nil {
			continue
		}
		required := *policy.RequireMinTrustLevel
		constraints = append(constraints, evaluateConstraint(
			"trust-level:"+policy.ID, contracts.ConstraintTrustLevel, timeout, clock,
			func() (bool, contracts.ControlAction, string, map[string]any) {
				if ec.Trust.Tier >= required {
					return true, contracts.ActionAllow,
						fmt.Sprintf("trust level %s meets required %s", ec.Trust.Tier, required),
						nil
				}
				return false, contracts.ActionDeny,
					fmt.Sprintf("trust level %s below required %s", ec.Trust.Tier, required),
					map[string]any{"required_tier": int(required), "actual_tier": int(ec.Trust.Tier)}
			}))
	}

	// One constraint per policy-evaluator result, when one was supplied.
	for _, pe := range ec.PolicyEvaluations {
		pe := pe
		constraints = append(constraints, evaluateConstraint(
			"policy:"+pe.PolicyID, contracts.ConstraintPolicyRule, timeout, clock,
			func() (bool, contracts.ControlAction, string, map[string]any) {
				passed := pe.Action == contracts.ActionAllow
				return passed, pe.Action, pe.Reason, map[string]any{
					"policy_version": pe.PolicyVersion,
					"checksum":       pe.Checksum,
				}
			}))
	}

	if eval != nil {
		for _, rule := range eval.Rules {
			if !rule.Matched {
				continue
			}
			rule := rule
			constraints = append(constraints, evaluateConstraint(
				"rule:"+rule.RuleID, contracts.ConstraintPolicyRule, timeout, clock,
				func() (bool, contracts.ControlAction, string, map[string]any) {
					passed := rule.Action == contracts.ActionAllow
					return passed, rule.Action, rule.Reason, map[string]any{
						"policy_id": rule.PolicyID,
						"priority":  rule.Priority,
					}
				}))
		}
	}

	return constraints
}

// resolveAction applies the fixed restrictiveness ordering to the failed
// constraints; when everything passed, the rule evaluator's final action
// (or the policy defaults) decide.
func resolveAction(constraints []contracts.ConstraintResult, eval *basis.EvalResult, policies []*contracts.Policy) (contracts.ControlAction, string) {
	var failed []contracts.ConstraintResult
	for _, c := range constraints {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		actions := make([]contracts.ControlAction, len(failed))
		for i, c := range failed {
			actions[i] = c.Action
		}
		winner := contracts.MostRestrictive(actions)
		for _, c := range failed {
			if c.Action == winner {
				return winner, c.Reason
			}
		}
		return winner, failed[0].Reason
	}

	if eval != nil && eval.FinalAction != "" {
		reason := "rule evaluation"
		for _, r := range eval.Rules {
			if r.Matched && r.Action == eval.FinalAction {
				reason = r.Reason
				break
			}
		}
		return eval.FinalAction, reason
	}

	// No rule fired: a deny default on any targeted policy wins.
	for _, p := range policies {
		if p.DefaultAction == contracts.ActionDeny {
			return contracts.ActionDeny, "no rule matched and policy default is deny"
		}
	}
	return contracts.ActionAllow, "no constraints failed"
}

// computeConfidence derives the decision confidence from the constraint
// set and total evaluation time.
func computeConfidence(constraints []contracts.ConstraintResult, totalDuration time.Duration) float64 {
	confidence := 1.0
	if len(constraints) == 0 {
		confidence *= 0.5
	} else {
		passed, failed := 0, 0
		for _, c := range constraints {
			if c.Passed {
				passed++
			} else {
				failed++
			}
		}
		if passed > 0 && failed > 0 {
			confidence *= 0.8
		}
	}
	if totalDuration > time.Second {
		confidence *= 0.9
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
