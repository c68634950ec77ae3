// Package basis defines the rule evaluator boundary. Rule authoring is an
// external collaborator: the enforcement engine only sees per-rule match
// results through the RuleEvaluator interface. The CEL backend is the
// default implementation; a static table backend serves tests and fixtures.
package basis

import (
	"context"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// EvalRequest is the canonical structured input to a rule evaluation.
type EvalRequest struct {
	Intent   *contracts.Intent        `json:"intent"`
	Trust    *contracts.TrustSnapshot `json:"trust"`
	Policies []*contracts.Policy      `json:"policies"`
}

// EvalResult is the canonical output: one result per evaluated rule plus a
// per-policy summary. FinalAction is empty when no rule fired.
type EvalResult struct {
	Rules       []contracts.RuleResult       `json:"rules"`
	Policies    []contracts.PolicyEvaluation `json:"policies"`
	FinalAction contracts.ControlAction      `json:"final_action,omitempty"`
}

// RuleEvaluator is the stable interface the enforcement engine depends on.
// Implementations must honor the context deadline and fail with an error
// rather than guessing: the engine falls back to its configured default
// action on evaluator failure.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, req *EvalRequest) (*EvalResult, error)
}

// resolveFinal picks the evaluator's final action from matched rules:
// the highest-priority matched rule wins; ties resolve to the more
// restrictive action.
func resolveFinal(rules []contracts.RuleResult) contracts.ControlAction {
	var winner *contracts.RuleResult
	for i := range rules {
		r := &rules[i]
		if !r.Matched {
			continue
		}
		if winner == nil ||
			r.Priority > winner.Priority ||
			(r.Priority == winner.Priority && r.Action.Priority() < winner.Action.Priority()) {
			winner = r
		}
	}
	if winner == nil {
		return ""
	}
	return winner.Action
}

// summarizePolicy builds the per-policy evaluation from its rule results.
func summarizePolicy(p *contracts.Policy, rules []contracts.RuleResult) contracts.PolicyEvaluation {
	eval := contracts.PolicyEvaluation{
		PolicyID:      p.ID,
		PolicyVersion: p.Version,
		Checksum:      p.Checksum,
		Action:        p.DefaultAction,
		Reason:        "default action",
	}
	if final := resolveFinal(rules); final != "" {
		eval.Action = final
		for _, r := range rules {
			if r.Matched && r.Action == final {
				eval.Reason = r.Reason
				break
			}
		}
	}
	return eval
}
