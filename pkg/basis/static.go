package basis

import (
	"context"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// StaticEvaluator returns a fixed result set, or a fixed error.
// Used by tests and by replay fixtures where the original rule results are
// already known.
type StaticEvaluator struct {
	Result *EvalResult
	Err    error
}

// Evaluate returns the configured result.
func (s *StaticEvaluator) Evaluate(_ context.Context, _ *EvalRequest) (*EvalResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &EvalResult{}, nil
	}
	return s.Result, nil
}

// StaticResult builds an EvalResult from rule results, deriving the final
// action and per-policy summaries the same way the CEL backend does.
func StaticResult(policies []*contracts.Policy, rules []contracts.RuleResult) *EvalResult {
	result := &EvalResult{Rules: rules}
	for _, p := range policies {
		var policyRules []contracts.RuleResult
		for _, r := range rules {
			if r.PolicyID == p.ID {
				policyRules = append(policyRules, r)
			}
		}
		result.Policies = append(result.Policies, summarizePolicy(p, policyRules))
	}
	result.FinalAction = resolveFinal(rules)
	return result
}
