package basis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// CELEvaluator evaluates rule conditions written as CEL expressions over
// the intent and trust snapshot. Programs compile once per condition and
// are cached.
type CELEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEvaluator builds an evaluator with intent and trust bound as
// dynamic maps.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("trust", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("basis: cel env: %w", err)
	}
	return &CELEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate runs every enabled rule of every targeting policy against the
// request. A condition that does not evaluate to a boolean is an error,
// not a silent non-match.
func (e *CELEvaluator) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResult, error) {
	if req == nil || req.Intent == nil || req.Trust == nil {
		return nil, fmt.Errorf("basis: nil evaluation request")
	}

	input := map[string]any{
		"intent": map[string]any{
			"id":        req.Intent.ID,
			"tenant_id": req.Intent.TenantID,
			"entity_id": req.Intent.EntityID,
			"type":      req.Intent.Type,
			"goal":      req.Intent.Goal,
			"context":   nonNilMap(req.Intent.Context),
			"priority":  req.Intent.Priority,
		},
		"trust": map[string]any{
			"entity_id": req.Trust.EntityID,
			"score":     req.Trust.Score.Effective,
			"raw_score": req.Trust.Score.Raw,
			"tier":      int(req.Trust.Tier),
			"role":      int(req.Trust.Role),
		},
	}

	result := &EvalResult{}
	for _, policy := range req.Policies {
		if !policy.Targets(req.Intent.Type, req.Trust.Tier) {
			continue
		}
		var policyRules []contracts.RuleResult
		for _, rule := range policy.Rules {
			if !rule.Enabled {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("basis: evaluation cancelled: %w", err)
			}
			matched, err := e.evalCondition(rule.Condition, input)
			if err != nil {
				return nil, fmt.Errorf("basis: rule %s: %w", rule.ID, err)
			}
			policyRules = append(policyRules, contracts.RuleResult{
				RuleID:   rule.ID,
				PolicyID: policy.ID,
				Matched:  matched,
				Action:   rule.Action,
				Reason:   rule.Reason,
				Priority: rule.Priority,
			})
		}
		result.Rules = append(result.Rules, policyRules...)
		result.Policies = append(result.Policies, summarizePolicy(policy, policyRules))
	}
	result.FinalAction = resolveFinal(result.Rules)
	return result, nil
}

func (e *CELEvaluator) evalCondition(condition string, input map[string]any) (bool, error) {
	prg, err := e.program(condition)
	if err != nil {
		return false, err
	}
	val, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval failed: %w", err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition is not boolean (got %T)", val.Value())
	}
	return b, nil
}

func (e *CELEvaluator) program(condition string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[condition]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program failed: %w", err)
	}

	e.mu.Lock()
	e.programs[condition] = prg
	e.mu.Unlock()
	return prg, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
