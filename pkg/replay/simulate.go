package replay

import (
	"context"
	"sync"

	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/enforce"
)

// DefaultSimulationConcurrency bounds bulk simulation fan-out.
const DefaultSimulationConcurrency = 10

// SimulationRequest is one synthetic intent plus its simulation context.
type SimulationRequest struct {
	Intent   *contracts.Intent
	Trust    *contracts.TrustSnapshot
	Policies []*contracts.Policy
}

// SimulationResult is the structured outcome for one synthetic intent.
type SimulationResult struct {
	Intent   *contracts.Intent   `json:"intent"`
	Decision *contracts.Decision `json:"decision,omitempty"`
	Err      string              `json:"error,omitempty"`
}

// PolicyImpact aggregates what one policy did across a bulk run.
type PolicyImpact struct {
	PolicyID  string         `json:"policy_id"`
	Evaluated int            `json:"evaluated"`
	Matched   int            `json:"matched"`
	MatchRate float64        `json:"match_rate"`
	Actions   map[string]int `json:"actions"`
}

// BulkResult aggregates a batch of simulations for policy-impact analysis.
type BulkResult struct {
	Results         []SimulationResult      `json:"results"`
	ActionBreakdown map[string]int          `json:"action_breakdown"`
	PerPolicy       map[string]*PolicyImpact `json:"per_policy"`
	Errors          int                     `json:"errors"`
}

// Simulator evaluates synthetic intents without persistence: the decider
// it wraps must have no cache and a no-op recorder.
type Simulator struct {
	decider Decider
}

// NewSimulator creates a simulator.
func NewSimulator(decider Decider) *Simulator {
	return &Simulator{decider: decider}
}

// Simulate evaluates one synthetic intent.
func (s *Simulator) Simulate(ctx context.Context, req SimulationRequest) SimulationResult {
	result := SimulationResult{Intent: req.Intent}
	decision, err := s.decider.Decide(ctx, &enforce.Context{
		Intent:   req.Intent,
		Trust:    req.Trust,
		Policies: req.Policies,
	})
	if err != nil {
		result.Err = err.Error()
		return result
	}
	result.Decision = decision
	return result
}

// BulkSimulate runs a batch with bounded concurrency and aggregates
// per-policy match rates and the action breakdown.
func (s *Simulator) BulkSimulate(ctx context.Context, reqs []SimulationRequest, concurrency int) *BulkResult {
	if concurrency <= 0 {
		concurrency = DefaultSimulationConcurrency
	}

	results := make([]SimulationResult, len(reqs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req SimulationRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.Simulate(ctx, req)
		}(i, req)
	}
	wg.Wait()

	bulk := &BulkResult{
		Results:         results,
		ActionBreakdown: make(map[string]int),
		PerPolicy:       make(map[string]*PolicyImpact),
	}
	for _, res := range results {
		if res.Err != "" {
			bulk.Errors++
			continue
		}
		bulk.ActionBreakdown[string(res.Decision.FinalAction)]++
		for _, pe := range res.Decision.PoliciesEvaluated {
			impact, ok := bulk.PerPolicy[pe.PolicyID]
			if !ok {
				impact = &PolicyImpact{PolicyID: pe.PolicyID, Actions: make(map[string]int)}
				bulk.PerPolicy[pe.PolicyID] = impact
			}
			impact.Evaluated++
			impact.Actions[string(pe.Action)]++
			if pe.Action != contracts.ActionAllow || pe.Reason != "default action" {
				impact.Matched++
			}
		}
	}
	for _, impact := range bulk.PerPolicy {
		if impact.Evaluated > 0 {
			impact.MatchRate = float64(impact.Matched) / float64(impact.Evaluated)
		}
	}
	return bulk
}
