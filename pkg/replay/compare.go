package replay

import (
	"fmt"
	"math"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// DifferenceType classifies a replay divergence.
type DifferenceType string

const (
	DiffDecision        DifferenceType = "decision"
	DiffPolicyApplied   DifferenceType = "policy_applied"
	DiffPolicyMissing   DifferenceType = "policy_missing"
	DiffTrustScore      DifferenceType = "trust_score"
	DiffTrustLevel      DifferenceType = "trust_level"
	DiffTiming          DifferenceType = "timing"
	DiffEvaluationOrder DifferenceType = "evaluation_order"
	DiffConstraint      DifferenceType = "constraint"
	DiffMetadata        DifferenceType = "metadata"
)

// DiffSeverity grades a difference.
type DiffSeverity string

const (
	DiffInfo     DiffSeverity = "info"
	DiffWarning  DiffSeverity = "warning"
	DiffCritical DiffSeverity = "critical"
)

// Difference is one typed divergence between an original decision and its
// replay.
type Difference struct {
	Type     DifferenceType `json:"type"`
	Severity DiffSeverity   `json:"severity"`
	Field    string         `json:"field,omitempty"`
	Original any            `json:"original"`
	Replayed any            `json:"replayed"`
	Detail   string         `json:"detail,omitempty"`
}

// ComparatorOptions tune the comparison.
type ComparatorOptions struct {
	// TimingThresholdPct is the duration delta, in percent, past which a
	// timing difference is reported as a warning. Default 20.
	TimingThresholdPct float64
}

// Compare diffs a replayed decision against the captured original.
// A decision (action) mismatch is always critical.
func Compare(original, replayed *contracts.Decision, opts ComparatorOptions) []Difference {
	if opts.TimingThresholdPct <= 0 {
		opts.TimingThresholdPct = 20
	}
	var diffs []Difference

	if original.FinalAction != replayed.FinalAction {
		diffs = append(diffs, Difference{
			Type:     DiffDecision,
			Severity: DiffCritical,
			Field:    "final_action",
			Original: string(original.FinalAction),
			Replayed: string(replayed.FinalAction),
		})
	}
	if original.Reason != replayed.Reason {
		diffs = append(diffs, Difference{
			Type:     DiffDecision,
			Severity: DiffWarning,
			Field:    "reason",
			Original: original.Reason,
			Replayed: replayed.Reason,
		})
	}
	if original.Confidence != replayed.Confidence {
		diffs = append(diffs, Difference{
			Type:     DiffMetadata,
			Severity: DiffInfo,
			Field:    "confidence",
			Original: original.Confidence,
			Replayed: replayed.Confidence,
		})
	}

	if original.TrustScore.Effective != replayed.TrustScore.Effective {
		diffs = append(diffs, Difference{
			Type:     DiffTrustScore,
			Severity: DiffWarning,
			Original: original.TrustScore.Effective,
			Replayed: replayed.TrustScore.Effective,
		})
	}
	if original.TrustTier != replayed.TrustTier {
		diffs = append(diffs, Difference{
			Type:     DiffTrustLevel,
			Severity: DiffWarning,
			Original: original.TrustTier.String(),
			Replayed: replayed.TrustTier.String(),
		})
	}

	diffs = append(diffs, comparePolicies(original, replayed)...)
	diffs = append(diffs, compareConstraints(original, replayed)...)

	if original.DurationMs > 0 {
		deltaPct := math.Abs(replayed.DurationMs-original.DurationMs) / original.DurationMs * 100
		if deltaPct > opts.TimingThresholdPct {
			diffs = append(diffs, Difference{
				Type:     DiffTiming,
				Severity: DiffWarning,
				Original: original.DurationMs,
				Replayed: replayed.DurationMs,
				Detail:   fmt.Sprintf("duration delta %.1f%% exceeds %.0f%%", deltaPct, opts.TimingThresholdPct),
			})
		}
	}

	return diffs
}

func comparePolicies(original, replayed *contracts.Decision) []Difference {
	var diffs []Difference
	origByID := make(map[string]contracts.PolicyEvaluation)
	for _, pe := range original.PoliciesEvaluated {
		origByID[pe.PolicyID] = pe
	}
	replByID := make(map[string]contracts.PolicyEvaluation)
	for _, pe := range replayed.PoliciesEvaluated {
		replByID[pe.PolicyID] = pe
	}

	for id, orig := range origByID {
		repl, ok := replByID[id]
		if !ok {
			diffs = append(diffs, Difference{
				Type:     DiffPolicyMissing,
				Severity: DiffCritical,
				Field:    id,
				Original: orig.Action,
				Replayed: nil,
				Detail:   "policy evaluated originally but not in replay",
			})
			continue
		}
		if orig.Action != repl.Action || orig.PolicyVersion != repl.PolicyVersion {
			diffs = append(diffs, Difference{
				Type:     DiffPolicyApplied,
				Severity: DiffWarning,
				Field:    id,
				Original: fmt.Sprintf("%s@v%d", orig.Action, orig.PolicyVersion),
				Replayed: fmt.Sprintf("%s@v%d", repl.Action, repl.PolicyVersion),
			})
		}
	}
	for id, repl := range replByID {
		if _, ok := origByID[id]; !ok {
			diffs = append(diffs, Difference{
				Type:     DiffPolicyApplied,
				Severity: DiffWarning,
				Field:    id,
				Original: nil,
				Replayed: repl.Action,
				Detail:   "policy evaluated in replay but not originally",
			})
		}
	}
	return diffs
}

func compareConstraints(original, replayed *contracts.Decision) []Difference {
	var diffs []Difference
	if len(original.Constraints) != len(replayed.Constraints) {
		diffs = append(diffs, Difference{
			Type:     DiffConstraint,
			Severity: DiffWarning,
			Field:    "count",
			Original: len(original.Constraints),
			Replayed: len(replayed.Constraints),
		})
		return diffs
	}
	for i := range original.Constraints {
		oc, rc := original.Constraints[i], replayed.Constraints[i]
		if oc.ConstraintID != rc.ConstraintID {
			diffs = append(diffs, Difference{
				Type:     DiffEvaluationOrder,
				Severity: DiffInfo,
				Field:    fmt.Sprintf("constraints[%d]", i),
				Original: oc.ConstraintID,
				Replayed: rc.ConstraintID,
			})
			continue
		}
		if oc.Passed != rc.Passed {
			diffs = append(diffs, Difference{
				Type:     DiffConstraint,
				Severity: DiffCritical,
				Field:    oc.ConstraintID,
				Original: oc.Passed,
				Replayed: rc.Passed,
			})
		}
	}
	return diffs
}
