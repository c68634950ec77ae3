package enforce

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

var allActions = []contracts.ControlAction{
	contracts.ActionDeny,
	contracts.ActionTerminate,
	contracts.ActionEscalate,
	contracts.ActionLimit,
	contracts.ActionMonitor,
	contracts.ActionAllow,
}

// Property: for any non-empty set of failed constraints, the resolved
// action is the minimum-priority action of the set under
// deny < terminate < escalate < limit < monitor < allow.
func TestActionPriorityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("most restrictive failed action wins", prop.ForAll(
		func(indices []int) bool {
			if len(indices) == 0 {
				return true
			}
			var constraints []contracts.ConstraintResult
			minPriority := 100
			for _, idx := range indices {
				action := allActions[idx%len(allActions)]
				constraints = append(constraints, contracts.ConstraintResult{
					ConstraintID: "c",
					Kind:         contracts.ConstraintPolicyRule,
					Passed:       false,
					Action:       action,
				})
				if p := action.Priority(); p < minPriority {
					minPriority = p
				}
			}
			resolved, _ := resolveAction(constraints, nil, nil)
			return resolved.Priority() == minPriority
		},
		gen.SliceOfN(6, gen.IntRange(0, 100)),
	))

	properties.Property("passed constraints never restrict", prop.ForAll(
		func(idx int) bool {
			constraints := []contracts.ConstraintResult{{
				ConstraintID: "c",
				Kind:         contracts.ConstraintPolicyRule,
				Passed:       true,
				Action:       allActions[idx%len(allActions)],
			}}
			resolved, _ := resolveAction(constraints, nil, nil)
			return resolved == contracts.ActionAllow
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestMostRestrictiveTable(t *testing.T) {
	cases := []struct {
		in   []contracts.ControlAction
		want contracts.ControlAction
	}{
		{[]contracts.ControlAction{contracts.ActionAllow, contracts.ActionDeny}, contracts.ActionDeny},
		{[]contracts.ControlAction{contracts.ActionMonitor, contracts.ActionLimit}, contracts.ActionLimit},
		{[]contracts.ControlAction{contracts.ActionEscalate, contracts.ActionTerminate}, contracts.ActionTerminate},
		{[]contracts.ControlAction{contracts.ActionAllow}, contracts.ActionAllow},
		{nil, contracts.ActionAllow},
	}
	for _, c := range cases {
		if got := contracts.MostRestrictive(c.in); got != c.want {
			t.Errorf("MostRestrictive(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}
