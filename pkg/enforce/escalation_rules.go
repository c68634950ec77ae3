package enforce

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// trustLevelExpr parses comparison expressions like "trust_level <= 2".
var trustLevelExpr = regexp.MustCompile(`trust_level\s*(<=|>=|==|<|>)\s*(\d+)`)

// escalationMatches evaluates one escalation rule against the resolved
// base action and the trust posture. Typed conditions are preferred;
// free-form string expressions keep their substring semantics over the
// documented vocabulary (trust_level comparisons, deny, limit, monitor,
// high_risk, sensitive).
func escalationMatches(rule contracts.EscalationRule, action contracts.ControlAction, ec *Context) bool {
	switch rule.Type {
	case contracts.EscalationCondTrustBelow:
		return rule.TrustBelow != nil && ec.Trust.Tier < *rule.TrustBelow
	case contracts.EscalationCondActionType:
		return rule.ActionType != "" && action == rule.ActionType
	case contracts.EscalationCondPolicyMatch:
		if rule.PolicyID == "" {
			return false
		}
		for _, p := range ec.Policies {
			if p.ID == rule.PolicyID {
				return true
			}
		}
		return false
	case contracts.EscalationCondCustom, "":
		return matchStringCondition(rule.Expression, action, ec)
	}
	return false
}

// matchStringCondition implements the free-form expression contract.
func matchStringCondition(expr string, action contracts.ControlAction, ec *Context) bool {
	if expr == "" {
		return false
	}
	expr = strings.ToLower(expr)

	if m := trustLevelExpr.FindStringSubmatch(expr); m != nil {
		threshold, err := strconv.Atoi(m[2])
		if err != nil {
			return false
		}
		tier := int(ec.Trust.Tier)
		switch m[1] {
		case "<=":
			return tier <= threshold
		case ">=":
			return tier >= threshold
		case "==":
			return tier == threshold
		case "<":
			return tier < threshold
		case ">":
			return tier > threshold
		}
		return false
	}

	for _, actionToken := range []contracts.ControlAction{
		contracts.ActionDeny, contracts.ActionLimit, contracts.ActionMonitor,
	} {
		if strings.Contains(expr, string(actionToken)) {
			return action == actionToken
		}
	}

	for _, flag := range []string{"high_risk", "sensitive"} {
		if !strings.Contains(expr, flag) {
			continue
		}
		if v, ok := ec.Intent.Context[flag]; ok {
			if b, ok := v.(bool); ok && b {
				return true
			}
			if s, ok := v.(string); ok && s != "" && s != "false" {
				return true
			}
		}
		if strings.Contains(strings.ToLower(ec.Intent.Goal), flag) {
			return true
		}
		return false
	}

	return false
}
