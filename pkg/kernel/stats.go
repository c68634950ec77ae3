package kernel

import (
	"sync"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// DashboardStats is the aggregate counter surface exposed for the trust
// engine dashboard.
type DashboardStats struct {
	RoleGates RoleGateStats `json:"role_gates"`
	Ceiling   CeilingStats  `json:"ceiling"`
}

// RoleGateStats aggregates role-gate evaluations.
type RoleGateStats struct {
	Total   int            `json:"total"`
	Allowed int            `json:"allowed"`
	Denied  int            `json:"denied"`
	ByTier  map[string]int `json:"by_tier"`
}

// CeilingStats aggregates capability ceiling checks.
type CeilingStats struct {
	TotalChecks int `json:"total_checks"`
	Exceeded    int `json:"exceeded"`
}

// Stats accumulates kernel counters.
type Stats struct {
	mu        sync.Mutex
	roleGates RoleGateStats
	ceiling   CeilingStats
}

func (s *Stats) roleGateEvaluated(tier contracts.TrustTier, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleGates.ByTier == nil {
		s.roleGates.ByTier = make(map[string]int)
	}
	s.roleGates.Total++
	s.roleGates.ByTier[tier.String()]++
	if allowed {
		s.roleGates.Allowed++
	} else {
		s.roleGates.Denied++
	}
}

func (s *Stats) roleGateDenied(tier contracts.TrustTier) {
	s.roleGateEvaluated(tier, false)
}

// RecordCeilingCheck counts a ceiling check and whether it exceeded.
func (s *Stats) RecordCeilingCheck(exceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceiling.TotalChecks++
	if exceeded {
		s.ceiling.Exceeded++
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() DashboardStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTier := make(map[string]int, len(s.roleGates.ByTier))
	for k, v := range s.roleGates.ByTier {
		byTier[k] = v
	}
	out := DashboardStats{
		RoleGates: s.roleGates,
		Ceiling:   s.ceiling,
	}
	out.RoleGates.ByTier = byTier
	return out
}
