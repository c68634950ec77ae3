// Package escalation tracks the lifecycle of decisions deferred to a human
// or external approver. An escalation starts pending and resolves to
// exactly one of approved, rejected, timeout, or cancelled; every
// transition writes an audit record.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

var (
	// ErrNotFound is returned for unknown escalation ids.
	ErrNotFound = errors.New("escalation: not found")
	// ErrNotPending rejects a transition on an already-resolved escalation.
	ErrNotPending = errors.New("escalation: not pending")
)

// Auditor receives escalation transition events.
type Auditor interface {
	Record(ctx context.Context, rec *contracts.AuditRecord)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, *contracts.AuditRecord) {}

// Manager owns pending escalation records and their transitions.
type Manager struct {
	mu      sync.Mutex
	records map[string]*contracts.EscalationRecord
	tenants map[string]string // escalation id → tenant

	auditor Auditor
	clock   func() time.Time
}

// NewManager creates an escalation manager.
func NewManager(auditor Auditor) *Manager {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &Manager{
		records: make(map[string]*contracts.EscalationRecord),
		tenants: make(map[string]string),
		auditor: auditor,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Create mints a pending escalation from a fired rule.
func (m *Manager) Create(ctx context.Context, tenantID string, intentID string, rule contracts.EscalationRule) *contracts.EscalationRecord {
	timeout := rule.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	rec := &contracts.EscalationRecord{
		ID:         uuid.New().String(),
		IntentID:   intentID,
		RuleID:     rule.ID,
		Reason:     rule.Reason,
		EscalateTo: rule.EscalateTo,
		Timeout:    timeout,
		Status:     contracts.EscalationPending,
		Priority:   rule.Priority,
		CreatedAt:  m.clock(),
	}

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.tenants[rec.ID] = tenantID
	m.mu.Unlock()

	m.audit(ctx, tenantID, rec, "escalation.create", contracts.OutcomeSuccess)
	return rec
}

// Get returns a copy of the record.
func (m *Manager) Get(id string) (*contracts.EscalationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Approve resolves a pending escalation as approved.
func (m *Manager) Approve(ctx context.Context, id, approver string) (*contracts.EscalationRecord, error) {
	return m.transition(ctx, id, approver, contracts.EscalationApproved)
}

// Reject resolves a pending escalation as rejected.
func (m *Manager) Reject(ctx context.Context, id, rejecter string) (*contracts.EscalationRecord, error) {
	return m.transition(ctx, id, rejecter, contracts.EscalationRejected)
}

// Cancel resolves a pending escalation as cancelled.
func (m *Manager) Cancel(ctx context.Context, id, canceller string) (*contracts.EscalationRecord, error) {
	return m.transition(ctx, id, canceller, contracts.EscalationCancelled)
}

func (m *Manager) transition(ctx context.Context, id, actor string, next contracts.EscalationStatus) (*contracts.EscalationRecord, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if rec.Status != contracts.EscalationPending {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, rec.Status)
	}

	now := m.clock()
	// An expired escalation times out regardless of the requested transition.
	if now.After(rec.CreatedAt.Add(rec.Timeout)) {
		next = contracts.EscalationTimeout
		actor = "system"
	}

	rec.Status = next
	rec.ResolvedAt = &now
	rec.ResolvedBy = actor
	tenant := m.tenants[id]
	cp := *rec
	m.mu.Unlock()

	m.audit(ctx, tenant, &cp, "escalation."+string(next), contracts.OutcomeSuccess)
	return &cp, nil
}

// CheckTimeouts resolves every pending escalation whose deadline has
// passed. Returns the timed-out records.
func (m *Manager) CheckTimeouts(ctx context.Context) []*contracts.EscalationRecord {
	now := m.clock()
	var expired []*contracts.EscalationRecord

	m.mu.Lock()
	for _, rec := range m.records {
		if rec.Status != contracts.EscalationPending {
			continue
		}
		if now.After(rec.CreatedAt.Add(rec.Timeout)) {
			rec.Status = contracts.EscalationTimeout
			t := now
			rec.ResolvedAt = &t
			rec.ResolvedBy = "system"
			cp := *rec
			expired = append(expired, &cp)
		}
	}
	tenantOf := make(map[string]string, len(expired))
	for _, rec := range expired {
		tenantOf[rec.ID] = m.tenants[rec.ID]
	}
	m.mu.Unlock()

	for _, rec := range expired {
		m.audit(ctx, tenantOf[rec.ID], rec, "escalation.timeout", contracts.OutcomePartial)
	}
	return expired
}

// PendingCount returns the number of pending escalations.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.Status == contracts.EscalationPending {
			n++
		}
	}
	return n
}

// Run drives CheckTimeouts on an interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckTimeouts(ctx)
		}
	}
}

func (m *Manager) audit(ctx context.Context, tenantID string, rec *contracts.EscalationRecord, action string, outcome contracts.AuditOutcome) {
	m.auditor.Record(ctx, &contracts.AuditRecord{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EventType: contracts.EventEscalation,
		Severity:  contracts.SeverityInfo,
		Outcome:   outcome,
		Actor:     rec.ResolvedBy,
		Target:    rec.IntentID,
		Action:    action,
		Reason:    rec.Reason,
		Metadata: map[string]any{
			"escalation_id": rec.ID,
			"rule_id":       rec.RuleID,
			"status":        string(rec.Status),
		},
		EventTime: m.clock(),
	})
}
