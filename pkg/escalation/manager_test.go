package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

type recordingAuditor struct {
	mu   sync.Mutex
	recs []*contracts.AuditRecord
}

func (r *recordingAuditor) Record(_ context.Context, rec *contracts.AuditRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func (r *recordingAuditor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

func newTestManager(t *testing.T) (*Manager, *recordingAuditor, *time.Time) {
	t.Helper()
	aud := &recordingAuditor{}
	now := time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)
	m := NewManager(aud).WithClock(func() time.Time { return now })
	return m, aud, &now
}

func testRule() contracts.EscalationRule {
	return contracts.EscalationRule{
		ID:         "esc-1",
		Type:       contracts.EscalationCondActionType,
		ActionType: contracts.ActionLimit,
		EscalateTo: "ops-team",
		Timeout:    10 * time.Minute,
		Priority:   3,
		Reason:     "limits require sign-off",
	}
}

func TestCreatePending(t *testing.T) {
	m, aud, _ := newTestManager(t)

	rec := m.Create(context.Background(), "t1", "i1", testRule())
	if rec.Status != contracts.EscalationPending {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.Timeout != 10*time.Minute || rec.EscalateTo != "ops-team" {
		t.Errorf("rule parameters not carried: %+v", rec)
	}
	if m.PendingCount() != 1 {
		t.Errorf("pending = %d", m.PendingCount())
	}
	if aud.count() != 1 {
		t.Errorf("creation must be audited, got %d records", aud.count())
	}
}

func TestApproveTransition(t *testing.T) {
	m, aud, _ := newTestManager(t)
	rec := m.Create(context.Background(), "t1", "i1", testRule())

	resolved, err := m.Approve(context.Background(), rec.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != contracts.EscalationApproved || resolved.ResolvedBy != "alice" {
		t.Errorf("resolved: %+v", resolved)
	}
	if aud.count() != 2 {
		t.Errorf("transition must write an audit record, got %d", aud.count())
	}

	// Resolved escalations accept no further transitions.
	if _, err := m.Reject(context.Background(), rec.ID, "bob"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestRejectAndCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	r1 := m.Create(ctx, "t1", "i1", testRule())
	r2 := m.Create(ctx, "t1", "i2", testRule())

	if rec, err := m.Reject(ctx, r1.ID, "bob"); err != nil || rec.Status != contracts.EscalationRejected {
		t.Errorf("reject: %v %+v", err, rec)
	}
	if rec, err := m.Cancel(ctx, r2.ID, "carol"); err != nil || rec.Status != contracts.EscalationCancelled {
		t.Errorf("cancel: %v %+v", err, rec)
	}
	if m.PendingCount() != 0 {
		t.Errorf("pending = %d", m.PendingCount())
	}
}

func TestTimeoutSweep(t *testing.T) {
	m, _, now := newTestManager(t)
	ctx := context.Background()

	rec := m.Create(ctx, "t1", "i1", testRule())
	*now = now.Add(11 * time.Minute)

	expired := m.CheckTimeouts(ctx)
	if len(expired) != 1 || expired[0].ID != rec.ID {
		t.Fatalf("expired: %+v", expired)
	}
	if expired[0].Status != contracts.EscalationTimeout || expired[0].ResolvedBy != "system" {
		t.Errorf("timeout record: %+v", expired[0])
	}
}

func TestLateApprovalBecomesTimeout(t *testing.T) {
	m, _, now := newTestManager(t)
	rec := m.Create(context.Background(), "t1", "i1", testRule())

	*now = now.Add(11 * time.Minute)
	resolved, err := m.Approve(context.Background(), rec.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != contracts.EscalationTimeout {
		t.Errorf("late approval must resolve as timeout, got %s", resolved.Status)
	}
}

func TestUnknownID(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Approve(context.Background(), "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
