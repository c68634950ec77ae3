// Package replay captures decision-time state and drives deterministic
// re-evaluation: snapshot, restore, replay, compare, and simulate.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/enforce"
)

// ErrSnapshotNotFound is returned for unknown snapshot ids.
var ErrSnapshotNotFound = errors.New("replay: snapshot not found")

// SnapshotStore persists immutable snapshots, keyed by id and intent id.
type SnapshotStore interface {
	Save(ctx context.Context, snap *contracts.Snapshot) error
	Get(ctx context.Context, id string) (*contracts.Snapshot, error)
	GetByIntent(ctx context.Context, intentID string) (*contracts.Snapshot, error)
}

// Manager captures snapshots at decision time.
type Manager struct {
	store SnapshotStore
	clock func() time.Time
}

// NewManager creates a snapshot manager.
func NewManager(store SnapshotStore) *Manager {
	if store == nil {
		store = NewMemorySnapshotStore()
	}
	return &Manager{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() SnapshotStore { return m.store }

// Capture freezes the inputs and output of a completed decision. The
// intent is deep-copied and policies are pinned with version + checksum.
func (m *Manager) Capture(ctx context.Context, ec *enforce.Context, decision *contracts.Decision, metadata map[string]any) (*contracts.Snapshot, error) {
	now := m.clock()
	env := contracts.EnvironmentSnapshot{
		Timestamp: now,
		Timezone:  now.Location().String(),
	}
	if ec.Environment != nil {
		env = *ec.Environment
	}

	policies := make([]contracts.PolicySnapshot, 0, len(ec.Policies))
	for _, p := range ec.Policies {
		cp := *p
		policies = append(policies, contracts.PolicySnapshot{
			PolicyID: p.ID,
			Version:  p.Version,
			Checksum: p.Checksum,
			Policy:   &cp,
		})
	}

	snap := &contracts.Snapshot{
		ID:          uuid.New().String(),
		IntentID:    ec.Intent.ID,
		TenantID:    ec.Intent.TenantID,
		Intent:      ec.Intent.Clone(),
		Trust:       *ec.Trust,
		Policies:    policies,
		Environment: env,
		Decision:    decision,
		Metadata:    metadata,
		CapturedAt:  now,
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Overrides replace selected parts of a restored context.
type Overrides struct {
	Trust       *contracts.TrustSnapshot
	Policies    []*contracts.Policy
	Environment *contracts.EnvironmentSnapshot
}

// Restore produces an evaluation context equivalent to the captured one,
// with any overrides applied. The snapshot itself is never mutated.
func (m *Manager) Restore(ctx context.Context, snapshotID string, overrides *Overrides) (*enforce.Context, *contracts.Snapshot, error) {
	snap, err := m.store.Get(ctx, snapshotID)
	if err != nil {
		return nil, nil, err
	}

	trust := snap.Trust
	policies := make([]*contracts.Policy, 0, len(snap.Policies))
	for _, ps := range snap.Policies {
		if ps.Policy != nil {
			cp := *ps.Policy
			policies = append(policies, &cp)
		}
	}
	env := snap.Environment

	if overrides != nil {
		if overrides.Trust != nil {
			trust = *overrides.Trust
		}
		if overrides.Policies != nil {
			policies = overrides.Policies
		}
		if overrides.Environment != nil {
			env = *overrides.Environment
		}
	}

	return &enforce.Context{
		Intent:      snap.Intent.Clone(),
		Trust:       &trust,
		Policies:    policies,
		Environment: &env,
	}, snap, nil
}
