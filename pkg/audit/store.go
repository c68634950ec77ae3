package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// MaxQueryLimit caps the page size of audit queries.
const MaxQueryLimit = 1000

// Query filters audit records. Results come back newest-first.
type Query struct {
	TenantID string
	IntentID string
	Action   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Store persists sealed audit records.
type Store interface {
	// PersistBatch writes sealed records in order. All-or-nothing: a
	// failed batch leaves no partial state behind.
	PersistBatch(ctx context.Context, records []*contracts.AuditRecord) error

	// Query returns matching records ordered newest-first.
	Query(ctx context.Context, q Query) ([]*contracts.AuditRecord, error)

	// ChainFor returns a tenant's records ordered by sequence number,
	// for chain verification and export.
	ChainFor(ctx context.Context, tenantID string) ([]*contracts.AuditRecord, error)

	// Last returns the most recently persisted record for a tenant, or
	// nil when the chain is empty. Used to restore chain heads.
	Last(ctx context.Context, tenantID string) (*contracts.AuditRecord, error)
}

// MemoryStore is the in-process store used by tests and single-node
// deployments without durability requirements.
type MemoryStore struct {
	mu      sync.RWMutex
	byTenant map[string][]*contracts.AuditRecord
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: make(map[string][]*contracts.AuditRecord)}
}

// PersistBatch appends the records.
func (s *MemoryStore) PersistBatch(_ context.Context, records []*contracts.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		cp := *rec
		s.byTenant[rec.TenantID] = append(s.byTenant[rec.TenantID], &cp)
	}
	return nil
}

// Query filters and pages, newest-first.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]*contracts.AuditRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	s.mu.RLock()
	var pool []*contracts.AuditRecord
	if q.TenantID != "" {
		pool = append(pool, s.byTenant[q.TenantID]...)
	} else {
		for _, recs := range s.byTenant {
			pool = append(pool, recs...)
		}
	}
	s.mu.RUnlock()

	var matched []*contracts.AuditRecord
	for _, rec := range pool {
		if q.IntentID != "" && rec.Target != q.IntentID {
			continue
		}
		if q.Action != "" && rec.Action != q.Action {
			continue
		}
		if q.From != nil && rec.EventTime.Before(*q.From) {
			continue
		}
		if q.To != nil && rec.EventTime.After(*q.To) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RecordedAt.Equal(matched[j].RecordedAt) {
			return matched[i].RecordedAt.After(matched[j].RecordedAt)
		}
		return matched[i].SequenceNumber > matched[j].SequenceNumber
	})

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ChainFor returns a tenant's records in sequence order.
func (s *MemoryStore) ChainFor(_ context.Context, tenantID string) ([]*contracts.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := append([]*contracts.AuditRecord(nil), s.byTenant[tenantID]...)
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].SequenceNumber < recs[j].SequenceNumber
	})
	return recs, nil
}

// Last returns the newest record for a tenant.
func (s *MemoryStore) Last(_ context.Context, tenantID string) (*contracts.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byTenant[tenantID]
	if len(recs) == 0 {
		return nil, nil
	}
	last := recs[0]
	for _, rec := range recs[1:] {
		if rec.SequenceNumber > last.SequenceNumber {
			last = rec
		}
	}
	return last, nil
}
