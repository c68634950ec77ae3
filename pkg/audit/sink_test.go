package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

func testRecord(tenant, action string) *contracts.AuditRecord {
	return &contracts.AuditRecord{
		TenantID:  tenant,
		EventType: contracts.EventDecision,
		Severity:  contracts.SeverityInfo,
		Outcome:   contracts.OutcomeSuccess,
		Actor:     "enforce",
		Target:    "i1",
		Action:    action,
	}
}

func TestFlushSealsChain(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(Options{Store: store})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sink.Record(ctx, testRecord("t1", "decision.allow"))
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	chain, err := store.ChainFor(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 {
		t.Fatalf("persisted %d records", len(chain))
	}
	if chain[0].PreviousHash != GenesisHash {
		t.Errorf("first record previous hash = %s", chain[0].PreviousHash)
	}
	for i, rec := range chain {
		if rec.SequenceNumber != uint64(i+1) {
			t.Errorf("sequence[%d] = %d", i, rec.SequenceNumber)
		}
	}
	if err := VerifyChain(chain); err != nil {
		t.Errorf("chain must verify: %v", err)
	}
}

func TestChainsArePerTenant(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(Options{Store: store})
	ctx := context.Background()

	sink.Record(ctx, testRecord("t1", "a"))
	sink.Record(ctx, testRecord("t2", "b"))
	sink.Record(ctx, testRecord("t1", "c"))
	if err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	c1, _ := store.ChainFor(ctx, "t1")
	c2, _ := store.ChainFor(ctx, "t2")
	if len(c1) != 2 || len(c2) != 1 {
		t.Fatalf("t1=%d t2=%d", len(c1), len(c2))
	}
	if err := VerifyChain(c1); err != nil {
		t.Errorf("t1 chain: %v", err)
	}
	if err := VerifyChain(c2); err != nil {
		t.Errorf("t2 chain: %v", err)
	}
}

func TestChainRestoredAcrossSinks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewSink(Options{Store: store})
	first.Record(ctx, testRecord("t1", "a"))
	if err := first.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// A fresh sink over the same store continues the chain.
	second := NewSink(Options{Store: store})
	second.Record(ctx, testRecord("t1", "b"))
	if err := second.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	chain, _ := store.ChainFor(ctx, "t1")
	if len(chain) != 2 {
		t.Fatalf("chain length %d", len(chain))
	}
	if err := VerifyChain(chain); err != nil {
		t.Errorf("restored chain must link: %v", err)
	}
}

func TestBufferCeilingDropsOldest(t *testing.T) {
	sink := NewSink(Options{BufferCeiling: 5})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		sink.Record(ctx, testRecord("t1", "a"))
	}
	if got := sink.BufferLen(); got != 5 {
		t.Errorf("buffer length = %d, want 5", got)
	}
}

type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) PersistBatch(ctx context.Context, recs []*contracts.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("persist failed")
	}
	return f.MemoryStore.PersistBatch(ctx, recs)
}

func TestFailedFlushRequeuesAtHead(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: 1}
	sink := NewSink(Options{Store: store})
	ctx := context.Background()

	sink.Record(ctx, testRecord("t1", "a"))
	sink.Record(ctx, testRecord("t1", "b"))

	if err := sink.Flush(ctx); err == nil {
		t.Fatal("first flush must fail")
	}
	if sink.BufferLen() != 2 {
		t.Fatalf("records must be re-queued, buffer = %d", sink.BufferLen())
	}

	if err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	chain, _ := store.ChainFor(ctx, "t1")
	if len(chain) != 2 {
		t.Fatalf("chain length %d", len(chain))
	}
	if err := VerifyChain(chain); err != nil {
		t.Errorf("re-queued records must keep their chain position: %v", err)
	}
}

func TestShutdownFlushesRemaining(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(Options{Store: store})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		sink.Record(ctx, testRecord("t1", "a"))
	}
	if err := sink.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.BufferLen() != 0 {
		t.Errorf("buffer must drain on shutdown, %d left", sink.BufferLen())
	}
	chain, _ := store.ChainFor(ctx, "t1")
	if len(chain) != 7 {
		t.Errorf("persisted %d records", len(chain))
	}
}

func TestShutdownReportsUnflushed(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: 100}
	sink := NewSink(Options{Store: store, FlushAttempts: 2, FlushInterval: time.Millisecond})
	ctx := context.Background()

	sink.Record(ctx, testRecord("t1", "a"))
	if err := sink.Shutdown(ctx); err == nil {
		t.Error("shutdown with unflushable records must report an error")
	}
}

func TestRecordDecisionShape(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(Options{Store: store})
	ctx := context.Background()

	sink.RecordDecision(ctx, &contracts.Decision{
		ID:          "d1",
		IntentID:    "i1",
		TenantID:    "t1",
		FinalAction: contracts.ActionAllow,
		Reason:      "rule matched",
		Confidence:  1.0,
		DecidedAt:   time.Now(),
	})
	if err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	recs, err := store.Query(ctx, Query{TenantID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	rec := recs[0]
	if rec.Outcome != contracts.OutcomeSuccess || rec.Action != "decision.allow" {
		t.Errorf("record: %+v", rec)
	}
	if rec.Metadata["decision_id"] != "d1" {
		t.Errorf("metadata: %+v", rec.Metadata)
	}
}

func TestQueryOrderingAndPaging(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(Options{Store: store})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		sink.WithClock(func() time.Time { return ts })
		sink.Record(ctx, testRecord("t1", "a"))
		if err := sink.Flush(ctx); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.Query(ctx, Query{TenantID: "t1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("limit ignored: %d", len(recs))
	}
	if recs[0].SequenceNumber < recs[1].SequenceNumber {
		t.Error("results must be newest-first")
	}

	page2, _ := store.Query(ctx, Query{TenantID: "t1", Limit: 2, Offset: 2})
	if len(page2) != 2 || page2[0].SequenceNumber == recs[0].SequenceNumber {
		t.Error("offset paging broken")
	}
}
