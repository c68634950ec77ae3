package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/observability"
	"github.com/voriongit/vorion/core/pkg/resiliency"
)

// Options configures the sink.
type Options struct {
	Store         Store
	FlushInterval time.Duration
	BatchSize     int
	BufferCeiling int
	FlushAttempts int
	Logger        *slog.Logger
	Observability *observability.Provider
}

// Sink is the write-behind audit buffer. Enqueue is the only cost the
// request path pays; sealing (sequence + hash chain) and persistence
// happen on the flush goroutine, which is the buffer's sole consumer.
type Sink struct {
	mu     sync.Mutex
	buffer []*contracts.AuditRecord
	chains map[string]*chainState

	store   Store
	breaker *resiliency.Breaker

	flushInterval time.Duration
	batchSize     int
	ceiling       int
	flushAttempts int

	kick chan struct{}

	logger *slog.Logger
	obs    *observability.Provider
	clock  func() time.Time
}

// NewSink creates an audit sink over a store.
func NewSink(opts Options) *Sink {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BufferCeiling <= 0 {
		opts.BufferCeiling = 10_000
	}
	if opts.FlushAttempts <= 0 {
		opts.FlushAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sink{
		buffer:        make([]*contracts.AuditRecord, 0, opts.BatchSize),
		chains:        make(map[string]*chainState),
		store:         opts.Store,
		breaker:       resiliency.New("audit-persist", resiliency.Config{}, opts.Logger),
		flushInterval: opts.FlushInterval,
		batchSize:     opts.BatchSize,
		ceiling:       opts.BufferCeiling,
		flushAttempts: opts.FlushAttempts,
		kick:          make(chan struct{}, 1),
		logger:        opts.Logger.With("component", "audit-sink"),
		obs:           opts.Observability,
		clock:         time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Sink) WithClock(clock func() time.Time) *Sink {
	s.clock = clock
	return s
}

// Record enqueues a record without blocking. When the buffer is past the
// hard ceiling the oldest record is dropped and counted.
func (s *Sink) Record(ctx context.Context, rec *contracts.AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.EventTime.IsZero() {
		rec.EventTime = s.clock()
	}

	s.mu.Lock()
	if len(s.buffer) >= s.ceiling {
		s.buffer = s.buffer[1:]
		s.logger.WarnContext(ctx, "audit buffer ceiling reached, dropping oldest record")
		if s.obs != nil {
			s.obs.RecordAuditDropped(ctx, 1)
		}
	}
	s.buffer = append(s.buffer, rec)
	shouldKick := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if shouldKick {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// RecordDecision enqueues the audit record for a completed decision.
func (s *Sink) RecordDecision(ctx context.Context, decision *contracts.Decision) {
	outcome := contracts.OutcomeSuccess
	severity := contracts.SeverityInfo
	switch decision.FinalAction {
	case contracts.ActionDeny, contracts.ActionTerminate:
		outcome = contracts.OutcomeFailure
		severity = contracts.SeverityWarning
	case contracts.ActionEscalate:
		outcome = contracts.OutcomePartial
	}

	after, _ := json.Marshal(decision)
	s.Record(ctx, &contracts.AuditRecord{
		TenantID:   decision.TenantID,
		EventType:  contracts.EventDecision,
		Severity:   severity,
		Outcome:    outcome,
		Actor:      "enforce",
		Target:     decision.IntentID,
		Action:     "decision." + string(decision.FinalAction),
		Reason:     decision.Reason,
		AfterState: after,
		Metadata: map[string]any{
			"decision_id": decision.ID,
			"confidence":  decision.Confidence,
			"cached":      decision.Cached,
			"trust_tier":  decision.TrustTier.String(),
		},
		EventTime: decision.DecidedAt,
	})
}

// RecordEscalation enqueues the audit record for a fired escalation rule.
func (s *Sink) RecordEscalation(ctx context.Context, decision *contracts.Decision, rule contracts.EscalationRule) {
	s.Record(ctx, &contracts.AuditRecord{
		TenantID:  decision.TenantID,
		EventType: contracts.EventEscalation,
		Severity:  contracts.SeverityWarning,
		Outcome:   contracts.OutcomePartial,
		Actor:     "enforce",
		Target:    decision.IntentID,
		Action:    "escalation.fire",
		Reason:    rule.Reason,
		Metadata: map[string]any{
			"decision_id": decision.ID,
			"rule_id":     rule.ID,
			"escalate_to": rule.EscalateTo,
		},
		EventTime: decision.DecidedAt,
	})
}

// Flush seals and persists up to one batch. On persist failure the sealed
// records are re-queued at the head unless that would exceed the ceiling.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	n := len(s.buffer)
	if n > s.batchSize {
		n = s.batchSize
	}
	batch := s.buffer[:n]
	s.buffer = append([]*contracts.AuditRecord(nil), s.buffer[n:]...)

	// Seal inside the lock so chain heads advance in enqueue order.
	// Re-queued records are already sealed and keep their position.
	now := s.clock()
	sealed := batch[:0]
	for _, rec := range batch {
		if rec.RecordHash != "" {
			sealed = append(sealed, rec)
			continue
		}
		chain, err := s.chainHead(ctx, rec.TenantID)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if err := chain.seal(rec, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to seal audit record, discarding",
				"record", rec.ID, "error", err)
			continue
		}
		sealed = append(sealed, rec)
	}
	s.mu.Unlock()

	if len(sealed) == 0 {
		return nil
	}

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.store.PersistBatch(ctx, sealed)
	})
	if err != nil {
		s.requeue(ctx, sealed)
		if errors.Is(err, resiliency.ErrOpen) {
			return err
		}
		s.logger.WarnContext(ctx, "audit persist failed, batch re-queued",
			"batch", len(sealed), "error", err)
		return err
	}
	return nil
}

// chainHead returns the in-memory chain state for a tenant, restoring it
// from the store on first use. Caller holds s.mu.
func (s *Sink) chainHead(ctx context.Context, tenantID string) (*chainState, error) {
	if chain, ok := s.chains[tenantID]; ok {
		return chain, nil
	}
	last, err := s.store.Last(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	chain := &chainState{}
	if last != nil {
		chain.sequence = last.SequenceNumber
		chain.lastHash = last.RecordHash
	}
	s.chains[tenantID] = chain
	return chain, nil
}

func (s *Sink) requeue(ctx context.Context, batch []*contracts.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(batch)+len(s.buffer) > s.ceiling {
		overflow := len(batch) + len(s.buffer) - s.ceiling
		if overflow >= len(batch) {
			s.logger.ErrorContext(ctx, "audit re-queue would exceed ceiling, dropping batch",
				"dropped", len(batch))
			if s.obs != nil {
				s.obs.RecordAuditDropped(ctx, int64(len(batch)))
			}
			return
		}
		s.logger.ErrorContext(ctx, "audit re-queue partially dropped",
			"dropped", overflow)
		if s.obs != nil {
			s.obs.RecordAuditDropped(ctx, int64(overflow))
		}
		batch = batch[:len(batch)-overflow]
	}
	s.buffer = append(append([]*contracts.AuditRecord(nil), batch...), s.buffer...)
}

// Run drives the flush loop: every flush interval, or as soon as the
// buffer crosses the batch size, whichever comes first. Blocks until ctx
// is cancelled.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Flush(ctx)
		case <-s.kick:
			_ = s.Flush(ctx)
		}
	}
}

// Shutdown flushes the remaining buffer with bounded attempts. Anything
// still unflushed is logged at error severity.
func (s *Sink) Shutdown(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.flushAttempts; attempt++ {
		if s.BufferLen() == 0 {
			return nil
		}
		if err := s.Flush(ctx); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				attempt = s.flushAttempts
			case <-time.After(s.flushInterval):
			}
		}
	}
	if remaining := s.BufferLen(); remaining > 0 {
		s.logger.ErrorContext(ctx, "audit sink shutting down with unflushed records",
			"remaining", remaining, "error", lastErr)
		return errors.Join(errors.New("audit: shutdown with unflushed records"), lastErr)
	}
	return nil
}

// BufferLen returns the number of buffered records.
func (s *Sink) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// QueryRecords queries the underlying store.
func (s *Sink) QueryRecords(ctx context.Context, q Query) ([]*contracts.AuditRecord, error) {
	return s.store.Query(ctx, q)
}

// VerifyTenantChain replays a tenant's persisted chain.
func (s *Sink) VerifyTenantChain(ctx context.Context, tenantID string) error {
	records, err := s.store.ChainFor(ctx, tenantID)
	if err != nil {
		return err
	}
	return VerifyChain(records)
}
