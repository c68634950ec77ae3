package audit

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// Property: for any sequence of records, adjacent persisted records link
// previous_hash to the prior record's hash, sequence numbers are gap-free
// and strictly increasing, and any single-field tamper breaks verification.
func TestHashChainProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("persisted chains verify and tampering is detected", prop.ForAll(
		func(actions []string, tamperIdx int) bool {
			if len(actions) == 0 {
				return true
			}
			store := NewMemoryStore()
			sink := NewSink(Options{Store: store})
			ctx := context.Background()

			for _, a := range actions {
				sink.Record(ctx, &contracts.AuditRecord{
					TenantID:  "t1",
					EventType: contracts.EventDecision,
					Severity:  contracts.SeverityInfo,
					Outcome:   contracts.OutcomeSuccess,
					Actor:     "enforce",
					Action:    a,
				})
			}
			if err := sink.Flush(ctx); err != nil {
				return false
			}
			chain, err := store.ChainFor(ctx, "t1")
			if err != nil || len(chain) != len(actions) {
				return false
			}

			// Linkage and monotonic sequence.
			for i := 1; i < len(chain); i++ {
				if chain[i].PreviousHash != chain[i-1].RecordHash {
					return false
				}
				if chain[i].SequenceNumber != chain[i-1].SequenceNumber+1 {
					return false
				}
			}
			if VerifyChain(chain) != nil {
				return false
			}

			// Tamper one record; verification must fail.
			idx := tamperIdx % len(chain)
			tampered := make([]*contracts.AuditRecord, len(chain))
			for i, rec := range chain {
				cp := *rec
				tampered[i] = &cp
			}
			tampered[idx].Action = tampered[idx].Action + "-tampered"
			return VerifyChain(tampered) != nil
		},
		gen.SliceOfN(8, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
