// Package audit implements the tamper-evident audit pipeline: a
// write-behind buffer with size and time flush triggers, batched persists
// behind a circuit breaker, and per-tenant hash chains with gap-free
// sequence numbers.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/voriongit/vorion/core/pkg/canonicalize"
	"github.com/voriongit/vorion/core/pkg/contracts"
)

// GenesisHash seeds each tenant's chain.
const GenesisHash = "genesis"

// ErrChainBroken reports a hash chain that fails verification.
var ErrChainBroken = errors.New("audit: hash chain broken")

// chainState tracks the sealed head of one tenant's chain.
type chainState struct {
	sequence uint64
	lastHash string
}

// recordHash computes the tamper-evident hash of a record. The hash covers
// the chain linkage and every field listed below; mutation of any of them is
// detectable by recomputation. Metadata and RecordedAt are not hashed.
func recordHash(rec *contracts.AuditRecord) (string, error) {
	return canonicalize.PrefixedHash(map[string]any{
		"id":              rec.ID,
		"tenant_id":       rec.TenantID,
		"event_type":      string(rec.EventType),
		"severity":        string(rec.Severity),
		"outcome":         string(rec.Outcome),
		"actor":           rec.Actor,
		"target":          rec.Target,
		"action":          rec.Action,
		"reason":          rec.Reason,
		"before_state":    string(rec.BeforeState),
		"after_state":     string(rec.AfterState),
		"sequence_number": rec.SequenceNumber,
		"previous_hash":   rec.PreviousHash,
		"event_time":      rec.EventTime.UTC().Format(time.RFC3339Nano),
	})
}

// seal assigns the record its position in the tenant chain and computes
// its hash. Only the flusher calls this, so per-tenant order is total.
func (c *chainState) seal(rec *contracts.AuditRecord, recordedAt time.Time) error {
	if c.lastHash == "" {
		c.lastHash = GenesisHash
	}
	rec.SequenceNumber = c.sequence + 1
	rec.PreviousHash = c.lastHash
	rec.RecordedAt = recordedAt

	hash, err := recordHash(rec)
	if err != nil {
		rec.SequenceNumber = 0
		rec.PreviousHash = ""
		return err
	}
	rec.RecordHash = hash
	c.sequence = rec.SequenceNumber
	c.lastHash = hash
	return nil
}

// VerifyChain checks a tenant's records, ordered by sequence number, for
// linkage and content integrity. Any consumer can run this.
func VerifyChain(records []*contracts.AuditRecord) error {
	expectedPrev := GenesisHash
	var expectedSeq uint64
	for i, rec := range records {
		expectedSeq++
		if rec.SequenceNumber != expectedSeq {
			return fmt.Errorf("%w: sequence gap at index %d (got %d, want %d)",
				ErrChainBroken, i, rec.SequenceNumber, expectedSeq)
		}
		if rec.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: previous hash mismatch at index %d", ErrChainBroken, i)
		}
		computed, err := recordHash(rec)
		if err != nil {
			return err
		}
		if computed != rec.RecordHash {
			return fmt.Errorf("%w: record hash mismatch at index %d (computed %s, stored %s)",
				ErrChainBroken, i, computed, rec.RecordHash)
		}
		expectedPrev = rec.RecordHash
	}
	return nil
}
