package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion/core/pkg/canonicalize"
	"github.com/voriongit/vorion/core/pkg/contracts"
)

// EvidenceBundle is an exportable, self-verifying slice of a tenant's
// audit chain.
type EvidenceBundle struct {
	BundleID   string                   `json:"bundle_id"`
	TenantID   string                   `json:"tenant_id"`
	CreatedAt  time.Time                `json:"created_at"`
	StartSeq   uint64                   `json:"start_sequence"`
	EndSeq     uint64                   `json:"end_sequence"`
	EntryCount int                      `json:"entry_count"`
	Records    []*contracts.AuditRecord `json:"records"`
	ChainHead  string                   `json:"chain_head"`
	BundleHash string                   `json:"bundle_hash"`
	Checkpoint *Checkpoint              `json:"checkpoint,omitempty"`
}

// ExportBundle packages a tenant's full chain, optionally attaching a
// signed checkpoint.
func ExportBundle(ctx context.Context, store Store, tenantID string, signer *CheckpointSigner) (*EvidenceBundle, error) {
	records, err := store.ChainFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("audit: no records for tenant %s", tenantID)
	}

	bundle := &EvidenceBundle{
		BundleID:   uuid.New().String(),
		TenantID:   tenantID,
		CreatedAt:  time.Now().UTC(),
		StartSeq:   records[0].SequenceNumber,
		EndSeq:     records[len(records)-1].SequenceNumber,
		EntryCount: len(records),
		Records:    records,
		ChainHead:  records[len(records)-1].RecordHash,
	}

	hash, err := canonicalize.PrefixedHash(records)
	if err != nil {
		return nil, fmt.Errorf("audit: bundle hash: %w", err)
	}
	bundle.BundleHash = hash

	if signer != nil {
		cp, err := signer.Sign(ctx, store, tenantID)
		if err != nil {
			return nil, err
		}
		bundle.Checkpoint = cp
	}
	return bundle, nil
}

// VerifyBundle checks a bundle's hash, internal chain, and checkpoint.
func VerifyBundle(bundle *EvidenceBundle, signer *CheckpointSigner) error {
	if len(bundle.Records) == 0 {
		return fmt.Errorf("audit: bundle is empty")
	}
	hash, err := canonicalize.PrefixedHash(bundle.Records)
	if err != nil {
		return err
	}
	if hash != bundle.BundleHash {
		return fmt.Errorf("audit: bundle hash mismatch")
	}
	if err := VerifyChain(bundle.Records); err != nil {
		return err
	}
	if bundle.Checkpoint != nil && signer != nil {
		if err := signer.Verify(bundle.Checkpoint); err != nil {
			return err
		}
		if bundle.Checkpoint.ChainHead != bundle.ChainHead {
			return ErrCheckpointInvalid
		}
	}
	return nil
}
