package cache

import (
	"github.com/voriongit/vorion/core/pkg/canonicalize"
	"github.com/voriongit/vorion/core/pkg/contracts"
)

// Fingerprint keys the decision cache: a stable hash over the decision
// context. The intent context is canonicalized (sorted keys) before
// hashing, so map ordering never changes the key. The first 16 hex chars
// of the SHA-256 are sufficient for uniqueness within a tenant.
//
// The intent id is part of the key, so retries of the same intent share an
// entry while distinct intents with identical semantics do not.
func Fingerprint(intent *contracts.Intent, tier contracts.TrustTier) (string, error) {
	contextHash, err := canonicalize.CanonicalHash(intent.Context)
	if err != nil {
		return "", err
	}
	return canonicalize.Fingerprint(map[string]any{
		"tenant_id":    intent.TenantID,
		"intent_id":    intent.ID,
		"entity_id":    intent.EntityID,
		"intent_type":  intent.Type,
		"trust_tier":   int(tier),
		"context_hash": contextHash,
	})
}
