package kernel

import (
	"fmt"
	"time"

	"github.com/voriongit/vorion/core/pkg/canonicalize"
	"github.com/voriongit/vorion/core/pkg/contracts"
)

// Tier ceilings by context type, sealed into the binding as MaxTier
// (LOCAL T3, ENTERPRISE T4, SOVEREIGN T5). The kernel derives an agent's
// tier from its score alone; MaxTier does not cap that tier.
var contextTierCeilings = map[contracts.ContextType]contracts.TrustTier{
	contracts.ContextLocal:      contracts.TierT3,
	contracts.ContextEnterprise: contracts.TierT4,
	contracts.ContextSovereign:  contracts.TierT5,
}

// CreateAgentContext seals a context binding for a tenant. The integrity
// hash covers tenant, type, tier ceiling, and seal time; any later
// mutation is detectable on read.
func CreateAgentContext(tenantID string, ctxType contracts.ContextType, sealedAt time.Time) (*contracts.ContextBinding, error) {
	ceiling, ok := contextTierCeilings[ctxType]
	if !ok {
		return nil, fmt.Errorf("kernel: unknown context type %d", ctxType)
	}
	binding := &contracts.ContextBinding{
		Type:     ctxType,
		TenantID: tenantID,
		MaxTier:  ceiling,
		SealedAt: sealedAt.UTC(),
	}
	hash, err := bindingHash(binding)
	if err != nil {
		return nil, err
	}
	binding.IntegrityHash = hash
	return binding, nil
}

// VerifyContextIntegrity recomputes the binding hash and compares.
// A mismatch is a structural bug surfaced as a critical error.
func VerifyContextIntegrity(b *contracts.ContextBinding) error {
	hash, err := bindingHash(b)
	if err != nil {
		return err
	}
	if hash != b.IntegrityHash {
		return ErrIntegrity
	}
	return nil
}

// ValidateOperationInContext enforces the binding hierarchy: an operation
// scoped at or below the binding's level is permitted (LOCAL operations run
// under ENTERPRISE or SOVEREIGN bindings, not the reverse). Cross-tenant
// access is rejected unconditionally, regardless of tier or hierarchy.
func ValidateOperationInContext(current *contracts.ContextBinding, requested contracts.ContextType, requestTenant string) error {
	if current == nil {
		return ErrContextViolation
	}
	if current.TenantID != requestTenant {
		return ErrTenantMismatch
	}
	if requested > current.Type {
		return ErrContextViolation
	}
	return nil
}

// SealCreationInfo freezes creation facts with the per-type score modifier.
func SealCreationInfo(ctype contracts.CreationType, parentID string, createdAt time.Time) (*contracts.CreationInfo, error) {
	modifier, ok := CreationModifiers[ctype]
	if !ok {
		return nil, fmt.Errorf("kernel: unknown creation type %q", ctype)
	}
	info := &contracts.CreationInfo{
		Type:      ctype,
		ParentID:  parentID,
		Modifier:  modifier,
		CreatedAt: createdAt.UTC(),
	}
	hash, err := creationHash(info)
	if err != nil {
		return nil, err
	}
	info.IntegrityHash = hash
	return info, nil
}

// VerifyCreationIntegrity recomputes the creation hash and compares.
func VerifyCreationIntegrity(info *contracts.CreationInfo) error {
	hash, err := creationHash(info)
	if err != nil {
		return err
	}
	if hash != info.IntegrityHash {
		return ErrIntegrity
	}
	return nil
}

func bindingHash(b *contracts.ContextBinding) (string, error) {
	return canonicalize.PrefixedHash(map[string]any{
		"tenant_id": b.TenantID,
		"type":      b.Type.String(),
		"max_tier":  int(b.MaxTier),
		"sealed_at": b.SealedAt.UTC().Format(time.RFC3339Nano),
	})
}

func creationHash(info *contracts.CreationInfo) (string, error) {
	return canonicalize.PrefixedHash(map[string]any{
		"type":       string(info.Type),
		"parent_id":  info.ParentID,
		"modifier":   info.Modifier,
		"created_at": info.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}
