package kernel

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// Property: the effective score is always within [0, 1000], and the clamp
// is the identity inside the range.
func TestClampProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("effective score is always within the ceiling", prop.ForAll(
		func(raw int) bool {
			effective := ClampScore(raw)
			if effective < 0 || effective > ScoreCeiling {
				return false
			}
			switch {
			case raw < 0:
				return effective == 0
			case raw > ScoreCeiling:
				return effective == ScoreCeiling
			default:
				return effective == raw
			}
		},
		gen.IntRange(-100_000, 100_000),
	))

	properties.TestingRun(t)
}

// Property: tier derivation is monotonic in the score.
func TestTierMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a higher score never yields a lower tier", prop.ForAll(
		func(s1, s2 int) bool {
			if s1 > s2 {
				s1, s2 = s2, s1
			}
			return TierForScore(s1) <= TierForScore(s2)
		},
		gen.IntRange(-500, 1500),
		gen.IntRange(-500, 1500),
	))

	properties.TestingRun(t)
}

// Property: a sealed binding verifies, and any field mutation is caught.
func TestContextImmutabilityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ctxTypes := []contracts.ContextType{
		contracts.ContextLocal,
		contracts.ContextEnterprise,
		contracts.ContextSovereign,
	}

	properties.Property("sealed bindings verify and tampering is detected", prop.ForAll(
		func(tenant string, typeIdx int, tamperTenant string) bool {
			if tenant == "" {
				return true
			}
			binding, err := CreateAgentContext(tenant, ctxTypes[typeIdx%len(ctxTypes)], time.Now())
			if err != nil {
				return false
			}
			if VerifyContextIntegrity(binding) != nil {
				return false
			}
			if tamperTenant == tenant {
				return true
			}
			tampered := *binding
			tampered.TenantID = tamperTenant
			return VerifyContextIntegrity(&tampered) == ErrIntegrity
		},
		gen.AlphaString(),
		gen.IntRange(0, 100),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: creation info seals deterministically for the same inputs.
func TestCreationSealDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	types := []contracts.CreationType{
		contracts.CreationFresh,
		contracts.CreationCloned,
		contracts.CreationEvolved,
		contracts.CreationPromoted,
		contracts.CreationImported,
	}
	sealTime := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("sealing is deterministic", prop.ForAll(
		func(parent string, typeIdx int) bool {
			ctype := types[typeIdx%len(types)]
			a, err1 := SealCreationInfo(ctype, parent, sealTime)
			b, err2 := SealCreationInfo(ctype, parent, sealTime)
			if err1 != nil || err2 != nil {
				return false
			}
			return a.IntegrityHash == b.IntegrityHash && a.Modifier == CreationModifiers[ctype]
		},
		gen.AlphaString(),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
