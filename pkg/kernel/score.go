package kernel

import "github.com/voriongit/vorion/core/pkg/contracts"

// ScoreCeiling is the 1000-point ceiling every effective score is clamped to.
const ScoreCeiling = 1000

// ClampScore maps any raw value onto [0, ScoreCeiling]. The raw value
// itself is unbounded and kept for analytics.
func ClampScore(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw > ScoreCeiling {
		return ScoreCeiling
	}
	return raw
}

// Tier bands over the effective score. The upper bound of each band is
// inclusive.
var tierBands = [contracts.TierCount]int{166, 332, 499, 665, 832, 1000}

// TierForScore derives the trust tier from an effective score.
// Pure and monotonic: a higher score never yields a lower tier.
func TierForScore(effective int) contracts.TrustTier {
	effective = ClampScore(effective)
	for i, upper := range tierBands {
		if effective <= upper {
			return contracts.TrustTier(i)
		}
	}
	return contracts.TierT5
}

// CreationModifiers is the score adjustment applied once, at identity
// creation, per creation type.
var CreationModifiers = map[contracts.CreationType]int{
	contracts.CreationFresh:    0,
	contracts.CreationCloned:   -50,
	contracts.CreationEvolved:  25,
	contracts.CreationPromoted: 50,
	contracts.CreationImported: -100,
}
