package models

// AccessTier is the privilege level a zoku holds. Tiers are ordered; a higher tier
// includes every permission of the lower ones.
type AccessTier string

const (
	TierObserved  AccessTier = "observed"
	TierCoherent  AccessTier = "coherent"
	TierEntangled AccessTier = "entangled"
	TierPrime     AccessTier = "prime"
)

// ValidTiers lists tiers from least to most privileged.
var ValidTiers = []AccessTier{TierObserved, TierCoherent, TierEntangled, TierPrime}

// Rank returns the position of the tier in ValidTiers, or -1 for unknown tiers.
func (t AccessTier) Rank() int {
	for i, v := range ValidTiers {
		if v == t {
			return i
		}
	}
	return -1
}

// AtLeast reports whether t grants at least the permissions of min.
func (t AccessTier) AtLeast(min AccessTier) bool {
	r := t.Rank()
	return r >= 0 && r >= min.Rank()
}
