package domain

// Tier is the discrete evolution bucket derived from a score.
type Tier string

const (
	TierCommon    Tier = "common"
	TierRare      Tier = "rare"
	TierEpic      Tier = "epic"
	TierLegendary Tier = "legendary"
)

// String returns the string representation of Tier.
func (t Tier) String() string {
	return string(t)
}

// Rank gives the total order common < rare < epic < legendary.
// Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierCommon:
		return 0
	case TierRare:
		return 1
	case TierEpic:
		return 2
	case TierLegendary:
		return 3
	default:
		return -1
	}
}

// StatBoost is the per-stat increase applied on evolution.
func (t Tier) StatBoost() int {
	switch t {
	case TierRare:
		return 2
	case TierEpic:
		return 3
	case TierLegendary:
		return 5
	default:
		return 1
	}
}
