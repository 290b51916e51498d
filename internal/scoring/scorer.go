// Package scoring maps activity signals to a bounded score and an evolution tier.
//
// Both functions are pure: the tier ends up inside a signed authorization and
// must be reproducible when the attempt is audited later.
package scoring

import (
	"math"

	"evonft-service/internal/domain"
)

// Component caps.
const (
	MaxTransactionPoints = 30
	MaxStakingPoints     = 30
	MaxVolumePoints      = 20
	MaxDiscordPoints     = 10
	MaxTwitterPoints     = 10
	MaxScore             = 100
)

// Tier thresholds (inclusive lower bounds).
const (
	ThresholdRare      = 50
	ThresholdEpic      = 70
	ThresholdLegendary = 90
)

// EligibleScore is the minimum score for an evolution.
const EligibleScore = ThresholdRare

// Score computes the weighted, capped activity score in [0, 100].
// Fractional totals are floored.
func Score(s domain.Signals) int {
	s = s.Normalize()

	total := math.Min(s.TransactionCount*2, MaxTransactionPoints) +
		math.Min(s.StakingDays*3, MaxStakingPoints) +
		math.Min(s.TradingVolume/100, MaxVolumePoints) +
		math.Min(s.DiscordActivity, MaxDiscordPoints) +
		math.Min(s.TwitterMentions, MaxTwitterPoints)

	return int(math.Min(math.Floor(total), MaxScore))
}

// TierFor maps a score to its tier.
func TierFor(score int) domain.Tier {
	switch {
	case score >= ThresholdLegendary:
		return domain.TierLegendary
	case score >= ThresholdEpic:
		return domain.TierEpic
	case score >= ThresholdRare:
		return domain.TierRare
	default:
		return domain.TierCommon
	}
}

// Evaluate returns both score and tier.
func Evaluate(s domain.Signals) (int, domain.Tier) {
	score := Score(s)
	return score, TierFor(score)
}
