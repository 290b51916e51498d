// Package eligibility decides whether a token may evolve right now.
package eligibility

import (
	"context"
	"fmt"

	"evonft-service/internal/domain"
	"evonft-service/internal/scoring"
)

// CooldownReader reports whether a token's on-chain cooldown has elapsed.
type CooldownReader interface {
	CooldownPassed(ctx context.Context, tokenID uint64) (bool, error)
}

// Gate combines the ledger cooldown with the activity score.
type Gate struct {
	ledger   CooldownReader
	minScore int
}

// NewGate creates a gate with the default minimum score.
func NewGate(ledger CooldownReader) *Gate {
	return &Gate{ledger: ledger, minScore: scoring.EligibleScore}
}

// CheckEligibility never returns an error: ledger failures become an
// ineligible verdict carrying the error text.
func (g *Gate) CheckEligibility(ctx context.Context, tokenID uint64, signals domain.Signals) (verdict domain.EligibilityVerdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = domain.EligibilityVerdict{Eligible: false, Reason: fmt.Sprintf("eligibility check panicked: %v", r)}
		}
	}()

	passed, err := g.ledger.CooldownPassed(ctx, tokenID)
	if err != nil {
		return domain.EligibilityVerdict{Eligible: false, Reason: err.Error()}
	}
	if !passed {
		return domain.EligibilityVerdict{Eligible: false, Reason: domain.ReasonCooldown}
	}

	score := scoring.Score(signals)
	if score < g.minScore {
		return domain.EligibilityVerdict{Eligible: false, Reason: domain.ReasonInsufficientScore, Score: &score}
	}
	return domain.EligibilityVerdict{Eligible: true, Score: &score}
}
