package domain

// Ineligibility reasons.
const (
	ReasonCooldown          = "Cooldown not passed"
	ReasonInsufficientScore = "Insufficient activity score"
)

// EligibilityVerdict is the result of an eligibility check.
// Score is nil when the check short-circuited before scoring.
type EligibilityVerdict struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Score    *int   `json:"score,omitempty"`
}

