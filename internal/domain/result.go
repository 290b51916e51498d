package domain

// EvolveResult is the outcome of one single-token evolution attempt.
// Exactly one of Reason (ineligible) or Error (failure) is set when Success is false.
type EvolveResult struct {
	TokenID       uint64     `json:"tokenId"`
	Success       bool       `json:"success"`
	Reason        string     `json:"reason,omitempty"`
	Error         string     `json:"error,omitempty"`
	EvolutionType Tier       `json:"evolutionType,omitempty"`
	Score         *int       `json:"score,omitempty"`
	Version       int        `json:"version,omitempty"`
	NewURI        string     `json:"newUri,omitempty"`
	Nonce         string     `json:"nonce,omitempty"`
	Deadline      int64      `json:"deadline,omitempty"`
	Tx            *TxReceipt `json:"tx,omitempty"`
}

// Status classifies the result for metrics and storage.
func (r EvolveResult) Status() string {
	switch {
	case r.Success && r.Tx == nil:
		return "authorized"
	case r.Success:
		return "success"
	case r.Reason != "":
		return "ineligible"
	default:
		return "failed"
	}
}

// EvolutionAttempt is the audit record of an EvolveResult.
// Corresponds to evolution_attempts table in PostgreSQL.
type EvolutionAttempt struct {
	AttemptID     string  `json:"attempt_id"`            // PK, uuid
	ScanRunID     *string `json:"scan_run_id,omitempty"` // FK to scan_runs (nullable for on-demand attempts)
	TokenID       uint64  `json:"token_id"`
	Status        string  `json:"status"` // success | authorized | ineligible | failed
	Reason        string  `json:"reason,omitempty"`
	Error         string  `json:"error,omitempty"`
	EvolutionType Tier    `json:"evolution_type,omitempty"`
	Score         *int    `json:"score,omitempty"`
	Version       int     `json:"version"`
	NewURI        string  `json:"new_uri,omitempty"`
	Nonce         string  `json:"nonce,omitempty"` // decimal
	Deadline      int64   `json:"deadline"`        // unix seconds
	TxHash        string  `json:"tx_hash,omitempty"`
	BlockNumber   uint64  `json:"block_number"`
	AttemptedAt   int64   `json:"attempted_at"` // ms
}

// NewEvolutionAttempt builds the audit record for a result.
func NewEvolutionAttempt(id string, scanRunID *string, r EvolveResult, attemptedAt int64) *EvolutionAttempt {
	a := &EvolutionAttempt{
		AttemptID:     id,
		ScanRunID:     scanRunID,
		TokenID:       r.TokenID,
		Status:        r.Status(),
		Reason:        r.Reason,
		Error:         r.Error,
		EvolutionType: r.EvolutionType,
		Score:         r.Score,
		Version:       r.Version,
		NewURI:        r.NewURI,
		Nonce:         r.Nonce,
		Deadline:      r.Deadline,
		AttemptedAt:   attemptedAt,
	}
	if r.Tx != nil {
		a.TxHash = r.Tx.TxHash
		a.BlockNumber = r.Tx.BlockNumber
	}
	return a
}

// ScanRun summarises one scheduler scan.
// Corresponds to scan_runs table in PostgreSQL.
type ScanRun struct {
	RunID       string `json:"run_id"`       // PK, uuid
	Trigger     string `json:"trigger"`      // "scheduled" | "warmup" | "manual"
	StartedAt   int64  `json:"started_at"`   // ms
	FinishedAt  int64  `json:"finished_at"`  // ms
	TotalTokens int    `json:"total_tokens"` // ledger total minted at scan start
	Eligible    int    `json:"eligible"`     // tokens whose cooldown had passed
	Skipped     int    `json:"skipped"`      // tokens whose check errored
	Processed   int    `json:"processed"`    // tokens driven through the orchestrator
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"` // scan-level failure, e.g. total minted unavailable
}

// ScoreObservation is one recorded eligibility evaluation.
// Corresponds to score_observations table in ClickHouse.
type ScoreObservation struct {
	TokenID    uint64
	Score      int
	Tier       Tier
	Eligible   bool
	Reason     string
	Signals    Signals
	ObservedAt int64 // ms
}
