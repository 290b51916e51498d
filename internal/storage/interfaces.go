package storage

import (
	"context"

	"evonft-service/internal/domain"
)

// AttemptStore provides access to evolution_attempts storage.
type AttemptStore interface {
	// Insert adds a new attempt. Returns ErrDuplicateKey if attempt_id exists.
	Insert(ctx context.Context, a *domain.EvolutionAttempt) error

	// GetByID retrieves an attempt by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, attemptID string) (*domain.EvolutionAttempt, error)

	// GetByToken retrieves the most recent attempts for a token, newest first.
	// limit <= 0 returns all.
	GetByToken(ctx context.Context, tokenID uint64, limit int) ([]*domain.EvolutionAttempt, error)

	// GetByScanRun retrieves all attempts of a scan, ordered by attempted_at ASC.
	GetByScanRun(ctx context.Context, runID string) ([]*domain.EvolutionAttempt, error)
}

// ScanRunStore provides access to scan_runs storage.
type ScanRunStore interface {
	// Insert records a started scan. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.ScanRun) error

	// Finish stores the final counters of a scan. Returns ErrNotFound if the run does not exist.
	Finish(ctx context.Context, r *domain.ScanRun) error

	// GetByID retrieves a scan run. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.ScanRun, error)

	// Recent retrieves the latest scans, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.ScanRun, error)
}

// ScoreObservationStore provides access to score_observations storage.
type ScoreObservationStore interface {
	// InsertBulk appends observations. Observations have no key; duplicates are allowed.
	InsertBulk(ctx context.Context, obs []*domain.ScoreObservation) error

	// GetByTimeRange retrieves observations for a token within [start, end] ms (inclusive),
	// ordered by observed_at ASC.
	GetByTimeRange(ctx context.Context, tokenID uint64, start, end int64) ([]*domain.ScoreObservation, error)
}
