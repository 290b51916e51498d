package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

// ScanRunStore implements storage.ScanRunStore using PostgreSQL.
type ScanRunStore struct {
	pool *Pool
}

// NewScanRunStore creates a new ScanRunStore.
func NewScanRunStore(pool *Pool) *ScanRunStore {
	return &ScanRunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScanRunStore = (*ScanRunStore)(nil)

const scanRunColumns = `run_id, trigger, started_at, finished_at, total_tokens,
	eligible, skipped, processed, succeeded, failed, error`

// Insert records a started scan. Returns ErrDuplicateKey if run_id exists.
func (s *ScanRunStore) Insert(ctx context.Context, r *domain.ScanRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO scan_runs (` + scanRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Trigger, r.StartedAt, r.FinishedAt, r.TotalTokens,
		r.Eligible, r.Skipped, r.Processed, r.Succeeded, r.Failed, r.Error,
	)
	return translate("insert scan run", err)
}

// Finish stores the final counters of a scan. Trigger and start time are immutable.
func (s *ScanRunStore) Finish(ctx context.Context, r *domain.ScanRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE scan_runs SET
			finished_at = $2, total_tokens = $3, eligible = $4, skipped = $5,
			processed = $6, succeeded = $7, failed = $8, error = $9
		WHERE run_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		r.RunID, r.FinishedAt, r.TotalTokens, r.Eligible, r.Skipped,
		r.Processed, r.Succeeded, r.Failed, r.Error,
	)
	if err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a scan run. Returns ErrNotFound if not exists.
func (s *ScanRunStore) GetByID(ctx context.Context, runID string) (*domain.ScanRun, error) {
	query := `SELECT ` + scanRunColumns + ` FROM scan_runs WHERE run_id = $1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		return nil, translate("get scan run by id", err)
	}
	return r, nil
}

// Recent retrieves the latest scans, newest first.
func (s *ScanRunStore) Recent(ctx context.Context, limit int) ([]*domain.ScanRun, error) {
	query := `SELECT ` + scanRunColumns + ` FROM scan_runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get recent scan runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ScanRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan_run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan_run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.ScanRun, error) {
	var r domain.ScanRun
	err := row.Scan(
		&r.RunID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.TotalTokens,
		&r.Eligible, &r.Skipped, &r.Processed, &r.Succeeded, &r.Failed, &r.Error,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
