package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

// AttemptStore implements storage.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *Pool
}

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(pool *Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AttemptStore = (*AttemptStore)(nil)

const attemptColumns = `attempt_id, scan_run_id, token_id, status, reason, error, evolution_type,
	score, version, new_uri, nonce, deadline, tx_hash, block_number, attempted_at`

// Insert adds a new attempt. Returns ErrDuplicateKey if attempt_id exists.
func (s *AttemptStore) Insert(ctx context.Context, a *domain.EvolutionAttempt) error {
	if a == nil || a.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO evolution_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		a.AttemptID,
		a.ScanRunID,
		int64(a.TokenID),
		a.Status,
		a.Reason,
		a.Error,
		string(a.EvolutionType),
		a.Score,
		a.Version,
		a.NewURI,
		a.Nonce,
		a.Deadline,
		a.TxHash,
		int64(a.BlockNumber),
		a.AttemptedAt,
	)
	return translate("insert attempt", err)
}

// GetByID retrieves an attempt by its ID. Returns ErrNotFound if not exists.
func (s *AttemptStore) GetByID(ctx context.Context, attemptID string) (*domain.EvolutionAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM evolution_attempts WHERE attempt_id = $1`

	a, err := scanAttempt(s.pool.QueryRow(ctx, query, attemptID))
	if err != nil {
		return nil, translate("get attempt by id", err)
	}
	return a, nil
}

// GetByToken retrieves the most recent attempts for a token, newest first.
func (s *AttemptStore) GetByToken(ctx context.Context, tokenID uint64, limit int) ([]*domain.EvolutionAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM evolution_attempts
		WHERE token_id = $1
		ORDER BY attempted_at DESC, attempt_id DESC
	`
	args := []any{int64(tokenID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get attempts by token: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// GetByScanRun retrieves all attempts of a scan, ordered by attempted_at ASC.
func (s *AttemptStore) GetByScanRun(ctx context.Context, runID string) ([]*domain.EvolutionAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM evolution_attempts
		WHERE scan_run_id = $1
		ORDER BY attempted_at ASC, attempt_id ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get attempts by scan run: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// scanAttempt scans a single row into an EvolutionAttempt.
func scanAttempt(row pgx.Row) (*domain.EvolutionAttempt, error) {
	var a domain.EvolutionAttempt
	var tier string
	var tokenID, blockNumber int64

	err := row.Scan(
		&a.AttemptID,
		&a.ScanRunID,
		&tokenID,
		&a.Status,
		&a.Reason,
		&a.Error,
		&tier,
		&a.Score,
		&a.Version,
		&a.NewURI,
		&a.Nonce,
		&a.Deadline,
		&a.TxHash,
		&blockNumber,
		&a.AttemptedAt,
	)
	if err != nil {
		return nil, err
	}

	a.TokenID = uint64(tokenID)
	a.BlockNumber = uint64(blockNumber)
	a.EvolutionType = domain.Tier(tier)
	return &a, nil
}

// scanAttempts scans multiple rows into a slice of EvolutionAttempt.
func scanAttempts(rows pgx.Rows) ([]*domain.EvolutionAttempt, error) {
	var attempts []*domain.EvolutionAttempt

	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt rows: %w", err)
	}

	return attempts, nil
}
