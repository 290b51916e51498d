package memory

import (
	"context"
	"sort"
	"sync"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

// AttemptStore is an in-memory implementation of storage.AttemptStore.
type AttemptStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EvolutionAttempt // keyed by attempt_id
}

// NewAttemptStore creates a new in-memory attempt store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		data: make(map[string]*domain.EvolutionAttempt),
	}
}

var _ storage.AttemptStore = (*AttemptStore)(nil)

// Insert adds a new attempt. Returns ErrDuplicateKey if attempt_id exists.
func (s *AttemptStore) Insert(_ context.Context, a *domain.EvolutionAttempt) error {
	if a == nil || a.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.AttemptID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[a.AttemptID] = copyAttempt(a)
	return nil
}

// GetByID retrieves an attempt by its ID. Returns ErrNotFound if not exists.
func (s *AttemptStore) GetByID(_ context.Context, attemptID string) (*domain.EvolutionAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[attemptID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyAttempt(a), nil
}

// GetByToken retrieves the most recent attempts for a token, newest first.
func (s *AttemptStore) GetByToken(_ context.Context, tokenID uint64, limit int) ([]*domain.EvolutionAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EvolutionAttempt
	for _, a := range s.data {
		if a.TokenID == tokenID {
			result = append(result, copyAttempt(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].AttemptedAt != result[j].AttemptedAt {
			return result[i].AttemptedAt > result[j].AttemptedAt
		}
		return result[i].AttemptID > result[j].AttemptID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByScanRun retrieves all attempts of a scan, ordered by attempted_at ASC.
func (s *AttemptStore) GetByScanRun(_ context.Context, runID string) ([]*domain.EvolutionAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EvolutionAttempt
	for _, a := range s.data {
		if a.ScanRunID != nil && *a.ScanRunID == runID {
			result = append(result, copyAttempt(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].AttemptedAt != result[j].AttemptedAt {
			return result[i].AttemptedAt < result[j].AttemptedAt
		}
		return result[i].AttemptID < result[j].AttemptID
	})
	return result, nil
}

func copyAttempt(a *domain.EvolutionAttempt) *domain.EvolutionAttempt {
	c := *a
	if a.ScanRunID != nil {
		id := *a.ScanRunID
		c.ScanRunID = &id
	}
	if a.Score != nil {
		score := *a.Score
		c.Score = &score
	}
	return &c
}
