package memory

import (
	"context"
	"sort"
	"sync"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

// ScoreObservationStore is an in-memory implementation of storage.ScoreObservationStore.
type ScoreObservationStore struct {
	mu   sync.RWMutex
	data map[uint64][]*domain.ScoreObservation // keyed by token_id
}

// NewScoreObservationStore creates a new in-memory observation store.
func NewScoreObservationStore() *ScoreObservationStore {
	return &ScoreObservationStore{
		data: make(map[uint64][]*domain.ScoreObservation),
	}
}

var _ storage.ScoreObservationStore = (*ScoreObservationStore)(nil)

// InsertBulk appends observations.
func (s *ScoreObservationStore) InsertBulk(_ context.Context, obs []*domain.ScoreObservation) error {
	for _, o := range obs {
		if o == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obs {
		obsCopy := *o
		s.data[o.TokenID] = append(s.data[o.TokenID], &obsCopy)
	}
	return nil
}

// GetByTimeRange retrieves observations for a token within [start, end] (inclusive).
func (s *ScoreObservationStore) GetByTimeRange(_ context.Context, tokenID uint64, start, end int64) ([]*domain.ScoreObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ScoreObservation
	for _, o := range s.data[tokenID] {
		if o.ObservedAt >= start && o.ObservedAt <= end {
			obsCopy := *o
			result = append(result, &obsCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})
	return result, nil
}
