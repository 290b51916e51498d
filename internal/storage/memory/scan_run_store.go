package memory

import (
	"context"
	"sort"
	"sync"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

// ScanRunStore is an in-memory implementation of storage.ScanRunStore.
type ScanRunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ScanRun // keyed by run_id
}

// NewScanRunStore creates a new in-memory scan run store.
func NewScanRunStore() *ScanRunStore {
	return &ScanRunStore{
		data: make(map[string]*domain.ScanRun),
	}
}

var _ storage.ScanRunStore = (*ScanRunStore)(nil)

// Insert records a started scan. Returns ErrDuplicateKey if run_id exists.
func (s *ScanRunStore) Insert(_ context.Context, r *domain.ScanRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	runCopy := *r
	s.data[r.RunID] = &runCopy
	return nil
}

// Finish stores the final counters of a scan.
func (s *ScanRunStore) Finish(_ context.Context, r *domain.ScanRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[r.RunID]
	if !exists {
		return storage.ErrNotFound
	}
	runCopy := *r
	runCopy.Trigger = existing.Trigger
	runCopy.StartedAt = existing.StartedAt
	s.data[r.RunID] = &runCopy
	return nil
}

// GetByID retrieves a scan run. Returns ErrNotFound if not exists.
func (s *ScanRunStore) GetByID(_ context.Context, runID string) (*domain.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	runCopy := *r
	return &runCopy, nil
}

// Recent retrieves the latest scans, newest first.
func (s *ScanRunStore) Recent(_ context.Context, limit int) ([]*domain.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ScanRun, 0, len(s.data))
	for _, r := range s.data {
		runCopy := *r
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].RunID > result[j].RunID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
