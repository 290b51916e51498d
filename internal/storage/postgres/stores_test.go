package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

func TestAttemptStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	runs := NewScanRunStore(pool)
	store := NewAttemptStore(pool)

	require.NoError(t, runs.Insert(ctx, &domain.ScanRun{RunID: "run-1", Trigger: "warmup", StartedAt: 1700000000000}))

	attempt := &domain.EvolutionAttempt{
		AttemptID:     "attempt-001",
		ScanRunID:     ptr("run-1"),
		TokenID:       42,
		Status:        "success",
		EvolutionType: domain.TierEpic,
		Score:         ptr(80),
		Version:       3,
		NewURI:        "s3://evonft/Qmabc.json",
		Nonce:         "2",
		Deadline:      1700003600,
		TxHash:        "0xdeadbeef",
		BlockNumber:   1234,
		AttemptedAt:   1700000001000,
	}
	require.NoError(t, store.Insert(ctx, attempt))

	got, err := store.GetByID(ctx, "attempt-001")
	require.NoError(t, err)
	assert.Equal(t, attempt, got)
}

func TestAttemptStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAttemptStore(pool)

	attempt := &domain.EvolutionAttempt{
		AttemptID:   "attempt-dup",
		TokenID:     1,
		Status:      "ineligible",
		Reason:      domain.ReasonCooldown,
		AttemptedAt: 1700000000000,
	}
	require.NoError(t, store.Insert(ctx, attempt))
	assert.ErrorIs(t, store.Insert(ctx, attempt), storage.ErrDuplicateKey)
}

func TestAttemptStore_InsertUnknownScanRun(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewAttemptStore(pool).Insert(context.Background(), &domain.EvolutionAttempt{
		AttemptID:   "attempt-orphan",
		ScanRunID:   ptr("no-such-run"),
		TokenID:     1,
		Status:      "success",
		AttemptedAt: 1700000000000,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestAttemptStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewAttemptStore(pool).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAttemptStore_Queries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	runs := NewScanRunStore(pool)
	store := NewAttemptStore(pool)

	require.NoError(t, runs.Insert(ctx, &domain.ScanRun{RunID: "run-q", Trigger: "scheduled", StartedAt: 1}))

	for _, a := range []*domain.EvolutionAttempt{
		{AttemptID: "a1", ScanRunID: ptr("run-q"), TokenID: 9, Status: "failed", Error: "boom", AttemptedAt: 100},
		{AttemptID: "a2", ScanRunID: ptr("run-q"), TokenID: 9, Status: "success", AttemptedAt: 300},
		{AttemptID: "a3", TokenID: 9, Status: "ineligible", Reason: domain.ReasonCooldown, AttemptedAt: 200},
		{AttemptID: "a4", ScanRunID: ptr("run-q"), TokenID: 10, Status: "success", AttemptedAt: 150},
	} {
		require.NoError(t, store.Insert(ctx, a))
	}

	byToken, err := store.GetByToken(ctx, 9, 2)
	require.NoError(t, err)
	require.Len(t, byToken, 2)
	assert.Equal(t, "a2", byToken[0].AttemptID)
	assert.Equal(t, "a3", byToken[1].AttemptID)
	assert.Nil(t, byToken[1].ScanRunID)
	assert.Nil(t, byToken[1].Score)

	byRun, err := store.GetByScanRun(ctx, "run-q")
	require.NoError(t, err)
	require.Len(t, byRun, 3)
	assert.Equal(t, "a1", byRun[0].AttemptID)
	assert.Equal(t, "a4", byRun[1].AttemptID)
	assert.Equal(t, "a2", byRun[2].AttemptID)
}

func TestScanRunStore_InsertFinishRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewScanRunStore(pool)

	require.NoError(t, store.Insert(ctx, &domain.ScanRun{RunID: "r1", Trigger: "warmup", StartedAt: 1000}))
	require.NoError(t, store.Insert(ctx, &domain.ScanRun{RunID: "r2", Trigger: "scheduled", StartedAt: 2000}))
	assert.ErrorIs(t, store.Insert(ctx, &domain.ScanRun{RunID: "r1", Trigger: "manual"}), storage.ErrDuplicateKey)

	require.NoError(t, store.Finish(ctx, &domain.ScanRun{
		RunID:       "r1",
		FinishedAt:  1500,
		TotalTokens: 4,
		Eligible:    3,
		Skipped:     1,
		Processed:   3,
		Succeeded:   2,
		Failed:      1,
	}))
	assert.ErrorIs(t, store.Finish(ctx, &domain.ScanRun{RunID: "nope"}), storage.ErrNotFound)

	r1, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "warmup", r1.Trigger)
	assert.Equal(t, int64(1500), r1.FinishedAt)
	assert.Equal(t, 2, r1.Succeeded)
	assert.Equal(t, 1, r1.Skipped)

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "r2", recent[0].RunID)
}
