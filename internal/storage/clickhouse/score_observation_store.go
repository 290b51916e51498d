package clickhouse

import (
	"context"
	"fmt"

	"evonft-service/internal/domain"
	"evonft-service/internal/storage"
)

// ScoreObservationStore implements storage.ScoreObservationStore using ClickHouse.
type ScoreObservationStore struct {
	conn *Conn
}

// NewScoreObservationStore creates a new ScoreObservationStore.
func NewScoreObservationStore(conn *Conn) *ScoreObservationStore {
	return &ScoreObservationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ScoreObservationStore = (*ScoreObservationStore)(nil)

// InsertBulk appends observations in one batch.
func (s *ScoreObservationStore) InsertBulk(ctx context.Context, obs []*domain.ScoreObservation) error {
	if len(obs) == 0 {
		return nil
	}
	for _, o := range obs {
		if o == nil {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO score_observations (
			token_id, observed_at, score, tier, eligible, reason,
			transaction_count, staking_days, trading_volume, discord_activity, twitter_mentions
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		var eligible uint8
		if o.Eligible {
			eligible = 1
		}
		err = batch.Append(
			o.TokenID,
			uint64(o.ObservedAt),
			int32(o.Score),
			string(o.Tier),
			eligible,
			o.Reason,
			o.Signals.TransactionCount,
			o.Signals.StakingDays,
			o.Signals.TradingVolume,
			o.Signals.DiscordActivity,
			o.Signals.TwitterMentions,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves observations for a token within [start, end] (inclusive).
func (s *ScoreObservationStore) GetByTimeRange(ctx context.Context, tokenID uint64, start, end int64) ([]*domain.ScoreObservation, error) {
	query := `
		SELECT token_id, observed_at, score, tier, eligible, reason,
			transaction_count, staking_days, trading_volume, discord_activity, twitter_mentions
		FROM score_observations
		WHERE token_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, uint64(max(start, 0)), uint64(max(end, 0)))
	if err != nil {
		return nil, fmt.Errorf("query score observations: %w", err)
	}
	defer rows.Close()

	var result []*domain.ScoreObservation
	for rows.Next() {
		var (
			o          domain.ScoreObservation
			observedAt uint64
			score      int32
			tier       string
			eligible   uint8
		)
		err := rows.Scan(
			&o.TokenID,
			&observedAt,
			&score,
			&tier,
			&eligible,
			&o.Reason,
			&o.Signals.TransactionCount,
			&o.Signals.StakingDays,
			&o.Signals.TradingVolume,
			&o.Signals.DiscordActivity,
			&o.Signals.TwitterMentions,
		)
		if err != nil {
			return nil, fmt.Errorf("scan score observation: %w", err)
		}
		o.ObservedAt = int64(observedAt)
		o.Score = int(score)
		o.Tier = domain.Tier(tier)
		o.Eligible = eligible == 1
		result = append(result, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score observations: %w", err)
	}
	return result, nil
}
