package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Signal keys as they appear on the wire.
const (
	SignalTransactionCount = "transactionCount"
	SignalStakingDays      = "stakingDays"
	SignalTradingVolume    = "tradingVolume"
	SignalDiscordActivity  = "discordActivity"
	SignalTwitterMentions  = "twitterMentions"
)

// Signals are caller-supplied activity counters for one evolution attempt.
// Absent fields are zero. Values are never negative once constructed through
// ParseSignals, DecodeSignals or Normalize.
type Signals struct {
	TransactionCount float64 `json:"transactionCount,omitempty"`
	StakingDays      float64 `json:"stakingDays,omitempty"`
	TradingVolume    float64 `json:"tradingVolume,omitempty"`
	DiscordActivity  float64 `json:"discordActivity,omitempty"`
	TwitterMentions  float64 `json:"twitterMentions,omitempty"`
}

// DefaultScanSignals is the fixed signal set the scheduler evolves with.
// Scores 80 (epic).
var DefaultScanSignals = Signals{
	TransactionCount: 15,
	StakingDays:      10,
	TradingVolume:    1000,
	DiscordActivity:  5,
	TwitterMentions:  5,
}

// Normalize returns a copy with negative and NaN values replaced by zero and
// +Inf clamped to math.MaxFloat64.
func (s Signals) Normalize() Signals {
	return Signals{
		TransactionCount: nonNegative(s.TransactionCount),
		StakingDays:      nonNegative(s.StakingDays),
		TradingVolume:    nonNegative(s.TradingVolume),
		DiscordActivity:  nonNegative(s.DiscordActivity),
		TwitterMentions:  nonNegative(s.TwitterMentions),
	}
}

// DecodeSignals decodes a JSON object of signals. Unknown keys are rejected.
func DecodeSignals(data []byte) (Signals, error) {
	var s Signals
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Signals{}, fmt.Errorf("%w: decode signals: %v", ErrInvalidSignals, err)
	}
	return s.Normalize(), nil
}

// ParseSignals builds Signals from loosely typed string values such as a
// query string. Missing, non-numeric and negative values become zero.
func ParseSignals(values map[string]string) Signals {
	get := func(key string) float64 {
		raw, ok := values[key]
		if !ok {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0
		}
		return nonNegative(v)
	}
	return Signals{
		TransactionCount: get(SignalTransactionCount),
		StakingDays:      get(SignalStakingDays),
		TradingVolume:    get(SignalTradingVolume),
		DiscordActivity:  get(SignalDiscordActivity),
		TwitterMentions:  get(SignalTwitterMentions),
	}
}

// nonNegative maps NaN and negatives to zero and +Inf to the largest finite
// value, so an overflowing count still saturates every component cap.
func nonNegative(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	}
	return v
}
