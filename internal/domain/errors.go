package domain

import "errors"

// Failure classes surfaced in evolution results.
var (
	// ErrGenerator marks an enrichment failure that was replaced by a fallback.
	ErrGenerator = errors.New("generator failure")

	// ErrPublish marks a storage publication failure.
	ErrPublish = errors.New("publish failure")

	// ErrLedger marks a ledger read or submission failure.
	ErrLedger = errors.New("ledger failure")

	// ErrStaleNonce marks a submission rejected because the nonce was already consumed.
	ErrStaleNonce = errors.New("stale nonce")

	// ErrInvalidSignals is returned when signal input has an unknown shape.
	ErrInvalidSignals = errors.New("invalid signals")
)
