// Package ledger talks to the evolution contract: cooldown and nonce reads,
// token URIs, and submission of signed evolutions.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"evonft-service/internal/domain"
)

var (
	// ErrTokenNotFound is returned when the contract reports no such token.
	ErrTokenNotFound = errors.New("token not found")

	// ErrReverted is returned when a submitted transaction reverted.
	ErrReverted = errors.New("transaction reverted")

	// ErrReceiptTimeout is returned when no receipt arrived in time.
	ErrReceiptTimeout = errors.New("receipt wait timed out")
)

// Reader is the read side of the contract.
type Reader interface {
	// CooldownPassed reports whether the token may evolve now.
	CooldownPassed(ctx context.Context, tokenID uint64) (bool, error)

	// EvolutionInfo returns version, timing and the next nonce.
	EvolutionInfo(ctx context.Context, tokenID uint64) (*domain.EvolutionInfo, error)

	// TokenURI returns the current metadata pointer. Empty means genesis.
	TokenURI(ctx context.Context, tokenID uint64) (string, error)

	// TotalMinted returns the number of minted tokens. IDs are [0, total).
	TotalMinted(ctx context.Context) (uint64, error)

	// ChainID identifies the network for the signing domain.
	ChainID(ctx context.Context) (*big.Int, error)
}

// Ledger is the full contract surface used by the orchestrator.
type Ledger interface {
	Reader

	// SubmitEvolution sends evolve(tokenId, newURI, deadline, signature) and
	// waits for the receipt.
	SubmitEvolution(ctx context.Context, tokenID uint64, newURI string, deadline int64, signature []byte) (*domain.TxReceipt, error)
}
