package domain

import (
	"math/big"
	"time"
)

// AuthorizationValidity is how long a signed authorization stays usable.
const AuthorizationValidity = time.Hour

// EvolutionAuthorization is a signed, single-use permission for the contract
// to move a token's URI. The ledger owns nonce uniqueness and deadline checks.
type EvolutionAuthorization struct {
	TokenID   uint64
	NewURI    string
	Nonce     *big.Int
	Deadline  int64  // unix seconds
	Signature []byte // 65 bytes r||s||v, v in {27,28}
}

// DeadlineFrom returns the deadline for an authorization issued at now.
func DeadlineFrom(now time.Time) int64 {
	return now.Add(AuthorizationValidity).Unix()
}

// EvolutionInfo is the ledger's per-token evolution state.
type EvolutionInfo struct {
	Version        uint64
	LastEvolved    int64 // unix seconds
	NextEvolveTime int64 // unix seconds
	Nonce          *big.Int
}

// TxReceipt describes a confirmed ledger submission.
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64 // 1 success, 0 reverted
}
