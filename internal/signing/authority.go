// Package signing issues and verifies EIP-712 evolution authorizations.
//
// The authority is a pure signing primitive: it does not validate deadlines or
// nonces. The contract enforces both when the authorization is submitted.
package signing

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Typed data constants shared with the contract.
const (
	PrimaryType   = "EvolveRequest"
	DomainVersion = "1"
	DefaultName   = "EvoNFT"
)

// SignatureLength is r || s || v.
const SignatureLength = crypto.SignatureLength

var (
	// ErrInvalidSignature is returned when a signature cannot be decoded or recovered.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidKey is returned when the signing key cannot be parsed.
	ErrInvalidKey = errors.New("invalid signing key")
)

var evolveTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "tokenId", Type: "uint256"},
		{Name: "newURI", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Domain binds a signature to one service, chain and contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// ChainIDSource provides the chain identifier, normally the ledger.
type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Authority signs evolution requests with the service key.
type Authority struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	name     string
	contract common.Address
	chain    ChainIDSource

	mu      sync.Mutex
	chainID *big.Int
}

// Options configures an Authority.
type Options struct {
	PrivateKey        *ecdsa.PrivateKey
	Name              string // defaults to DefaultName
	VerifyingContract common.Address
	Chain             ChainIDSource
}

// NewAuthority creates a new Authority.
func NewAuthority(opts Options) (*Authority, error) {
	if opts.PrivateKey == nil {
		return nil, ErrInvalidKey
	}
	if opts.Chain == nil {
		return nil, errors.New("chain id source is required")
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	return &Authority{
		key:      opts.PrivateKey,
		address:  crypto.PubkeyToAddress(opts.PrivateKey.PublicKey),
		name:     name,
		contract: opts.VerifyingContract,
		chain:    opts.Chain,
	}, nil
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// Address returns the signer address the contract must trust.
func (a *Authority) Address() common.Address {
	return a.address
}

// Domain resolves the signing domain, fetching the chain id once.
func (a *Authority) Domain(ctx context.Context) (Domain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.chainID == nil {
		id, err := a.chain.ChainID(ctx)
		if err != nil {
			return Domain{}, fmt.Errorf("fetch chain id: %w", err)
		}
		a.chainID = new(big.Int).Set(id)
	}
	return Domain{
		Name:              a.name,
		Version:           DomainVersion,
		ChainID:           new(big.Int).Set(a.chainID),
		VerifyingContract: a.contract,
	}, nil
}

// Authorize signs {tokenId, newURI, nonce, deadline}. The returned signature
// uses v in {27, 28} as expected by Solidity's ecrecover.
func (a *Authority) Authorize(ctx context.Context, tokenID uint64, newURI string, nonce *big.Int, deadline int64) ([]byte, error) {
	d, err := a.Domain(ctx)
	if err != nil {
		return nil, err
	}
	digest, err := Digest(d, tokenID, newURI, nonce, deadline)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, a.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Verify recovers the address that signed the request under the given domain.
// A mismatch in any field yields a different address, not an error.
func Verify(signature []byte, d Domain, tokenID uint64, newURI string, nonce *big.Int, deadline int64) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}
	digest, err := Digest(d, tokenID, newURI, nonce, deadline)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Digest computes the EIP-712 hash of an EvolveRequest.
func Digest(d Domain, tokenID uint64, newURI string, nonce *big.Int, deadline int64) ([]byte, error) {
	if d.ChainID == nil {
		return nil, errors.New("domain chain id is required")
	}
	if nonce == nil {
		nonce = new(big.Int)
	}
	typed := apitypes.TypedData{
		Types:       evolveTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"tokenId":  new(big.Int).SetUint64(tokenID),
			"newURI":   newURI,
			"nonce":    new(big.Int).Set(nonce),
			"deadline": big.NewInt(deadline),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return digest, nil
}
