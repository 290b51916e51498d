// Package stub provides an in-memory evolution contract for tests and
// local runs. It enforces the same rules as the deployed contract: cooldown,
// deadline, single-use nonce and trusted-signer signature.
package stub

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"evonft-service/internal/domain"
	"evonft-service/internal/ledger"
	"evonft-service/internal/signing"
)

// DefaultCooldown matches the deployed contract.
const DefaultCooldown = 24 * time.Hour

// Options configures a Ledger.
type Options struct {
	ChainID  *big.Int
	Contract common.Address
	// Name is the EIP-712 domain name; defaults to signing.DefaultName.
	Name string
	// TrustedSigner is the only address whose authorizations are accepted.
	TrustedSigner common.Address
	Cooldown      time.Duration
	Now           func() time.Time
}

type token struct {
	uri         string
	version     uint64
	lastEvolved int64
	nonce       *big.Int
}

// Ledger is an in-memory implementation of ledger.Ledger.
type Ledger struct {
	mu       sync.Mutex
	chainID  *big.Int
	domain   signing.Domain
	signer   common.Address
	cooldown time.Duration
	now      func() time.Time

	tokens []*token
	block  uint64
	events []ledger.EvolvedEvent

	// Fault injection.
	readErr   map[uint64]error
	submitErr error
}

var _ ledger.Ledger = (*Ledger)(nil)

// New creates an empty Ledger.
func New(opts Options) *Ledger {
	chainID := opts.ChainID
	if chainID == nil {
		chainID = big.NewInt(31337)
	}
	name := opts.Name
	if name == "" {
		name = signing.DefaultName
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cooldown := opts.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	return &Ledger{
		chainID: new(big.Int).Set(chainID),
		domain: signing.Domain{
			Name:              name,
			Version:           signing.DomainVersion,
			ChainID:           new(big.Int).Set(chainID),
			VerifyingContract: opts.Contract,
		},
		signer:   opts.TrustedSigner,
		cooldown: cooldown,
		now:      now,
		readErr:  make(map[uint64]error),
	}
}

// Mint adds a token with the given URI and returns its id. lastEvolved is
// zero so a fresh token is immediately evolvable.
func (l *Ledger) Mint(uri string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = append(l.tokens, &token{uri: uri, version: 1, nonce: new(big.Int)})
	return uint64(len(l.tokens) - 1)
}

// SetLastEvolved overrides the token's last evolution time.
func (l *Ledger) SetLastEvolved(tokenID uint64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if int(tokenID) < len(l.tokens) {
		l.tokens[tokenID].lastEvolved = at.Unix()
	}
}

// FailReads makes every read for tokenID return err. A nil err clears it.
func (l *Ledger) FailReads(tokenID uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		delete(l.readErr, tokenID)
		return
	}
	l.readErr[tokenID] = err
}

// FailSubmissions makes every SubmitEvolution return err. A nil err clears it.
func (l *Ledger) FailSubmissions(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
}

// Events returns the Evolved events emitted so far.
func (l *Ledger) Events() []ledger.EvolvedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.EvolvedEvent(nil), l.events...)
}

// ChainID implements ledger.Reader.
func (l *Ledger) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.chainID), nil
}

// TotalMinted implements ledger.Reader.
func (l *Ledger) TotalMinted(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.tokens)), nil
}

// CooldownPassed implements ledger.Reader.
func (l *Ledger) CooldownPassed(ctx context.Context, tokenID uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(tokenID)
	if err != nil {
		return false, err
	}
	return l.cooldownPassed(t), nil
}

// EvolutionInfo implements ledger.Reader.
func (l *Ledger) EvolutionInfo(ctx context.Context, tokenID uint64) (*domain.EvolutionInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(tokenID)
	if err != nil {
		return nil, err
	}
	return &domain.EvolutionInfo{
		Version:        t.version,
		LastEvolved:    t.lastEvolved,
		NextEvolveTime: t.lastEvolved + int64(l.cooldown/time.Second),
		Nonce:          new(big.Int).Set(t.nonce),
	}, nil
}

// TokenURI implements ledger.Reader.
func (l *Ledger) TokenURI(ctx context.Context, tokenID uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(tokenID)
	if err != nil {
		return "", err
	}
	return t.uri, nil
}

// SubmitEvolution implements ledger.Ledger. Rejections mirror contract
// reverts; the nonce is consumed only on success.
func (l *Ledger) SubmitEvolution(ctx context.Context, tokenID uint64, newURI string, deadline int64, signature []byte) (*domain.TxReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.submitErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLedger, l.submitErr)
	}
	t, err := l.get(tokenID)
	if err != nil {
		return nil, err
	}

	now := l.now().Unix()
	if now > deadline {
		return nil, fmt.Errorf("%w: execution reverted: Signature expired", domain.ErrLedger)
	}
	if !l.cooldownPassed(t) {
		return nil, fmt.Errorf("%w: execution reverted: Cooldown not passed", domain.ErrLedger)
	}

	signer, err := signing.Verify(signature, l.domain, tokenID, newURI, t.nonce, deadline)
	if err != nil || signer != l.signer {
		// The digest binds the current nonce, so a signature over a consumed
		// nonce recovers a foreign address.
		return nil, fmt.Errorf("%w: %w: execution reverted: Invalid signature for nonce %s", domain.ErrLedger, domain.ErrStaleNonce, t.nonce)
	}

	t.uri = newURI
	t.version++
	t.lastEvolved = now
	t.nonce.Add(t.nonce, big.NewInt(1))
	l.block++

	hash := txHash(tokenID, t.nonce)
	l.events = append(l.events, ledger.EvolvedEvent{
		TokenID:     tokenID,
		NewVersion:  t.version,
		NewURI:      newURI,
		BlockNumber: l.block,
		TxHash:      hash,
	})

	return &domain.TxReceipt{
		TxHash:      hash.Hex(),
		BlockNumber: l.block,
		GasUsed:     85_000,
		Status:      1,
	}, nil
}

func (l *Ledger) get(tokenID uint64) (*token, error) {
	if err, ok := l.readErr[tokenID]; ok {
		return nil, fmt.Errorf("%w: %w", domain.ErrLedger, err)
	}
	if tokenID >= uint64(len(l.tokens)) {
		return nil, fmt.Errorf("%w: %w: %d", domain.ErrLedger, ledger.ErrTokenNotFound, tokenID)
	}
	return l.tokens[tokenID], nil
}

func (l *Ledger) cooldownPassed(t *token) bool {
	return l.now().Unix() >= t.lastEvolved+int64(l.cooldown/time.Second)
}

func txHash(tokenID uint64, nonce *big.Int) common.Hash {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, tokenID)
	return crypto.Keccak256Hash([]byte("evolve"), buf, nonce.Bytes())
}
