package stub

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evonft-service/internal/domain"
	"evonft-service/internal/ledger"
	"evonft-service/internal/signing"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Ledger, *signing.Authority, *clock) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	l := New(Options{
		Contract:      contract,
		TrustedSigner: crypto.PubkeyToAddress(key.PublicKey),
		Now:           clk.Now,
	})
	a, err := signing.NewAuthority(signing.Options{PrivateKey: key, VerifyingContract: contract, Chain: l})
	require.NoError(t, err)
	return l, a, clk
}

func authorize(t *testing.T, l *Ledger, a *signing.Authority, tokenID uint64, uri string, deadline int64) []byte {
	t.Helper()
	info, err := l.EvolutionInfo(context.Background(), tokenID)
	require.NoError(t, err)
	sig, err := a.Authorize(context.Background(), tokenID, uri, info.Nonce, deadline)
	require.NoError(t, err)
	return sig
}

func TestLedger_EvolveHappyPath(t *testing.T) {
	ctx := context.Background()
	l, a, clk := setup(t)
	id := l.Mint("")

	passed, err := l.CooldownPassed(ctx, id)
	require.NoError(t, err)
	assert.True(t, passed)

	deadline := domain.DeadlineFrom(clk.Now())
	sig := authorize(t, l, a, id, "ipfs://v2", deadline)

	receipt, err := l.SubmitEvolution(ctx, id, "ipfs://v2", deadline, sig)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)

	uri, err := l.TokenURI(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://v2", uri)

	info, err := l.EvolutionInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)
	assert.Equal(t, int64(1), info.Nonce.Int64())
	assert.Equal(t, clk.Now().Unix(), info.LastEvolved)

	passed, err = l.CooldownPassed(ctx, id)
	require.NoError(t, err)
	assert.False(t, passed)

	require.Len(t, l.Events(), 1)
	assert.Equal(t, ledger.EvolvedEvent{TokenID: id, NewVersion: 2, NewURI: "ipfs://v2", BlockNumber: 1, TxHash: common.HexToHash(receipt.TxHash)}, l.Events()[0])
}

func TestLedger_ReplayRejected(t *testing.T) {
	ctx := context.Background()
	l, a, clk := setup(t)
	id := l.Mint("")

	deadline := domain.DeadlineFrom(clk.Now())
	sig := authorize(t, l, a, id, "ipfs://v2", deadline)
	_, err := l.SubmitEvolution(ctx, id, "ipfs://v2", deadline, sig)
	require.NoError(t, err)

	clk.Advance(DefaultCooldown)
	_, err = l.SubmitEvolution(ctx, id, "ipfs://v2", domain.DeadlineFrom(clk.Now()), sig)
	assert.ErrorIs(t, err, domain.ErrLedger)

	// Same signature, original deadline now expired as well.
	_, err = l.SubmitEvolution(ctx, id, "ipfs://v2", deadline, sig)
	assert.ErrorIs(t, err, domain.ErrLedger)
}

func TestLedger_StaleNonceWhenTwoAuthorizationsRace(t *testing.T) {
	ctx := context.Background()
	l, a, clk := setup(t)
	id := l.Mint("")
	l.cooldown = time.Second

	deadline := domain.DeadlineFrom(clk.Now())
	first := authorize(t, l, a, id, "ipfs://a", deadline)
	second := authorize(t, l, a, id, "ipfs://b", deadline)

	_, err := l.SubmitEvolution(ctx, id, "ipfs://a", deadline, first)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	_, err = l.SubmitEvolution(ctx, id, "ipfs://b", deadline, second)
	assert.ErrorIs(t, err, domain.ErrStaleNonce)
	assert.ErrorIs(t, err, domain.ErrLedger)
}

func TestLedger_ExpiredDeadlineRejected(t *testing.T) {
	ctx := context.Background()
	l, a, clk := setup(t)
	id := l.Mint("")

	deadline := clk.Now().Unix() - 1
	sig := authorize(t, l, a, id, "ipfs://v2", deadline)
	_, err := l.SubmitEvolution(ctx, id, "ipfs://v2", deadline, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestLedger_ForeignSignerRejected(t *testing.T) {
	ctx := context.Background()
	l, _, clk := setup(t)
	id := l.Mint("")

	key, _ := crypto.GenerateKey()
	rogue, err := signing.NewAuthority(signing.Options{PrivateKey: key, VerifyingContract: l.domain.VerifyingContract, Chain: l})
	require.NoError(t, err)

	deadline := domain.DeadlineFrom(clk.Now())
	sig, err := rogue.Authorize(ctx, id, "ipfs://v2", big.NewInt(0), deadline)
	require.NoError(t, err)

	_, err = l.SubmitEvolution(ctx, id, "ipfs://v2", deadline, sig)
	assert.ErrorIs(t, err, domain.ErrLedger)
}

func TestLedger_ReadsAndFaults(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t)
	l.Mint("ipfs://genesis")
	l.Mint("")

	total, err := l.TotalMinted(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)

	_, err = l.TokenURI(ctx, 5)
	assert.ErrorIs(t, err, ledger.ErrTokenNotFound)

	boom := errors.New("node down")
	l.FailReads(1, boom)
	_, err = l.CooldownPassed(ctx, 1)
	assert.ErrorIs(t, err, boom)
	l.FailReads(1, nil)
	_, err = l.CooldownPassed(ctx, 1)
	assert.NoError(t, err)

	l.SetLastEvolved(0, time.Unix(1_700_000_000, 0))
	passed, err := l.CooldownPassed(ctx, 0)
	require.NoError(t, err)
	assert.False(t, passed)
}
