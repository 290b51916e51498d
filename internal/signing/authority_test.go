package signing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fixedChain struct {
	id    *big.Int
	calls int
	err   error
}

func (c *fixedChain) ChainID(ctx context.Context) (*big.Int, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.id, nil
}

func newTestAuthority(t *testing.T) (*Authority, *fixedChain) {
	t.Helper()
	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)

	chain := &fixedChain{id: big.NewInt(31337)}
	a, err := NewAuthority(Options{
		PrivateKey:        key,
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Chain:             chain,
	})
	require.NoError(t, err)
	return a, chain
}

func TestAuthorize_VerifyRecoversSigner(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t)

	sig, err := a.Authorize(ctx, 7, "ipfs://QmNew", big.NewInt(3), 1_700_003_600)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	d, err := a.Domain(ctx)
	require.NoError(t, err)

	got, err := Verify(sig, d, 7, "ipfs://QmNew", big.NewInt(3), 1_700_003_600)
	require.NoError(t, err)
	assert.Equal(t, a.Address(), got)
}

func TestVerify_AnyFieldChangeYieldsDifferentSigner(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t)

	sig, err := a.Authorize(ctx, 7, "ipfs://QmNew", big.NewInt(3), 1_700_003_600)
	require.NoError(t, err)
	d, err := a.Domain(ctx)
	require.NoError(t, err)

	otherChain := d
	otherChain.ChainID = big.NewInt(1)
	otherContract := d
	otherContract.VerifyingContract = common.HexToAddress("0x0000000000000000000000000000000000000001")

	tests := []struct {
		name     string
		domain   Domain
		tokenID  uint64
		uri      string
		nonce    *big.Int
		deadline int64
	}{
		{"token id", d, 8, "ipfs://QmNew", big.NewInt(3), 1_700_003_600},
		{"uri", d, 7, "ipfs://QmOther", big.NewInt(3), 1_700_003_600},
		{"nonce", d, 7, "ipfs://QmNew", big.NewInt(4), 1_700_003_600},
		{"deadline", d, 7, "ipfs://QmNew", big.NewInt(3), 1_700_003_601},
		{"chain id", otherChain, 7, "ipfs://QmNew", big.NewInt(3), 1_700_003_600},
		{"contract", otherContract, 7, "ipfs://QmNew", big.NewInt(3), 1_700_003_600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(sig, tt.domain, tt.tokenID, tt.uri, tt.nonce, tt.deadline)
			if err != nil {
				// Recovery can fail outright on a mismatched digest; either way the signer does not match.
				return
			}
			assert.NotEqual(t, a.Address(), got)
		})
	}
}

func TestAuthorize_DeterministicPerInput(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t)

	s1, err := a.Authorize(ctx, 1, "ipfs://x", big.NewInt(0), 100)
	require.NoError(t, err)
	s2, err := a.Authorize(ctx, 1, "ipfs://x", big.NewInt(0), 100)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestAuthorize_ExpiredDeadlineStillSigned(t *testing.T) {
	a, _ := newTestAuthority(t)

	sig, err := a.Authorize(context.Background(), 1, "ipfs://x", big.NewInt(0), 1)
	require.NoError(t, err)
	assert.Len(t, sig, SignatureLength)
}

func TestDomain_ChainIDFetchedOnce(t *testing.T) {
	ctx := context.Background()
	a, chain := newTestAuthority(t)

	for i := 0; i < 3; i++ {
		_, err := a.Authorize(ctx, uint64(i), "ipfs://x", big.NewInt(int64(i)), 100)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, chain.calls)

	d, err := a.Domain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultName, d.Name)
	assert.Equal(t, DomainVersion, d.Version)
	assert.Equal(t, int64(31337), d.ChainID.Int64())
}

func TestAuthorize_ChainIDError(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chainErr := errors.New("rpc down")
	a, err := NewAuthority(Options{PrivateKey: key, Chain: &fixedChain{err: chainErr}})
	require.NoError(t, err)

	_, err = a.Authorize(context.Background(), 1, "ipfs://x", big.NewInt(0), 100)
	assert.ErrorIs(t, err, chainErr)
}

func TestVerify_BadSignatureLength(t *testing.T) {
	d := Domain{Name: DefaultName, Version: DomainVersion, ChainID: big.NewInt(1)}
	_, err := Verify([]byte{1, 2, 3}, d, 1, "x", big.NewInt(0), 0)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParsePrivateKey(t *testing.T) {
	_, err := ParsePrivateKey("not-hex")
	assert.ErrorIs(t, err, ErrInvalidKey)

	k1, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	k2, err := ParsePrivateKey(testKeyHex[2:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(k1.PublicKey), crypto.PubkeyToAddress(k2.PublicKey))
}

func TestNewAuthority_Validation(t *testing.T) {
	_, err := NewAuthority(Options{Chain: &fixedChain{}})
	assert.ErrorIs(t, err, ErrInvalidKey)

	key, _ := crypto.GenerateKey()
	_, err = NewAuthority(Options{PrivateKey: key})
	assert.Error(t, err)
}
