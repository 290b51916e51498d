package signing

import (
	"context"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAuthorize_RoundTripProperty(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t)
	d, err := a.Domain(ctx)
	if err != nil {
		t.Fatal(err)
	}

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("verify recovers the signer", prop.ForAll(
		func(tokenID uint64, uri string, nonce uint64, deadline int64) bool {
			n := new(big.Int).SetUint64(nonce)
			sig, err := a.Authorize(ctx, tokenID, uri, n, deadline)
			if err != nil {
				return false
			}
			got, err := Verify(sig, d, tokenID, uri, n, deadline)
			return err == nil && got == a.Address()
		},
		gen.UInt64(),
		gen.AlphaString(),
		gen.UInt64(),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("a different nonce recovers someone else", prop.ForAll(
		func(tokenID uint64, nonce uint64) bool {
			n := new(big.Int).SetUint64(nonce)
			sig, err := a.Authorize(ctx, tokenID, "ipfs://x", n, 1_700_003_600)
			if err != nil {
				return false
			}
			other := new(big.Int).Add(n, big.NewInt(1))
			got, err := Verify(sig, d, tokenID, "ipfs://x", other, 1_700_003_600)
			return err != nil || got != a.Address()
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
