// Package main signs and verifies evolution authorizations offline.
//
// Sign:   authorize --signer-key 0x.. --contract 0x.. --chain-id 1 --token-id 7 --uri ipfs://.. --nonce 0
// Verify: authorize --verify --signature 0x.. --contract 0x.. --chain-id 1 --token-id 7 --uri ipfs://.. --nonce 0 --deadline 1700003600
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"evonft-service/internal/domain"
	"evonft-service/internal/signing"
)

// Output is the JSON result of both modes.
type Output struct {
	Signer    string `json:"signer"`
	TokenID   uint64 `json:"tokenId"`
	NewURI    string `json:"newUri"`
	Nonce     string `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Digest    string `json:"digest"`
	Signature string `json:"signature,omitempty"`
	Valid     *bool  `json:"valid,omitempty"`
}

// staticChain serves a fixed chain id to the authority.
type staticChain struct{ id *big.Int }

func (c staticChain) ChainID(context.Context) (*big.Int, error) { return c.id, nil }

func main() {
	logger := log.New(os.Stderr, "[authorize] ", log.LstdFlags)
	if err := run(os.Args[1:], os.Stdout, time.Now); err != nil {
		logger.Fatal(err)
	}
}

func run(args []string, stdout io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	signerKey := fs.String("signer-key", os.Getenv("SIGNER_PRIVATE_KEY"), "Hex secp256k1 signing key")
	contract := fs.String("contract", os.Getenv("EVOLUTION_CONTRACT"), "Verifying contract address")
	chainID := fs.String("chain-id", "31337", "Chain id")
	name := fs.String("domain-name", signing.DefaultName, "EIP-712 domain name")
	tokenID := fs.Uint64("token-id", 0, "Token id")
	uri := fs.String("uri", "", "New metadata URI (required)")
	nonce := fs.String("nonce", "0", "Ledger nonce for the token")
	deadline := fs.Int64("deadline", 0, "Unix deadline (default now + validity window)")
	verify := fs.Bool("verify", false, "Verify --signature instead of signing")
	signature := fs.String("signature", "", "Hex signature to verify")
	expect := fs.String("expect-signer", "", "Address the signature must recover to (verify mode)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *uri == "" {
		return errors.New("--uri is required")
	}
	if !common.IsHexAddress(*contract) {
		return fmt.Errorf("invalid --contract %q", *contract)
	}
	chain, ok := new(big.Int).SetString(*chainID, 10)
	if !ok {
		return fmt.Errorf("invalid --chain-id %q", *chainID)
	}
	n, ok := new(big.Int).SetString(*nonce, 10)
	if !ok || n.Sign() < 0 {
		return fmt.Errorf("invalid --nonce %q", *nonce)
	}
	if *deadline == 0 {
		*deadline = domain.DeadlineFrom(now())
	}

	d := signing.Domain{
		Name:              *name,
		Version:           signing.DomainVersion,
		ChainID:           chain,
		VerifyingContract: common.HexToAddress(*contract),
	}
	digest, err := signing.Digest(d, *tokenID, *uri, n, *deadline)
	if err != nil {
		return err
	}
	out := Output{
		TokenID:  *tokenID,
		NewURI:   *uri,
		Nonce:    n.String(),
		Deadline: *deadline,
		Digest:   hexutil.Encode(digest),
	}

	if *verify {
		sig, err := hexutil.Decode(*signature)
		if err != nil {
			return fmt.Errorf("invalid --signature: %w", err)
		}
		addr, err := signing.Verify(sig, d, *tokenID, *uri, n, *deadline)
		if err != nil {
			return err
		}
		out.Signer = addr.Hex()
		out.Signature = *signature
		if *expect != "" {
			valid := strings.EqualFold(addr.Hex(), common.HexToAddress(*expect).Hex())
			out.Valid = &valid
		}
		return writeOutput(stdout, out)
	}

	key, err := signing.ParsePrivateKey(*signerKey)
	if err != nil {
		return err
	}
	authority, err := signing.NewAuthority(signing.Options{
		PrivateKey:        key,
		Name:              *name,
		VerifyingContract: d.VerifyingContract,
		Chain:             staticChain{id: chain},
	})
	if err != nil {
		return err
	}
	sig, err := authority.Authorize(context.Background(), *tokenID, *uri, n, *deadline)
	if err != nil {
		return err
	}
	out.Signer = authority.Address().Hex()
	out.Signature = hexutil.Encode(sig)
	return writeOutput(stdout, out)
}

func writeOutput(w io.Writer, out Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
