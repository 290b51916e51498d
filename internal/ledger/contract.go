package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"evonft-service/internal/domain"
	"evonft-service/internal/observability"
)

// EvolutionABI is the subset of the EvoNFT contract ABI the service uses.
const EvolutionABI = `[
  {"type":"function","name":"canEvolve","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getEvolutionInfo","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"version","type":"uint256"},{"name":"lastEvolved","type":"uint256"},
              {"name":"nextEvolveTime","type":"uint256"},{"name":"nonce","type":"uint256"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"totalMinted","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"evolve","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"newURI","type":"string"},
             {"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"Evolved","anonymous":false,
   "inputs":[{"name":"tokenId","type":"uint256","indexed":true},
             {"name":"newVersion","type":"uint256","indexed":false},
             {"name":"newURI","type":"string","indexed":false}]}
]`

// Default submission settings.
const (
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultReceiptTimeout      = 2 * time.Minute
	DefaultGasMultiplier       = 1.2
)

// ParseEvolutionABI parses EvolutionABI.
func ParseEvolutionABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(EvolutionABI))
}

// ContractOptions configures a Contract.
type ContractOptions struct {
	RPC     RPC
	Address common.Address
	// SubmitterKey pays for evolve transactions. Reads work without it.
	SubmitterKey        *ecdsa.PrivateKey
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	GasMultiplier       float64
	Metrics             *observability.Metrics
}

// Contract implements Ledger over JSON-RPC.
type Contract struct {
	rpc          RPC
	abi          abi.ABI
	address      common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	pollInterval time.Duration
	timeout      time.Duration
	gasMult      float64
	metrics      *observability.Metrics

	chainMu sync.Mutex
	chainID *big.Int

	// txMu serializes nonce allocation for the submitter account.
	txMu sync.Mutex
}

var _ Ledger = (*Contract)(nil)

// NewContract creates a new contract binding.
func NewContract(opts ContractOptions) (*Contract, error) {
	if opts.RPC == nil {
		return nil, errors.New("rpc client is required")
	}
	parsed, err := ParseEvolutionABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	c := &Contract{
		rpc:          opts.RPC,
		abi:          parsed,
		address:      opts.Address,
		key:          opts.SubmitterKey,
		pollInterval: opts.ReceiptPollInterval,
		timeout:      opts.ReceiptTimeout,
		gasMult:      opts.GasMultiplier,
		metrics:      opts.Metrics,
	}
	if c.key != nil {
		c.from = crypto.PubkeyToAddress(c.key.PublicKey)
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultReceiptPollInterval
	}
	if c.timeout <= 0 {
		c.timeout = DefaultReceiptTimeout
	}
	if c.gasMult < 1 {
		c.gasMult = DefaultGasMultiplier
	}
	if c.metrics == nil {
		c.metrics = observability.DefaultMetrics
	}
	return c, nil
}

// Address returns the contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// ChainID returns the chain id, cached after the first successful read.
func (c *Contract) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()

	if c.chainID == nil {
		id, err := c.rpc.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: chain id: %w", domain.ErrLedger, err)
		}
		c.chainID = id
	}
	return new(big.Int).Set(c.chainID), nil
}

// CooldownPassed calls canEvolve(tokenId).
func (c *Contract) CooldownPassed(ctx context.Context, tokenID uint64) (bool, error) {
	out, err := c.read(ctx, "canEvolve", tokenIDArg(tokenID))
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: canEvolve: unexpected output %T", domain.ErrLedger, out[0])
	}
	return v, nil
}

// EvolutionInfo calls getEvolutionInfo(tokenId).
func (c *Contract) EvolutionInfo(ctx context.Context, tokenID uint64) (*domain.EvolutionInfo, error) {
	out, err := c.read(ctx, "getEvolutionInfo", tokenIDArg(tokenID))
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("%w: getEvolutionInfo: %d outputs", domain.ErrLedger, len(out))
	}
	vals := make([]*big.Int, 4)
	for i := range out {
		v, ok := out[i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: getEvolutionInfo: unexpected output %T", domain.ErrLedger, out[i])
		}
		vals[i] = v
	}
	return &domain.EvolutionInfo{
		Version:        vals[0].Uint64(),
		LastEvolved:    vals[1].Int64(),
		NextEvolveTime: vals[2].Int64(),
		Nonce:          vals[3],
	}, nil
}

// TokenURI calls tokenURI(tokenId).
func (c *Contract) TokenURI(ctx context.Context, tokenID uint64) (string, error) {
	out, err := c.read(ctx, "tokenURI", tokenIDArg(tokenID))
	if err != nil {
		return "", err
	}
	v, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: tokenURI: unexpected output %T", domain.ErrLedger, out[0])
	}
	return v, nil
}

// TotalMinted calls totalMinted().
func (c *Contract) TotalMinted(ctx context.Context) (uint64, error) {
	out, err := c.read(ctx, "totalMinted")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%w: totalMinted: unexpected output %T", domain.ErrLedger, out[0])
	}
	return v.Uint64(), nil
}

// SubmitEvolution builds, signs and broadcasts evolve(...), then waits for
// the receipt. A revert mentioning the nonce is reported as ErrStaleNonce.
func (c *Contract) SubmitEvolution(ctx context.Context, tokenID uint64, newURI string, deadline int64, signature []byte) (*domain.TxReceipt, error) {
	if c.key == nil {
		return nil, fmt.Errorf("%w: no submitter key configured", domain.ErrLedger)
	}

	data, err := c.abi.Pack("evolve", tokenIDArg(tokenID), newURI, big.NewInt(deadline), signature)
	if err != nil {
		return nil, fmt.Errorf("%w: pack evolve: %v", domain.ErrLedger, err)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	hash, err := c.send(ctx, chainID, data)
	if err != nil {
		c.metrics.RecordTransaction("rejected")
		return nil, err
	}

	receipt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		c.metrics.RecordTransaction("unconfirmed")
		return nil, err
	}

	result := &domain.TxReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.metrics.RecordTransaction("reverted")
		return result, fmt.Errorf("%w: %w: tx %s", domain.ErrLedger, ErrReverted, result.TxHash)
	}
	c.metrics.RecordTransaction("success")
	return result, nil
}

func (c *Contract) send(ctx context.Context, chainID *big.Int, data []byte) (common.Hash, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	gas, err := c.rpc.EstimateGas(ctx, c.from, c.address, data)
	if err != nil {
		return common.Hash{}, classifySubmitError("estimate gas", err)
	}
	gas = uint64(math.Round(float64(gas) * c.gasMult))

	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: account nonce: %w", domain.ErrLedger, err)
	}
	gasPrice, err := c.rpc.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas price: %w", domain.ErrLedger, err)
	}

	to := c.address
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign tx: %v", domain.ErrLedger, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: encode tx: %v", domain.ErrLedger, err)
	}

	hash, err := c.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, classifySubmitError("send transaction", err)
	}
	return hash, nil
}

func (c *Contract) waitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: receipt %s: %w", domain.ErrLedger, hash.Hex(), err)
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w: tx %s", domain.ErrLedger, ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (c *Contract) read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", domain.ErrLedger, method, err)
	}
	raw, err := c.rpc.Call(ctx, c.from, c.address, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrLedger, method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", domain.ErrLedger, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: empty output", domain.ErrLedger, method)
	}
	return out, nil
}

// classifySubmitError maps node rejections onto the domain taxonomy. Only
// contract reverts naming the nonce are stale authorizations; an account
// "nonce too low" is an ordinary ledger failure.
func classifySubmitError(op string, err error) error {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) && isStaleNonceRevert(rpcErr.Message) {
		return fmt.Errorf("%w: %w: %s: %v", domain.ErrLedger, domain.ErrStaleNonce, op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrLedger, op, err)
}

func tokenIDArg(tokenID uint64) *big.Int {
	return new(big.Int).SetUint64(tokenID)
}

func isStaleNonceRevert(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "revert") && strings.Contains(msg, "nonce")
}
