package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jetlagged/skyshield/internal/domain"
)

// Backend is the subset of the JSON-RPC API the contract client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Signer signs transactions for the sending account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

var _ Backend = (*ethclient.Client)(nil)

// gasHeadroom pads the node's gas estimate, in percent.
const gasHeadroom = 20

// defaultPollInterval is how often a pending transaction's receipt is polled.
const defaultPollInterval = 2 * time.Second

// Client is a FlightMarket contract client bound to one network.
type Client struct {
	network      Network
	backend      Backend
	signer       Signer // nil for read-only clients
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger
}

// Dial connects to the network's RPC endpoint and verifies that the node
// serves the expected chain. signer may be nil for a read-only client.
func Dial(ctx context.Context, n Network, signer Signer, logger *slog.Logger) (*Client, error) {
	if n.RPCURL == "" {
		return nil, fmt.Errorf("chain: %s: %w: no rpc url", n.Key, domain.ErrChainNotConfigured)
	}
	ec, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", n.Key, err)
	}
	c, err := NewClient(ctx, n, ec, signer, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(ctx context.Context, n Network, backend Backend, signer Signer, logger *slog.Logger) (*Client, error) {
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: %s: chain id: %w", n.Key, err)
	}
	if n.ChainID != 0 && id.Int64() != n.ChainID {
		return nil, fmt.Errorf("chain: %s: rpc serves chain %s, want %d", n.Key, id, n.ChainID)
	}
	return &Client{
		network:      n,
		backend:      backend,
		signer:       signer,
		chainID:      id,
		pollInterval: defaultPollInterval,
		logger:       logger.With(slog.String("component", "chain"), slog.String("chain", n.Key)),
	}, nil
}

// SetPollInterval overrides how often receipts are polled.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Network returns the network this client is bound to.
func (c *Client) Network() Network { return c.network }

// CanTransact reports whether a signer is configured.
func (c *Client) CanTransact() bool { return c.signer != nil }

// Close releases the RPC connection.
func (c *Client) Close() { c.backend.Close() }

// call runs a read-only contract call and unpacks its outputs.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := c.network.Contract
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsedABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// transact packs, signs and sends a contract call, then waits for it to be
// mined. Once the transaction is broadcast its hash is always returned, also
// when it reverts or the wait is cut short.
func (c *Client) transact(ctx context.Context, method string, args ...any) (common.Hash, *types.Receipt, error) {
	if c.signer == nil {
		return common.Hash{}, nil, fmt.Errorf("%w: no wallet configured", domain.ErrChainNotConfigured)
	}
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("pack %s: %w", method, err)
	}

	from := c.signer.Address()
	to := c.network.Contract

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("nonce: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("estimate gas for %s: %w", method, err)
	}
	gas += gas * gasHeadroom / 100

	tx, err := c.buildTx(ctx, nonce, gas, to, data)
	if err != nil {
		return common.Hash{}, nil, err
	}
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, nil, fmt.Errorf("send %s: %w", method, err)
	}

	hash := signed.Hash()
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("method", method),
		slog.String("tx", hash.Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return hash, nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, receipt, fmt.Errorf("%s reverted in tx %s", method, hash.Hex())
	}
	return hash, receipt, nil
}

// txResult describes a broadcast transaction; zero when nothing was sent.
func txResult(hash common.Hash, receipt *types.Receipt) TxResult {
	var res TxResult
	if hash != (common.Hash{}) {
		res.Hash = hash.Hex()
	}
	if receipt != nil && receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return res
}

// buildTx creates a dynamic-fee transaction on London-enabled chains and a
// legacy one otherwise.
func (c *Client) buildTx(ctx context.Context, nonce, gas uint64, to common.Address, data []byte) (*types.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Data:     data,
		}), nil
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}), nil
}

// waitMined polls for the receipt until it is available or ctx is done.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
