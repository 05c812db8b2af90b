package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/metrics"
)

// DefaultTimeout bounds each node call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// ethBackend is the subset of ethclient.Client the gateway uses.
type ethBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Options configures an EthGateway.
type Options struct {
	// Timeout bounds every node call. Zero means DefaultTimeout.
	Timeout time.Duration
	// ChainID pins the EIP-155 chain id. Nil asks the node once and caches
	// the answer.
	ChainID *big.Int
	Metrics *metrics.BotMetrics
}

// EthGateway implements Gateway over go-ethereum's ethclient.
type EthGateway struct {
	client  ethBackend
	timeout time.Duration
	metrics *metrics.BotMetrics
	logger  zerolog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to the node at url (http, https, ws or ipc).
func Dial(ctx context.Context, url string, opts Options) (*EthGateway, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrGatewayUnavailable, url, err)
	}
	return newEthGateway(client, opts), nil
}

func newEthGateway(client ethBackend, opts Options) *EthGateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &EthGateway{
		client:  client,
		timeout: timeout,
		metrics: opts.Metrics,
		logger:  klog.Chain,
	}
	if opts.ChainID != nil && opts.ChainID.Sign() > 0 {
		g.chainID = new(big.Int).Set(opts.ChainID)
	}
	return g
}

// Close releases the underlying RPC connection.
func (g *EthGateway) Close() {
	g.client.Close()
}

// Balance returns the balance of addr at the latest block.
func (g *EthGateway) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	bal, err := g.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, g.classifyRead("balance", err)
	}
	return bal, nil
}

// TxParams gathers the parameters for a transfer. Plain transfers use
// TransferGasLimit; when the destination holds code the node estimates.
func (g *EthGateway) TxParams(ctx context.Context, from, to common.Address, value *big.Int) (*TxParams, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	chainID, err := g.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, g.classify("nonce", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, g.classify("gas_price", err)
	}

	gasLimit := TransferGasLimit
	code, err := g.client.CodeAt(ctx, to, nil)
	if err != nil {
		return nil, g.classify("code", err)
	}
	if len(code) > 0 {
		gasLimit, err = g.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &to,
			GasPrice: gasPrice,
			Value:    value,
		})
		if err != nil {
			return nil, g.classify("estimate_gas", err)
		}
	}

	return &TxParams{
		Nonce:    nonce,
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		ChainID:  chainID,
	}, nil
}

// Submit broadcasts tx.
func (g *EthGateway) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.client.SendTransaction(ctx, tx); err != nil {
		return "", g.classify("submit", err)
	}
	hash := tx.Hash().Hex()
	g.logger.Info().Str("tx", hash).Uint64("nonce", tx.Nonce()).Msg("Transaction submitted")
	return hash, nil
}

// ChainID returns the configured chain id, asking the node on first use.
func (g *EthGateway) ChainID(ctx context.Context) (*big.Int, error) {
	g.mu.Lock()
	cached := g.chainID
	g.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	// Fetched outside the lock. Concurrent first callers may all ask.
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	id, err := g.client.ChainID(ctx)
	if err != nil {
		return nil, g.classifyRead("chain_id", err)
	}

	g.mu.Lock()
	if g.chainID == nil {
		g.chainID = id
		g.logger.Info().Str("chain_id", id.String()).Msg("Chain id learned from node")
	}
	id = g.chainID
	g.mu.Unlock()
	return new(big.Int).Set(id), nil
}

// classifyRead maps a failed query onto ErrGatewayUnavailable, error
// replies included. Only submissions can be rejected.
func (g *EthGateway) classifyRead(op string, err error) error {
	g.metrics.RecordGatewayError(op, "unavailable")
	g.logger.Warn().Err(err).Str("op", op).Msg("Node read failed")
	return fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, op, err)
}

// classify maps a client error onto the gateway error classes.
func (g *EthGateway) classify(op string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		g.metrics.RecordGatewayError(op, "rejected")
		g.logger.Debug().Err(err).Str("op", op).Int("code", rpcErr.ErrorCode()).Msg("Node rejected call")
		return fmt.Errorf("%w: %s: %w", ErrRejected, op, err)
	}
	g.metrics.RecordGatewayError(op, "unavailable")
	g.logger.Warn().Err(err).Str("op", op).Msg("Node call failed")
	return fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, op, err)
}
