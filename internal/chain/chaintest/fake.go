// Package chaintest provides an in-memory chain.Gateway for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingnet-bot/internal/chain"
)

// Gateway is a scriptable chain.Gateway that records every call.
type Gateway struct {
	mu sync.Mutex

	Balances  map[common.Address]*big.Int
	ChainID   *big.Int
	GasPrice  *big.Int
	Nonce     uint64
	BalanceErr error
	ParamsErr  error
	SubmitErr  error

	BalanceCalls int
	ParamsCalls  int
	Submitted    []*types.Transaction
}

var _ chain.Gateway = (*Gateway)(nil)

// New returns a fake gateway on chain id 1 with a 1 gwei gas price.
func New() *Gateway {
	return &Gateway{
		Balances: make(map[common.Address]*big.Int),
		ChainID:  big.NewInt(1),
		GasPrice: big.NewInt(1_000_000_000),
	}
}

// SetBalance sets the balance reported for addr.
func (g *Gateway) SetBalance(addr common.Address, wei *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Balances[addr] = new(big.Int).Set(wei)
}

// Calls returns the total number of gateway calls made.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.BalanceCalls + g.ParamsCalls + len(g.Submitted)
}

// SubmitCount returns how many transactions were submitted, failed ones
// included.
func (g *Gateway) SubmitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Submitted)
}

// LastSubmitted returns the most recent submitted transaction, or nil.
func (g *Gateway) LastSubmitted() *types.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Submitted) == 0 {
		return nil
	}
	return g.Submitted[len(g.Submitted)-1]
}

func (g *Gateway) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.BalanceCalls++
	if g.BalanceErr != nil {
		return nil, g.BalanceErr
	}
	if bal, ok := g.Balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (g *Gateway) TxParams(_ context.Context, _, _ common.Address, _ *big.Int) (*chain.TxParams, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ParamsCalls++
	if g.ParamsErr != nil {
		return nil, g.ParamsErr
	}
	return &chain.TxParams{
		Nonce:    g.Nonce,
		GasPrice: new(big.Int).Set(g.GasPrice),
		GasLimit: chain.TransferGasLimit,
		ChainID:  new(big.Int).Set(g.ChainID),
	}, nil
}

func (g *Gateway) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Submitted = append(g.Submitted, tx)
	if g.SubmitErr != nil {
		return "", g.SubmitErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.Nonce++
	return tx.Hash().Hex(), nil
}
