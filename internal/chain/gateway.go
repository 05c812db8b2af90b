// Package chain talks to an Ethereum-compatible node.
//
// Every call is bounded by the gateway timeout and fails with one of two
// classes: ErrRejected when the node answered with a JSON-RPC error, and
// ErrGatewayUnavailable for everything else (transport, HTTP status,
// undecodable replies, timeouts). Calls are never retried here.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Gateway errors.
var (
	ErrGatewayUnavailable = errors.New("chain gateway unavailable")
	ErrRejected           = errors.New("rejected by node")
)

// TransferGasLimit is the gas used by a plain value transfer to an
// address without code.
const TransferGasLimit uint64 = 21000

// TxParams is everything the node must tell us before a transfer can be
// signed.
type TxParams struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	ChainID  *big.Int
}

// Gateway is the narrow chain interface the rest of the bot depends on.
type Gateway interface {
	// Balance returns the confirmed balance of addr in wei.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	// TxParams returns nonce, gas price, gas limit and chain id for a
	// transfer of value from one address to another.
	TxParams(ctx context.Context, from, to common.Address, value *big.Int) (*TxParams, error)
	// Submit broadcasts a signed transaction and returns its hash.
	Submit(ctx context.Context, tx *types.Transaction) (string, error)
}

// Reason returns the node's own message for a rejected call, or "" when
// err is not a node rejection.
func Reason(err error) string {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Error()
	}
	return ""
}
