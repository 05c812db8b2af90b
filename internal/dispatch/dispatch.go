// Package dispatch validates, signs and submits transfers on behalf of
// custodial accounts.
//
// A dispatch that reaches Submit is irreversible. Nothing here retries or
// de-duplicates: calling Dispatch twice for one intent can pay twice, so
// callers must invoke it at most once per user action.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/chain"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/metrics"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

// ErrNoAccount is returned when a request carries no source account.
var ErrNoAccount = errors.New("dispatch: no source account")

// Request is an intended transfer. Exactly one of Amount (decimal ether)
// or Value (wei) is used; Value wins when set.
type Request struct {
	From   *account.Account
	To     string
	Amount string
	Value  *big.Int
}

// Result describes a submitted transaction.
type Result struct {
	TxHash string
	From   common.Address
	To     common.Address
	Value  *big.Int
	Nonce  uint64
}

// Dispatcher turns Requests into submitted transactions.
type Dispatcher struct {
	gateway chain.Gateway
	metrics *metrics.BotMetrics
	logger  zerolog.Logger
}

// New creates a Dispatcher. m may be nil.
func New(gw chain.Gateway, m *metrics.BotMetrics) *Dispatcher {
	return &Dispatcher{
		gateway: gw,
		metrics: m,
		logger:  klog.WithComponent("dispatch"),
	}
}

// Dispatch validates req, signs a legacy EIP-155 transfer with the source
// account's key and submits it.
//
// Address and amount problems are reported before any chain call. Gateway
// failures are returned wrapped, so errors.Is still matches
// chain.ErrRejected and chain.ErrGatewayUnavailable. Once the transaction is
// signed, cancelling ctx no longer abandons the submission; only the
// gateway timeout bounds it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	res, err := d.dispatch(ctx, req)
	d.metrics.RecordDispatch(outcome(err))
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.From == nil || req.From.SigningKey() == nil {
		return nil, ErrNoAccount
	}

	to, err := wallet.ValidateAddress(req.To)
	if err != nil {
		return nil, err
	}

	value, err := requestValue(req)
	if err != nil {
		return nil, err
	}

	params, err := d.gateway.TxParams(ctx, req.From.Address, to, value)
	if err != nil {
		return nil, fmt.Errorf("fetch tx params: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    params.Nonce,
		To:       &to,
		Value:    value,
		Gas:      params.GasLimit,
		GasPrice: params.GasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(params.ChainID), req.From.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	hash, err := d.gateway.Submit(context.WithoutCancel(ctx), signed)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("identity", account.Fingerprint(req.From.Identity)).
			Str("to", to.Hex()).
			Str("value", wallet.FormatAmount(value)).
			Msg("Dispatch failed")
		return nil, fmt.Errorf("submit transaction: %w", err)
	}

	d.logger.Info().
		Str("identity", account.Fingerprint(req.From.Identity)).
		Str("from", req.From.Address.Hex()).
		Str("to", to.Hex()).
		Str("value", wallet.FormatAmount(value)).
		Str("tx", hash).
		Msg("Dispatched")

	return &Result{
		TxHash: hash,
		From:   req.From.Address,
		To:     to,
		Value:  value,
		Nonce:  params.Nonce,
	}, nil
}

func requestValue(req Request) (*big.Int, error) {
	if req.Value != nil {
		if req.Value.Sign() <= 0 {
			return nil, fmt.Errorf("%w: must be greater than zero", wallet.ErrInvalidAmount)
		}
		return new(big.Int).Set(req.Value), nil
	}
	return wallet.ParseAmount(req.Amount)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "submitted"
	case errors.Is(err, wallet.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, wallet.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, chain.ErrRejected):
		return "rejected"
	case errors.Is(err, chain.ErrGatewayUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
