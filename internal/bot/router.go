package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/conversation"
	"github.com/Klingon-tech/klingnet-bot/internal/dispatch"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/market"
	"github.com/Klingon-tech/klingnet-bot/internal/metrics"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

// DefaultBuyAmounts are the buy buttons offered under a token lookup.
var DefaultBuyAmounts = []string{"0.1", "0.5"}

// Accounts resolves chat identities to custodial accounts.
type Accounts interface {
	Resolve(ctx context.Context, identity string) (*account.ResolveResult, error)
	Get(ctx context.Context, identity string) (*account.Account, error)
}

// Balances reads balances from the chain.
type Balances interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Dispatcher submits transfers.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Prompts stores pending conversation prompts.
type Prompts interface {
	Begin(ctx context.Context, identity string, kind conversation.Kind) (*conversation.PendingPrompt, error)
	Take(ctx context.Context, identity string) (*conversation.PendingPrompt, bool, error)
	Clear(ctx context.Context, identity string) (bool, error)
}

// TokenLookup finds token metadata for a free-text query.
type TokenLookup interface {
	Lookup(ctx context.Context, query string) (*market.Token, error)
}

// Config holds the collaborators of a Router. Market may be nil, which
// disables /trade.
type Config struct {
	Accounts   Accounts
	Balances   Balances
	Dispatcher Dispatcher
	Prompts    Prompts
	Market     TokenLookup
	BuyAmounts []string
	Metrics    *metrics.BotMetrics
}

// Router handles one event at a time. It holds no per-identity state of
// its own, so events of different identities may run concurrently; events
// of one identity must be fed in order (see Serializer).
type Router struct {
	cfg    Config
	logger zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg Config) *Router {
	if len(cfg.BuyAmounts) == 0 {
		cfg.BuyAmounts = DefaultBuyAmounts
	}
	return &Router{cfg: cfg, logger: klog.Bot}
}

// Handle processes ev and returns the reply. It never returns nil.
func (r *Router) Handle(ctx context.Context, ev Event) *Result {
	start := time.Now()
	logger := r.logger.With().
		Str("event_id", ev.ID.String()).
		Str("identity", account.Fingerprint(ev.Identity)).
		Str("kind", string(ev.Kind)).
		Logger()

	res := r.route(logger.WithContext(ctx), ev)
	r.cfg.Metrics.ObserveEvent(string(ev.Kind), string(res.Status), time.Since(start))

	logger.Debug().
		Str("status", string(res.Status)).
		Dur("took", time.Since(start)).
		Msg("Event handled")
	return res
}

func (r *Router) route(ctx context.Context, ev Event) *Result {
	// A typed message answers an open prompt before anything else looks at it.
	if ev.Source == SourceMessage {
		p, ok, err := r.cfg.Prompts.Take(ctx, ev.Identity)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Prompt lookup failed")
			return replyError(msgInternal)
		}
		if ok {
			return r.answerPrompt(ctx, ev, p)
		}
	}

	switch ev.Kind {
	case KindStart:
		return r.start(ctx, ev)
	case KindBalance:
		return r.balance(ctx, ev)
	case KindTradeQuery:
		return r.trade(ctx, ev)
	case KindBuyIntent:
		return r.buy(ctx, ev)
	case KindWithdrawIntent:
		return r.withdraw(ctx, ev)
	case KindCancel:
		return r.cancel(ctx, ev)
	case KindHelp:
		return reply(msgHelp, nil)
	case KindFollowup:
		return reply(msgUnknown, nil)
	default:
		return replyError(msgUnknown)
	}
}

func (r *Router) start(ctx context.Context, ev Event) *Result {
	res, err := r.cfg.Accounts.Resolve(ctx, ev.Identity)
	if err != nil {
		return r.failed(ctx, "Resolve account", err, false)
	}
	addr := res.Account.Address.Hex()
	data := map[string]string{"address": addr}
	if res.Created {
		r.cfg.Metrics.AccountCreated()
		data["created"] = "true"
		return reply(fmt.Sprintf(msgNewWallet, addr), data)
	}
	return reply(fmt.Sprintf(msgYourWallet, addr), data)
}

func (r *Router) balance(ctx context.Context, ev Event) *Result {
	acct, err := r.cfg.Accounts.Get(ctx, ev.Identity)
	if err != nil {
		return r.failed(ctx, "Load account", err, false)
	}
	bal, err := r.cfg.Balances.Balance(ctx, acct.Address)
	if err != nil {
		return r.failed(ctx, "Read balance", err, false)
	}
	res := reply(fmt.Sprintf(msgBalance, wallet.FormatAmount(bal)), map[string]string{
		"address":     acct.Address.Hex(),
		"balance_wei": bal.String(),
	})
	if bal.Sign() > 0 {
		res.Keyboard = [][]Button{{withdrawButton()}}
	}
	return res
}

func (r *Router) trade(ctx context.Context, ev Event) *Result {
	query := strings.TrimSpace(ev.Payload)
	if query == "" {
		return replyError(msgTradeUsage)
	}
	if r.cfg.Market == nil {
		return replyError(msgTokenNotFound)
	}

	tok, err := r.cfg.Market.Lookup(ctx, query)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("query", query).Msg("Token lookup failed")
		return replyError(msgTokenNotFound)
	}
	if tok == nil {
		return replyError(msgTokenNotFound)
	}

	res := reply(fmt.Sprintf(msgToken, escapeMarkdown(tok.Symbol), escapeMarkdown(tok.PriceUSD), tok.ContractAddress), map[string]string{
		"symbol":    tok.Symbol,
		"price_usd": tok.PriceUSD,
		"contract":  tok.ContractAddress,
	})
	// Only offer to pay contracts that can actually receive a transfer.
	if _, err := wallet.ValidateAddress(tok.ContractAddress); err == nil {
		for _, amt := range r.cfg.BuyAmounts {
			res.Keyboard = append(res.Keyboard, []Button{buyButton(amt, tok.ContractAddress)})
		}
	}
	res.Keyboard = append(res.Keyboard, []Button{cancelButton()})
	return res
}

// buy sends the chosen amount straight to the token contract address.
func (r *Router) buy(ctx context.Context, ev Event) *Result {
	amount, contract, found := strings.Cut(strings.TrimSpace(ev.Payload), " ")
	if !found || amount == "" || contract == "" {
		return replyError(msgBuyUsage)
	}

	acct, err := r.cfg.Accounts.Get(ctx, ev.Identity)
	if err != nil {
		return r.failed(ctx, "Load account", err, false)
	}
	res, err := r.cfg.Dispatcher.Dispatch(ctx, dispatch.Request{
		From:   acct,
		To:     strings.TrimSpace(contract),
		Amount: amount,
	})
	if err != nil {
		return r.failed(ctx, "Buy dispatch", err, true)
	}
	return reply(fmt.Sprintf(msgTxSent, res.TxHash), map[string]string{
		"tx":    res.TxHash,
		"to":    res.To.Hex(),
		"value": res.Value.String(),
	})
}

func (r *Router) withdraw(ctx context.Context, ev Event) *Result {
	if _, err := r.cfg.Accounts.Get(ctx, ev.Identity); err != nil {
		return r.failed(ctx, "Load account", err, false)
	}
	if _, err := r.cfg.Prompts.Begin(ctx, ev.Identity, conversation.KindWithdrawAddress); err != nil {
		return r.failed(ctx, "Open withdraw prompt", err, false)
	}
	res := reply(msgWithdrawPrompt, nil)
	res.Keyboard = [][]Button{{cancelButton()}}
	return res
}

func (r *Router) cancel(ctx context.Context, ev Event) *Result {
	cleared, err := r.cfg.Prompts.Clear(ctx, ev.Identity)
	if err != nil {
		return r.failed(ctx, "Clear prompt", err, false)
	}
	if cleared {
		return reply(msgCancelled, nil)
	}
	return reply(msgNothingPending, nil)
}

// answerPrompt handles the message that follows a prompt. The prompt is
// already consumed, so whatever happens here the identity is back to idle.
func (r *Router) answerPrompt(ctx context.Context, ev Event, p *conversation.PendingPrompt) *Result {
	switch p.Kind {
	case conversation.KindWithdrawAddress:
		return r.withdrawTo(ctx, ev)
	default:
		zerolog.Ctx(ctx).Warn().Str("prompt", string(p.Kind)).Msg("Unknown prompt kind dropped")
		return replyError(msgUnknown)
	}
}

// withdrawTo sends the whole balance to the address in the message. No
// gas is reserved; the node rejects the transfer if the balance cannot
// also cover the fee.
func (r *Router) withdrawTo(ctx context.Context, ev Event) *Result {
	text := ev.Text
	if text == "" {
		text = ev.Payload
	}
	to, err := wallet.ValidateAddress(text)
	if err != nil {
		return replyError(msgInvalidAddress)
	}

	acct, err := r.cfg.Accounts.Get(ctx, ev.Identity)
	if err != nil {
		return r.failed(ctx, "Load account", err, false)
	}
	bal, err := r.cfg.Balances.Balance(ctx, acct.Address)
	if err != nil {
		return r.failed(ctx, "Read balance", err, false)
	}
	if bal.Sign() <= 0 {
		return replyError(msgNothingToSend)
	}

	res, err := r.cfg.Dispatcher.Dispatch(ctx, dispatch.Request{
		From:  acct,
		To:    to.Hex(),
		Value: bal,
	})
	if err != nil {
		return r.failed(ctx, "Withdraw dispatch", err, true)
	}
	return reply(fmt.Sprintf(msgWithdrawn, wallet.FormatAmount(res.Value), res.TxHash), map[string]string{
		"tx":    res.TxHash,
		"to":    res.To.Hex(),
		"value": res.Value.String(),
	})
}

// failed logs err at a level matching its class and maps it to a reply.
func (r *Router) failed(ctx context.Context, op string, err error, write bool) *Result {
	logger := zerolog.Ctx(ctx)
	switch {
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, wallet.ErrInvalidAmount):
		logger.Debug().Err(err).Msg(op)
	default:
		logger.Warn().Err(err).Msg(op + " failed")
	}
	return failure(err, write)
}
