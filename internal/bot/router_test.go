package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/chain"
	"github.com/Klingon-tech/klingnet-bot/internal/chain/chaintest"
	"github.com/Klingon-tech/klingnet-bot/internal/conversation"
	"github.com/Klingon-tech/klingnet-bot/internal/dispatch"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/market"
	"github.com/Klingon-tech/klingnet-bot/internal/storage"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

const (
	destAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	pepeAddr = "0x6982508145454Ce325dDbE47a25d4ec3d2311933"
)

type fakeMarket struct {
	tok   *market.Token
	err   error
	calls int
}

func (f *fakeMarket) Lookup(_ context.Context, _ string) (*market.Token, error) {
	f.calls++
	return f.tok, f.err
}

// testEnv holds all components for a router test.
type testEnv struct {
	router   *Router
	accounts *account.Store
	prompts  *conversation.Machine
	gateway  *chaintest.Gateway
	market   *fakeMarket
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	db := storage.NewMemory()
	env := &testEnv{
		accounts: account.NewStore(storage.NewPrefixDB(db, []byte("acct/")), nil),
		prompts:  conversation.New(storage.NewPrefixDB(db, []byte("prompt/")), conversation.Options{}),
		gateway:  chaintest.New(),
		market:   &fakeMarket{},
	}
	env.router = NewRouter(Config{
		Accounts:   env.accounts,
		Balances:   env.gateway,
		Dispatcher: dispatch.New(env.gateway, nil),
		Prompts:    env.prompts,
		Market:     env.market,
	})
	return env
}

func (e *testEnv) send(identity string, kind Kind, payload string) *Result {
	return e.router.Handle(context.Background(), NewEvent(identity, kind, SourceMessage, payload, payload))
}

func (e *testEnv) click(identity string, kind Kind, payload string) *Result {
	return e.router.Handle(context.Background(), NewEvent(identity, kind, SourceCallback, payload, ""))
}

func (e *testEnv) wallet(t *testing.T, identity string) *account.Account {
	t.Helper()
	res, err := e.accounts.Resolve(context.Background(), identity)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return res.Account
}

func ether(s string) *big.Int {
	v, err := wallet.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestStart_NewThenExisting(t *testing.T) {
	env := setupTestEnv(t)

	first := env.send("42", KindStart, "")
	if first.Status != StatusOK || !strings.Contains(first.Message, "New Wallet Created") {
		t.Fatalf("first /start = %+v", first)
	}
	second := env.send("42", KindStart, "")
	if !strings.Contains(second.Message, "Your ETH Wallet") {
		t.Fatalf("second /start = %+v", second)
	}
	if first.Data["address"] != second.Data["address"] {
		t.Errorf("address changed: %s then %s", first.Data["address"], second.Data["address"])
	}
	if second.Data["created"] != "" {
		t.Error("second /start reported a new account")
	}
}

func TestBalance_NoWallet(t *testing.T) {
	env := setupTestEnv(t)

	res := env.send("42", KindBalance, "")
	if res.Status != StatusError || res.Message != msgNoWallet {
		t.Fatalf("balance without wallet = %+v", res)
	}
	if env.gateway.Calls() != 0 {
		t.Error("balance without wallet should not reach the chain")
	}
	if _, err := env.accounts.Get(context.Background(), "42"); !errors.Is(err, account.ErrNotFound) {
		t.Error("balance must not create a wallet")
	}
}

func TestBalance_ZeroIsNotNoWallet(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")

	res := env.send("42", KindBalance, "")
	if res.Status != StatusOK || res.Message != fmt.Sprintf(msgBalance, "0") {
		t.Fatalf("zero balance = %+v", res)
	}
}

func TestBalance_Formatted(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("2.5"))

	res := env.send("42", KindBalance, "")
	if res.Message != fmt.Sprintf(msgBalance, "2.5") {
		t.Errorf("balance message = %q", res.Message)
	}
	if res.Data["balance_wei"] != ether("2.5").String() {
		t.Errorf("balance_wei = %q", res.Data["balance_wei"])
	}
	if len(res.Keyboard) != 1 || res.Keyboard[0][0].Data != CallbackWithdraw {
		t.Errorf("keyboard = %+v, want a withdraw button", res.Keyboard)
	}
}

func TestBalance_NodeDown(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")
	env.gateway.BalanceErr = fmt.Errorf("%w: balance: dial tcp", chain.ErrGatewayUnavailable)

	res := env.send("42", KindBalance, "")
	if res.Status != StatusError || res.Message != msgNodeDown {
		t.Fatalf("balance with node down = %+v", res)
	}
}

func TestBalance_NodeErrorReplyIsNotATransactionFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")
	env.gateway.BalanceErr = fmt.Errorf("%w: balance: header not found", chain.ErrGatewayUnavailable)

	res := env.send("42", KindBalance, "")
	if res.Message != msgNodeDown {
		t.Fatalf("balance after a node error reply = %+v, want %q", res, msgNodeDown)
	}
	if strings.Contains(res.Message, "Transaction") {
		t.Errorf("balance failure mentions a transaction: %q", res.Message)
	}
}

func TestTrade(t *testing.T) {
	env := setupTestEnv(t)
	env.market.tok = &market.Token{Symbol: "PEPE", PriceUSD: "0.00001", ContractAddress: pepeAddr}

	res := env.send("42", KindTradeQuery, "pepe")
	if res.Status != StatusOK {
		t.Fatalf("trade = %+v", res)
	}
	if !strings.Contains(res.Message, "PEPE") || !strings.Contains(res.Message, pepeAddr) {
		t.Errorf("trade message = %q", res.Message)
	}
	if len(res.Keyboard) != 3 {
		t.Fatalf("keyboard rows = %d, want 3 (two buys + cancel)", len(res.Keyboard))
	}
	if got := res.Keyboard[0][0].Data; got != "buy_0.1_"+pepeAddr {
		t.Errorf("first button data = %q", got)
	}
	if got := res.Keyboard[2][0].Data; got != CallbackCancel {
		t.Errorf("last button data = %q, want cancel", got)
	}
	for _, row := range res.Keyboard {
		if len(row[0].Data) > 64 {
			t.Errorf("callback data %q exceeds 64 bytes", row[0].Data)
		}
	}
}

func TestTrade_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	if res := env.send("42", KindTradeQuery, "nothing"); res.Message != msgTokenNotFound {
		t.Errorf("no match = %+v", res)
	}
	env.market.err = market.ErrUnavailable
	if res := env.send("42", KindTradeQuery, "pepe"); res.Message != msgTokenNotFound {
		t.Errorf("lookup error = %+v", res)
	}
	if res := env.send("42", KindTradeQuery, "  "); res.Message != msgTradeUsage {
		t.Errorf("empty query = %+v", res)
	}
}

func TestTrade_NonEVMContractNoBuyButtons(t *testing.T) {
	env := setupTestEnv(t)
	env.market.tok = &market.Token{Symbol: "BONK", PriceUSD: "0.1", ContractAddress: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"}

	res := env.send("42", KindTradeQuery, "bonk")
	if len(res.Keyboard) != 1 || res.Keyboard[0][0].Data != CallbackCancel {
		t.Errorf("keyboard = %+v, want cancel only", res.Keyboard)
	}
}

func TestBuy(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")

	res := env.click("42", KindBuyIntent, "0.1 "+pepeAddr)
	if res.Status != StatusOK {
		t.Fatalf("buy = %+v", res)
	}
	tx := env.gateway.LastSubmitted()
	if tx == nil {
		t.Fatal("buy submitted nothing")
	}
	if *tx.To() != common.HexToAddress(pepeAddr) || tx.Value().Cmp(ether("0.1")) != 0 {
		t.Errorf("buy tx to=%s value=%s", tx.To().Hex(), tx.Value())
	}
	if res.Data["tx"] != tx.Hash().Hex() {
		t.Errorf("tx = %q, want %s", res.Data["tx"], tx.Hash().Hex())
	}
}

func TestBuy_Failures(t *testing.T) {
	env := setupTestEnv(t)

	if res := env.click("42", KindBuyIntent, "0.1 "+pepeAddr); res.Message != msgNoWallet {
		t.Errorf("buy without wallet = %+v", res)
	}
	env.wallet(t, "42")
	if res := env.click("42", KindBuyIntent, "0.1"); res.Message != msgBuyUsage {
		t.Errorf("malformed buy = %+v", res)
	}
	if res := env.click("42", KindBuyIntent, "0 "+pepeAddr); res.Message != msgInvalidAmount {
		t.Errorf("zero buy = %+v", res)
	}
	if res := env.click("42", KindBuyIntent, "0.1 0xnothex"); res.Message != msgInvalidAddress {
		t.Errorf("bad contract buy = %+v", res)
	}
	if env.gateway.Calls() != 0 {
		t.Errorf("invalid buys made %d gateway calls", env.gateway.Calls())
	}
}

func TestWithdraw_FullBalance(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("2"))

	res := env.send("42", KindWithdrawIntent, "")
	if res.Status != StatusOK || res.Message != msgWithdrawPrompt {
		t.Fatalf("withdraw intent = %+v", res)
	}
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateAwaitingWithdrawAddress {
		t.Fatalf("state = %q, want awaiting address", st)
	}

	res = env.send("42", KindFollowup, destAddr)
	if res.Status != StatusOK {
		t.Fatalf("withdraw reply = %+v", res)
	}
	tx := env.gateway.LastSubmitted()
	if tx == nil {
		t.Fatal("withdraw submitted nothing")
	}
	if *tx.To() != common.HexToAddress(destAddr) {
		t.Errorf("withdraw to %s, want %s", tx.To().Hex(), destAddr)
	}
	if tx.Value().Cmp(ether("2")) != 0 {
		t.Errorf("withdraw value = %s, want 2 ETH", tx.Value())
	}
	if res.Data["tx"] == "" {
		t.Error("withdraw reply has no transaction reference")
	}
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateIdle {
		t.Errorf("state after withdraw = %q, want idle", st)
	}
}

func TestWithdraw_InvalidAddress(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("2"))

	env.send("42", KindWithdrawIntent, "")
	res := env.send("42", KindFollowup, "not-an-address")
	if res.Status != StatusError || res.Message != msgInvalidAddress {
		t.Fatalf("invalid address reply = %+v", res)
	}
	if env.gateway.Calls() != 0 {
		t.Errorf("invalid address made %d gateway calls, want 0", env.gateway.Calls())
	}

	// The prompt was single-shot; a retry is just an unknown message.
	res = env.send("42", KindFollowup, destAddr)
	if res.Message != msgUnknown || env.gateway.SubmitCount() != 0 {
		t.Errorf("second message after failed prompt = %+v", res)
	}
}

func TestWithdraw_Rejected(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("2"))
	env.gateway.SubmitErr = fmt.Errorf("%w: submit: insufficient funds", chain.ErrRejected)

	env.send("42", KindWithdrawIntent, "")
	res := env.send("42", KindFollowup, destAddr)
	if res.Status != StatusError || !strings.HasPrefix(res.Message, msgRejected) {
		t.Fatalf("rejected withdraw = %+v", res)
	}
	if res.Data["tx"] != "" {
		t.Error("rejected withdraw produced a transaction reference")
	}
	if env.gateway.SubmitCount() != 1 {
		t.Errorf("submit calls = %d, want 1", env.gateway.SubmitCount())
	}
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateIdle {
		t.Errorf("state after rejection = %q, want idle", st)
	}
}

func TestWithdraw_UnavailableWarnsAboutRetry(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("1"))
	env.gateway.SubmitErr = fmt.Errorf("%w: submit: EOF", chain.ErrGatewayUnavailable)

	env.send("42", KindWithdrawIntent, "")
	if res := env.send("42", KindFollowup, destAddr); res.Message != msgUnavailable {
		t.Fatalf("unavailable withdraw = %+v", res)
	}
}

func TestWithdraw_ZeroBalance(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")

	env.send("42", KindWithdrawIntent, "")
	if res := env.send("42", KindFollowup, destAddr); res.Message != msgNothingToSend {
		t.Fatalf("zero balance withdraw = %+v", res)
	}
	if env.gateway.SubmitCount() != 0 {
		t.Error("zero balance withdraw should not submit")
	}
}

func TestWithdraw_NoWallet(t *testing.T) {
	env := setupTestEnv(t)

	if res := env.send("42", KindWithdrawIntent, ""); res.Message != msgNoWallet {
		t.Fatalf("withdraw without wallet = %+v", res)
	}
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateIdle {
		t.Error("withdraw without wallet should not open a prompt")
	}
}

func TestPrompt_ScopedToIdentity(t *testing.T) {
	env := setupTestEnv(t)
	a := env.wallet(t, "A")
	env.wallet(t, "B")
	env.gateway.SetBalance(a.Address, ether("1"))

	env.send("A", KindWithdrawIntent, "")
	if res := env.send("B", KindFollowup, destAddr); res.Message != msgUnknown {
		t.Fatalf("identity B's message = %+v, want it untouched by A's prompt", res)
	}
	if st, _ := env.prompts.State(context.Background(), "A"); st != conversation.StateAwaitingWithdrawAddress {
		t.Fatal("identity A's prompt was consumed by B")
	}
	if res := env.send("A", KindFollowup, destAddr); res.Status != StatusOK {
		t.Fatalf("identity A's reply = %+v", res)
	}
}

func TestPrompt_CommandIsConsumed(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")

	env.send("42", KindWithdrawIntent, "")
	res := env.router.Handle(context.Background(), NewEvent("42", KindBalance, SourceMessage, "", "/balance"))
	if res.Message != msgInvalidAddress {
		t.Fatalf("/balance while prompted = %+v, want it read as the address", res)
	}
	if env.gateway.Calls() != 0 {
		t.Error("consumed command reached the chain")
	}
}

func TestPrompt_TypedCancelIsReadAsAddress(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("1"))

	prompt := env.send("42", KindWithdrawIntent, "")
	if len(prompt.Keyboard) != 1 || prompt.Keyboard[0][0].Data != CallbackCancel {
		t.Fatalf("prompt keyboard = %+v, want a cancel button", prompt.Keyboard)
	}

	res := env.router.Handle(context.Background(), NewEvent("42", KindCancel, SourceMessage, "", "/cancel"))
	if res.Message != msgInvalidAddress {
		t.Fatalf("typed /cancel while prompted = %+v, want it read as the address", res)
	}
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateIdle {
		t.Error("typed /cancel left the prompt open")
	}
	if env.gateway.SubmitCount() != 0 {
		t.Error("typed /cancel submitted a transaction")
	}

	// With nothing pending the command is a plain cancel again.
	if res := env.router.Handle(context.Background(), NewEvent("42", KindCancel, SourceMessage, "", "/cancel")); res.Message != msgNothingPending {
		t.Errorf("/cancel without a prompt = %+v", res)
	}
}

func TestPrompt_CallbackNotConsumed(t *testing.T) {
	env := setupTestEnv(t)
	env.wallet(t, "42")
	env.market.tok = &market.Token{Symbol: "PEPE", PriceUSD: "1", ContractAddress: pepeAddr}

	env.send("42", KindWithdrawIntent, "")
	env.click("42", KindBuyIntent, "0.1 "+pepeAddr)
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateAwaitingWithdrawAddress {
		t.Fatal("button press consumed the pending prompt")
	}

	if res := env.click("42", KindCancel, ""); res.Message != msgCancelled {
		t.Fatalf("cancel = %+v", res)
	}
	if st, _ := env.prompts.State(context.Background(), "42"); st != conversation.StateIdle {
		t.Error("cancel did not clear the prompt")
	}
	if res := env.click("42", KindCancel, ""); res.Message != msgNothingPending {
		t.Errorf("second cancel = %+v", res)
	}
}

func TestPrompt_WithdrawTwiceOverwrites(t *testing.T) {
	env := setupTestEnv(t)
	acct := env.wallet(t, "42")
	env.gateway.SetBalance(acct.Address, ether("1"))

	env.click("42", KindWithdrawIntent, "")
	env.click("42", KindWithdrawIntent, "")
	env.send("42", KindFollowup, destAddr)
	if res := env.send("42", KindFollowup, destAddr); res.Message != msgUnknown {
		t.Fatalf("second reply = %+v, want a single prompt", res)
	}
	if env.gateway.SubmitCount() != 1 {
		t.Errorf("submits = %d, want 1", env.gateway.SubmitCount())
	}
}

func TestHelpAndUnknown(t *testing.T) {
	env := setupTestEnv(t)
	if res := env.send("42", KindHelp, ""); !strings.Contains(res.Message, "/withdraw") {
		t.Errorf("help = %q", res.Message)
	}
	if res := env.send("42", KindFollowup, "hello"); res.Message != msgUnknown {
		t.Errorf("unknown = %+v", res)
	}
	if res := env.send("42", Kind("bogus"), ""); res.Status != StatusError {
		t.Errorf("bogus kind = %+v", res)
	}
}

func TestFailure_DistinctMessages(t *testing.T) {
	errs := []error{
		account.ErrNotFound,
		wallet.ErrInvalidAddress,
		wallet.ErrInvalidAmount,
		chain.ErrRejected,
		chain.ErrGatewayUnavailable,
		errors.New("disk full"),
	}
	seen := make(map[string]error)
	for _, err := range errs {
		msg := failure(err, true).Message
		if prev, dup := seen[msg]; dup {
			t.Errorf("%v and %v share the message %q", prev, err, msg)
		}
		seen[msg] = err
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b*c`d[e"); got != `a\_b\*c\`+"`"+`d\[e` {
		t.Errorf("escapeMarkdown() = %q", got)
	}
}
