// klingbot-cli inspects the accounts and health of a klingbotd installation.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-bot/config"
	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/chain"
	"github.com/Klingon-tech/klingnet-bot/internal/storage"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dataDir := ""
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadFromFile(dataDir)
	if err != nil {
		fatal("%v", err)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "address":
		cmdAddress(cfg, cmdArgs)
	case "balance":
		cmdBalance(cfg, cmdArgs)
	case "count":
		cmdCount(cfg)
	case "health":
		cmdHealth(cfg, cmdArgs)
	case "keyaddr":
		cmdKeyAddr(cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingbot-cli [--datadir <path>] <command> [args]

Commands:
  address <identity>   Show the wallet address of a chat identity
  balance <identity>   Show the on-chain balance of a chat identity
  count                Number of custodial accounts
  health [url]         Query the daemon's /healthz (default from ops.addr/ops.port)
  keyaddr <keyfile>    Print the address of a hex-encoded secret key file

Settings come from <datadir>/klingbot.conf and KLINGBOT_* variables.
The badger backend is locked while klingbotd runs; stop the daemon or use
sqlite/postgres to inspect accounts live.
`)
}

// openStore opens the account store the daemon uses.
func openStore(cfg *config.Config) (*account.Store, func()) {
	db, err := storage.Open(cfg.Storage.Backend, cfg.StorageLocation(), cfg.Storage.Timeout)
	if err != nil {
		fatal("open %s storage: %v", cfg.Storage.Backend, err)
	}
	passphrase := passphraseFor(cfg)
	sealer := wallet.NewSealer(passphrase, wallet.DefaultParams())
	clear(passphrase)
	return account.NewStore(storage.NewPrefixDB(db, []byte("acct/")), sealer), func() { db.Close() }
}

func passphraseFor(cfg *config.Config) []byte {
	if cfg.Wallet.Passphrase != "" {
		return []byte(cfg.Wallet.Passphrase)
	}
	if !cfg.Wallet.Seal {
		return nil
	}
	p, err := readPassword("Wallet passphrase: ")
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	return p
}

func lookup(cfg *config.Config, args []string) *account.Account {
	if len(args) != 1 {
		fatal("expected one chat identity")
	}
	store, closeDB := openStore(cfg)
	defer closeDB()
	acct, err := store.Get(context.Background(), args[0])
	if err != nil {
		fatal("%v", err)
	}
	return acct
}

func cmdAddress(cfg *config.Config, args []string) {
	acct := lookup(cfg, args)
	fmt.Printf("identity=%s\n", account.Fingerprint(acct.Identity))
	fmt.Printf("address=%s\n", acct.Address.Hex())
	fmt.Printf("created=%s\n", acct.CreatedAt.Format(time.RFC3339))
}

func cmdBalance(cfg *config.Config, args []string) {
	acct := lookup(cfg, args)
	if cfg.Chain.RPC == "" {
		fatal("chain.rpc is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.Timeout+5*time.Second)
	defer cancel()
	opts := chain.Options{Timeout: cfg.Chain.Timeout}
	if cfg.Chain.ChainID > 0 {
		opts.ChainID = big.NewInt(cfg.Chain.ChainID)
	}
	gw, err := chain.Dial(ctx, cfg.Chain.RPC, opts)
	if err != nil {
		fatal("%v", err)
	}
	defer gw.Close()

	bal, err := gw.Balance(ctx, acct.Address)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("address=%s\n", acct.Address.Hex())
	fmt.Printf("balance=%s ETH\n", wallet.FormatAmount(bal))
	fmt.Printf("wei=%s\n", bal.String())
}

func cmdCount(cfg *config.Config) {
	store, closeDB := openStore(cfg)
	defer closeDB()
	n, err := store.Count()
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(n)
}

func cmdHealth(cfg *config.Config, args []string) {
	url := "http://" + cfg.OpsListenAddr() + "/healthz"
	if len(args) > 0 {
		url = args[0]
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fatal("%v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal("read response: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal(body, &report); err != nil {
		fatal("unexpected response (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if resp.StatusCode != http.StatusOK {
		os.Exit(2)
	}
}

func cmdKeyAddr(args []string) {
	if len(args) != 1 {
		fatal("usage: keyaddr <keyfile>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatal("%v", err)
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
	if err != nil {
		fatal("decode hex: %v", err)
	}
	defer clear(secret)
	_, addr, err := wallet.KeyFromSecret(secret)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("address=%s\n", addr.Hex())
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
