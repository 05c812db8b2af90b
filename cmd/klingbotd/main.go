// Klingbot custodial wallet daemon.
//
// Usage:
//
//	klingbotd --rpc=<url>     Run the bot (token from KLINGBOT_TELEGRAM_TOKEN)
//	klingbotd --seal ...      Encrypt secret keys with a passphrase
//	klingbotd --help          Show help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-bot/config"
	"github.com/Klingon-tech/klingnet-bot/internal/service"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}

	passphrase, err := sealingPassphrase(cfg)
	if err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := service.New(ctx, cfg, passphrase)
	clear(passphrase)
	if err != nil {
		fatal("%v", err)
	}

	if err := s.Start(); err != nil {
		s.Stop()
		fatal("%v", err)
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
	}

	s.Stop()
	if err := s.Err(); err != nil {
		fatal("%v", err)
	}
}

// sealingPassphrase returns the key-sealing passphrase: from the
// environment when set, otherwise asked on the terminal when wallet.seal is
// on. Without sealing it returns nil.
func sealingPassphrase(cfg *config.Config) ([]byte, error) {
	if cfg.Wallet.Passphrase != "" {
		p := []byte(cfg.Wallet.Passphrase)
		cfg.Wallet.Passphrase = ""
		return p, nil
	}
	if !cfg.Wallet.Seal {
		return nil, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("wallet.seal needs a terminal or KLINGBOT_WALLET_PASSPHRASE")
	}
	p, err := readPassword("Wallet passphrase: ")
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if len(p) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	return p, nil
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
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
