package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !klog.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}

	switch cfg.Storage.Backend {
	case BackendBadger, BackendMemory, BackendSQLite:
	case BackendPostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.backend=postgres requires storage.dsn")
		}
	default:
		return fmt.Errorf("storage.backend must be badger, sqlite, postgres or memory")
	}
	if cfg.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}

	if cfg.Chain.RPC == "" {
		return fmt.Errorf("chain.rpc is required")
	}
	if err := checkURL(cfg.Chain.RPC, "http", "https", "ws", "wss"); err != nil {
		return fmt.Errorf("chain.rpc: %w", err)
	}
	if cfg.Chain.Timeout <= 0 {
		return fmt.Errorf("chain.timeout must be positive")
	}
	if cfg.Chain.ChainID < 0 {
		return fmt.Errorf("chain.chain_id must not be negative")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram.poll_timeout must not be negative")
	}

	for i, amt := range cfg.Bot.BuyAmounts {
		if _, err := wallet.ParseAmount(amt); err != nil {
			return fmt.Errorf("bot.buy_amounts[%d] %q: %w", i, amt, err)
		}
	}
	if cfg.Bot.PromptTTL < 0 {
		return fmt.Errorf("bot.prompt_ttl must not be negative")
	}
	if cfg.Bot.MaxPending < 1 {
		return fmt.Errorf("bot.max_pending must be at least 1")
	}

	if err := checkURL(cfg.Market.URL, "http", "https"); err != nil {
		return fmt.Errorf("market.url: %w", err)
	}
	if cfg.Market.Timeout <= 0 {
		return fmt.Errorf("market.timeout must be positive")
	}

	if cfg.Ops.Port < 0 || cfg.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be in range [0, 65535]")
	}
	for i, entry := range cfg.Ops.AllowedIPs {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("ops.allowed[%d] %q is not an IP or CIDR", i, entry)
		}
	}

	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", u.Scheme, strings.Join(schemes, ", "))
}
