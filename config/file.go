package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}

	return values, scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// ApplyFileConfig applies key/value pairs to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. Unknown keys are ignored.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "datadir":
		cfg.DataDir = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	// Storage
	case "storage.backend":
		cfg.Storage.Backend = strings.ToLower(value)
	case "storage.dsn":
		cfg.Storage.DSN = value
	case "storage.timeout":
		cfg.Storage.Timeout, err = parseDuration(value)

	// Chain
	case "chain.rpc":
		cfg.Chain.RPC = value
	case "chain.timeout":
		cfg.Chain.Timeout, err = parseDuration(value)
	case "chain.chain_id":
		cfg.Chain.ChainID, err = strconv.ParseInt(value, 10, 64)

	// Telegram
	case "telegram.token":
		cfg.Telegram.Token = value
	case "telegram.poll_timeout":
		cfg.Telegram.PollTimeout, err = strconv.Atoi(value)

	// Bot
	case "bot.buy_amounts":
		cfg.Bot.BuyAmounts = parseStringList(value)
	case "bot.prompt_ttl":
		cfg.Bot.PromptTTL, err = parseDuration(value)
	case "bot.max_pending":
		cfg.Bot.MaxPending, err = strconv.Atoi(value)

	// Market
	case "market.url":
		cfg.Market.URL = value
	case "market.timeout":
		cfg.Market.Timeout, err = parseDuration(value)

	// Ops
	case "ops.enabled", "ops":
		cfg.Ops.Enabled = parseBool(value)
	case "ops.addr":
		cfg.Ops.Addr = value
	case "ops.port":
		cfg.Ops.Port, err = strconv.Atoi(value)
	case "ops.allowed":
		cfg.Ops.AllowedIPs = parseStringList(value)

	// Wallet
	case "wallet.seal":
		cfg.Wallet.Seal = parseBool(value)
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseDuration accepts Go durations ("15s", "5m") or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a commented default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# Klingbot wallet daemon configuration
#
# Environment variables (KLINGBOT_*) and command-line flags override
# anything set here.

# Data directory (default: ~/.klingbot)
# datadir = ~/.klingbot

# ============================================================================
# Telegram
# ============================================================================

# Bot token from @BotFather. Prefer KLINGBOT_TELEGRAM_TOKEN.
# telegram.token =
telegram.poll_timeout = 60

# ============================================================================
# Ethereum node
# ============================================================================

# JSON-RPC endpoint (http, https, ws or wss)
# chain.rpc = https://rpc.example.org
chain.timeout = 10s
# 0 asks the node for its chain id
chain.chain_id = 0

# ============================================================================
# Storage
# ============================================================================

# badger, sqlite, postgres or memory
storage.backend = badger
# Directory for badger, file for sqlite, connection string for postgres.
# storage.dsn =

# ============================================================================
# Bot
# ============================================================================

# Buy buttons offered under /trade, in ETH
bot.buy_amounts = 0.1,0.5
# How long a withdraw prompt stays open (0 = until answered)
bot.prompt_ttl = 0
# Events queued per user before new ones are refused
bot.max_pending = 64

# ============================================================================
# Token lookup
# ============================================================================

market.url = https://api.dexscreener.com
market.timeout = 10s

# ============================================================================
# Ops server (/healthz, /metrics)
# ============================================================================

ops.enabled = false
ops.addr = 127.0.0.1
ops.port = 9464
ops.allowed = 127.0.0.1

# ============================================================================
# Wallet
# ============================================================================

# Encrypt secret keys with a passphrase asked for at startup
# (or KLINGBOT_WALLET_PASSPHRASE).
wallet.seal = false

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
