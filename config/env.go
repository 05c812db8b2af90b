package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable the daemon reads.
const EnvPrefix = "KLINGBOT"

// envOverrides mirrors the file keys as KLINGBOT_* variables. Every field is
// a string so an unset variable can be told apart from a zero value.
type envOverrides struct {
	DataDir string `envconfig:"DATADIR"`

	LogLevel string `envconfig:"LOG_LEVEL"`
	LogFile  string `envconfig:"LOG_FILE"`
	LogJSON  string `envconfig:"LOG_JSON"`

	StorageBackend string `envconfig:"STORAGE_BACKEND"`
	StorageDSN     string `envconfig:"STORAGE_DSN"`
	StorageTimeout string `envconfig:"STORAGE_TIMEOUT"`

	ChainRPC     string `envconfig:"CHAIN_RPC"`
	ChainTimeout string `envconfig:"CHAIN_TIMEOUT"`
	ChainID      string `envconfig:"CHAIN_ID"`

	TelegramToken       string `envconfig:"TELEGRAM_TOKEN"`
	TelegramPollTimeout string `envconfig:"TELEGRAM_POLL_TIMEOUT"`

	BuyAmounts string `envconfig:"BOT_BUY_AMOUNTS"`
	PromptTTL  string `envconfig:"BOT_PROMPT_TTL"`
	MaxPending string `envconfig:"BOT_MAX_PENDING"`

	MarketURL     string `envconfig:"MARKET_URL"`
	MarketTimeout string `envconfig:"MARKET_TIMEOUT"`

	OpsEnabled string `envconfig:"OPS_ENABLED"`
	OpsAddr    string `envconfig:"OPS_ADDR"`
	OpsPort    string `envconfig:"OPS_PORT"`
	OpsAllowed string `envconfig:"OPS_ALLOWED"`

	WalletSeal       string `envconfig:"WALLET_SEAL"`
	WalletPassphrase string `envconfig:"WALLET_PASSPHRASE"`
}

// keys maps each override onto its config file key.
func (e *envOverrides) keys() map[string]string {
	return map[string]string{
		"datadir":               e.DataDir,
		"log.level":             e.LogLevel,
		"log.file":              e.LogFile,
		"log.json":              e.LogJSON,
		"storage.backend":       e.StorageBackend,
		"storage.dsn":           e.StorageDSN,
		"storage.timeout":       e.StorageTimeout,
		"chain.rpc":             e.ChainRPC,
		"chain.timeout":         e.ChainTimeout,
		"chain.chain_id":        e.ChainID,
		"telegram.token":        e.TelegramToken,
		"telegram.poll_timeout": e.TelegramPollTimeout,
		"bot.buy_amounts":       e.BuyAmounts,
		"bot.prompt_ttl":        e.PromptTTL,
		"bot.max_pending":       e.MaxPending,
		"market.url":            e.MarketURL,
		"market.timeout":        e.MarketTimeout,
		"ops.enabled":           e.OpsEnabled,
		"ops.addr":              e.OpsAddr,
		"ops.port":              e.OpsPort,
		"ops.allowed":           e.OpsAllowed,
		"wallet.seal":           e.WalletSeal,
	}
}

// LoadEnvFiles loads .env files into the process environment. Missing files
// are skipped and variables already set are left alone.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv applies KLINGBOT_* environment variables to cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	values := make(map[string]string)
	for key, v := range env.keys() {
		if v != "" {
			values[key] = v
		}
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return err
	}
	if env.WalletPassphrase != "" {
		cfg.Wallet.Passphrase = env.WalletPassphrase
	}
	return nil
}
