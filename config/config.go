// Package config handles application configuration.
//
// Settings are layered, lowest precedence first:
//   - Built-in defaults
//   - The klingbot.conf file in the data directory
//   - Environment (a .env file, then KLINGBOT_* variables)
//   - Command-line flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Storage backend names accepted by storage.backend.
const (
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the daemon's runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	Log      LogConfig
	Storage  StorageConfig
	Chain    ChainConfig
	Telegram TelegramConfig
	Bot      BotConfig
	Market   MarketConfig
	Ops      OpsConfig
	Wallet   WalletConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// StorageConfig selects the account and prompt store.
type StorageConfig struct {
	Backend string        `conf:"storage.backend"` // badger, memory, sqlite, postgres
	DSN     string        `conf:"storage.dsn"`     // Directory, file or connection string
	Timeout time.Duration `conf:"storage.timeout"` // Postgres statement timeout
}

// ChainConfig holds Ethereum node settings.
type ChainConfig struct {
	RPC     string        `conf:"chain.rpc"`
	Timeout time.Duration `conf:"chain.timeout"`
	ChainID int64         `conf:"chain.chain_id"` // 0 asks the node
}

// TelegramConfig holds chat transport settings.
type TelegramConfig struct {
	Token       string `conf:"telegram.token"`
	PollTimeout int    `conf:"telegram.poll_timeout"` // Seconds
}

// BotConfig holds command router settings.
type BotConfig struct {
	BuyAmounts []string      `conf:"bot.buy_amounts"`
	PromptTTL  time.Duration `conf:"bot.prompt_ttl"` // 0 keeps prompts until answered
	MaxPending int           `conf:"bot.max_pending"`
}

// MarketConfig holds token lookup settings.
type MarketConfig struct {
	URL     string        `conf:"market.url"`
	Timeout time.Duration `conf:"market.timeout"`
}

// OpsConfig holds the health and metrics server settings.
type OpsConfig struct {
	Enabled    bool     `conf:"ops.enabled"`
	Addr       string   `conf:"ops.addr"`
	Port       int      `conf:"ops.port"`
	AllowedIPs []string `conf:"ops.allowed"`
}

// WalletConfig holds key-at-rest settings.
type WalletConfig struct {
	// Seal asks for a passphrase at startup and encrypts secret keys with it.
	Seal bool `conf:"wallet.seal"`
	// Passphrase is only ever taken from the environment.
	Passphrase string
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingbot
//	macOS:   ~/Library/Application Support/Klingbot
//	Windows: %APPDATA%\Klingbot
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingbot"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingbot")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingbot")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingbot")
	default:
		return filepath.Join(home, ".klingbot")
	}
}

// StorageLocation returns where the configured backend keeps its data.
// An explicit storage.dsn wins; otherwise badger and sqlite live under the
// data directory.
func (c *Config) StorageLocation() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		return filepath.Join(c.DataDir, "klingbot.sqlite")
	case BackendBadger, "":
		return filepath.Join(c.DataDir, "db")
	default:
		return ""
	}
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingbot.conf")
}

// EnvFile returns the .env path inside the data directory.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}

// OpsListenAddr returns host:port for the ops server.
func (c *Config) OpsListenAddr() string {
	return c.Ops.Addr + ":" + strconv.Itoa(c.Ops.Port)
}
