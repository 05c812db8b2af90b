package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string
	EnvFile string

	// Storage
	Storage    string
	StorageDSN string

	// Chain
	RPC          string
	RPCTimeout   time.Duration
	ChainID      int64
	SetChainID   bool
	PollTimeout  int
	PromptTTL    time.Duration
	SetPromptTTL bool

	// Ops
	Ops        bool
	OpsAddr    string
	OpsPort    int
	OpsAllowed string

	// Wallet
	Seal bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetOps     bool
	SetSeal    bool
	SetLogJSON bool
}

// ParseFlags parses os.Args, exiting on malformed input.
func ParseFlags() *Flags {
	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

func parseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("klingbotd", flag.ContinueOnError)
	fs.SetOutput(output)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.EnvFile, "env-file", "", "Extra .env file to load")

	// Storage
	fs.StringVar(&f.Storage, "storage", "", "Storage backend (badger, sqlite, postgres, memory)")
	fs.StringVar(&f.StorageDSN, "storage-dsn", "", "Storage directory, file or connection string")

	// Chain and transport
	fs.StringVar(&f.RPC, "rpc", "", "Ethereum JSON-RPC endpoint")
	fs.DurationVar(&f.RPCTimeout, "rpc-timeout", 0, "Per-call timeout for the Ethereum node")
	fs.Int64Var(&f.ChainID, "chain-id", 0, "Pin the chain id (0 asks the node)")
	fs.IntVar(&f.PollTimeout, "poll-timeout", 0, "Telegram long-poll timeout in seconds")
	fs.DurationVar(&f.PromptTTL, "prompt-ttl", 0, "Lifetime of a withdraw prompt (0 = until answered)")

	// Ops
	fs.BoolVar(&f.Ops, "ops", false, "Enable the health and metrics server")
	fs.StringVar(&f.OpsAddr, "ops-addr", "", "Ops server listen address")
	fs.IntVar(&f.OpsPort, "ops-port", 0, "Ops server port")
	fs.StringVar(&f.OpsAllowed, "ops-allowed", "", "Allowed IPs for the ops server")

	// Wallet
	fs.BoolVar(&f.Seal, "seal", false, "Encrypt secret keys with a passphrase")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage(output)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetChainID = isFlagSet(fs, "chain-id")
	f.SetPromptTTL = isFlagSet(fs, "prompt-ttl")
	f.SetOps = isFlagSet(fs, "ops")
	f.SetSeal = isFlagSet(fs, "seal")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// A positional argument stops the parser; anything flag-like after it
	// would be silently ignored.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Storage
	if f.Storage != "" {
		cfg.Storage.Backend = strings.ToLower(f.Storage)
	}
	if f.StorageDSN != "" {
		cfg.Storage.DSN = f.StorageDSN
	}

	// Chain
	if f.RPC != "" {
		cfg.Chain.RPC = f.RPC
	}
	if f.RPCTimeout != 0 {
		cfg.Chain.Timeout = f.RPCTimeout
	}
	if f.SetChainID {
		cfg.Chain.ChainID = f.ChainID
	}

	// Transport and bot
	if f.PollTimeout != 0 {
		cfg.Telegram.PollTimeout = f.PollTimeout
	}
	if f.SetPromptTTL {
		cfg.Bot.PromptTTL = f.PromptTTL
	}

	// Ops
	if f.SetOps {
		cfg.Ops.Enabled = f.Ops
	}
	if f.OpsAddr != "" {
		cfg.Ops.Addr = f.OpsAddr
	}
	if f.OpsPort != 0 {
		cfg.Ops.Port = f.OpsPort
	}
	if f.OpsAllowed != "" {
		cfg.Ops.AllowedIPs = parseStringList(f.OpsAllowed)
	}

	// Wallet
	if f.SetSeal {
		cfg.Wallet.Seal = f.Seal
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage(w io.Writer) {
	usage := `Klingbot - custodial Ethereum wallet for Telegram

Usage:
  klingbotd [options]
  klingbotd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir       Data directory (default: ~/.klingbot)
  --config, -c    Config file path (default: <datadir>/klingbot.conf)
  --env-file      Extra .env file (default: ./.env and <datadir>/.env)

Storage Options:
  --storage       Backend: badger (default), sqlite, postgres, memory
  --storage-dsn   Directory (badger), file (sqlite) or connection string

Chain Options:
  --rpc           Ethereum JSON-RPC endpoint (required)
  --rpc-timeout   Per-call timeout (default: 10s)
  --chain-id      Pin the chain id instead of asking the node

Bot Options:
  --poll-timeout  Telegram long-poll timeout in seconds (default: 60)
  --prompt-ttl    Lifetime of a withdraw prompt (default: until answered)

Ops Options:
  --ops           Enable /healthz and /metrics
  --ops-addr      Listen address (default: 127.0.0.1)
  --ops-port      Port (default: 9464)
  --ops-allowed   Allowed IPs (comma-separated)

Wallet Options:
  --seal          Encrypt secret keys with a passphrase asked at startup

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: <datadir>/logs/klingbot.log)
  --log-json      Output logs as JSON

Environment:
  Every config key can be set as KLINGBOT_<KEY>, e.g. KLINGBOT_TELEGRAM_TOKEN,
  KLINGBOT_CHAIN_RPC, KLINGBOT_STORAGE_BACKEND. KLINGBOT_WALLET_PASSPHRASE
  supplies the sealing passphrase without a prompt.

Examples:
  # Run against a local node
  KLINGBOT_TELEGRAM_TOKEN=123:abc klingbotd --rpc=http://127.0.0.1:8545

  # Keep accounts in Postgres
  klingbotd --storage=postgres --storage-dsn=postgres://bot@db/klingbot
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dir + default config (idempotent)
// 3. Config file
// 4. .env files, then KLINGBOT_* environment
// 5. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingbotd version " + Version)
		os.Exit(0)
	}

	cfg, err := resolve(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

func resolve(flags *Flags) (*Config, error) {
	cfg := Default()

	// .env may move the data directory, so it is read before anything else.
	if err := LoadEnvFiles(flags.EnvFile, ".env"); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	if dir := os.Getenv(EnvPrefix + "_DATADIR"); dir != "" {
		cfg.DataDir = dir
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if err := LoadEnvFiles(cfg.EnvFile()); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	// Flags (highest precedence)
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}

// LoadFromFile loads config from defaults, the conf file and the
// environment only (no CLI flags, no data dir creation). Used by tools that
// inspect a daemon's data; callers check the settings they need.
func LoadFromFile(dataDir string) (*Config, error) {
	cfg := Default()
	if err := LoadEnvFiles(".env"); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	if dir := os.Getenv(EnvPrefix + "_DATADIR"); dir != "" {
		cfg.DataDir = dir
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := LoadEnvFiles(cfg.EnvFile()); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	fileValues, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	return cfg, nil
}
