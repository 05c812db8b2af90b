package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.DataDir = "/tmp/klingbot-test"
	cfg.Chain.RPC = "http://127.0.0.1:8545"
	cfg.Telegram.Token = "123:abc"
	return cfg
}

func TestDefault_NeedsOnlyTokenAndRPC(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err == nil {
		t.Fatal("defaults without rpc/token should not validate")
	}
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klingbot.conf")
	content := `# comment
chain.rpc = "https://rpc.example.org"
telegram.token = '123:abc'

storage.backend = SQLite
bot.buy_amounts = 0.05, 1 ,
chain.timeout = 3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if values["chain.rpc"] != "https://rpc.example.org" {
		t.Errorf("chain.rpc = %q, quotes not stripped", values["chain.rpc"])
	}
	if values["telegram.token"] != "123:abc" {
		t.Errorf("telegram.token = %q", values["telegram.token"])
	}

	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if got := strings.Join(cfg.Bot.BuyAmounts, "|"); got != "0.05|1" {
		t.Errorf("buy amounts = %q", got)
	}
	if cfg.Chain.Timeout != 3*time.Second {
		t.Errorf("chain.timeout = %v, want 3s", cfg.Chain.Timeout)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("got %d values from a missing file", len(values))
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klingbot.conf")
	if err := os.WriteFile(path, []byte("log.level = info\njust words\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("LoadFile() error = %v, want line 2 failure", err)
	}
}

func TestApplyFileConfig_BadNumber(t *testing.T) {
	cfg := Default()
	err := ApplyFileConfig(cfg, map[string]string{"ops.port": "http"})
	if err == nil || !strings.Contains(err.Error(), "ops.port") {
		t.Fatalf("ApplyFileConfig() error = %v, want ops.port failure", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15", 15 * time.Second},
		{"15s", 15 * time.Second},
		{"2m", 2 * time.Minute},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if err != nil {
			t.Errorf("parseDuration(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseDuration("soon"); err == nil {
		t.Error("parseDuration(soon) should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("KLINGBOT_CHAIN_RPC", "wss://node.example.org")
	t.Setenv("KLINGBOT_TELEGRAM_TOKEN", "999:zzz")
	t.Setenv("KLINGBOT_OPS_ENABLED", "true")
	t.Setenv("KLINGBOT_BOT_PROMPT_TTL", "5m")
	t.Setenv("KLINGBOT_WALLET_PASSPHRASE", "hunter2")

	cfg := Default()
	cfg.Log.Level = "debug"
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.Chain.RPC != "wss://node.example.org" {
		t.Errorf("chain.rpc = %q", cfg.Chain.RPC)
	}
	if cfg.Telegram.Token != "999:zzz" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.Ops.Enabled {
		t.Error("ops should be enabled")
	}
	if cfg.Bot.PromptTTL != 5*time.Minute {
		t.Errorf("prompt ttl = %v", cfg.Bot.PromptTTL)
	}
	if cfg.Wallet.Passphrase != "hunter2" {
		t.Error("passphrase not taken from environment")
	}
	// Unset variables leave earlier layers alone.
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug kept", cfg.Log.Level)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("KLINGBOT_MARKET_URL=http://127.0.0.1:9999\nKLINGBOT_LOG_LEVEL=warn\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Variables already present win over the file.
	t.Setenv("KLINGBOT_LOG_LEVEL", "error")
	t.Setenv("KLINGBOT_MARKET_URL", "")
	os.Unsetenv("KLINGBOT_MARKET_URL")

	if err := LoadEnvFiles("", filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadEnvFiles() error: %v", err)
	}
	if got := os.Getenv("KLINGBOT_MARKET_URL"); got != "http://127.0.0.1:9999" {
		t.Errorf("KLINGBOT_MARKET_URL = %q", got)
	}
	if got := os.Getenv("KLINGBOT_LOG_LEVEL"); got != "error" {
		t.Errorf("KLINGBOT_LOG_LEVEL = %q, want existing value kept", got)
	}
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{
		"--rpc=http://10.0.0.1:8545",
		"--storage", "postgres",
		"--storage-dsn", "postgres://bot@db/klingbot",
		"--chain-id=0",
		"--ops=false",
		"--prompt-ttl=90s",
		"--log-json",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error: %v", err)
	}

	cfg := validConfig()
	cfg.Chain.ChainID = 11155111
	cfg.Ops.Enabled = true
	ApplyFlags(cfg, f)

	if cfg.Chain.RPC != "http://10.0.0.1:8545" {
		t.Errorf("rpc = %q", cfg.Chain.RPC)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.DSN == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Chain.ChainID != 0 {
		t.Errorf("chain id = %d, explicit 0 should override", cfg.Chain.ChainID)
	}
	if cfg.Ops.Enabled {
		t.Error("--ops=false should disable the ops server")
	}
	if cfg.Bot.PromptTTL != 90*time.Second {
		t.Errorf("prompt ttl = %v", cfg.Bot.PromptTTL)
	}
	if !cfg.Log.JSON {
		t.Error("--log-json not applied")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestParseFlags_UnsetBoolsKeepConfig(t *testing.T) {
	f, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error: %v", err)
	}
	cfg := validConfig()
	cfg.Ops.Enabled = true
	cfg.Wallet.Seal = true
	ApplyFlags(cfg, f)
	if !cfg.Ops.Enabled || !cfg.Wallet.Seal {
		t.Error("unset bool flags must not override config")
	}
}

func TestParseFlags_StrayPositional(t *testing.T) {
	_, err := parseFlags([]string{"--seal", "yes", "--ops"}, io.Discard)
	if err == nil {
		t.Fatal("expected error for flag after positional argument")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"backend", func(c *Config) { c.Storage.Backend = "mysql" }, "storage.backend"},
		{"postgres dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "storage.dsn"},
		{"no rpc", func(c *Config) { c.Chain.RPC = "" }, "chain.rpc"},
		{"rpc scheme", func(c *Config) { c.Chain.RPC = "ftp://node" }, "chain.rpc"},
		{"rpc host", func(c *Config) { c.Chain.RPC = "http://" }, "chain.rpc"},
		{"chain timeout", func(c *Config) { c.Chain.Timeout = 0 }, "chain.timeout"},
		{"chain id", func(c *Config) { c.Chain.ChainID = -1 }, "chain.chain_id"},
		{"token", func(c *Config) { c.Telegram.Token = "  " }, "telegram.token"},
		{"buy amount", func(c *Config) { c.Bot.BuyAmounts = []string{"0.1", "lots"} }, "bot.buy_amounts[1]"},
		{"zero buy amount", func(c *Config) { c.Bot.BuyAmounts = []string{"0"} }, "bot.buy_amounts[0]"},
		{"prompt ttl", func(c *Config) { c.Bot.PromptTTL = -time.Second }, "bot.prompt_ttl"},
		{"max pending", func(c *Config) { c.Bot.MaxPending = 0 }, "bot.max_pending"},
		{"market url", func(c *Config) { c.Market.URL = "dexscreener" }, "market.url"},
		{"ops port", func(c *Config) { c.Ops.Port = 70000 }, "ops.port"},
		{"ops allowed", func(c *Config) { c.Ops.AllowedIPs = []string{"localhost"} }, "ops.allowed[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_AllowsCIDR(t *testing.T) {
	cfg := validConfig()
	cfg.Ops.AllowedIPs = []string{"10.0.0.0/8", "::1"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestStorageLocation(t *testing.T) {
	cfg := validConfig()
	if got := cfg.StorageLocation(); got != filepath.Join(cfg.DataDir, "db") {
		t.Errorf("badger location = %q", got)
	}
	cfg.Storage.Backend = BackendSQLite
	if got := cfg.StorageLocation(); got != filepath.Join(cfg.DataDir, "klingbot.sqlite") {
		t.Errorf("sqlite location = %q", got)
	}
	cfg.Storage.DSN = "/srv/bot.db"
	if got := cfg.StorageLocation(); got != "/srv/bot.db" {
		t.Errorf("explicit dsn = %q", got)
	}
}

func TestResolve_Layering(t *testing.T) {
	dir := t.TempDir()
	conf := `chain.rpc = http://file.example:8545
telegram.token = file-token
log.level = warn
ops.port = 9000
`
	if err := os.WriteFile(filepath.Join(dir, "klingbot.conf"), []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KLINGBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("KLINGBOT_OPS_PORT", "9100")

	f, err := parseFlags([]string{"--datadir", dir, "--ops-port", "9200"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error: %v", err)
	}
	cfg, err := resolve(f)
	if err != nil {
		t.Fatalf("resolve() error: %v", err)
	}

	if cfg.Chain.RPC != "http://file.example:8545" {
		t.Errorf("rpc = %q, want file value", cfg.Chain.RPC)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want file value", cfg.Log.Level)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("token = %q, env should beat file", cfg.Telegram.Token)
	}
	if cfg.Ops.Port != 9200 {
		t.Errorf("ops.port = %d, flag should beat env", cfg.Ops.Port)
	}
	if _, err := os.Stat(cfg.LogsDir()); err != nil {
		t.Errorf("logs dir not created: %v", err)
	}
}

func TestEnsureDataDirs_WritesDefaultConfig(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "fresh")
	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs() error: %v", err)
	}

	values, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	reloaded := Default()
	if err := ApplyFileConfig(reloaded, values); err != nil {
		t.Fatalf("default config does not parse: %v", err)
	}
	if reloaded.Ops.Port != 9464 || reloaded.Storage.Backend != BackendBadger {
		t.Errorf("default file disagrees with Default(): %+v", reloaded.Ops)
	}

	// Idempotent: an edited file is never overwritten.
	if err := os.WriteFile(cfg.ConfigFile(), []byte("log.level = debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs() second call: %v", err)
	}
	data, _ := os.ReadFile(cfg.ConfigFile())
	if string(data) != "log.level = debug\n" {
		t.Error("existing config was overwritten")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "klingbot.conf"), []byte("storage.backend = sqlite\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KLINGBOT_CHAIN_RPC", "http://env.example:8545")

	cfg, err := LoadFromFile(dir)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Chain.RPC != "http://env.example:8545" {
		t.Errorf("rpc = %q", cfg.Chain.RPC)
	}
	if cfg.StorageLocation() != filepath.Join(dir, "klingbot.sqlite") {
		t.Errorf("location = %q", cfg.StorageLocation())
	}
}
