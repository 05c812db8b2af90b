package config

import "time"

// Default returns the default daemon configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Timeout: 5 * time.Second,
		},
		Chain: ChainConfig{
			Timeout: 10 * time.Second,
		},
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		Bot: BotConfig{
			BuyAmounts: []string{"0.1", "0.5"},
			MaxPending: 64,
		},
		Market: MarketConfig{
			URL:     "https://api.dexscreener.com",
			Timeout: 10 * time.Second,
		},
		Ops: OpsConfig{
			Enabled:    false,
			Addr:       "127.0.0.1",
			Port:       9464,
			AllowedIPs: []string{"127.0.0.1"},
		},
	}
}
