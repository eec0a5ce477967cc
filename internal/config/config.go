// Package config loads tracker configuration from an optional YAML file,
// environment variables and flags. Precedence: flags > env > file >
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tracker configuration.
type Config struct {
	// Chain identities.
	PrimaryTokenMint string   `yaml:"primary_token_mint"`
	StableMints      []string `yaml:"stable_mints"`
	DEXProgramID     string   `yaml:"dex_program_id"`

	// Upstream endpoints.
	DEXAPIURL      string `yaml:"dex_api_url"`
	DEXWSURL       string `yaml:"dex_ws_url"`
	RPCURL         string `yaml:"rpc_url"`
	RPCWSURL       string `yaml:"rpc_ws_url"`
	RPCAPIKey      string `yaml:"rpc_api_key"`
	BirdeyeURL     string `yaml:"birdeye_url"`
	BirdeyeAPIKey  string `yaml:"birdeye_api_key"`
	DexscreenerURL string `yaml:"dexscreener_url"`
	CoingeckoURL   string `yaml:"coingecko_url"`
	SolscanURL     string `yaml:"solscan_url"`
	SolscanAPIKey  string `yaml:"solscan_api_key"`

	// Storage.
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`

	// Intervals.
	WSReconnectBase   time.Duration `yaml:"ws_reconnect_base"`
	PoolRefresh       time.Duration `yaml:"pool_refresh"`
	PriceRefresh      time.Duration `yaml:"price_refresh"`
	TradesPoll        time.Duration `yaml:"trades_poll"`
	PortfolioAutoSync time.Duration `yaml:"portfolio_auto_sync"`
	SaveDebounce      time.Duration `yaml:"save_debounce"`

	// Caps.
	MaxWalletsPerUser int `yaml:"max_wallets_per_user"`
	MaxWatchlistItems int `yaml:"max_watchlist_items"`
	MaxRecentAlerts   int `yaml:"max_recent_alerts"`
	MaxCacheSize      int `yaml:"max_cache_size"`

	// Daily digest time (UTC).
	DailyDigestHour   int `yaml:"daily_digest_hour"`
	DailyDigestMinute int `yaml:"daily_digest_minute"`

	// Stake vaults to scan for subscriber portfolios.
	StakeVaults []StakeVaultConfig `yaml:"stake_vaults"`

	MetricsAddr string `yaml:"metrics_addr"`
	Debug       bool   `yaml:"debug"`
}

// StakeVaultConfig describes one stake vault.
type StakeVaultConfig struct {
	Vault          string `yaml:"vault"`
	UnderlyingMint string `yaml:"underlying_mint"`
	ReceiptMint    string `yaml:"receipt_mint"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		StableMints: []string{
			"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
			"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT
		},
		DexscreenerURL:    "https://api.dexscreener.com",
		CoingeckoURL:      "https://api.coingecko.com",
		WSReconnectBase:   15 * time.Second,
		PoolRefresh:       5 * time.Minute,
		PriceRefresh:      5 * time.Minute,
		TradesPoll:        time.Minute,
		PortfolioAutoSync: 5 * time.Minute,
		SaveDebounce:      2 * time.Second,
		MaxWalletsPerUser: 10,
		MaxWatchlistItems: 20,
		MaxRecentAlerts:   20,
		MaxCacheSize:      10_000,
		DailyDigestHour:   9,
		DailyDigestMinute: 0,
		MetricsAddr:       ":9090",
	}
}

// Load reads the optional YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	if c.DailyDigestHour < 0 || c.DailyDigestHour > 23 {
		return fmt.Errorf("daily_digest_hour must be 0..23, got %d", c.DailyDigestHour)
	}
	if c.DailyDigestMinute < 0 || c.DailyDigestMinute > 59 {
		return fmt.Errorf("daily_digest_minute must be 0..59, got %d", c.DailyDigestMinute)
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("save_debounce must be positive")
	}
	return nil
}
