// Package config defines the top-level configuration for marketd and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/stockex/marketd/internal/domain"
)

// duration wraps time.Duration so it can be written as "90s" or "1h" in TOML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETD_* environment
// variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds the exchange parameters: the fixed conversion rate, the
// market account, and the genesis balances.
type MarketConfig struct {
	// Rate is the number of stock units obtained per fiat unit. It is set
	// once here and never changes at runtime.
	Rate uint64 `toml:"rate"`

	// Account is the hex address of the market account holding both
	// liquidity pools.
	Account string `toml:"account"`

	Genesis GenesisConfig `toml:"genesis"`
}

// GenesisConfig describes the initial supply issuance and market funding.
// Amounts are whole tokens; the wiring scales them by 10^18.
type GenesisConfig struct {
	// Issuer is the hex address the full supply of both assets is minted
	// to before the market is funded.
	Issuer string `toml:"issuer"`

	FiatSupply  uint64 `toml:"fiat_supply"`
	StockSupply uint64 `toml:"stock_supply"`

	// MarketFiat / MarketStock are transferred from the issuer to the
	// market account at startup; the remainder stays with the issuer.
	MarketFiat  uint64 `toml:"market_fiat"`
	MarketStock uint64 `toml:"market_stock"`
}

// PostgresConfig holds PostgreSQL connection parameters for the durable
// trade store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// BalanceTTL bounds how stale a cached balance snapshot may be. It
	// should stay at or below the front end's 5-second polling interval.
	BalanceTTL duration `toml:"balance_ttl"`
}

// S3Config holds S3-compatible object storage parameters for trade archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the background job that exports old trades to blob
// storage and prunes them from PostgreSQL.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds the HTTP/WebSocket API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKey protects mutating endpoints when non-empty.
	APIKey string `toml:"api_key"`

	// TradeRateLimit caps trade submissions per client IP per
	// TradeRateWindow. Zero disables throttling.
	TradeRateLimit  int      `toml:"trade_rate_limit"`
	TradeRateWindow duration `toml:"trade_rate_window"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration, matching the genesis the
// original deployment provisioned: one million of each token issued, the
// market funded with 800,000 stock and 700,000 fiat, at a rate of 100.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Rate: 100,
			Genesis: GenesisConfig{
				FiatSupply:  1_000_000,
				StockSupply: 1_000_000,
				MarketFiat:  700_000,
				MarketStock: 800_000,
			},
		},
		Postgres: PostgresConfig{
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			BalanceTTL: duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			TradeRateLimit:  30,
			TradeRateWindow: duration{time.Minute},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. Main calls it
// after Load.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "sim":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Market.Rate == 0 {
		return fmt.Errorf("config: market.rate must be positive")
	}
	if _, err := domain.ParseAccount(c.Market.Account); err != nil {
		return fmt.Errorf("config: market.account: %w", err)
	}
	if _, err := domain.ParseAccount(c.Market.Genesis.Issuer); err != nil {
		return fmt.Errorf("config: market.genesis.issuer: %w", err)
	}
	if strings.EqualFold(c.Market.Account, c.Market.Genesis.Issuer) {
		return fmt.Errorf("config: market account and genesis issuer must differ")
	}
	if c.Market.Genesis.MarketFiat > c.Market.Genesis.FiatSupply {
		return fmt.Errorf("config: market_fiat exceeds fiat_supply")
	}
	if c.Market.Genesis.MarketStock > c.Market.Genesis.StockSupply {
		return fmt.Errorf("config: market_stock exceeds stock_supply")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && strings.TrimSpace(c.Postgres.Host) == "" {
			return fmt.Errorf("config: postgres enabled but neither dsn nor host set")
		}
	}
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			return fmt.Errorf("config: archive requires postgres and s3 to be enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			return fmt.Errorf("config: archive.retention_days must be positive")
		}
		if c.Archive.Interval.Duration <= 0 {
			return fmt.Errorf("config: archive.interval must be positive")
		}
	}
	if c.S3.Enabled && strings.TrimSpace(c.S3.Bucket) == "" {
		return fmt.Errorf("config: s3 enabled but bucket not set")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.Redis.BalanceTTL.Duration < 0 {
		return fmt.Errorf("config: redis.balance_ttl must not be negative")
	}

	return nil
}
