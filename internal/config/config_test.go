package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMarket = "0x1111111111111111111111111111111111111111"
	testIssuer = "0x2222222222222222222222222222222222222222"
)

// validConfig returns defaults with the two required accounts filled in.
func validConfig() Config {
	cfg := Defaults()
	cfg.Market.Account = testMarket
	cfg.Market.Genesis.Issuer = testIssuer
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, uint64(100), cfg.Market.Rate)
	assert.Equal(t, uint64(1_000_000), cfg.Market.Genesis.FiatSupply)
	assert.Equal(t, uint64(1_000_000), cfg.Market.Genesis.StockSupply)
	assert.Equal(t, uint64(700_000), cfg.Market.Genesis.MarketFiat)
	assert.Equal(t, uint64(800_000), cfg.Market.Genesis.MarketStock)
	assert.Equal(t, 5*time.Second, cfg.Redis.BalanceTTL.Duration)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "serve", cfg.Mode)
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete config", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "backtest"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero rate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Market.Rate = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects missing market account", func(t *testing.T) {
		cfg := validConfig()
		cfg.Market.Account = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects identical market and issuer", func(t *testing.T) {
		cfg := validConfig()
		cfg.Market.Genesis.Issuer = testMarket
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects market funding above supply", func(t *testing.T) {
		cfg := validConfig()
		cfg.Market.Genesis.MarketFiat = cfg.Market.Genesis.FiatSupply + 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects archive without postgres and s3", func(t *testing.T) {
		cfg := validConfig()
		cfg.Archive.Enabled = true
		assert.Error(t, cfg.Validate())

		cfg.Postgres.Enabled = true
		cfg.Postgres.Host = "localhost"
		cfg.S3.Enabled = true
		cfg.S3.Bucket = "archives"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects postgres enabled with no target", func(t *testing.T) {
		cfg := validConfig()
		cfg.Postgres.Enabled = true
		cfg.Postgres.DSN = ""
		cfg.Postgres.Host = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out-of-range server port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	writeConfig := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("merges file on top of defaults", func(t *testing.T) {
		path := writeConfig(t, `
mode = "sim"
log_level = "debug"

[market]
rate = 50
account = "`+testMarket+`"

[market.genesis]
issuer = "`+testIssuer+`"

[redis]
balance_ttl = "2s"

[server]
port = 9090
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "sim", cfg.Mode)
		assert.Equal(t, uint64(50), cfg.Market.Rate)
		assert.Equal(t, 2*time.Second, cfg.Redis.BalanceTTL.Duration)
		assert.Equal(t, 9090, cfg.Server.Port)
		// Untouched defaults survive.
		assert.Equal(t, uint64(1_000_000), cfg.Market.Genesis.FiatSupply)
	})

	t.Run("environment overrides win over the file", func(t *testing.T) {
		path := writeConfig(t, `
[market]
rate = 50
account = "`+testMarket+`"

[market.genesis]
issuer = "`+testIssuer+`"
`)

		t.Setenv("MARKETD_MARKET_RATE", "200")
		t.Setenv("MARKETD_SERVER_PORT", "7000")
		t.Setenv("MARKETD_NOTIFY_EVENTS", "trade.executed, archive.complete")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, uint64(200), cfg.Market.Rate)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, []string{"trade.executed", "archive.complete"}, cfg.Notify.Events)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})
}
