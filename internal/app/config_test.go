package app

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/has"
)

// unsetenv clears key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "STORE_DRIVER", "PRICE_FEED", "RATE_LIMIT_PER_MINUTE", "OUTBOX_MAX_ATTEMPTS"} {
		unsetenv(t, key)
	}
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StorePostgres, cfg.StoreDriver)
	require.Equal(t, "redis", cfg.PriceFeed)
	require.Equal(t, 300, cfg.RateLimit)
	require.Equal(t, 8, cfg.OutboxMaxAttempts)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigStaticFeed(t *testing.T) {
	unsetenv(t, "APP_ENV")
	t.Setenv("STORE_DRIVER", StoreMemory)
	t.Setenv("PRICE_FEED", "static")
	t.Setenv("STATIC_GOLD_BUY", "2400")
	t.Setenv("STATIC_GOLD_SELL", "2500")
	t.Setenv("STATIC_CURRENCIES", "usd:32:33,EUR:35.5:36")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	quotes, err := cfg.StaticQuotes()
	require.NoError(t, err)
	require.True(t, quotes.Gold.Sell.Equal(decimal.NewFromInt(2500)))
	require.Len(t, quotes.Currencies, 2)
	require.True(t, quotes.Currencies["USD"].Buy.Equal(decimal.NewFromInt(32)))
	require.True(t, quotes.Currencies["EUR"].Buy.Equal(decimal.RequireFromString("35.5")))
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown driver", cfg: Config{StoreDriver: "sqlite", PriceFeed: "redis"}},
		{name: "unknown feed", cfg: Config{StoreDriver: StorePostgres, PriceFeed: "carrier-pigeon"}},
		{name: "memory in production", cfg: Config{AppEnv: "production", StoreDriver: StoreMemory, PriceFeed: "redis"}},
		{name: "static without gold", cfg: Config{StoreDriver: StorePostgres, PriceFeed: "static"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.cfg.validate())
		})
	}
}

func TestStaticQuotesRejectsBadEntries(t *testing.T) {
	cfg := Config{StaticGoldBuy: "2400", StaticGoldSell: "2500", StaticCurrency: []string{"USD:32"}}
	_, err := cfg.StaticQuotes()
	require.Error(t, err)

	cfg.StaticCurrency = []string{"USD:0:33"}
	_, err = cfg.StaticQuotes()
	require.ErrorIs(t, err, has.ErrInvalidRate)

	cfg.StaticCurrency = []string{"???:1:2"}
	_, err = cfg.StaticQuotes()
	require.ErrorIs(t, err, has.ErrUnknownCurrency)
}
