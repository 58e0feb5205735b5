package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/pricing"
)

func newQuotesCLI(t *testing.T) (*QuotesCLI, *pricing.RedisFeed) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	feed := pricing.NewRedisFeed(client, pricing.DefaultQuotesKey, 0)
	cli := NewQuotesCLI(feed)
	cli.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return cli, feed
}

func TestParseQuotesNormalisesCodes(t *testing.T) {
	q, err := ParseQuotes(strings.NewReader(`{"gold":{"buy":"2400","sell":"2500"},"currencies":{"usd":{"buy":"32","sell":"33"}}}`))
	require.NoError(t, err)
	require.Contains(t, q.Currencies, "USD")
	require.True(t, q.Gold.Buy.Equal(decimal.NewFromInt(2400)))
}

func TestParseQuotesRejects(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"gold":`,
		"unknown field": `{"gold":{"buy":"1","sell":"2"},"silver":{}}`,
		"zero gold":     `{"gold":{"buy":"0","sell":"2500"}}`,
		"base currency": `{"gold":{"buy":"1","sell":"2"},"currencies":{"TL":{"buy":"1","sell":"1"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseQuotes(strings.NewReader(body))
			require.Error(t, err)
		})
	}
}

func TestPublishThenShow(t *testing.T) {
	ctx := context.Background()
	cli, feed := newQuotesCLI(t)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := cli.PublishCommand(ctx, QuotesOptions{
		Stdin:  strings.NewReader(`{"gold":{"buy":"2400","sell":"2500"},"currencies":{"EUR":{"buy":"35","sell":"36"}}}`),
		Stdout: stdout,
		Stderr: stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "published gold 2400/2500 and 1 currencies")

	latest, err := feed.Latest(ctx)
	require.NoError(t, err)
	require.True(t, latest.Currencies["EUR"].Buy.Equal(decimal.NewFromInt(35)))

	stdout.Reset()
	require.Equal(t, 0, cli.ShowCommand(ctx, QuotesOptions{Stdout: stdout, Stderr: stderr}))
	require.Contains(t, stdout.String(), `"EUR"`)
}

func TestShowWithoutQuotes(t *testing.T) {
	cli, _ := newQuotesCLI(t)
	stderr := new(bytes.Buffer)
	code := cli.ShowCommand(context.Background(), QuotesOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 10, code)
	require.Contains(t, stderr.String(), "no quotes")
}
