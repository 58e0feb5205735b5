package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/pricing"
)

// QuotesCLI publishes and inspects the quotes the price feed serves.
type QuotesCLI struct {
	feed *pricing.RedisFeed
	now  func() time.Time
}

// NewQuotesCLI builds QuotesCLI on top of feed.
func NewQuotesCLI(feed *pricing.RedisFeed) *QuotesCLI {
	return &QuotesCLI{feed: feed, now: func() time.Time { return time.Now().UTC() }}
}

// QuotesOptions defines the flags of the quotes commands.
type QuotesOptions struct {
	Path   string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ParseQuotes decodes a quotes document and normalises its currency codes.
func ParseQuotes(r io.Reader) (has.Quotes, error) {
	var q has.Quotes
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		return has.Quotes{}, fmt.Errorf("decode quotes: %w", err)
	}
	normalised := make(map[string]has.Quote, len(q.Currencies))
	for code, quote := range q.Currencies {
		c, err := has.NormalizeCurrency(code)
		if err != nil {
			return has.Quotes{}, err
		}
		if c == has.BaseCurrency || c == has.Code {
			return has.Quotes{}, fmt.Errorf("%s is quoted implicitly", c)
		}
		normalised[c] = quote
	}
	q.Currencies = normalised
	if err := (has.Snapshot{Quotes: q}).Validate(); err != nil {
		return has.Quotes{}, err
	}
	return q, nil
}

// PublishCommand reads quotes from Path ("-" or empty for stdin) and publishes them.
func (c *QuotesCLI) PublishCommand(ctx context.Context, opts QuotesOptions) int {
	opts = withDefaults(opts)
	in := opts.Stdin
	if opts.Path != "" && opts.Path != "-" {
		f, err := os.Open(opts.Path)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "quotes publish: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}
	q, err := ParseQuotes(in)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "quotes publish: %v\n", err)
		return 1
	}
	at := c.now()
	if err := c.feed.Publish(ctx, q, at); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "quotes publish: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "published gold %s/%s and %d currencies at %s\n",
		q.Gold.Buy, q.Gold.Sell, len(q.Currencies), at.Format(time.RFC3339))
	return 0
}

// ShowCommand prints the quotes the feed currently serves as JSON.
func (c *QuotesCLI) ShowCommand(ctx context.Context, opts QuotesOptions) int {
	opts = withDefaults(opts)
	q, err := c.feed.Latest(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "quotes show: %v\n", err)
		if pricingUnavailable(err) {
			return 10
		}
		return 1
	}
	enc := json.NewEncoder(opts.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(q); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "quotes show: encode json: %v\n", err)
		return 1
	}
	return 0
}

func pricingUnavailable(err error) bool {
	return errors.Is(err, pricing.ErrNoQuotes) || errors.Is(err, pricing.ErrStaleQuotes)
}

func withDefaults(opts QuotesOptions) QuotesOptions {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return opts
}
