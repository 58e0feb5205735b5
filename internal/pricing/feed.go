package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasledger/hasledger/internal/has"
)

// DefaultQuotesKey is where the ingester publishes the latest quotes.
const DefaultQuotesKey = "hasledger:quotes:latest"

// StaticFeed always reports the same quotes. Used in development and tests.
type StaticFeed struct {
	Quotes has.Quotes
}

// Latest implements Feed.
func (f StaticFeed) Latest(context.Context) (has.Quotes, error) {
	out := has.Quotes{Gold: f.Quotes.Gold}
	if len(f.Quotes.Currencies) > 0 {
		out.Currencies = make(map[string]has.Quote, len(f.Quotes.Currencies))
		for code, q := range f.Quotes.Currencies {
			out.Currencies[code] = q
		}
	}
	return out, nil
}

// Published is the document an ingester writes under the quotes key.
type Published struct {
	has.Quotes
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisFeed reads the latest published quotes from a Redis key.
type RedisFeed struct {
	client *redis.Client
	key    string
	maxAge time.Duration
	now    func() time.Time
}

// NewRedisFeed builds a RedisFeed. A zero maxAge disables the staleness check.
func NewRedisFeed(client *redis.Client, key string, maxAge time.Duration) *RedisFeed {
	if key == "" {
		key = DefaultQuotesKey
	}
	return &RedisFeed{client: client, key: key, maxAge: maxAge, now: time.Now}
}

// Latest implements Feed.
func (f *RedisFeed) Latest(ctx context.Context) (has.Quotes, error) {
	raw, err := f.client.Get(ctx, f.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return has.Quotes{}, ErrNoQuotes
	}
	if err != nil {
		return has.Quotes{}, fmt.Errorf("pricing: read quotes: %w", err)
	}
	var doc Published
	if err := json.Unmarshal(raw, &doc); err != nil {
		return has.Quotes{}, fmt.Errorf("pricing: decode quotes: %w", err)
	}
	if f.maxAge > 0 && !doc.UpdatedAt.IsZero() && f.now().Sub(doc.UpdatedAt) > f.maxAge {
		return has.Quotes{}, fmt.Errorf("%w: updated %s", ErrStaleQuotes, doc.UpdatedAt.Format(time.RFC3339))
	}
	return doc.Quotes, nil
}

// Publish writes quotes under the key. The ingester and tests use it.
func (f *RedisFeed) Publish(ctx context.Context, q has.Quotes, at time.Time) error {
	raw, err := json.Marshal(Published{Quotes: q, UpdatedAt: at})
	if err != nil {
		return err
	}
	return f.client.Set(ctx, f.key, raw, 0).Err()
}
