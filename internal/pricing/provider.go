package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/hasledger/hasledger/internal/has"
)

const (
	cachePrefix = "hasledger:snapshot:"
	loadTimeout = 10 * time.Second
)

// Provider hands out one snapshot per time bucket, creating it from the feed
// the first time a bucket is asked for.
type Provider struct {
	store  Store
	feed   Feed
	cache  *redis.Client
	ttl    time.Duration
	bucket time.Duration
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// Config tunes bucketing and caching.
type Config struct {
	Bucket   time.Duration
	CacheTTL time.Duration
}

// NewProvider constructs a Provider. cache may be nil.
func NewProvider(store Store, feed Feed, cache *redis.Client, cfg Config, logger *slog.Logger) *Provider {
	if cfg.Bucket <= 0 {
		cfg.Bucket = time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		store:  store,
		feed:   feed,
		cache:  cache,
		ttl:    cfg.CacheTTL,
		bucket: cfg.Bucket,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithNow overrides the clock, used in tests.
func (p *Provider) WithNow(fn func() time.Time) *Provider {
	if fn != nil {
		p.now = fn
	}
	return p
}

// GetOrCreate returns the snapshot of the bucket asOf falls in. A zero asOf
// means now. A back-dated asOf whose bucket was never captured resolves to the
// latest snapshot taken at or before it.
func (p *Provider) GetOrCreate(ctx context.Context, asOf time.Time) (has.Snapshot, error) {
	now := p.now()
	if asOf.IsZero() || asOf.After(now) {
		asOf = now
	}
	bucket := asOf.UTC().Truncate(p.bucket)
	key := cachePrefix + strconv.FormatInt(bucket.Unix(), 10)

	if snap, ok := p.fromCache(ctx, key); ok {
		return snap, nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		// Shared by every caller of the bucket, so one caller leaving must
		// not cancel it for the rest.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return p.load(loadCtx, bucket, asOf, now)
	})
	select {
	case <-ctx.Done():
		return has.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return has.Snapshot{}, res.Err
		}
		snap := res.Val.(has.Snapshot)
		p.toCache(ctx, key, snap)
		return snap, nil
	}
}

func (p *Provider) load(ctx context.Context, bucket, asOf, now time.Time) (has.Snapshot, error) {
	snap, err := p.store.FindByBucket(ctx, bucket)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrSnapshotNotFound) {
		return has.Snapshot{}, fmt.Errorf("pricing: find bucket: %w", err)
	}

	if bucket.Before(now.Truncate(p.bucket)) {
		snap, err := p.store.FindLatestBefore(ctx, asOf)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrSnapshotNotFound) {
			return has.Snapshot{}, fmt.Errorf("pricing: find latest: %w", err)
		}
	}

	quotes, err := p.feed.Latest(ctx)
	if err != nil {
		return has.Snapshot{}, fmt.Errorf("pricing: feed: %w", errors.Join(has.ErrInvalidRate, err))
	}
	snap = has.Snapshot{
		ID:         uuid.NewString(),
		Bucket:     bucket,
		CapturedAt: now,
		Quotes:     quotes,
	}
	if err := snap.Validate(); err != nil {
		return has.Snapshot{}, err
	}
	err = p.store.Insert(ctx, snap)
	if errors.Is(err, ErrDuplicateBucket) {
		return p.store.FindByBucket(ctx, bucket)
	}
	if err != nil {
		return has.Snapshot{}, fmt.Errorf("pricing: insert snapshot: %w", err)
	}
	p.logger.Debug("price snapshot captured", slog.String("id", snap.ID), slog.Time("bucket", bucket))
	return snap, nil
}

func (p *Provider) fromCache(ctx context.Context, key string) (has.Snapshot, bool) {
	if p.cache == nil {
		return has.Snapshot{}, false
	}
	raw, err := p.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("snapshot cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return has.Snapshot{}, false
	}
	var snap has.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return has.Snapshot{}, false
	}
	return snap, true
}

func (p *Provider) toCache(ctx context.Context, key string, snap has.Snapshot) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, raw, p.ttl).Err(); err != nil {
		p.logger.Warn("snapshot cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
