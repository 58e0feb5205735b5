// Package pricing resolves the price snapshot every leg of a transaction is
// converted with. Snapshots are bucketed in time so concurrent requests share
// one set of quotes.
package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/hasledger/hasledger/internal/has"
)

// Feed reports the current quotes. Live market ingestion lives outside this
// module; a Feed only reads what the ingester left behind.
type Feed interface {
	Latest(ctx context.Context) (has.Quotes, error)
}

// Store persists snapshots, one per bucket.
type Store interface {
	FindByBucket(ctx context.Context, bucket time.Time) (has.Snapshot, error)
	FindLatestBefore(ctx context.Context, asOf time.Time) (has.Snapshot, error)
	Insert(ctx context.Context, snap has.Snapshot) error
}

var (
	// ErrSnapshotNotFound is returned by a Store when nothing matches.
	ErrSnapshotNotFound = errors.New("pricing: snapshot not found")
	// ErrDuplicateBucket is returned by Store.Insert when the bucket already has a snapshot.
	ErrDuplicateBucket = errors.New("pricing: bucket already captured")
	// ErrNoQuotes indicates the feed has nothing to report.
	ErrNoQuotes = errors.New("pricing: no quotes available")
	// ErrStaleQuotes indicates the feed's last update is older than allowed.
	ErrStaleQuotes = errors.New("pricing: quotes are stale")
)
