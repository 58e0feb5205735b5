package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/platform/db"
)

// Repository stores snapshots in price_snapshots.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const snapshotColumns = `id, bucket, captured_at, gold_buy, gold_sell, currencies`

// FindByBucket implements Store.
func (r *Repository) FindByBucket(ctx context.Context, bucket time.Time) (has.Snapshot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM price_snapshots WHERE bucket = $1`, bucket)
	return scanSnapshot(row)
}

// FindLatestBefore implements Store.
func (r *Repository) FindLatestBefore(ctx context.Context, asOf time.Time) (has.Snapshot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM price_snapshots
WHERE captured_at <= $1
ORDER BY captured_at DESC
LIMIT 1`, asOf)
	return scanSnapshot(row)
}

// Insert implements Store.
func (r *Repository) Insert(ctx context.Context, snap has.Snapshot) error {
	currencies, err := json.Marshal(snap.Currencies)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `INSERT INTO price_snapshots (`+snapshotColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (bucket) DO NOTHING`,
		snap.ID, snap.Bucket, snap.CapturedAt, snap.Gold.Buy, snap.Gold.Sell, currencies)
	if err != nil {
		return fmt.Errorf("pricing: insert snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateBucket
	}
	return nil
}

func scanSnapshot(row pgx.Row) (has.Snapshot, error) {
	var (
		snap       has.Snapshot
		currencies []byte
	)
	if err := row.Scan(&snap.ID, &snap.Bucket, &snap.CapturedAt, &snap.Gold.Buy, &snap.Gold.Sell, &currencies); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return has.Snapshot{}, ErrSnapshotNotFound
		}
		return has.Snapshot{}, err
	}
	if len(currencies) > 0 {
		if err := json.Unmarshal(currencies, &snap.Currencies); err != nil {
			return has.Snapshot{}, fmt.Errorf("pricing: decode currencies: %w", err)
		}
	}
	snap.Bucket = snap.Bucket.UTC()
	snap.CapturedAt = snap.CapturedAt.UTC()
	return snap, nil
}
