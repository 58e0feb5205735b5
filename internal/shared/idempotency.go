package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// IdempotencyRecord links a client key to the record it produced.
type IdempotencyRecord struct {
	Scope       string
	Key         string
	Ref         string
	Fingerprint []byte
	CreatedAt   time.Time
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db db.DBTX
}

// NewIdempotencyStore constructs the store over a pool or a transaction.
func NewIdempotencyStore(conn db.DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: conn}
}

// Claim inserts the key. When another request already holds it the existing
// record is returned with claimed=false. Inside a transaction a concurrent
// claimer blocks on the uncommitted row until the holder finishes.
func (s *IdempotencyStore) Claim(ctx context.Context, rec IdempotencyRecord) (IdempotencyRecord, bool, error) {
	if s == nil {
		return IdempotencyRecord{}, false, errors.New("idempotency store not initialised")
	}
	if rec.Key == "" {
		return IdempotencyRecord{}, false, errors.New("idempotency key required")
	}
	if rec.Scope == "" {
		return IdempotencyRecord{}, false, errors.New("idempotency scope required")
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, ref, fingerprint, created_at) VALUES ($1, $2, $3, $4, NOW()) ON CONFLICT (scope, key) DO NOTHING`,
		rec.Scope, rec.Key, rec.Ref, rec.Fingerprint)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return rec, true, nil
	}
	existing, err := s.Lookup(ctx, rec.Scope, rec.Key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return existing, false, nil
}

// Lookup returns the record held for a key.
func (s *IdempotencyStore) Lookup(ctx context.Context, scope, key string) (IdempotencyRecord, error) {
	rec := IdempotencyRecord{Scope: scope, Key: key}
	err := s.db.QueryRow(ctx, `SELECT ref, fingerprint, created_at FROM idempotency_keys WHERE scope=$1 AND key=$2`, scope, key).
		Scan(&rec.Ref, &rec.Fingerprint, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, ErrNotFound
	}
	return rec, err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Fingerprint hashes the JSON form of a request payload.
func Fingerprint(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(body)
	return sum[:], nil
}
