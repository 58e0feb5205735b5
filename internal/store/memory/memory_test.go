package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/transactions"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, tx transactions.Tx) error {
		_, _, err := tx.ClaimIdempotencyKey(ctx, shared.IdempotencyRecord{Scope: "SALE", Key: "k1"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.LookupIdempotency(ctx, "SALE", "k1")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCleanupIdempotency(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := New().WithNow(func() time.Time { return now })

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx transactions.Tx) error {
		for key, age := range map[string]time.Duration{"old": 40 * 24 * time.Hour, "fresh": time.Hour} {
			if _, _, err := tx.ClaimIdempotencyKey(ctx, shared.IdempotencyRecord{Scope: "SALE", Key: key, CreatedAt: now.Add(-age)}); err != nil {
				return err
			}
		}
		return nil
	}))

	removed, err := store.CleanupIdempotency(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = store.LookupIdempotency(ctx, "SALE", "old")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = store.LookupIdempotency(ctx, "SALE", "fresh")
	require.NoError(t, err)
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := New()

	for i := 0; i < 3; i++ {
		e, err := outbox.NewEntry(outbox.KindLedgerEntry, "TRX-1", map[string]int{"n": i}, now)
		require.NoError(t, err)
		require.NoError(t, store.InsertOutbox(ctx, e))
	}
	pending, err := store.FetchPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, store.MarkDone(ctx, pending[0].ID, now))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, counts[outbox.StatusPending])
	require.EqualValues(t, 1, counts[outbox.StatusDone])
}
