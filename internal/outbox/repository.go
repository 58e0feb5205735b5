package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// PgRepository stores rows in the outbox table.
type PgRepository struct {
	db db.DBTX
}

// NewRepository constructs PgRepository over a pool or a transaction.
func NewRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

// NewTxWriter binds a writer to an open transaction.
func NewTxWriter(tx pgx.Tx) Writer {
	return &PgRepository{db: tx}
}

// InsertOutbox implements Writer.
func (r *PgRepository) InsertOutbox(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, `INSERT INTO outbox (id, kind, ref, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, 0, $6)`, e.ID, e.Kind, e.Ref, []byte(e.Payload), e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

// FetchPending returns pending rows oldest first.
func (r *PgRepository) FetchPending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT id, kind, ref, payload, status, attempts, COALESCE(last_error, ''), created_at, processed_at
FROM outbox
WHERE status = 'PENDING'
ORDER BY created_at, id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Ref, &payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.ProcessedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDone flags a row as delivered.
func (r *PgRepository) MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox SET status = 'DONE', processed_at = $2, attempts = attempts + 1, last_error = NULL WHERE id = $1`, id, at)
	return err
}

// MarkAttempt records a failed delivery, giving up when failed is set.
func (r *PgRepository) MarkAttempt(ctx context.Context, id uuid.UUID, lastError string, failed bool) error {
	status := StatusPending
	if failed {
		status = StatusFailed
	}
	_, err := r.db.Exec(ctx, `UPDATE outbox SET status = $2, attempts = attempts + 1, last_error = $3 WHERE id = $1`, id, status, lastError)
	return err
}

// CountByStatus reports the backlog, used by the job health endpoint.
func (r *PgRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int64)
	for rows.Next() {
		var s Status
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}
