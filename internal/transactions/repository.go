package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/platform/db"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/stock"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
	idem *shared.IdempotencyStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, idem: shared.NewIdempotencyStore(pool)}
}

type txRepo struct {
	stock.TxRepository
	*ledger.Repository
	outbox.Writer

	party parties.TxRepository
	tx    pgx.Tx
	idem  *shared.IdempotencyStore
}

// WithTx runs fn in one read-committed transaction shared by every
// repository the flow touches.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			TxRepository: stock.NewTxRepository(tx),
			Repository:   ledger.NewTxRepository(tx),
			Writer:       outbox.NewTxWriter(tx),
			party:        parties.NewTxRepository(tx),
			tx:           tx,
			idem:         shared.NewIdempotencyStore(tx),
		})
	})
}

// FindTransaction loads a transaction with its lines.
func (r *Repository) FindTransaction(ctx context.Context, code string) (Transaction, error) {
	return findTransaction(ctx, r.pool, code, false)
}

// LookupIdempotency implements Store.
func (r *Repository) LookupIdempotency(ctx context.Context, scope, key string) (shared.IdempotencyRecord, error) {
	return r.idem.Lookup(ctx, scope, key)
}

// CleanupIdempotency removes keys older than retention.
func (r *Repository) CleanupIdempotency(ctx context.Context, retention time.Duration) (int64, error) {
	return r.idem.Cleanup(ctx, retention)
}

func (r *txRepo) GetPartyForUpdate(ctx context.Context, id string) (parties.Party, error) {
	return r.party.GetPartyForUpdate(ctx, id)
}

func (r *txRepo) ApplyPartyDelta(ctx context.Context, id string, delta parties.Delta) (parties.Balance, error) {
	return r.party.ApplyPartyDelta(ctx, id, delta)
}

func (r *txRepo) ClaimIdempotencyKey(ctx context.Context, rec shared.IdempotencyRecord) (shared.IdempotencyRecord, bool, error) {
	return r.idem.Claim(ctx, rec)
}

const headerColumns = `code, type, COALESCE(party_id, ''), transaction_date, status, total_has_amount, balance_delta, description,
details, snapshot, COALESCE(idempotency_key, ''), created_by, created_at, updated_at, cancelled_at, cancel_reason, cancelled_by, version`

// InsertTransaction stores the header. A taken code is reported as
// ErrDuplicateCode without aborting the transaction.
func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) error {
	details, snapshot, err := encodeHeader(t)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `INSERT INTO transactions (code, type, party_id, transaction_date, status, total_has_amount, balance_delta, description,
details, snapshot, idempotency_key, created_by, created_at, updated_at, version)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14,$15)
ON CONFLICT (code) DO NOTHING`,
		t.Code, t.Type, t.PartyID, t.TransactionDate, t.Status, t.TotalHASAmount, t.BalanceDelta, t.Description,
		details, snapshot, t.IdempotencyKey, t.CreatedBy, t.CreatedAt, t.UpdatedAt, t.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateCode
	}
	return r.insertLines(ctx, t)
}

func (r *txRepo) GetTransactionForUpdate(ctx context.Context, code string) (Transaction, error) {
	return findTransaction(ctx, r.tx, code, true)
}

// UpdateTransaction rewrites the header and replaces the lines.
func (r *txRepo) UpdateTransaction(ctx context.Context, t Transaction) error {
	details, snapshot, err := encodeHeader(t)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE transactions SET status=$2, total_has_amount=$3, balance_delta=$4, details=$5, snapshot=$6,
updated_at=$7, cancelled_at=$8, cancel_reason=$9, cancelled_by=$10, version=$11 WHERE code=$1`,
		t.Code, t.Status, t.TotalHASAmount, t.BalanceDelta, details, snapshot,
		t.UpdatedAt, t.CancelledAt, t.CancelReason, t.CancelledBy, t.Version)
	if err != nil {
		return fmt.Errorf("transactions: update %s: %w", t.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM transaction_lines WHERE transaction_code=$1`, t.Code); err != nil {
		return fmt.Errorf("transactions: clear lines of %s: %w", t.Code, err)
	}
	return r.insertLines(ctx, t)
}

func (r *txRepo) insertLines(ctx context.Context, t Transaction) error {
	if len(t.Lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range t.Lines {
		details, err := json.Marshal(l.Details)
		if err != nil {
			return fmt.Errorf("transactions: encode line %d: %w", l.No, err)
		}
		batch.Queue(`INSERT INTO transaction_lines (transaction_code, no, kind, product_id, karat_id, weight_gram, quantity, line_total_has, details)
VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9)`,
			t.Code, l.No, l.Kind, l.ProductID, l.KaratID, l.WeightGram, l.Quantity, l.LineTotalHAS, details)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range t.Lines {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("transactions: insert lines of %s: %w", t.Code, err)
		}
	}
	return nil
}

func encodeHeader(t Transaction) ([]byte, []byte, error) {
	var details []byte
	if t.Details != nil {
		b, err := json.Marshal(t.Details)
		if err != nil {
			return nil, nil, fmt.Errorf("transactions: encode details: %w", err)
		}
		details = b
	}
	snapshot, err := json.Marshal(t.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("transactions: encode snapshot: %w", err)
	}
	return details, snapshot, nil
}

func findTransaction(ctx context.Context, conn db.DBTX, code string, lock bool) (Transaction, error) {
	query := `SELECT ` + headerColumns + ` FROM transactions WHERE code=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		t           Transaction
		details     []byte
		snapshot    []byte
		cancelledAt *time.Time
		reason      *string
		by          *string
	)
	err := conn.QueryRow(ctx, query, code).Scan(&t.Code, &t.Type, &t.PartyID, &t.TransactionDate, &t.Status, &t.TotalHASAmount,
		&t.BalanceDelta, &t.Description, &details, &snapshot, &t.IdempotencyKey, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		&cancelledAt, &reason, &by, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("transactions: load %s: %w", code, err)
	}
	t.CancelledAt = cancelledAt
	if reason != nil {
		t.CancelReason = *reason
	}
	if by != nil {
		t.CancelledBy = *by
	}
	if t.Details, err = DecodeDetails(t.Type, details); err != nil {
		return Transaction{}, err
	}
	var snap has.Snapshot
	if err := json.Unmarshal(snapshot, &snap); err != nil {
		return Transaction{}, fmt.Errorf("transactions: decode snapshot of %s: %w", code, err)
	}
	t.Snapshot = snap

	rows, err := conn.Query(ctx, `SELECT no, kind, COALESCE(product_id, ''), COALESCE(karat_id, ''), weight_gram, quantity, line_total_has, details
FROM transaction_lines WHERE transaction_code=$1 ORDER BY no`, code)
	if err != nil {
		return Transaction{}, fmt.Errorf("transactions: load lines of %s: %w", code, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l   Line
			raw []byte
		)
		if err := rows.Scan(&l.No, &l.Kind, &l.ProductID, &l.KaratID, &l.WeightGram, &l.Quantity, &l.LineTotalHAS, &raw); err != nil {
			return Transaction{}, err
		}
		if err := json.Unmarshal(raw, &l.Details); err != nil {
			return Transaction{}, fmt.Errorf("transactions: decode line %d of %s: %w", l.No, code, err)
		}
		t.Lines = append(t.Lines, l)
	}
	return t, rows.Err()
}
