package parties

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// TxRepository exposes the balance operations run inside a transaction.
type TxRepository interface {
	GetPartyForUpdate(ctx context.Context, id string) (Party, error)
	ApplyPartyDelta(ctx context.Context, id string, delta Delta) (Balance, error)
}

// Apply locks the party row and moves its balance.
func Apply(ctx context.Context, tx TxRepository, id string, delta Delta) (Balance, error) {
	p, err := tx.GetPartyForUpdate(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	if delta.IsZero() {
		return p.Balance, nil
	}
	return tx.ApplyPartyDelta(ctx, id, delta)
}

// Repository reads and writes parties in PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository over a pool or a transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// NewTxRepository binds the repository to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &Repository{db: tx}
}

const partyColumns = `id, name, type, has_balance, created_at, updated_at`

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	var balance decimal.Decimal
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &balance, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, err
	}
	p.Balance = NewBalance(balance)
	return p, nil
}

// Get loads a party.
func (r *Repository) Get(ctx context.Context, id string) (Party, error) {
	return scanParty(r.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id=$1`, id))
}

// Create inserts a party with a zero balance.
func (r *Repository) Create(ctx context.Context, p Party) error {
	_, err := r.db.Exec(ctx, `INSERT INTO parties (id, name, type, has_balance) VALUES ($1,$2,$3,0)`, p.ID, p.Name, p.Type)
	return err
}

func (r *Repository) GetPartyForUpdate(ctx context.Context, id string) (Party, error) {
	return scanParty(r.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id=$1 FOR UPDATE`, id))
}

func (r *Repository) ApplyPartyDelta(ctx context.Context, id string, delta Delta) (Balance, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, `UPDATE parties SET has_balance = has_balance + $2, updated_at = NOW() WHERE id=$1 RETURNING has_balance`, id, delta.HAS()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrPartyNotFound
		}
		return Balance{}, fmt.Errorf("parties: apply delta: %w", err)
	}
	return NewBalance(balance), nil
}

// ListBalances returns every party's cached balance keyed by id.
func (r *Repository) ListBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT id, has_balance FROM parties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id string
		var balance decimal.Decimal
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, err
		}
		out[id] = balance
	}
	return out, rows.Err()
}
