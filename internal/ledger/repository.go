package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// Repository persists ledger entries in PostgreSQL. It only inserts and reads.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository over a pool or a transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// NewTxRepository binds the repository to an open transaction.
func NewTxRepository(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const entryColumns = `id, type, transaction_date, created_at, has_in, has_out, has_net, currency, amount_in, amount_out, amount_net, exchange_rate,
cost_has, cost_tl, profit_has, profit_tl, discount_has, commission_has,
COALESCE(party_id, ''), COALESCE(party_type, ''), COALESCE(cash_register_id, ''), COALESCE(product_id, ''),
reference_type, reference_id, description, created_by`

// InsertEntry stores e; an id collision is reported as ErrDuplicateEntryID
// without aborting the surrounding transaction.
func (r *Repository) InsertEntry(ctx context.Context, e Entry) error {
	tag, err := r.db.Exec(ctx, `INSERT INTO ledger_entries (id, type, transaction_date, created_at, has_in, has_out, has_net, currency, amount_in, amount_out, amount_net, exchange_rate,
cost_has, cost_tl, profit_has, profit_tl, discount_has, commission_has, party_id, party_type, cash_register_id, product_id, reference_type, reference_id, description, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NULLIF($19,''),NULLIF($20,''),NULLIF($21,''),NULLIF($22,''),$23,$24,$25,$26)
ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Type, e.TransactionDate, e.CreatedAt, e.HASIn, e.HASOut, e.HASNet, e.Currency, e.AmountIn, e.AmountOut, e.AmountNet, e.ExchangeRate,
		e.CostHAS, e.CostTL, e.ProfitHAS, e.ProfitTL, e.DiscountHAS, e.CommissionHAS, e.PartyID, e.PartyType, e.CashRegisterID, e.ProductID,
		e.ReferenceType, e.ReferenceID, e.Description, e.CreatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEntryID
	}
	return nil
}

// ListEntriesByReference returns every entry for a source record in creation order.
func (r *Repository) ListEntriesByReference(ctx context.Context, refType, refID string) ([]Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE reference_type=$1 AND reference_id=$2 ORDER BY created_at, id`, refType, refID)
}

// ListByParty returns every entry of a party.
func (r *Repository) ListByParty(ctx context.Context, partyID string) ([]Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE party_id=$1 ORDER BY transaction_date, created_at, id`, partyID)
}

// PartyTotals sums has_net per party.
func (r *Repository) PartyTotals(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT party_id, COALESCE(SUM(has_net), 0) FROM ledger_entries WHERE party_id IS NOT NULL GROUP BY party_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id string
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Type, &e.TransactionDate, &e.CreatedAt, &e.HASIn, &e.HASOut, &e.HASNet, &e.Currency, &e.AmountIn, &e.AmountOut, &e.AmountNet, &e.ExchangeRate,
			&e.CostHAS, &e.CostTL, &e.ProfitHAS, &e.ProfitTL, &e.DiscountHAS, &e.CommissionHAS,
			&e.PartyID, &e.PartyType, &e.CashRegisterID, &e.ProductID,
			&e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedBy); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
