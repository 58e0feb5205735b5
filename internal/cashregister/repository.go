package cashregister

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// PgRepository stores movements in cash_movements.
type PgRepository struct {
	db db.DBTX
}

// NewRepository constructs PgRepository.
func NewRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

func (r *PgRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.db.Exec(ctx, `INSERT INTO cash_movements (id, register_id, direction, amount, currency, reference_type, reference_id, reversal_of, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
ON CONFLICT (id) DO NOTHING`,
		m.ID, m.RegisterID, m.Direction, m.Amount, m.Currency, m.ReferenceType, m.ReferenceID, m.ReversalOf, m.Description, m.CreatedAt)
	return err
}

func (r *PgRepository) ListByReference(ctx context.Context, refType, refID string) ([]Movement, error) {
	rows, err := r.db.Query(ctx, `SELECT id, register_id, direction, amount, currency, reference_type, reference_id, COALESCE(reversal_of::text, ''), description, created_at
FROM cash_movements
WHERE reference_type = $1 AND reference_id = $2
ORDER BY created_at, id`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.RegisterID, &m.Direction, &m.Amount, &m.Currency, &m.ReferenceType, &m.ReferenceID, &m.ReversalOf, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PgRepository) RegisterTotals(ctx context.Context, registerID string) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT currency, SUM(CASE WHEN direction = 'IN' THEN amount ELSE -amount END)
FROM cash_movements
WHERE register_id = $1
GROUP BY currency`, registerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency string
		var total decimal.Decimal
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, err
		}
		out[currency] = total
	}
	return out, rows.Err()
}
