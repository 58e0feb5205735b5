package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// TxRepository exposes the row-locked stock operations used by Engine.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id string) (Product, error)
	InsertProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListLotsForUpdate(ctx context.Context, scope LotScope) ([]Lot, error)
	GetLotForUpdate(ctx context.Context, id int64) (Lot, error)
	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	UpdateLot(ctx context.Context, lot Lot) error
	DeleteLot(ctx context.Context, id int64) error
	GetPoolForUpdate(ctx context.Context, key Key) (Pool, error)
	UpsertPool(ctx context.Context, pool Pool) error
}

// Repository persists stock in PostgreSQL.
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

const productColumns = `id, code, name, product_type_id, karat_id, track_type, quantity, remaining_quantity, unit_has, total_cost_has, sale_has, status, source_ref, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.ProductTypeID, &p.KaratID, &p.TrackType, &p.Quantity, &p.RemainingQuantity,
		&p.UnitHAS, &p.TotalCostHAS, &p.SaleHAS, &p.Status, &p.SourceRef, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, id string) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (r *Repository) GetProductForUpdate(ctx context.Context, id string) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
}

func (r *Repository) InsertProduct(ctx context.Context, p Product) error {
	_, err := r.db.Exec(ctx, `INSERT INTO products (id, code, name, product_type_id, karat_id, track_type, quantity, remaining_quantity, unit_has, total_cost_has, sale_has, status, source_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.Code, p.Name, p.ProductTypeID, p.KaratID, p.TrackType, p.Quantity, p.RemainingQuantity, p.UnitHAS, p.TotalCostHAS, p.SaleHAS, p.Status, p.SourceRef, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *Repository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET quantity=$2, remaining_quantity=$3, unit_has=$4, total_cost_has=$5, sale_has=$6, status=$7, updated_at=$8 WHERE id=$1`,
		p.ID, p.Quantity, p.RemainingQuantity, p.UnitHAS, p.TotalCostHAS, p.SaleHAS, p.Status, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *Repository) DeleteProduct(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	return err
}

const lotColumns = `id, COALESCE(product_id, ''), product_type_id, karat_id, quantity, quantity_remaining, unit_cost_has, source_ref, created_at`

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.ProductID, &l.Key.ProductTypeID, &l.Key.KaratID, &l.Quantity, &l.QuantityRemaining, &l.UnitCostHAS, &l.SourceRef, &l.CreatedAt)
	return l, err
}

func (r *Repository) ListLotsForUpdate(ctx context.Context, scope LotScope) ([]Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM stock_lots WHERE product_type_id=$1 AND karat_id=$2 AND quantity_remaining > 0 ORDER BY created_at, id FOR UPDATE`
	args := []any{scope.Key.ProductTypeID, scope.Key.KaratID}
	if scope.ProductID != "" {
		query = `SELECT ` + lotColumns + ` FROM stock_lots WHERE product_id=$1 AND quantity_remaining > 0 ORDER BY created_at, id FOR UPDATE`
		args = []any{scope.ProductID}
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (r *Repository) GetLotForUpdate(ctx context.Context, id int64) (Lot, error) {
	l, err := scanLot(r.db.QueryRow(ctx, `SELECT `+lotColumns+` FROM stock_lots WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return l, err
}

func (r *Repository) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO stock_lots (product_id, product_type_id, karat_id, quantity, quantity_remaining, unit_cost_has, source_ref)
VALUES (NULLIF($1,''),$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		lot.ProductID, lot.Key.ProductTypeID, lot.Key.KaratID, lot.Quantity, lot.QuantityRemaining, lot.UnitCostHAS, lot.SourceRef).Scan(&lot.ID, &lot.CreatedAt)
	return lot, err
}

func (r *Repository) UpdateLot(ctx context.Context, lot Lot) error {
	_, err := r.db.Exec(ctx, `UPDATE stock_lots SET quantity_remaining=$2, unit_cost_has=$3 WHERE id=$1`, lot.ID, lot.QuantityRemaining, lot.UnitCostHAS)
	return err
}

func (r *Repository) DeleteLot(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stock_lots WHERE id=$1`, id)
	return err
}

func (r *Repository) GetPoolForUpdate(ctx context.Context, key Key) (Pool, error) {
	p := Pool{Key: key}
	err := r.db.QueryRow(ctx, `SELECT total_weight, total_cost_has, avg_cost_per_gram, updated_at FROM stock_pools WHERE product_type_id=$1 AND karat_id=$2 FOR UPDATE`,
		key.ProductTypeID, key.KaratID).Scan(&p.TotalWeight, &p.TotalCostHAS, &p.AvgCostPerGram, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pool{}, ErrPoolNotFound
	}
	return p, err
}

func (r *Repository) UpsertPool(ctx context.Context, pool Pool) error {
	_, err := r.db.Exec(ctx, `INSERT INTO stock_pools (product_type_id, karat_id, total_weight, total_cost_has, avg_cost_per_gram, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (product_type_id, karat_id) DO UPDATE SET total_weight=EXCLUDED.total_weight, total_cost_has=EXCLUDED.total_cost_has, avg_cost_per_gram=EXCLUDED.avg_cost_per_gram, updated_at=NOW()`,
		pool.Key.ProductTypeID, pool.Key.KaratID, pool.TotalWeight, pool.TotalCostHAS, pool.AvgCostPerGram)
	return err
}
