package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine locks products and dispatches to their costing strategy.
type Engine struct {
	now func() time.Time
}

// NewEngine builds Engine.
func NewEngine() *Engine {
	return &Engine{now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock, used in tests.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	if fn != nil {
		e.now = fn
	}
	return e
}

func (e *Engine) load(ctx context.Context, tx TxRepository, productID string) (Product, Strategy, error) {
	p, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return Product{}, nil, err
	}
	strategy, err := For(p.TrackType)
	if err != nil {
		return Product{}, nil, err
	}
	return p, strategy, nil
}

func (e *Engine) save(ctx context.Context, tx TxRepository, p Product) (Product, error) {
	p.UpdatedAt = e.now()
	if err := tx.UpdateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Consume takes qty out of a product's stock.
func (e *Engine) Consume(ctx context.Context, tx TxRepository, productID string, qty decimal.Decimal) (Product, Consumption, error) {
	if !qty.IsPositive() {
		return Product{}, Consumption{}, ErrInvalidQuantity
	}
	p, strategy, err := e.load(ctx, tx, productID)
	if err != nil {
		return Product{}, Consumption{}, err
	}
	c, err := strategy.Consume(ctx, tx, &p, qty)
	if err != nil {
		return Product{}, Consumption{}, err
	}
	p, err = e.save(ctx, tx, p)
	return p, c, err
}

// Produce brings qty into an existing product at cost.
func (e *Engine) Produce(ctx context.Context, tx TxRepository, productID string, qty, cost decimal.Decimal, ref string) (Product, Production, error) {
	if err := checkInbound(qty, cost); err != nil {
		return Product{}, Production{}, err
	}
	p, strategy, err := e.load(ctx, tx, productID)
	if err != nil {
		return Product{}, Production{}, err
	}
	prod, err := strategy.Produce(ctx, tx, &p, qty, cost, ref)
	if err != nil {
		return Product{}, Production{}, err
	}
	p, err = e.save(ctx, tx, p)
	return p, prod, err
}

// Create inserts a new product and produces its first stock.
func (e *Engine) Create(ctx context.Context, tx TxRepository, p Product, qty, cost decimal.Decimal, ref string) (Product, Production, error) {
	if err := checkInbound(qty, cost); err != nil {
		return Product{}, Production{}, err
	}
	strategy, err := For(p.TrackType)
	if err != nil {
		return Product{}, Production{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := e.now()
	p.Quantity = decimal.Zero
	p.RemainingQuantity = decimal.Zero
	p.TotalCostHAS = decimal.Zero
	p.Status = StatusSold
	p.SourceRef = ref
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := tx.InsertProduct(ctx, p); err != nil {
		return Product{}, Production{}, err
	}
	prod, err := strategy.Produce(ctx, tx, &p, qty, cost, ref)
	if err != nil {
		return Product{}, Production{}, err
	}
	prod.CreatedProduct = true
	p, err = e.save(ctx, tx, p)
	return p, prod, err
}

// Restore puts a consumption back into stock.
func (e *Engine) Restore(ctx context.Context, tx TxRepository, productID string, c Consumption) (Product, error) {
	p, strategy, err := e.load(ctx, tx, productID)
	if err != nil {
		return Product{}, err
	}
	if err := strategy.Restore(ctx, tx, &p, c); err != nil {
		return Product{}, err
	}
	return e.save(ctx, tx, p)
}

// Revert removes a production. A unique product created by it is deleted.
func (e *Engine) Revert(ctx context.Context, tx TxRepository, productID string, prod Production) (Product, error) {
	p, strategy, err := e.load(ctx, tx, productID)
	if err != nil {
		return Product{}, err
	}
	if err := strategy.Revert(ctx, tx, &p, prod); err != nil {
		return Product{}, err
	}
	if prod.CreatedProduct && p.TrackType == TrackUnique {
		return p, tx.DeleteProduct(ctx, p.ID)
	}
	return e.save(ctx, tx, p)
}

// Reprice changes the cost of a production that is still untouched.
func (e *Engine) Reprice(ctx context.Context, tx TxRepository, productID string, prod Production, cost decimal.Decimal) (Product, Production, error) {
	if cost.IsNegative() {
		return Product{}, Production{}, ErrInvalidCost
	}
	p, strategy, err := e.load(ctx, tx, productID)
	if err != nil {
		return Product{}, Production{}, err
	}
	prod, err = strategy.Reprice(ctx, tx, &p, prod, cost)
	if err != nil {
		return Product{}, Production{}, err
	}
	p, err = e.save(ctx, tx, p)
	return p, prod, err
}

// AdjustCost sets the carried cost of a unique item or a pool and returns the change.
func (e *Engine) AdjustCost(ctx context.Context, tx TxRepository, productID string, total decimal.Decimal) (Product, decimal.Decimal, error) {
	if total.IsNegative() {
		return Product{}, decimal.Zero, ErrInvalidCost
	}
	p, strategy, err := e.load(ctx, tx, productID)
	if err != nil {
		return Product{}, decimal.Zero, err
	}
	delta, err := strategy.AdjustCost(ctx, tx, &p, total)
	if err != nil {
		return Product{}, decimal.Zero, err
	}
	p, err = e.save(ctx, tx, p)
	return p, delta, err
}

func checkInbound(qty, cost decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if cost.IsNegative() {
		return ErrInvalidCost
	}
	return nil
}
