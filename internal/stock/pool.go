package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
)

type poolStrategy struct{}

func (poolStrategy) load(ctx context.Context, tx TxRepository, key Key) (Pool, error) {
	pool, err := tx.GetPoolForUpdate(ctx, key)
	if errors.Is(err, ErrPoolNotFound) {
		return Pool{Key: key}, nil
	}
	return pool, err
}

func (s poolStrategy) Consume(ctx context.Context, tx TxRepository, p *Product, qty decimal.Decimal) (Consumption, error) {
	pool, err := s.load(ctx, tx, p.Key())
	if err != nil {
		return Consumption{}, err
	}
	if qty.GreaterThan(pool.TotalWeight) {
		return Consumption{}, fmt.Errorf("%w: requested %s, pool holds %s", ErrInsufficientStock, qty, pool.TotalWeight)
	}
	cost := has.Round(qty.Mul(pool.AvgCostPerGram))
	if qty.Equal(pool.TotalWeight) {
		cost = pool.TotalCostHAS
	}
	pool.TotalWeight = pool.TotalWeight.Sub(qty)
	pool.TotalCostHAS = pool.TotalCostHAS.Sub(cost)
	if err := s.save(ctx, tx, p, pool); err != nil {
		return Consumption{}, err
	}
	return Consumption{Quantity: qty, CostHAS: cost}, nil
}

func (s poolStrategy) Produce(ctx context.Context, tx TxRepository, p *Product, qty, cost decimal.Decimal, _ string) (Production, error) {
	pool, err := s.load(ctx, tx, p.Key())
	if err != nil {
		return Production{}, err
	}
	pool.TotalWeight = pool.TotalWeight.Add(qty)
	pool.TotalCostHAS = pool.TotalCostHAS.Add(cost)
	p.Quantity = p.Quantity.Add(qty)
	p.TotalCostHAS = p.TotalCostHAS.Add(cost)
	if err := s.save(ctx, tx, p, pool); err != nil {
		return Production{}, err
	}
	return Production{Quantity: qty, CostHAS: cost}, nil
}

func (s poolStrategy) Restore(ctx context.Context, tx TxRepository, p *Product, c Consumption) error {
	pool, err := s.load(ctx, tx, p.Key())
	if err != nil {
		return err
	}
	pool.TotalWeight = pool.TotalWeight.Add(c.Quantity)
	pool.TotalCostHAS = pool.TotalCostHAS.Add(c.CostHAS)
	return s.save(ctx, tx, p, pool)
}

func (s poolStrategy) Revert(ctx context.Context, tx TxRepository, p *Product, prod Production) error {
	pool, err := s.load(ctx, tx, p.Key())
	if err != nil {
		return err
	}
	// Consumption since the top-up drew cost out at the blended average, so the
	// pool can hold the weight and still be short of the original cost.
	weight := pool.TotalWeight.Sub(prod.Quantity)
	cost := pool.TotalCostHAS.Sub(prod.CostHAS)
	if weight.IsNegative() || cost.IsNegative() {
		return ErrStockAlreadyConsumed
	}
	pool.TotalWeight = weight
	pool.TotalCostHAS = cost
	p.Quantity = p.Quantity.Sub(prod.Quantity)
	p.TotalCostHAS = p.TotalCostHAS.Sub(prod.CostHAS)
	return s.save(ctx, tx, p, pool)
}

func (s poolStrategy) Reprice(ctx context.Context, tx TxRepository, p *Product, prod Production, cost decimal.Decimal) (Production, error) {
	pool, err := s.load(ctx, tx, p.Key())
	if err != nil {
		return Production{}, err
	}
	diff := cost.Sub(prod.CostHAS)
	pool.TotalCostHAS = pool.TotalCostHAS.Add(diff)
	p.TotalCostHAS = p.TotalCostHAS.Add(diff)
	if err := s.save(ctx, tx, p, pool); err != nil {
		return Production{}, err
	}
	prod.CostHAS = cost
	return prod, nil
}

func (s poolStrategy) AdjustCost(ctx context.Context, tx TxRepository, p *Product, total decimal.Decimal) (decimal.Decimal, error) {
	pool, err := s.load(ctx, tx, p.Key())
	if err != nil {
		return decimal.Zero, err
	}
	if !pool.TotalWeight.IsPositive() {
		return decimal.Zero, ErrInsufficientStock
	}
	delta := total.Sub(pool.TotalCostHAS)
	pool.TotalCostHAS = total
	if err := s.save(ctx, tx, p, pool); err != nil {
		return decimal.Zero, err
	}
	return delta, nil
}

// save recomputes the weighted average and mirrors the pool onto the product.
func (poolStrategy) save(ctx context.Context, tx TxRepository, p *Product, pool Pool) error {
	if pool.TotalWeight.IsPositive() {
		pool.AvgCostPerGram = pool.TotalCostHAS.Div(pool.TotalWeight).Round(costPlaces)
	} else {
		pool.TotalWeight = decimal.Zero
		pool.TotalCostHAS = decimal.Zero
		pool.AvgCostPerGram = decimal.Zero
	}
	if err := tx.UpsertPool(ctx, pool); err != nil {
		return err
	}
	p.UnitHAS = pool.AvgCostPerGram
	p.RemainingQuantity = pool.TotalWeight
	markAvailability(p)
	return nil
}
