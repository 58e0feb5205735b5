package stock

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUniqueInStock is returned when producing into a unique item that is still in stock.
var ErrUniqueInStock = errors.New("stock: unique item already in stock")

var one = decimal.NewFromInt(1)

type uniqueStrategy struct{}

func (uniqueStrategy) Consume(_ context.Context, _ TxRepository, p *Product, qty decimal.Decimal) (Consumption, error) {
	if !qty.Equal(one) {
		return Consumption{}, ErrPartialUnique
	}
	if p.Status != StatusInStock || !p.RemainingQuantity.IsPositive() {
		return Consumption{}, ErrInsufficientStock
	}
	p.RemainingQuantity = decimal.Zero
	p.Status = StatusSold
	return Consumption{Quantity: one, CostHAS: p.TotalCostHAS}, nil
}

func (uniqueStrategy) Produce(_ context.Context, _ TxRepository, p *Product, qty, cost decimal.Decimal, _ string) (Production, error) {
	if !qty.Equal(one) {
		return Production{}, ErrPartialUnique
	}
	if p.Status == StatusInStock && p.RemainingQuantity.IsPositive() {
		return Production{}, ErrUniqueInStock
	}
	p.Quantity = one
	p.RemainingQuantity = one
	p.TotalCostHAS = cost
	p.UnitHAS = cost
	p.Status = StatusInStock
	return Production{Quantity: one, CostHAS: cost}, nil
}

func (uniqueStrategy) Restore(_ context.Context, _ TxRepository, p *Product, _ Consumption) error {
	if p.Status != StatusSold {
		return ErrNotSold
	}
	p.RemainingQuantity = one
	p.Status = StatusInStock
	return nil
}

func (uniqueStrategy) Revert(_ context.Context, _ TxRepository, p *Product, _ Production) error {
	if p.Status == StatusSold {
		return ErrStockAlreadyConsumed
	}
	p.RemainingQuantity = decimal.Zero
	p.Status = StatusSold
	return nil
}

func (uniqueStrategy) Reprice(_ context.Context, _ TxRepository, p *Product, prod Production, cost decimal.Decimal) (Production, error) {
	if p.Status == StatusSold {
		return Production{}, ErrStockAlreadyConsumed
	}
	p.TotalCostHAS = cost
	p.UnitHAS = cost
	prod.CostHAS = cost
	return prod, nil
}

func (uniqueStrategy) AdjustCost(_ context.Context, _ TxRepository, p *Product, total decimal.Decimal) (decimal.Decimal, error) {
	if p.Status == StatusSold {
		return decimal.Zero, ErrStockAlreadyConsumed
	}
	delta := total.Sub(p.TotalCostHAS)
	p.TotalCostHAS = total
	p.UnitHAS = total
	return delta, nil
}
