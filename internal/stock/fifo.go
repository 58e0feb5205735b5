package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
)

type fifoStrategy struct {
	shared bool
}

func (s fifoStrategy) scope(p *Product) LotScope {
	if s.shared {
		return LotScope{Key: p.Key()}
	}
	return LotScope{ProductID: p.ID}
}

func (s fifoStrategy) Consume(ctx context.Context, tx TxRepository, p *Product, qty decimal.Decimal) (Consumption, error) {
	lots, err := tx.ListLotsForUpdate(ctx, s.scope(p))
	if err != nil {
		return Consumption{}, err
	}
	available := remainingOf(lots)
	if available.LessThan(qty) {
		return Consumption{}, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientStock, qty, available)
	}

	left := qty
	cost := decimal.Zero
	layers := make([]Layer, 0, 2)
	for _, lot := range lots {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(lot.QuantityRemaining, left)
		if !take.IsPositive() {
			continue
		}
		lot.QuantityRemaining = lot.QuantityRemaining.Sub(take)
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return Consumption{}, err
		}
		cost = cost.Add(take.Mul(lot.UnitCostHAS))
		layers = append(layers, Layer{LotID: lot.ID, Quantity: take, UnitCostHAS: lot.UnitCostHAS})
		left = left.Sub(take)
	}

	p.RemainingQuantity = available.Sub(qty)
	markAvailability(p)
	return Consumption{Quantity: qty, CostHAS: has.Round(cost), Layers: layers}, nil
}

func (s fifoStrategy) Produce(ctx context.Context, tx TxRepository, p *Product, qty, cost decimal.Decimal, ref string) (Production, error) {
	lot, err := tx.InsertLot(ctx, Lot{
		ProductID:         p.ID,
		Key:               p.Key(),
		Quantity:          qty,
		QuantityRemaining: qty,
		UnitCostHAS:       cost.Div(qty).Round(costPlaces),
		SourceRef:         ref,
	})
	if err != nil {
		return Production{}, err
	}
	p.Quantity = p.Quantity.Add(qty)
	p.TotalCostHAS = p.TotalCostHAS.Add(cost)
	p.UnitHAS = lot.UnitCostHAS
	if err := s.refresh(ctx, tx, p); err != nil {
		return Production{}, err
	}
	return Production{Quantity: qty, CostHAS: cost, LotID: lot.ID}, nil
}

// Restore returns each layer to the lot it came from so the original
// insertion order is kept. A lot that no longer exists is recreated as the
// youngest layer at the same unit cost.
func (s fifoStrategy) Restore(ctx context.Context, tx TxRepository, p *Product, c Consumption) error {
	if len(c.Layers) == 0 && c.Quantity.IsPositive() {
		c.Layers = []Layer{{Quantity: c.Quantity, UnitCostHAS: c.CostHAS.Div(c.Quantity).Round(costPlaces)}}
	}
	for _, layer := range c.Layers {
		lot, err := tx.GetLotForUpdate(ctx, layer.LotID)
		switch {
		case errors.Is(err, ErrLotNotFound):
			if _, err := tx.InsertLot(ctx, Lot{
				ProductID:         p.ID,
				Key:               p.Key(),
				Quantity:          layer.Quantity,
				QuantityRemaining: layer.Quantity,
				UnitCostHAS:       layer.UnitCostHAS,
				SourceRef:         "restore",
			}); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			lot.QuantityRemaining = lot.QuantityRemaining.Add(layer.Quantity)
			if err := tx.UpdateLot(ctx, lot); err != nil {
				return err
			}
		}
	}
	return s.refresh(ctx, tx, p)
}

func (s fifoStrategy) Revert(ctx context.Context, tx TxRepository, p *Product, prod Production) error {
	lot, err := tx.GetLotForUpdate(ctx, prod.LotID)
	if err != nil {
		return err
	}
	if lot.QuantityRemaining.LessThan(lot.Quantity) {
		return ErrStockAlreadyConsumed
	}
	if err := tx.DeleteLot(ctx, lot.ID); err != nil {
		return err
	}
	p.Quantity = p.Quantity.Sub(prod.Quantity)
	p.TotalCostHAS = p.TotalCostHAS.Sub(prod.CostHAS)
	return s.refresh(ctx, tx, p)
}

func (s fifoStrategy) Reprice(ctx context.Context, tx TxRepository, p *Product, prod Production, cost decimal.Decimal) (Production, error) {
	lot, err := tx.GetLotForUpdate(ctx, prod.LotID)
	if err != nil {
		return Production{}, err
	}
	if lot.QuantityRemaining.LessThan(lot.Quantity) {
		return Production{}, ErrStockAlreadyConsumed
	}
	lot.UnitCostHAS = cost.Div(lot.Quantity).Round(costPlaces)
	if err := tx.UpdateLot(ctx, lot); err != nil {
		return Production{}, err
	}
	p.TotalCostHAS = p.TotalCostHAS.Add(cost.Sub(prod.CostHAS))
	p.UnitHAS = lot.UnitCostHAS
	prod.CostHAS = cost
	return prod, nil
}

func (fifoStrategy) AdjustCost(context.Context, TxRepository, *Product, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, ErrCostAdjustUnsupported
}

func (s fifoStrategy) refresh(ctx context.Context, tx TxRepository, p *Product) error {
	lots, err := tx.ListLotsForUpdate(ctx, s.scope(p))
	if err != nil {
		return err
	}
	p.RemainingQuantity = remainingOf(lots)
	markAvailability(p)
	return nil
}

func remainingOf(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.QuantityRemaining)
	}
	return total
}
