package stock

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// costPlaces is the precision kept on unit and average costs.
const costPlaces int32 = 10

// Strategy applies one costing discipline. Every method runs inside the
// caller's transaction with the product row already locked and mutates p in
// place; the caller persists p.
type Strategy interface {
	// Consume takes qty out of stock and reports its cost.
	Consume(ctx context.Context, tx TxRepository, p *Product, qty decimal.Decimal) (Consumption, error)
	// Produce brings qty into stock at cost.
	Produce(ctx context.Context, tx TxRepository, p *Product, qty, cost decimal.Decimal, ref string) (Production, error)
	// Restore puts a previous consumption back.
	Restore(ctx context.Context, tx TxRepository, p *Product, c Consumption) error
	// Revert removes a previous production unless it was consumed.
	Revert(ctx context.Context, tx TxRepository, p *Product, prod Production) error
	// Reprice changes the cost of a previous production.
	Reprice(ctx context.Context, tx TxRepository, p *Product, prod Production, cost decimal.Decimal) (Production, error)
	// AdjustCost sets the carried cost and returns the change.
	AdjustCost(ctx context.Context, tx TxRepository, p *Product, total decimal.Decimal) (decimal.Decimal, error)
}

// For returns the strategy of a track type.
func For(t TrackType) (Strategy, error) {
	switch t {
	case TrackUnique:
		return uniqueStrategy{}, nil
	case TrackFIFO:
		return fifoStrategy{}, nil
	case TrackFIFOLot:
		return fifoStrategy{shared: true}, nil
	case TrackPool:
		return poolStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTrackType, t)
}

func markAvailability(p *Product) {
	if p.RemainingQuantity.IsPositive() {
		p.Status = StatusInStock
		return
	}
	p.RemainingQuantity = decimal.Zero
	p.Status = StatusSold
}
