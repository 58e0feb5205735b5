package transactions

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/stock"
)

// Scrap records old gold (hurda) taken in from a party, valued at its fine
// gold content. It is either settled on the spot or credited to the party.
func (s *Service) Scrap(ctx context.Context, in ScrapInput) (Result, error) {
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if err := checkPositive(field+".weight_gram", l.WeightGram); err != nil {
			return Result{}, err
		}
		if err := checkFineness(field+".fineness", l.Fineness); err != nil {
			return Result{}, err
		}
	}

	return s.record(ctx, draft{
		typ:         TypeScrap,
		partyID:     in.PartyID,
		date:        in.TransactionDate,
		description: in.Description,
		key:         in.IdempotencyKey,
		actor:       in.ActorID,
		request:     in,
		build: func(ctx context.Context, tx Tx, t *Transaction, _ *parties.Party) (ledger.Fields, []cashregister.Movement, error) {
			return s.buildScrap(ctx, tx, t, in)
		},
	})
}

func (s *Service) buildScrap(ctx context.Context, tx Tx, t *Transaction, in ScrapInput) (ledger.Fields, []cashregister.Movement, error) {
	if in.PoolProductID != "" {
		products, err := lockProducts(ctx, tx, []string{in.PoolProductID})
		if err != nil {
			return ledger.Fields{}, nil, err
		}
		if track := products[in.PoolProductID].TrackType; track != stock.TrackPool {
			return ledger.Fields{}, nil, invalid("pool_product_id", "product is %s, not POOL", track)
		}
	}

	total, weight := decimal.Zero, decimal.Zero
	for i, l := range in.Lines {
		fine := has.Round(l.WeightGram.Mul(l.Fineness))
		line := Line{
			No:           i + 1,
			Kind:         LineInventory,
			KaratID:      l.KaratID,
			WeightGram:   l.WeightGram,
			Quantity:     l.WeightGram,
			LineTotalHAS: fine,
			Details: LineDetails{
				Fineness:    l.Fineness,
				MaterialHAS: fine,
				CostHAS:     fine,
			},
		}
		if in.PoolProductID != "" {
			_, prod, err := s.engine.Produce(ctx, tx, in.PoolProductID, l.WeightGram, fine, t.Code)
			if err != nil {
				return ledger.Fields{}, nil, fmt.Errorf("transactions: line %d: %w", i+1, err)
			}
			line.ProductID = in.PoolProductID
			line.Details.Production = &prod
		}
		t.Lines = append(t.Lines, line)
		total = total.Add(fine)
		weight = weight.Add(l.WeightGram)
	}

	scrap := has.Round(total)
	t.Details = ScrapDetails{
		ScrapHAS:      scrap,
		WeightGram:    weight,
		OnAccount:     in.OnAccount,
		PoolProductID: in.PoolProductID,
	}
	t.TotalHASAmount = scrap.Neg()

	f := ledger.Fields{HASIn: scrap, CostHAS: ledger.Some(scrap)}
	if in.OnAccount {
		t.BalanceDelta = parties.OwedToPartyDelta(scrap).HAS()
	} else {
		// settled on the spot: gold in and value out cancel on the balance
		t.BalanceDelta = decimal.Zero
		f.HASOut = scrap
	}
	return f, nil, nil
}
