package transactions

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/stock"
)

// Purchase records gold bought from a supplier. Every line produces stock at
// its HAS cost and the business owes the supplier the total.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (Result, error) {
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.ProductID != "" && l.NewProduct != nil {
			return Result{}, invalid(field, "product_id and new_product are exclusive")
		}
		if err := checkPositive(field+".weight_gram", l.WeightGram); err != nil {
			return Result{}, err
		}
		if err := checkFineness(field+".fineness", l.Fineness); err != nil {
			return Result{}, err
		}
		if err := checkNotNegative(field+".labor_rate", l.LaborRate); err != nil {
			return Result{}, err
		}
		if l.LaborRate.IsPositive() && l.LaborType == "" {
			return Result{}, invalid(field+".labor_type", "required with labor_rate")
		}
		if err := checkNotNegative(field+".quantity", l.Quantity); err != nil {
			return Result{}, err
		}
	}

	return s.record(ctx, draft{
		typ:         TypePurchase,
		partyID:     in.PartyID,
		role:        parties.TypeSupplier,
		date:        in.TransactionDate,
		description: in.Description,
		key:         in.IdempotencyKey,
		actor:       in.ActorID,
		request:     in,
		build: func(ctx context.Context, tx Tx, t *Transaction, _ *parties.Party) (ledger.Fields, []cashregister.Movement, error) {
			return s.buildPurchase(ctx, tx, t, in)
		},
	})
}

func (s *Service) buildPurchase(ctx context.Context, tx Tx, t *Transaction, in PurchaseInput) (ledger.Fields, []cashregister.Movement, error) {
	var existing []string
	for _, l := range in.Lines {
		if l.ProductID != "" {
			existing = append(existing, l.ProductID)
		}
	}
	products, err := lockProducts(ctx, tx, existing)
	if err != nil {
		return ledger.Fields{}, nil, err
	}

	for i, l := range in.Lines {
		cost := pricePurchaseLine(l.WeightGram, l.Fineness, l.LaborType, l.LaborRate, l.Pieces)
		total := cost.Total()

		var (
			product stock.Product
			prod    stock.Production
		)
		if l.NewProduct != nil {
			np := l.NewProduct
			qty := stockQuantity(np.TrackType, l.Quantity, l.WeightGram)
			product, prod, err = s.engine.Create(ctx, tx, stock.Product{
				Code:          np.Code,
				Name:          np.Name,
				ProductTypeID: np.ProductTypeID,
				KaratID:       l.KaratID,
				TrackType:     np.TrackType,
				SaleHAS:       np.SaleHAS,
			}, qty, total, t.Code)
		} else {
			qty := stockQuantity(products[l.ProductID].TrackType, l.Quantity, l.WeightGram)
			product, prod, err = s.engine.Produce(ctx, tx, l.ProductID, qty, total, t.Code)
		}
		if err != nil {
			return ledger.Fields{}, nil, fmt.Errorf("transactions: line %d: %w", i+1, err)
		}

		t.Lines = append(t.Lines, Line{
			No:           i + 1,
			Kind:         LineInventory,
			ProductID:    product.ID,
			KaratID:      l.KaratID,
			WeightGram:   l.WeightGram,
			Quantity:     prod.Quantity,
			LineTotalHAS: total,
			Details: LineDetails{
				Fineness:    l.Fineness,
				LaborType:   l.LaborType,
				LaborRate:   l.LaborRate,
				Pieces:      cost.Pieces,
				MaterialHAS: cost.Material,
				LaborHAS:    cost.Labor,
				CostHAS:     total,
				Production:  &prod,
			},
		})
	}

	applyPurchaseTotals(t)
	return purchaseFields(t), nil, nil
}

func applyPurchaseTotals(t *Transaction) {
	d := PurchaseDetails{MaterialHAS: decimal.Zero, LaborHAS: decimal.Zero}
	total := decimal.Zero
	for _, l := range t.Lines {
		total = total.Add(l.LineTotalHAS)
		d.MaterialHAS = d.MaterialHAS.Add(l.Details.MaterialHAS)
		d.LaborHAS = d.LaborHAS.Add(l.Details.LaborHAS)
	}
	t.Details = d
	t.TotalHASAmount = has.Round(total)
	t.BalanceDelta = parties.OwedToPartyDelta(total).HAS()
}

func purchaseFields(t *Transaction) ledger.Fields {
	f := ledger.Fields{
		HASIn:   t.TotalHASAmount,
		CostHAS: ledger.Some(t.TotalHASAmount),
	}
	if tl, err := t.Snapshot.TLValue(t.TotalHASAmount, has.Buy); err == nil {
		f.CostTL = ledger.Some(tl)
	}
	return f
}

// lockProducts takes row locks on products in id order so concurrent flows
// touching the same products cannot deadlock.
func lockProducts(ctx context.Context, tx Tx, ids []string) (map[string]stock.Product, error) {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)
	out := make(map[string]stock.Product, len(uniq))
	for _, id := range uniq {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("transactions: product %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}
