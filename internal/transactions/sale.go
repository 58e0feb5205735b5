package transactions

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/parties"
)

// Sale records goods sold to a customer. Stock is consumed under each
// product's costing discipline; only the unpaid remainder lands on the
// customer's balance.
func (s *Service) Sale(ctx context.Context, in SaleInput) (Result, error) {
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if err := checkNotNegative(field+".quantity", l.Quantity); err != nil {
			return Result{}, err
		}
		if err := checkNotNegative(field+".weight_gram", l.WeightGram); err != nil {
			return Result{}, err
		}
		if l.Price != nil {
			if err := checkPositive(field+".price.amount", l.Price.Amount); err != nil {
				return Result{}, err
			}
		}
	}
	if in.Discount != nil {
		if err := checkPositive("discount.amount", in.Discount.Amount); err != nil {
			return Result{}, err
		}
	}
	if c := in.Collection; c != nil {
		if err := checkPositive("collection.amount", c.Amount); err != nil {
			return Result{}, err
		}
		if c.CommissionRate.IsNegative() || !c.CommissionRate.LessThan(one) {
			return Result{}, invalid("collection.commission_rate", "must be in [0, 1)")
		}
	}

	return s.record(ctx, draft{
		typ:         TypeSale,
		partyID:     in.PartyID,
		role:        parties.TypeCustomer,
		date:        in.TransactionDate,
		description: in.Description,
		key:         in.IdempotencyKey,
		actor:       in.ActorID,
		request:     in,
		build: func(ctx context.Context, tx Tx, t *Transaction, _ *parties.Party) (ledger.Fields, []cashregister.Movement, error) {
			return s.buildSale(ctx, tx, t, in)
		},
	})
}

func (s *Service) buildSale(ctx context.Context, tx Tx, t *Transaction, in SaleInput) (ledger.Fields, []cashregister.Movement, error) {
	ids := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		ids = append(ids, l.ProductID)
	}
	products, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return ledger.Fields{}, nil, err
	}

	snap := t.Snapshot
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		p := products[l.ProductID]
		qty := stockQuantity(p.TrackType, l.Quantity, l.WeightGram)
		if !qty.IsPositive() {
			return ledger.Fields{}, nil, invalid(field+".quantity", "required for %s products", p.TrackType)
		}
		weight := l.WeightGram
		if weight.IsZero() {
			weight = qty
		}

		details := LineDetails{}
		var sale decimal.Decimal
		switch {
		case l.Price != nil:
			cur, err := normalize(field+".price.currency", l.Price.Currency)
			if err != nil {
				return ledger.Fields{}, nil, err
			}
			if sale, err = snap.ToHAS(l.Price.Amount, cur, has.Sell); err != nil {
				return ledger.Fields{}, nil, err
			}
			details.Amount = l.Price.Amount
			details.Currency = cur
		case p.SaleHAS.IsPositive():
			sale = has.Round(p.SaleHAS.Mul(qty))
		default:
			return ledger.Fields{}, nil, invalid(field+".price", "required, product %s has no sale value", p.ID)
		}

		_, consumed, err := s.engine.Consume(ctx, tx, l.ProductID, qty)
		if err != nil {
			return ledger.Fields{}, nil, fmt.Errorf("transactions: line %d: %w", i+1, err)
		}
		details.SaleHAS = sale
		details.CostHAS = consumed.CostHAS
		details.ProfitHAS = has.Round(sale.Sub(consumed.CostHAS))
		details.Consumption = &consumed

		t.Lines = append(t.Lines, Line{
			No:           i + 1,
			Kind:         LineInventory,
			ProductID:    p.ID,
			KaratID:      p.KaratID,
			WeightGram:   weight,
			Quantity:     qty,
			LineTotalHAS: sale,
			Details:      details,
		})
	}

	d := SaleDetails{Discount: in.Discount}
	if in.Discount != nil {
		cur, err := normalize("discount.currency", in.Discount.Currency)
		if err != nil {
			return ledger.Fields{}, nil, err
		}
		d.Discount = &AmountInput{Amount: in.Discount.Amount, Currency: cur}
	}
	if c := in.Collection; c != nil {
		cur, err := normalize("collection.currency", c.Currency)
		if err != nil {
			return ledger.Fields{}, nil, err
		}
		amountHAS, err := snap.ToHAS(c.Amount, cur, has.Sell)
		if err != nil {
			return ledger.Fields{}, nil, err
		}
		d.Collection = &Collection{
			Amount:          c.Amount,
			Currency:        cur,
			AmountHAS:       amountHAS,
			PaymentMethodID: c.PaymentMethodID,
			CommissionRate:  c.CommissionRate,
			CashRegisterID:  c.CashRegisterID,
		}
	}
	if err := applySaleTotals(t, d); err != nil {
		return ledger.Fields{}, nil, err
	}

	var moves []cashregister.Movement
	if c := d.Collection; c != nil && c.CashRegisterID != "" {
		moves = append(moves, cashregister.Movement{
			ID:            cashregister.MovementID(t.Code, "collection"),
			RegisterID:    c.CashRegisterID,
			Direction:     cashregister.In,
			Amount:        c.Amount,
			Currency:      c.Currency,
			ReferenceType: ledger.ReferenceTransaction,
			ReferenceID:   t.Code,
		})
	}
	return saleFields(t), moves, nil
}

// applySaleTotals derives discount, commission, profit and totals from the
// inventory lines and rebuilds the payment, discount and fee lines.
func applySaleTotals(t *Transaction, d SaleDetails) error {
	snap := t.Snapshot
	var inventory []Line
	sale, cost, lineProfit := decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range t.Lines {
		if l.Kind != LineInventory {
			continue
		}
		inventory = append(inventory, l)
		sale = sale.Add(l.Details.SaleHAS)
		cost = cost.Add(l.Details.CostHAS)
		lineProfit = lineProfit.Add(l.Details.ProfitHAS)
	}
	d.SaleHAS = has.Round(sale)
	d.CostHAS = has.Round(cost)

	lines := inventory
	next := len(inventory) + 1
	d.DiscountHAS = decimal.Zero
	if d.Discount != nil {
		disc, err := snap.ToHAS(d.Discount.Amount, d.Discount.Currency, has.Sell)
		if err != nil {
			return err
		}
		if disc.GreaterThan(d.SaleHAS) {
			return invalid("discount.amount", "exceeds the sale value")
		}
		d.DiscountHAS = disc
		lines = append(lines, Line{
			No: next, Kind: LineDiscount, LineTotalHAS: disc,
			Details: LineDetails{Amount: d.Discount.Amount, Currency: d.Discount.Currency},
		})
		next++
	}

	collected := decimal.Zero
	d.CommissionHAS = decimal.Zero
	if c := d.Collection; c != nil {
		collected = c.AmountHAS
		rate, _ := snap.Rate(c.Currency, has.Sell)
		lines = append(lines, Line{
			No: next, Kind: LinePayment, LineTotalHAS: c.AmountHAS,
			Details: LineDetails{Amount: c.Amount, Currency: c.Currency, Rate: rate},
		})
		next++
		d.CommissionHAS = has.Round(c.AmountHAS.Mul(c.CommissionRate))
		if d.CommissionHAS.IsPositive() {
			lines = append(lines, Line{
				No: next, Kind: LineFee, LineTotalHAS: d.CommissionHAS.Neg(),
				Details: LineDetails{Rate: c.CommissionRate},
			})
		}
	}

	d.NetProfitHAS = has.Round(lineProfit.Sub(d.DiscountHAS).Sub(d.CommissionHAS))
	net := d.SaleHAS.Sub(d.DiscountHAS)
	t.Lines = lines
	t.Details = d
	t.TotalHASAmount = has.Round(net.Neg())
	t.BalanceDelta = parties.DeltaOf(collected.Sub(net)).HAS()
	return nil
}

func saleFields(t *Transaction) ledger.Fields {
	d := t.Details.(SaleDetails)
	f := ledger.Fields{
		HASOut:        d.SaleHAS.Sub(d.DiscountHAS),
		CostHAS:       ledger.Some(d.CostHAS),
		ProfitHAS:     ledger.Some(d.NetProfitHAS),
		DiscountHAS:   someIfNotZero(d.DiscountHAS),
		CommissionHAS: someIfNotZero(d.CommissionHAS),
	}
	if tl, err := t.Snapshot.TLValue(d.NetProfitHAS, has.Sell); err == nil {
		f.ProfitTL = ledger.Some(tl)
	}
	if c := d.Collection; c != nil {
		f.HASIn = c.AmountHAS
		f.Currency = c.Currency
		f.AmountIn = c.Amount
		f.CashRegisterID = c.CashRegisterID
		if rate, err := t.Snapshot.Rate(c.Currency, has.Sell); err == nil {
			f.ExchangeRate = ledger.Some(rate)
		}
	}
	return f
}
