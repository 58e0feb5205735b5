package transactions

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/parties"
)

// Payment records money or gold paid to a supplier.
func (s *Service) Payment(ctx context.Context, in SettlementInput) (Result, error) {
	return s.settle(ctx, TypePayment, in)
}

// Receipt records money or gold collected from a customer.
func (s *Service) Receipt(ctx context.Context, in SettlementInput) (Result, error) {
	return s.settle(ctx, TypeReceipt, in)
}

// settlementRole is the counterparty a settlement is made with: payments go
// to suppliers, receipts come from customers.
func settlementRole(typ Type) parties.Type {
	if typ == TypePayment {
		return parties.TypeSupplier
	}
	return parties.TypeCustomer
}

func (s *Service) settle(ctx context.Context, typ Type, in SettlementInput) (Result, error) {
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	if err := checkPositive("amount", in.Amount); err != nil {
		return Result{}, err
	}
	if in.ExpectedHAS.Valid {
		if err := checkPositive("expected_has", in.ExpectedHAS.Decimal); err != nil {
			return Result{}, err
		}
	}
	currency, err := normalize("currency", in.Currency)
	if err != nil {
		return Result{}, err
	}

	return s.record(ctx, draft{
		typ:         typ,
		partyID:     in.PartyID,
		role:        settlementRole(typ),
		date:        in.TransactionDate,
		description: in.Description,
		key:         in.IdempotencyKey,
		actor:       in.ActorID,
		request:     in,
		build: func(_ context.Context, _ Tx, t *Transaction, _ *parties.Party) (ledger.Fields, []cashregister.Movement, error) {
			d := SettlementDetails{
				Amount:          in.Amount,
				Currency:        currency,
				ExpectedHAS:     in.ExpectedHAS,
				PaymentMethodID: in.PaymentMethodID,
				CashRegisterID:  in.CashRegisterID,
			}
			if err := applySettlement(t, d); err != nil {
				return ledger.Fields{}, nil, err
			}
			var moves []cashregister.Movement
			if in.CashRegisterID != "" {
				moves = append(moves, cashregister.Movement{
					ID:            cashregister.MovementID(t.Code, "settlement"),
					RegisterID:    in.CashRegisterID,
					Direction:     settlementDirection(t.Type),
					Amount:        in.Amount,
					Currency:      currency,
					ReferenceType: ledger.ReferenceTransaction,
					ReferenceID:   t.Code,
				})
			}
			return settlementFields(t), moves, nil
		},
	})
}

// settlementDirection is the way cash moves: out to suppliers, in from customers.
func settlementDirection(typ Type) cashregister.Direction {
	if typ == TypePayment {
		return cashregister.Out
	}
	return cashregister.In
}

// applySettlement converts the amount, derives the debt closed and any
// discount, and sets lines and totals. Paying out values currency at the
// gold buy rate, collecting at the sell rate.
func applySettlement(t *Transaction, d SettlementDetails) error {
	dir := has.Sell
	if t.Type == TypePayment {
		dir = has.Buy
	}
	amountHAS, err := t.Snapshot.ToHAS(d.Amount, d.Currency, dir)
	if err != nil {
		return err
	}
	rate, err := t.Snapshot.Rate(d.Currency, dir)
	if err != nil {
		return err
	}
	d.AmountHAS = amountHAS
	d.Rate = rate
	d.ClosedHAS = amountHAS
	d.DiscountHAS = decimal.Zero
	d.ProfitHAS = decimal.Zero
	if d.ExpectedHAS.Valid {
		d.ClosedHAS = has.Round(d.ExpectedHAS.Decimal)
		d.DiscountHAS = has.Round(d.ClosedHAS.Sub(amountHAS))
		// a supplier's discount is a gain, a discount given to a customer a loss
		d.ProfitHAS = d.DiscountHAS
		if t.Type == TypeReceipt {
			d.ProfitHAS = d.DiscountHAS.Neg()
		}
	}

	t.Lines = []Line{{
		No: 1, Kind: LinePayment, LineTotalHAS: amountHAS,
		Details: LineDetails{Amount: d.Amount, Currency: d.Currency, Rate: rate},
	}}
	if !d.DiscountHAS.IsZero() {
		t.Lines = append(t.Lines, Line{No: 2, Kind: LineDiscount, LineTotalHAS: d.DiscountHAS})
	}
	t.Details = d
	if t.Type == TypePayment {
		t.TotalHASAmount = amountHAS.Neg()
		t.BalanceDelta = parties.OwedByPartyDelta(d.ClosedHAS).HAS()
	} else {
		t.TotalHASAmount = amountHAS
		t.BalanceDelta = parties.OwedToPartyDelta(d.ClosedHAS).HAS()
	}
	return nil
}

func settlementFields(t *Transaction) ledger.Fields {
	d := t.Details.(SettlementDetails)
	f := ledger.Fields{
		Currency:       d.Currency,
		ExchangeRate:   ledger.Some(d.Rate),
		ProfitHAS:      someIfNotZero(d.ProfitHAS),
		DiscountHAS:    someIfNotZero(d.DiscountHAS),
		CashRegisterID: d.CashRegisterID,
	}
	if t.Type == TypePayment {
		f.HASOut = d.ClosedHAS
		f.AmountOut = d.Amount
	} else {
		f.HASIn = d.ClosedHAS
		f.AmountIn = d.Amount
	}
	return f
}
