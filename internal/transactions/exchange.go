package transactions

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/parties"
)

// Exchange records currency taken in (From) against currency handed out
// (To). Both legs are valued through HAS at mid rates; the difference is the
// exchange profit. No party balance moves.
func (s *Service) Exchange(ctx context.Context, in ExchangeInput) (Result, error) {
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	from, err := normalize("from_currency", in.FromCurrency)
	if err != nil {
		return Result{}, err
	}
	to, err := normalize("to_currency", in.ToCurrency)
	if err != nil {
		return Result{}, err
	}
	if from == to {
		return Result{}, invalid("to_currency", "must differ from from_currency")
	}
	if err := checkPositive("from_amount", in.FromAmount); err != nil {
		return Result{}, err
	}
	if in.ToAmount.Valid {
		if err := checkPositive("to_amount", in.ToAmount.Decimal); err != nil {
			return Result{}, err
		}
	}
	if in.Rate.Valid {
		if err := checkPositive("rate", in.Rate.Decimal); err != nil {
			return Result{}, err
		}
	}

	return s.record(ctx, draft{
		typ:         TypeExchange,
		date:        in.TransactionDate,
		description: in.Description,
		key:         in.IdempotencyKey,
		actor:       in.ActorID,
		request:     in,
		build: func(_ context.Context, _ Tx, t *Transaction, _ *parties.Party) (ledger.Fields, []cashregister.Movement, error) {
			return buildExchange(t, in, from, to)
		},
	})
}

func buildExchange(t *Transaction, in ExchangeInput, from, to string) (ledger.Fields, []cashregister.Movement, error) {
	snap := t.Snapshot
	var (
		rate     decimal.Decimal
		toAmount decimal.Decimal
		err      error
	)
	switch {
	case in.ToAmount.Valid:
		toAmount = in.ToAmount.Decimal
		rate = toAmount.Div(in.FromAmount).Round(8)
	case in.Rate.Valid:
		rate = in.Rate.Decimal
		toAmount = roundAmount(to, in.FromAmount.Mul(rate))
	default:
		if rate, err = snap.CrossRate(from, to); err != nil {
			return ledger.Fields{}, nil, err
		}
		toAmount = roundAmount(to, in.FromAmount.Mul(rate))
	}

	received, err := snap.ToHAS(in.FromAmount, from, has.Mid)
	if err != nil {
		return ledger.Fields{}, nil, err
	}
	given, err := snap.ToHAS(toAmount, to, has.Mid)
	if err != nil {
		return ledger.Fields{}, nil, err
	}
	d := ExchangeDetails{
		FromCurrency:   from,
		FromAmount:     in.FromAmount,
		ToCurrency:     to,
		ToAmount:       toAmount,
		Rate:           rate,
		ReceivedHAS:    received,
		GivenHAS:       given,
		ProfitHAS:      has.Round(received.Sub(given)),
		CashRegisterID: in.CashRegisterID,
	}
	t.Details = d
	t.TotalHASAmount = decimal.Zero
	t.BalanceDelta = decimal.Zero
	t.Lines = []Line{
		{No: 1, Kind: LinePayment, LineTotalHAS: received, Details: LineDetails{Amount: in.FromAmount, Currency: from, Rate: rate}},
		{No: 2, Kind: LinePayment, LineTotalHAS: given, Details: LineDetails{Amount: toAmount, Currency: to, Rate: rate}},
	}

	f := ledger.Fields{
		HASIn:          received,
		HASOut:         given,
		Currency:       from,
		AmountIn:       in.FromAmount,
		ExchangeRate:   ledger.Some(rate),
		ProfitHAS:      ledger.Some(d.ProfitHAS),
		CashRegisterID: in.CashRegisterID,
	}
	if tl, err := snap.TLValue(d.ProfitHAS, has.Mid); err == nil {
		f.ProfitTL = ledger.Some(tl)
	}

	var moves []cashregister.Movement
	if in.CashRegisterID != "" {
		moves = []cashregister.Movement{
			{
				ID: cashregister.MovementID(t.Code, "exchange-in"), RegisterID: in.CashRegisterID,
				Direction: cashregister.In, Amount: in.FromAmount, Currency: from,
				ReferenceType: ledger.ReferenceTransaction, ReferenceID: t.Code,
			},
			{
				ID: cashregister.MovementID(t.Code, "exchange-out"), RegisterID: in.CashRegisterID,
				Direction: cashregister.Out, Amount: toAmount, Currency: to,
				ReferenceType: ledger.ReferenceTransaction, ReferenceID: t.Code,
			},
		}
	}
	return f, moves, nil
}

func roundAmount(currency string, v decimal.Decimal) decimal.Decimal {
	if currency == has.Code {
		return has.Round(v)
	}
	return has.RoundMoney(v)
}
