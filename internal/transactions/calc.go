package transactions

import (
	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/stock"
)

var one = decimal.NewFromInt(1)

// stockQuantity is the quantity a line moves: explicit when given, one for
// unique items, the weight otherwise.
func stockQuantity(track stock.TrackType, qty, weight decimal.Decimal) decimal.Decimal {
	if qty.IsPositive() {
		return qty
	}
	if track == stock.TrackUnique {
		return one
	}
	return weight
}

// purchaseCost prices one purchase line in HAS: the fine gold it contains
// plus workmanship.
type purchaseCost struct {
	Material decimal.Decimal
	Labor    decimal.Decimal
	Pieces   decimal.Decimal
}

func (c purchaseCost) Total() decimal.Decimal {
	return has.Round(c.Material.Add(c.Labor))
}

func pricePurchaseLine(weight, fineness decimal.Decimal, labor LaborType, rate, pieces decimal.Decimal) purchaseCost {
	c := purchaseCost{Material: has.Round(weight.Mul(fineness)), Labor: decimal.Zero, Pieces: pieces}
	switch labor {
	case LaborPerPiece:
		if !pieces.IsPositive() {
			c.Pieces = one
		}
		c.Labor = has.Round(rate.Mul(c.Pieces))
	case LaborPerGram:
		c.Labor = has.Round(weight.Mul(rate))
	}
	return c
}

func checkFineness(field string, v decimal.Decimal) error {
	if !v.IsPositive() || v.GreaterThan(one) {
		return invalid(field, "must be in (0, 1]")
	}
	return nil
}

func checkPositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid(field, "must be positive")
	}
	return nil
}

func checkNotNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return invalid(field, "must not be negative")
	}
	return nil
}

// normalize validates a currency code and reports a bad one as invalid input.
func normalize(field, code string) (string, error) {
	c, err := has.NormalizeCurrency(code)
	if err != nil {
		return "", invalid(field, "%v", err)
	}
	return c, nil
}

func someIfNotZero(v decimal.Decimal) decimal.NullDecimal {
	if v.IsZero() {
		return decimal.NullDecimal{}
	}
	return ledger.Some(v)
}
