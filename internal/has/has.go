// Package has converts currency amounts to and from HAS, the gram of pure
// gold every balance and ledger figure is expressed in.
package has

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	// Code is the pseudo currency code for amounts already expressed in HAS.
	Code = "HAS"
	// BaseCurrency is the local currency every quote is expressed in.
	BaseCurrency = "TL"

	// Places is the rounding precision of HAS amounts.
	Places int32 = 6
	// MoneyPlaces is the rounding precision of currency amounts.
	MoneyPlaces int32 = 2
)

var (
	// ErrInvalidRate indicates a missing snapshot or a non-positive rate.
	ErrInvalidRate = errors.New("has: invalid or missing rate")
	// ErrUnknownCurrency indicates a currency code that is not ISO 4217.
	ErrUnknownCurrency = errors.New("has: unknown currency")
)

// Direction selects which side of a quote applies to a conversion.
type Direction string

const (
	// Sell applies when the business receives currency and gives gold value (sale, receipt).
	Sell Direction = "SELL"
	// Buy applies when the business pays currency out (purchase, payment).
	Buy Direction = "BUY"
	// Mid uses the average of both sides.
	Mid Direction = "MID"
)

// Quote is a buy/sell pair in TL.
type Quote struct {
	Buy  decimal.Decimal `json:"buy"`
	Sell decimal.Decimal `json:"sell"`
}

// Mid returns the average of both sides.
func (q Quote) Mid() decimal.Decimal {
	return q.Buy.Add(q.Sell).Div(decimal.NewFromInt(2))
}

// Quotes is what a price feed reports at one instant.
type Quotes struct {
	// Gold is TL per gram of HAS.
	Gold Quote `json:"gold"`
	// Currencies is TL per unit of each foreign currency keyed by code.
	Currencies map[string]Quote `json:"currencies,omitempty"`
}

// Snapshot is an immutable set of quotes shared by every leg of a transaction.
type Snapshot struct {
	ID         string    `json:"id"`
	Bucket     time.Time `json:"bucket"`
	CapturedAt time.Time `json:"captured_at"`
	Quotes
}

// Round rounds a HAS amount to its storage precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// RoundMoney rounds a currency amount to its storage precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// NormalizeCurrency upper-cases a code, maps TRY to TL and rejects unknown codes.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch c {
	case "":
		return "", fmt.Errorf("%w: empty code", ErrUnknownCurrency)
	case Code, BaseCurrency:
		return c, nil
	case "TRY":
		return BaseCurrency, nil
	}
	if _, err := currency.ParseISO(c); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return c, nil
}

// Validate checks the gold quote is usable.
func (s Snapshot) Validate() error {
	if !s.Gold.Buy.IsPositive() || !s.Gold.Sell.IsPositive() {
		return fmt.Errorf("%w: gold quote", ErrInvalidRate)
	}
	for code, q := range s.Currencies {
		if !q.Buy.IsPositive() || !q.Sell.IsPositive() {
			return fmt.Errorf("%w: %s quote", ErrInvalidRate, code)
		}
	}
	return nil
}

// GoldRate returns TL per gram of HAS for the direction.
func (s Snapshot) GoldRate(dir Direction) (decimal.Decimal, error) {
	rate := pick(s.Gold, dir, false)
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: gold %s", ErrInvalidRate, strings.ToLower(string(dir)))
	}
	return rate, nil
}

// CurrencyRate returns TL per unit of code. A business receiving foreign
// currency values it at the currency's buy quote and pays it out at the sell
// quote, so the side is mirrored against the gold direction.
func (s Snapshot) CurrencyRate(code string, dir Direction) (decimal.Decimal, error) {
	c, err := NormalizeCurrency(code)
	if err != nil {
		return decimal.Zero, err
	}
	if c == BaseCurrency {
		return decimal.NewFromInt(1), nil
	}
	if c == Code {
		return s.GoldRate(dir)
	}
	q, ok := s.Currencies[c]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", ErrInvalidRate, c)
	}
	rate := pick(q, dir, true)
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, c)
	}
	return rate, nil
}

// ToHAS converts amount of code into HAS.
func (s Snapshot) ToHAS(amount decimal.Decimal, code string, dir Direction) (decimal.Decimal, error) {
	c, err := NormalizeCurrency(code)
	if err != nil {
		return decimal.Zero, err
	}
	if c == Code {
		return Round(amount), nil
	}
	gold, err := s.GoldRate(dir)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := s.CurrencyRate(c, dir)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(amount.Mul(rate).Div(gold)), nil
}

// FromHAS converts a HAS amount into code.
func (s Snapshot) FromHAS(amount decimal.Decimal, code string, dir Direction) (decimal.Decimal, error) {
	c, err := NormalizeCurrency(code)
	if err != nil {
		return decimal.Zero, err
	}
	if c == Code {
		return Round(amount), nil
	}
	gold, err := s.GoldRate(dir)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := s.CurrencyRate(c, dir)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(amount.Mul(gold).Div(rate)), nil
}

// TLValue prices a HAS amount in TL.
func (s Snapshot) TLValue(amount decimal.Decimal, dir Direction) (decimal.Decimal, error) {
	gold, err := s.GoldRate(dir)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(amount.Mul(gold)), nil
}

// Rate returns units of code per gram of HAS, the figure stored as a ledger
// entry's exchange rate.
func (s Snapshot) Rate(code string, dir Direction) (decimal.Decimal, error) {
	c, err := NormalizeCurrency(code)
	if err != nil {
		return decimal.Zero, err
	}
	if c == Code {
		return decimal.NewFromInt(1), nil
	}
	gold, err := s.GoldRate(dir)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := s.CurrencyRate(c, dir)
	if err != nil {
		return decimal.Zero, err
	}
	return gold.Div(rate).Round(8), nil
}

// CrossRate returns units of to per unit of from at mid quotes.
func (s Snapshot) CrossRate(from, to string) (decimal.Decimal, error) {
	fromRate, err := s.CurrencyRate(from, Mid)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := s.CurrencyRate(to, Mid)
	if err != nil {
		return decimal.Zero, err
	}
	return fromRate.Div(toRate).Round(8), nil
}

func pick(q Quote, dir Direction, mirrored bool) decimal.Decimal {
	switch dir {
	case Sell:
		if mirrored {
			return q.Buy
		}
		return q.Sell
	case Buy:
		if mirrored {
			return q.Sell
		}
		return q.Buy
	case Mid:
		return q.Mid()
	}
	return decimal.Zero
}
