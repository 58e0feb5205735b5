// Package ledger appends immutable HAS ledger entries and derives
// statements and reconciliation reports from them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/shared"
)

const (
	idPrefix     = "LED"
	idSuffixLen  = 6
	maxIDRetries = 5
)

// Appender stores a new entry. It must report ErrDuplicateEntryID, not a
// generic failure, when the id already exists.
type Appender interface {
	InsertEntry(ctx context.Context, e Entry) error
}

// Writer builds entries and appends them. There is no update or delete path.
type Writer struct {
	now    func() time.Time
	suffix func(n int) string
}

// NewWriter builds Writer.
func NewWriter() *Writer {
	return &Writer{
		now:    func() time.Time { return time.Now().UTC() },
		suffix: shared.RandomCode,
	}
}

// WithNow overrides the clock, used in tests.
func (w *Writer) WithNow(fn func() time.Time) *Writer {
	if fn != nil {
		w.now = fn
	}
	return w
}

// Append validates f, derives nets and rounding, and stores the entry under a
// fresh LED-YYYYMMDD-XXXXXX id.
func (w *Writer) Append(ctx context.Context, store Appender, f Fields) (Entry, error) {
	entry, err := w.build(f)
	if err != nil {
		return Entry{}, err
	}
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		entry.ID = fmt.Sprintf("%s-%s-%s", idPrefix, entry.CreatedAt.Format("20060102"), w.suffix(idSuffixLen))
		err := store.InsertEntry(ctx, entry)
		if errors.Is(err, ErrDuplicateEntryID) {
			continue
		}
		if err != nil {
			return Entry{}, fmt.Errorf("ledger: append: %w", err)
		}
		return entry, nil
	}
	return Entry{}, ErrIDSpaceExhausted
}

func (w *Writer) build(f Fields) (Entry, error) {
	if f.Type == "" {
		return Entry{}, fmt.Errorf("%w: type required", ErrInvalidEntry)
	}
	if f.ReferenceType == "" || f.ReferenceID == "" {
		return Entry{}, fmt.Errorf("%w: reference required", ErrInvalidEntry)
	}
	if f.HASIn.IsNegative() || f.HASOut.IsNegative() || f.AmountIn.IsNegative() || f.AmountOut.IsNegative() {
		return Entry{}, fmt.Errorf("%w: in/out amounts must be >= 0", ErrInvalidEntry)
	}
	currency := has.Code
	if f.Currency != "" {
		c, err := has.NormalizeCurrency(f.Currency)
		if err != nil {
			return Entry{}, err
		}
		currency = c
	}
	now := w.now()
	date := f.TransactionDate
	if date.IsZero() {
		date = now
	}

	hasIn := has.Round(f.HASIn)
	hasOut := has.Round(f.HASOut)
	amountIn := has.RoundMoney(f.AmountIn)
	amountOut := has.RoundMoney(f.AmountOut)
	return Entry{
		Type:            f.Type,
		TransactionDate: date,
		CreatedAt:       now,
		HASIn:           hasIn,
		HASOut:          hasOut,
		HASNet:          has.Round(hasIn.Sub(hasOut)),
		Currency:        currency,
		AmountIn:        amountIn,
		AmountOut:       amountOut,
		AmountNet:       has.RoundMoney(amountIn.Sub(amountOut)),
		ExchangeRate:    f.ExchangeRate,
		CostHAS:         roundNull(f.CostHAS, has.Places),
		CostTL:          roundNull(f.CostTL, has.MoneyPlaces),
		ProfitHAS:       roundNull(f.ProfitHAS, has.Places),
		ProfitTL:        roundNull(f.ProfitTL, has.MoneyPlaces),
		DiscountHAS:     roundNull(f.DiscountHAS, has.Places),
		CommissionHAS:   roundNull(f.CommissionHAS, has.Places),
		PartyID:         f.PartyID,
		PartyType:       f.PartyType,
		CashRegisterID:  f.CashRegisterID,
		ProductID:       f.ProductID,
		ReferenceType:   f.ReferenceType,
		ReferenceID:     f.ReferenceID,
		Description:     f.Description,
		CreatedBy:       f.CreatedBy,
	}, nil
}

func roundNull(v decimal.NullDecimal, places int32) decimal.NullDecimal {
	if !v.Valid {
		return v
	}
	return decimal.NullDecimal{Decimal: v.Decimal.Round(places), Valid: true}
}
