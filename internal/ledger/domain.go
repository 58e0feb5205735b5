package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType names the business event an entry records.
type EntryType string

const (
	EntryPurchase   EntryType = "PURCHASE"
	EntrySale       EntryType = "SALE"
	EntryPayment    EntryType = "PAYMENT"
	EntryReceipt    EntryType = "RECEIPT"
	EntryExchange   EntryType = "EXCHANGE"
	EntryScrap      EntryType = "SCRAP"
	EntryVoid       EntryType = "VOID"
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// Reference types link an entry to its source record.
const (
	ReferenceTransaction = "TRANSACTION"
	ReferenceProduct     = "PRODUCT"
)

// Entry is one immutable ledger row. Corrections never edit an entry; they
// append VOID or ADJUSTMENT rows carrying the same reference.
type Entry struct {
	ID              string    `json:"id"`
	Type            EntryType `json:"type"`
	TransactionDate time.Time `json:"transaction_date"`
	CreatedAt       time.Time `json:"created_at"`

	HASIn  decimal.Decimal `json:"has_in"`
	HASOut decimal.Decimal `json:"has_out"`
	HASNet decimal.Decimal `json:"has_net"`

	Currency     string              `json:"currency"`
	AmountIn     decimal.Decimal     `json:"amount_in"`
	AmountOut    decimal.Decimal     `json:"amount_out"`
	AmountNet    decimal.Decimal     `json:"amount_net"`
	ExchangeRate decimal.NullDecimal `json:"exchange_rate"`

	CostHAS       decimal.NullDecimal `json:"cost_has"`
	CostTL        decimal.NullDecimal `json:"cost_tl"`
	ProfitHAS     decimal.NullDecimal `json:"profit_has"`
	ProfitTL      decimal.NullDecimal `json:"profit_tl"`
	DiscountHAS   decimal.NullDecimal `json:"discount_has"`
	CommissionHAS decimal.NullDecimal `json:"commission_has"`

	PartyID        string `json:"party_id,omitempty"`
	PartyType      string `json:"party_type,omitempty"`
	CashRegisterID string `json:"cash_register_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`

	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Description   string `json:"description,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}

// Fields is what a caller supplies; id, creation time and nets are derived.
type Fields struct {
	Type            EntryType
	TransactionDate time.Time

	HASIn  decimal.Decimal
	HASOut decimal.Decimal

	Currency     string
	AmountIn     decimal.Decimal
	AmountOut    decimal.Decimal
	ExchangeRate decimal.NullDecimal

	CostHAS       decimal.NullDecimal
	CostTL        decimal.NullDecimal
	ProfitHAS     decimal.NullDecimal
	ProfitTL      decimal.NullDecimal
	DiscountHAS   decimal.NullDecimal
	CommissionHAS decimal.NullDecimal

	PartyID        string
	PartyType      string
	CashRegisterID string
	ProductID      string

	ReferenceType string
	ReferenceID   string
	Description   string
	CreatedBy     string
}

// Some wraps a value as a present optional column.
func Some(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: v, Valid: true}
}

var (
	// ErrDuplicateEntryID is returned by an Appender when the generated id is taken.
	ErrDuplicateEntryID = errors.New("ledger: duplicate entry id")
	// ErrInvalidEntry indicates missing or negative fields.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrIDSpaceExhausted is returned after repeated id collisions.
	ErrIDSpaceExhausted = errors.New("ledger: could not allocate entry id")
)
