package transactions

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/stock"
)

// Type is the business event a transaction records.
type Type string

const (
	TypePurchase Type = "PURCHASE"
	TypeSale     Type = "SALE"
	TypePayment  Type = "PAYMENT"
	TypeReceipt  Type = "RECEIPT"
	TypeExchange Type = "EXCHANGE"
	// TypeScrap is old gold (hurda) taken in from a party.
	TypeScrap Type = "SCRAP"
)

func (t Type) entryType() ledger.EntryType {
	return ledger.EntryType(t)
}

// Status of a transaction. CANCELLED is terminal.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// LineKind classifies a transaction line.
type LineKind string

const (
	LineInventory LineKind = "INVENTORY"
	LinePayment   LineKind = "PAYMENT"
	LineDiscount  LineKind = "DISCOUNT"
	// LineFee is a payment method commission, carried as negative HAS.
	LineFee       LineKind = "FEE"
)

// LaborType selects how a purchase line's workmanship is charged.
type LaborType string

const (
	LaborPerGram  LaborType = "PER_GRAM"
	LaborPerPiece LaborType = "PER_PIECE"
)

// Transaction is the header of a recorded business event.
type Transaction struct {
	Code            string          `json:"code"`
	Type            Type            `json:"type"`
	PartyID         string          `json:"party_id,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
	Status          Status          `json:"status"`
	TotalHASAmount  decimal.Decimal `json:"total_has_amount"`
	// BalanceDelta is the party balance change this transaction applied,
	// including every edit since.
	BalanceDelta   decimal.Decimal `json:"balance_delta"`
	Description    string          `json:"description,omitempty"`
	Lines          []Line          `json:"lines"`
	Details        Details         `json:"details"`
	Snapshot       has.Snapshot    `json:"snapshot"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CancelledBy    string          `json:"cancelled_by,omitempty"`
	Version        int             `json:"version"`
}

// Line is one row of a transaction.
type Line struct {
	No           int             `json:"no"`
	Kind         LineKind        `json:"kind"`
	ProductID    string          `json:"product_id,omitempty"`
	KaratID      string          `json:"karat_id,omitempty"`
	WeightGram   decimal.Decimal `json:"weight_gram"`
	Quantity     decimal.Decimal `json:"quantity"`
	LineTotalHAS decimal.Decimal `json:"line_total_has"`
	Details      LineDetails     `json:"details"`
}

// LineDetails carries the computation behind a line.
type LineDetails struct {
	Fineness    decimal.Decimal `json:"fineness"`
	LaborType   LaborType       `json:"labor_type,omitempty"`
	LaborRate   decimal.Decimal `json:"labor_rate"`
	Pieces      decimal.Decimal `json:"pieces"`
	MaterialHAS decimal.Decimal `json:"material_has"`
	LaborHAS    decimal.Decimal `json:"labor_has"`
	CostHAS     decimal.Decimal `json:"cost_has"`
	SaleHAS     decimal.Decimal `json:"sale_has"`
	ProfitHAS   decimal.Decimal `json:"profit_has"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Rate     decimal.Decimal `json:"rate"`

	Consumption *stock.Consumption `json:"consumption,omitempty"`
	Production  *stock.Production  `json:"production,omitempty"`
}

// Details is the type specific part of a transaction.
type Details interface {
	transactionType() Type
}

// PurchaseDetails summarises a purchase.
type PurchaseDetails struct {
	MaterialHAS decimal.Decimal `json:"material_has"`
	LaborHAS    decimal.Decimal `json:"labor_has"`
}

// Collection is money taken at the counter while selling.
type Collection struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	AmountHAS       decimal.Decimal `json:"amount_has"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	CashRegisterID  string          `json:"cash_register_id,omitempty"`
}

// SaleDetails summarises a sale.
type SaleDetails struct {
	SaleHAS       decimal.Decimal `json:"sale_has"`
	CostHAS       decimal.Decimal `json:"cost_has"`
	Discount      *AmountInput    `json:"discount,omitempty"`
	DiscountHAS   decimal.Decimal `json:"discount_has"`
	Collection    *Collection     `json:"collection,omitempty"`
	CommissionHAS decimal.Decimal `json:"commission_has"`
	NetProfitHAS  decimal.Decimal `json:"net_profit_has"`
}

// SettlementDetails summarises a payment or a receipt.
type SettlementDetails struct {
	Amount          decimal.Decimal     `json:"amount"`
	Currency        string              `json:"currency"`
	AmountHAS       decimal.Decimal     `json:"amount_has"`
	ExpectedHAS     decimal.NullDecimal `json:"expected_has"`
	ClosedHAS       decimal.Decimal     `json:"closed_has"`
	DiscountHAS     decimal.Decimal     `json:"discount_has"`
	ProfitHAS       decimal.Decimal     `json:"profit_has"`
	Rate            decimal.Decimal     `json:"rate"`
	PaymentMethodID string              `json:"payment_method_id,omitempty"`
	CashRegisterID  string              `json:"cash_register_id,omitempty"`
}

// ExchangeDetails summarises a currency exchange.
type ExchangeDetails struct {
	FromCurrency   string          `json:"from_currency"`
	FromAmount     decimal.Decimal `json:"from_amount"`
	ToCurrency     string          `json:"to_currency"`
	ToAmount       decimal.Decimal `json:"to_amount"`
	Rate           decimal.Decimal `json:"rate"`
	ReceivedHAS    decimal.Decimal `json:"received_has"`
	GivenHAS       decimal.Decimal `json:"given_has"`
	ProfitHAS      decimal.Decimal `json:"profit_has"`
	CashRegisterID string          `json:"cash_register_id,omitempty"`
}

// ScrapDetails summarises old gold taken in.
type ScrapDetails struct {
	ScrapHAS      decimal.Decimal `json:"scrap_has"`
	WeightGram    decimal.Decimal `json:"weight_gram"`
	OnAccount     bool            `json:"on_account"`
	PoolProductID string          `json:"pool_product_id,omitempty"`
}

func (PurchaseDetails) transactionType() Type   { return TypePurchase }
func (SaleDetails) transactionType() Type       { return TypeSale }
func (SettlementDetails) transactionType() Type { return TypePayment }
func (ExchangeDetails) transactionType() Type   { return TypeExchange }
func (ScrapDetails) transactionType() Type      { return TypeScrap }

// DecodeDetails decodes stored details by transaction type.
func DecodeDetails(t Type, raw []byte) (Details, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var (
		d   Details
		err error
	)
	switch t {
	case TypePurchase:
		var v PurchaseDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeSale:
		var v SaleDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case TypePayment, TypeReceipt:
		var v SettlementDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeExchange:
		var v ExchangeDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeScrap:
		var v ScrapDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("transactions: unknown type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("transactions: decode %s details: %w", t, err)
	}
	return d, nil
}

// UnmarshalJSON restores the typed details.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	var aux struct {
		plain
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	details, err := DecodeDetails(aux.Type, aux.Details)
	if err != nil {
		return err
	}
	*t = Transaction(aux.plain)
	t.Details = details
	return nil
}

// AmountInput is an amount in a currency, or in HAS when the currency is HAS.
type AmountInput struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required"`
}

// NewProductInput describes a product created by a purchase line.
type NewProductInput struct {
	Code          string          `json:"code" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=200"`
	ProductTypeID string          `json:"product_type_id" validate:"required"`
	TrackType     stock.TrackType `json:"track_type" validate:"required,oneof=UNIQUE FIFO FIFO_LOT POOL"`
	SaleHAS       decimal.Decimal `json:"sale_has"`
}

// PurchaseLineInput is one item bought from a supplier.
type PurchaseLineInput struct {
	ProductID  string           `json:"product_id" validate:"required_without=NewProduct"`
	NewProduct *NewProductInput `json:"new_product" validate:"omitempty"`
	KaratID    string           `json:"karat_id" validate:"required"`
	WeightGram decimal.Decimal  `json:"weight_gram"`
	Fineness   decimal.Decimal  `json:"fineness"`
	LaborType  LaborType        `json:"labor_type" validate:"omitempty,oneof=PER_GRAM PER_PIECE"`
	LaborRate  decimal.Decimal  `json:"labor_rate"`
	Pieces     decimal.Decimal  `json:"pieces"`
	// Quantity is the stock quantity produced. Zero means one for unique
	// items and the weight otherwise.
	Quantity decimal.Decimal `json:"quantity"`
}

// PurchaseInput records gold bought from a supplier.
type PurchaseInput struct {
	PartyID         string              `json:"party_id" validate:"required"`
	TransactionDate time.Time           `json:"transaction_date"`
	Description     string              `json:"description" validate:"max=500"`
	IdempotencyKey  string              `json:"idempotency_key" validate:"max=128"`
	Lines           []PurchaseLineInput `json:"lines" validate:"required,min=1,dive"`
	ActorID         string              `json:"-"`
}

// SaleLineInput is one item sold.
type SaleLineInput struct {
	ProductID string `json:"product_id" validate:"required"`
	// Quantity defaults like PurchaseLineInput.Quantity.
	Quantity   decimal.Decimal `json:"quantity"`
	WeightGram decimal.Decimal `json:"weight_gram"`
	// Price overrides the product's stored sale value.
	Price *AmountInput `json:"price" validate:"omitempty"`
}

// CollectionInput is money taken at the counter.
type CollectionInput struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required"`
	PaymentMethodID string          `json:"payment_method_id"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	CashRegisterID  string          `json:"cash_register_id"`
}

// SaleInput records goods sold to a customer.
type SaleInput struct {
	PartyID         string           `json:"party_id" validate:"required"`
	TransactionDate time.Time        `json:"transaction_date"`
	Description     string           `json:"description" validate:"max=500"`
	IdempotencyKey  string           `json:"idempotency_key" validate:"max=128"`
	Lines           []SaleLineInput  `json:"lines" validate:"required,min=1,dive"`
	Discount        *AmountInput     `json:"discount" validate:"omitempty"`
	Collection      *CollectionInput `json:"collection" validate:"omitempty"`
	ActorID         string           `json:"-"`
}

// SettlementInput records a payment to a supplier or a receipt from a customer.
type SettlementInput struct {
	PartyID         string          `json:"party_id" validate:"required"`
	TransactionDate time.Time       `json:"transaction_date"`
	Description     string          `json:"description" validate:"max=500"`
	IdempotencyKey  string          `json:"idempotency_key" validate:"max=128"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required"`
	// ExpectedHAS is the debt the settlement closes; the difference to the
	// converted amount is a discount.
	ExpectedHAS     decimal.NullDecimal `json:"expected_has"`
	PaymentMethodID string              `json:"payment_method_id"`
	CashRegisterID  string              `json:"cash_register_id"`
	ActorID         string              `json:"-"`
}

// ExchangeInput records currency bought from (From) and sold to (To) a walk-in.
type ExchangeInput struct {
	TransactionDate time.Time       `json:"transaction_date"`
	Description     string          `json:"description" validate:"max=500"`
	IdempotencyKey  string          `json:"idempotency_key" validate:"max=128"`
	FromCurrency    string          `json:"from_currency" validate:"required"`
	FromAmount      decimal.Decimal `json:"from_amount"`
	ToCurrency      string          `json:"to_currency" validate:"required"`
	// ToAmount wins over Rate; with neither the snapshot mid cross rate applies.
	ToAmount       decimal.NullDecimal `json:"to_amount"`
	Rate           decimal.NullDecimal `json:"rate"`
	CashRegisterID string              `json:"cash_register_id"`
	ActorID        string              `json:"-"`
}

// ScrapLineInput is one lot of old gold.
type ScrapLineInput struct {
	KaratID    string          `json:"karat_id" validate:"required"`
	WeightGram decimal.Decimal `json:"weight_gram"`
	Fineness   decimal.Decimal `json:"fineness"`
}

// ScrapInput records old gold taken in from a party.
type ScrapInput struct {
	PartyID         string           `json:"party_id" validate:"required"`
	TransactionDate time.Time        `json:"transaction_date"`
	Description     string           `json:"description" validate:"max=500"`
	IdempotencyKey  string           `json:"idempotency_key" validate:"max=128"`
	Lines           []ScrapLineInput `json:"lines" validate:"required,min=1,dive"`
	// OnAccount credits the party instead of settling on the spot.
	OnAccount     bool   `json:"on_account"`
	PoolProductID string `json:"pool_product_id"`
	ActorID       string `json:"-"`
}

// CancelInput voids a transaction.
type CancelInput struct {
	Code    string `json:"-" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=500"`
	ActorID string `json:"-"`
}

// LineEdit changes one line of a sale or a purchase.
type LineEdit struct {
	No        int                 `json:"no" validate:"min=1"`
	Price     *AmountInput        `json:"price" validate:"omitempty"`
	Fineness  decimal.NullDecimal `json:"fineness"`
	LaborRate decimal.NullDecimal `json:"labor_rate"`
}

// EditInput corrects a completed transaction.
type EditInput struct {
	Code        string              `json:"-" validate:"required"`
	Reason      string              `json:"reason" validate:"max=500"`
	Amount      decimal.NullDecimal `json:"amount"`
	ExpectedHAS decimal.NullDecimal `json:"expected_has"`
	Discount    *AmountInput        `json:"discount" validate:"omitempty"`
	Lines       []LineEdit          `json:"lines" validate:"dive"`
	ActorID     string              `json:"-"`
}

// CostAdjustmentInput sets the carried cost of a unique item or a pool.
type CostAdjustmentInput struct {
	ProductID    string          `json:"-" validate:"required"`
	TotalCostHAS decimal.Decimal `json:"total_cost_has"`
	Reason       string          `json:"reason" validate:"max=500"`
	ActorID      string          `json:"-"`
}

// Result is what every operation returns.
type Result struct {
	Transaction Transaction   `json:"transaction"`
	Entry       *ledger.Entry `json:"entry,omitempty"`
	// Replayed is set when an idempotency key matched an earlier request.
	Replayed bool     `json:"replayed"`
	Warnings []string `json:"warnings,omitempty"`
}

// CostAdjustment is the outcome of a product cost change.
type CostAdjustment struct {
	Product  stock.Product   `json:"product"`
	DeltaHAS decimal.Decimal `json:"delta_has"`
	Entry    ledger.Entry    `json:"entry"`
}

// ValidationError describes invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "transactions: " + e.Message
	}
	return fmt.Sprintf("transactions: %s: %s", e.Field, e.Message)
}

// FieldName reports the offending input.
func (e *ValidationError) FieldName() string { return e.Field }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrNotFound indicates an unknown transaction code.
	ErrNotFound = errors.New("transactions: transaction not found")
	// ErrAlreadyCancelled is returned when voiding a cancelled transaction.
	ErrAlreadyCancelled = errors.New("transactions: transaction already cancelled")
	// ErrTransactionCancelled is returned when editing a cancelled transaction.
	ErrTransactionCancelled = errors.New("transactions: transaction is cancelled")
	// ErrEditNotSupported is returned for edits of exchanges and scrap intake.
	ErrEditNotSupported = errors.New("transactions: edit not supported for this type")
	// ErrDuplicateCode is returned by Tx.InsertTransaction on a code collision.
	ErrDuplicateCode = errors.New("transactions: duplicate transaction code")
	// ErrCodeSpaceExhausted is returned after repeated code collisions.
	ErrCodeSpaceExhausted = errors.New("transactions: could not allocate transaction code")
)
