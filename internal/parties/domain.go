package parties

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
)

// Type classifies a counterparty.
type Type string

const (
	// TypeCustomer buys from the business.
	TypeCustomer Type = "CUSTOMER"
	// TypeSupplier sells to the business.
	TypeSupplier Type = "SUPPLIER"
	// TypeOther covers anything else.
	TypeOther Type = "OTHER"
)

// Party is a counterparty with a running HAS balance.
type Party struct {
	ID        string
	Name      string
	Type      Type
	Balance   Balance
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is a party's running HAS position. Positive means the business
// owes the party, negative means the party owes the business.
type Balance struct {
	has decimal.Decimal
}

// NewBalance wraps a signed HAS amount.
func NewBalance(v decimal.Decimal) Balance {
	return Balance{has: has.Round(v)}
}

// HAS returns the signed amount as stored.
func (b Balance) HAS() decimal.Decimal {
	return b.has
}

// OwedToParty is what the business owes, zero when the party is in debt.
func (b Balance) OwedToParty() decimal.Decimal {
	if b.has.IsPositive() {
		return b.has
	}
	return decimal.Zero
}

// OwedByParty is what the party owes, zero when the business is in debt.
func (b Balance) OwedByParty() decimal.Decimal {
	if b.has.IsNegative() {
		return b.has.Neg()
	}
	return decimal.Zero
}

// Settled reports a zero balance.
func (b Balance) Settled() bool {
	return b.has.IsZero()
}

// Apply returns the balance moved by d.
func (b Balance) Apply(d Delta) Balance {
	return NewBalance(b.has.Add(d.has))
}

func (b Balance) String() string {
	return b.has.StringFixed(has.Places)
}

// Delta is a change to a party balance.
type Delta struct {
	has decimal.Decimal
}

// OwedToPartyDelta increases what the business owes the party.
func OwedToPartyDelta(v decimal.Decimal) Delta {
	return Delta{has: has.Round(v.Abs())}
}

// OwedByPartyDelta increases what the party owes the business.
func OwedByPartyDelta(v decimal.Decimal) Delta {
	return Delta{has: has.Round(v.Abs().Neg())}
}

// DeltaOf wraps an already signed amount.
func DeltaOf(v decimal.Decimal) Delta {
	return Delta{has: has.Round(v)}
}

// HAS returns the signed amount.
func (d Delta) HAS() decimal.Decimal {
	return d.has
}

// Neg returns the opposite delta.
func (d Delta) Neg() Delta {
	return Delta{has: d.has.Neg()}
}

// Add combines two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{has: has.Round(d.has.Add(o.has))}
}

// IsZero reports whether the delta moves nothing.
func (d Delta) IsZero() bool {
	return d.has.IsZero()
}

// ErrPartyNotFound indicates an unknown party id.
var ErrPartyNotFound = errors.New("parties: party not found")
