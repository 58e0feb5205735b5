// Package cashregister records physical money moving through a register.
// Movements are written after the owning transaction commits and are never
// edited; a cancelled transaction gets mirrored reversal movements instead.
package cashregister

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the way money moves through the register.
type Direction string

const (
	In  Direction = "IN"
	Out Direction = "OUT"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == In {
		return Out
	}
	return In
}

// Movement is one register entry.
type Movement struct {
	ID            string          `json:"id"`
	RegisterID    string          `json:"register_id"`
	Direction     Direction       `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	ReversalOf    string          `json:"reversal_of,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Repository persists movements. InsertMovement must treat an id that already
// exists as success so retried deliveries do not double count.
type Repository interface {
	InsertMovement(ctx context.Context, m Movement) error
	ListByReference(ctx context.Context, refType, refID string) ([]Movement, error)
	RegisterTotals(ctx context.Context, registerID string) (map[string]decimal.Decimal, error)
}

var (
	// ErrInvalidMovement indicates a missing register, amount or direction.
	ErrInvalidMovement = errors.New("cashregister: invalid movement")
)

var movementNamespace = uuid.MustParse("3f1c2a8e-5b7d-4e0a-9c61-2d8f4b7a1e53")

// MovementID derives a stable id for one leg of a reference, so a retried
// delivery writes the same row.
func MovementID(refID, leg string) string {
	return uuid.NewSHA1(movementNamespace, []byte(refID+"/"+leg)).String()
}

func reversalID(movementID string) string {
	return uuid.NewSHA1(movementNamespace, []byte("reverse/"+movementID)).String()
}
