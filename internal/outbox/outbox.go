// Package outbox keeps side effects that must happen after a commit durable
// until a worker has delivered them.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names what a row asks the dispatcher to do.
type Kind string

const (
	// KindLedgerEntry publishes an appended ledger entry.
	KindLedgerEntry Kind = "ledger.entry"
	// KindCashMove records a cash register movement that failed after commit.
	KindCashMove Kind = "cash.move"
	// KindCashReverse reverses the movements of a cancelled transaction.
	KindCashReverse Kind = "cash.reverse"
)

// Status is the delivery state of a row.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Entry is one pending side effect.
type Entry struct {
	ID          uuid.UUID
	Kind        Kind
	Ref         string
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Writer inserts rows, inside the caller's transaction when it has one.
type Writer interface {
	InsertOutbox(ctx context.Context, e Entry) error
}

// Repository is the dispatcher's view of the table.
type Repository interface {
	Writer
	FetchPending(ctx context.Context, limit int) ([]Entry, error)
	MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkAttempt(ctx context.Context, id uuid.UUID, lastError string, failed bool) error
}

// ErrUnknownKind is recorded against rows no handler is registered for.
var ErrUnknownKind = errors.New("outbox: no handler for kind")

// NewEntry encodes payload into a pending row.
func NewEntry(kind Kind, ref string, payload any, now time.Time) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: encode %s payload: %w", kind, err)
	}
	return Entry{
		ID:        uuid.New(),
		Kind:      kind,
		Ref:       ref,
		Payload:   raw,
		Status:    StatusPending,
		CreatedAt: now,
	}, nil
}

// Decode unmarshals the payload into dest.
func (e Entry) Decode(dest any) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("outbox: decode %s payload: %w", e.Kind, err)
	}
	return nil
}
