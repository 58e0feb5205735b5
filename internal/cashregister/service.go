package cashregister

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/outbox"
)

// Service records movements.
type Service struct {
	repo   Repository
	now    func() time.Time
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Move validates and records m. An empty id gets a random one.
func (s *Service) Move(ctx context.Context, m Movement) (Movement, error) {
	if m.RegisterID == "" {
		return Movement{}, fmt.Errorf("%w: register required", ErrInvalidMovement)
	}
	if m.Direction != In && m.Direction != Out {
		return Movement{}, fmt.Errorf("%w: direction %q", ErrInvalidMovement, m.Direction)
	}
	if !m.Amount.IsPositive() {
		return Movement{}, fmt.Errorf("%w: amount must be positive", ErrInvalidMovement)
	}
	currency, err := has.NormalizeCurrency(m.Currency)
	if err != nil {
		return Movement{}, err
	}
	m.Currency = currency
	if currency == has.Code {
		m.Amount = has.Round(m.Amount)
	} else {
		m.Amount = has.RoundMoney(m.Amount)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if err := s.repo.InsertMovement(ctx, m); err != nil {
		return Movement{}, fmt.Errorf("cashregister: insert movement: %w", err)
	}
	return m, nil
}

// ReverseFor mirrors every original movement of a reference. Reversal ids are
// derived from the original, so calling it again is a no-op.
func (s *Service) ReverseFor(ctx context.Context, refType, refID string) ([]Movement, error) {
	existing, err := s.repo.ListByReference(ctx, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("cashregister: list movements: %w", err)
	}
	var out []Movement
	for _, m := range existing {
		if m.ReversalOf != "" {
			continue
		}
		rev := Movement{
			ID:            reversalID(m.ID),
			RegisterID:    m.RegisterID,
			Direction:     m.Direction.Flip(),
			Amount:        m.Amount,
			Currency:      m.Currency,
			ReferenceType: m.ReferenceType,
			ReferenceID:   m.ReferenceID,
			ReversalOf:    m.ID,
			Description:   "reversal of " + m.ID,
			CreatedAt:     s.now(),
		}
		if err := s.repo.InsertMovement(ctx, rev); err != nil {
			return out, fmt.Errorf("cashregister: insert reversal: %w", err)
		}
		out = append(out, rev)
	}
	return out, nil
}

// Totals returns the net amount per currency held by a register.
func (s *Service) Totals(ctx context.Context, registerID string) (map[string]decimal.Decimal, error) {
	return s.repo.RegisterTotals(ctx, registerID)
}

// ReversePayload is the outbox payload of a deferred reversal.
type ReversePayload struct {
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

// HandleMove delivers a deferred movement.
func (s *Service) HandleMove(ctx context.Context, e outbox.Entry) error {
	var m Movement
	if err := e.Decode(&m); err != nil {
		return err
	}
	_, err := s.Move(ctx, m)
	return err
}

// HandleReverse delivers a deferred reversal.
func (s *Service) HandleReverse(ctx context.Context, e outbox.Entry) error {
	var p ReversePayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	_, err := s.ReverseFor(ctx, p.ReferenceType, p.ReferenceID)
	return err
}
