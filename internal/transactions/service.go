// Package transactions turns typed business requests into stock movements,
// party balance changes and ledger entries, one database transaction each.
package transactions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/stock"
)

// Store opens database transactions and serves reads outside them.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	FindTransaction(ctx context.Context, code string) (Transaction, error)
	LookupIdempotency(ctx context.Context, scope, key string) (shared.IdempotencyRecord, error)
}

// Tx is every repository operation a flow runs inside one database transaction.
type Tx interface {
	stock.TxRepository
	parties.TxRepository
	ledger.Appender
	outbox.Writer
	ListEntriesByReference(ctx context.Context, refType, refID string) ([]ledger.Entry, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	GetTransactionForUpdate(ctx context.Context, code string) (Transaction, error)
	UpdateTransaction(ctx context.Context, t Transaction) error
	ClaimIdempotencyKey(ctx context.Context, rec shared.IdempotencyRecord) (shared.IdempotencyRecord, bool, error)
}

// PriceProvider resolves the snapshot a transaction is priced with.
type PriceProvider interface {
	GetOrCreate(ctx context.Context, asOf time.Time) (has.Snapshot, error)
}

// CashRegister records money moving through a register after commit.
type CashRegister interface {
	Move(ctx context.Context, m cashregister.Movement) (cashregister.Movement, error)
	ReverseFor(ctx context.Context, refType, refID string) ([]cashregister.Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder counts outcomes.
type MetricsRecorder interface {
	ObserveTransaction(kind, outcome string)
	IncSideEffectFailure(kind string)
}

// Dependencies groups what Service needs. Cash, Audit, Outbox and Metrics are optional.
type Dependencies struct {
	Store   Store
	Prices  PriceProvider
	Engine  *stock.Engine
	Ledger  *ledger.Writer
	Cash    CashRegister
	Outbox  outbox.Writer
	Audit   AuditPort
	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// Service orchestrates every transaction flow.
type Service struct {
	store    Store
	prices   PriceProvider
	engine   *stock.Engine
	ledger   *ledger.Writer
	cash     CashRegister
	outbox   outbox.Writer
	audit    AuditPort
	metrics  MetricsRecorder
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	suffix   func(n int) string
}

// NewService builds Service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		store:    deps.Store,
		prices:   deps.Prices,
		engine:   deps.Engine,
		ledger:   deps.Ledger,
		cash:     deps.Cash,
		outbox:   deps.Outbox,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		suffix:   shared.RandomCode,
	}
	if s.engine == nil {
		s.engine = stock.NewEngine()
	}
	if s.ledger == nil {
		s.ledger = ledger.NewWriter()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// WithNow overrides the clock of the service and its engine and writer.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
		s.engine.WithNow(fn)
		s.ledger.WithNow(fn)
	}
	return s
}

// Get returns a transaction by code.
func (s *Service) Get(ctx context.Context, code string) (Transaction, error) {
	return s.store.FindTransaction(ctx, code)
}

// builder computes a flow inside the database transaction. It fills the
// transaction's lines, details, totals and balance delta and returns the
// flow specific ledger fields plus the cash movements to make after commit.
type builder func(ctx context.Context, tx Tx, t *Transaction, party *parties.Party) (ledger.Fields, []cashregister.Movement, error)

type draft struct {
	typ         Type
	partyID     string
	role        parties.Type
	date        time.Time
	description string
	key         string
	actor       string
	request     any
	build       builder
}

// replayError aborts a database transaction that lost an idempotency race.
type replayError struct {
	record shared.IdempotencyRecord
}

func (e *replayError) Error() string {
	return "transactions: idempotency key already used by " + e.record.Ref
}

func (s *Service) record(ctx context.Context, d draft) (res Result, err error) {
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Replayed:
			outcome = "replayed"
		}
		s.metrics.ObserveTransaction(string(d.typ), outcome)
	}()

	var fingerprint []byte
	if d.key != "" {
		fingerprint, err = shared.Fingerprint(d.request)
		if err != nil {
			return Result{}, fmt.Errorf("transactions: fingerprint request: %w", err)
		}
		rec, lookupErr := s.store.LookupIdempotency(ctx, string(d.typ), d.key)
		switch {
		case lookupErr == nil:
			return s.replay(ctx, rec, fingerprint)
		case !errors.Is(lookupErr, shared.ErrNotFound):
			return Result{}, fmt.Errorf("transactions: lookup idempotency key: %w", lookupErr)
		}
	}

	if d.date.IsZero() {
		d.date = s.now()
	}
	snap, err := s.prices.GetOrCreate(ctx, d.date)
	if err != nil {
		return Result{}, err
	}

	var (
		txn   Transaction
		entry ledger.Entry
		moves []cashregister.Movement
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()
		txn = Transaction{
			Type:            d.typ,
			PartyID:         d.partyID,
			TransactionDate: d.date,
			Status:          StatusCompleted,
			TotalHASAmount:  decimal.Zero,
			BalanceDelta:    decimal.Zero,
			Description:     d.description,
			Snapshot:        snap,
			IdempotencyKey:  d.key,
			CreatedBy:       d.actor,
			CreatedAt:       now,
			UpdatedAt:       now,
			Version:         1,
		}
		if err := s.allocateCode(ctx, tx, &txn); err != nil {
			return err
		}
		if d.key != "" {
			rec, claimed, err := tx.ClaimIdempotencyKey(ctx, shared.IdempotencyRecord{
				Scope: string(d.typ), Key: d.key, Ref: txn.Code, Fingerprint: fingerprint, CreatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("transactions: claim idempotency key: %w", err)
			}
			if !claimed {
				return &replayError{record: rec}
			}
		}

		var party *parties.Party
		if d.partyID != "" {
			p, err := tx.GetPartyForUpdate(ctx, d.partyID)
			if err != nil {
				return err
			}
			if d.role != "" && p.Type != d.role {
				return invalid("party_id", "%s requires a %s party, %s is %s", d.typ, d.role, p.ID, p.Type)
			}
			party = &p
		}

		fields, mv, err := d.build(ctx, tx, &txn, party)
		if err != nil {
			return err
		}
		if party != nil {
			if _, err := tx.ApplyPartyDelta(ctx, party.ID, parties.DeltaOf(txn.BalanceDelta)); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransaction(ctx, txn); err != nil {
			return err
		}

		fields.Type = d.typ.entryType()
		fields.TransactionDate = txn.TransactionDate
		fields.ReferenceType = ledger.ReferenceTransaction
		fields.ReferenceID = txn.Code
		fields.Description = txn.Description
		fields.CreatedBy = d.actor
		if party != nil {
			fields.PartyID = party.ID
			fields.PartyType = string(party.Type)
		}
		entry, err = s.appendEntry(ctx, tx, fields)
		if err != nil {
			return err
		}
		moves = mv
		return nil
	})
	var replay *replayError
	if errors.As(err, &replay) {
		return s.replay(ctx, replay.record, fingerprint)
	}
	if err != nil {
		return Result{}, err
	}

	res = Result{Transaction: txn, Entry: &entry}
	res.Warnings = s.moveCash(ctx, txn.Code, outbox.KindCashMove, moves)
	s.recordAudit(ctx, d.actor, "transaction:"+string(d.typ), txn.Code, map[string]any{
		"party_id":  txn.PartyID,
		"total_has": txn.TotalHASAmount.String(),
		"entry_id":  entry.ID,
	})
	s.logger.Info("transaction recorded",
		slog.String("code", txn.Code), slog.String("type", string(txn.Type)),
		slog.String("party_id", txn.PartyID), slog.String("total_has", txn.TotalHASAmount.String()))
	return res, nil
}

func (s *Service) replay(ctx context.Context, rec shared.IdempotencyRecord, fingerprint []byte) (Result, error) {
	if len(rec.Fingerprint) > 0 && len(fingerprint) > 0 && !bytes.Equal(rec.Fingerprint, fingerprint) {
		return Result{}, invalid("idempotency_key", "%v", shared.ErrIdempotencyConflict)
	}
	txn, err := s.store.FindTransaction(ctx, rec.Ref)
	if err != nil {
		return Result{}, fmt.Errorf("transactions: load replayed %s: %w", rec.Ref, err)
	}
	return Result{Transaction: txn, Replayed: true}, nil
}

// appendEntry writes the ledger entry and its outbox event in the same
// database transaction.
func (s *Service) appendEntry(ctx context.Context, tx Tx, f ledger.Fields) (ledger.Entry, error) {
	entry, err := s.ledger.Append(ctx, tx, f)
	if err != nil {
		return ledger.Entry{}, err
	}
	evt, err := outbox.NewEntry(outbox.KindLedgerEntry, entry.ReferenceID, entry, s.now())
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.InsertOutbox(ctx, evt); err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

// moveCash records movements after commit. A failure never fails the
// transaction; the movement is parked in the outbox and reported as a warning.
func (s *Service) moveCash(ctx context.Context, ref string, kind outbox.Kind, moves []cashregister.Movement) []string {
	if s.cash == nil || len(moves) == 0 {
		return nil
	}
	var warnings []string
	for _, m := range moves {
		if _, err := s.cash.Move(ctx, m); err != nil {
			s.metrics.IncSideEffectFailure(string(kind))
			s.logger.Warn("cash movement failed, deferred to outbox",
				slog.String("code", ref), slog.String("movement_id", m.ID), slog.Any("error", err))
			warnings = append(warnings, fmt.Sprintf("cash movement %s deferred: %v", m.ID, err))
			s.park(ctx, kind, ref, m)
		}
	}
	return warnings
}

func (s *Service) park(ctx context.Context, kind outbox.Kind, ref string, payload any) {
	if s.outbox == nil {
		s.logger.Error("side effect lost, no outbox configured", slog.String("kind", string(kind)), slog.String("ref", ref))
		return
	}
	e, err := outbox.NewEntry(kind, ref, payload, s.now())
	if err == nil {
		err = s.outbox.InsertOutbox(ctx, e)
	}
	if err != nil {
		s.logger.Error("outbox write failed", slog.String("kind", string(kind)), slog.String("ref", ref), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "transaction",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity_id", entityID), slog.Any("error", err))
	}
}

func (s *Service) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return invalid(fe.Namespace(), "failed %q", fe.Tag())
		}
		return invalid("", "%v", err)
	}
	return nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransaction(string, string) {}
func (noopMetrics) IncSideEffectFailure(string)       {}
