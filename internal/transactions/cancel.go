package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/stock"
)

// Cancel voids a completed transaction: stock movements are undone, the
// party balance change is reversed and a VOID entry mirrors every entry
// recorded so far under the transaction's code.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (res Result, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveTransaction(string(ledger.EntryVoid), outcome)
	}()
	if err := s.check(in); err != nil {
		return Result{}, err
	}

	var (
		txn      Transaction
		entry    ledger.Entry
		warnings []string
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.GetTransactionForUpdate(ctx, in.Code)
		if err != nil {
			return err
		}
		if t.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		entries, err := tx.ListEntriesByReference(ctx, ledger.ReferenceTransaction, t.Code)
		if err != nil {
			return err
		}

		var party *parties.Party
		if t.PartyID != "" {
			p, err := tx.GetPartyForUpdate(ctx, t.PartyID)
			if err != nil {
				return err
			}
			party = &p
		}

		w, err := s.undoStock(ctx, tx, t)
		if err != nil {
			return err
		}
		warnings = w

		if party != nil && !t.BalanceDelta.IsZero() {
			if _, err := tx.ApplyPartyDelta(ctx, party.ID, parties.DeltaOf(t.BalanceDelta).Neg()); err != nil {
				return err
			}
		}

		now := s.now()
		t.Status = StatusCancelled
		t.CancelledAt = &now
		t.CancelReason = in.Reason
		t.CancelledBy = in.ActorID
		t.UpdatedAt = now
		t.Version++
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}

		f := voidFields(entries)
		f.TransactionDate = now
		f.ReferenceID = t.Code
		f.Description = in.Reason
		f.CreatedBy = in.ActorID
		if party != nil {
			f.PartyID = party.ID
			f.PartyType = string(party.Type)
		}
		if entry, err = s.appendEntry(ctx, tx, f); err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if s.cash != nil {
		if _, err := s.cash.ReverseFor(ctx, ledger.ReferenceTransaction, txn.Code); err != nil {
			s.metrics.IncSideEffectFailure(string(outbox.KindCashReverse))
			s.logger.Warn("cash reversal failed, deferred to outbox",
				slog.String("code", txn.Code), slog.Any("error", err))
			warnings = append(warnings, fmt.Sprintf("cash reversal deferred: %v", err))
			s.park(ctx, outbox.KindCashReverse, txn.Code, cashregister.ReversePayload{
				ReferenceType: ledger.ReferenceTransaction,
				ReferenceID:   txn.Code,
			})
		}
	}
	s.recordAudit(ctx, in.ActorID, "transaction:cancel", txn.Code, map[string]any{
		"reason":   in.Reason,
		"entry_id": entry.ID,
	})
	s.logger.Info("transaction cancelled", slog.String("code", txn.Code), slog.String("type", string(txn.Type)))
	return Result{Transaction: txn, Entry: &entry, Warnings: warnings}, nil
}

// undoStock restores consumed stock and reverts produced stock, walking
// lines in product order. Stock that was already sold on cannot be reverted;
// that is reported as a warning and the void goes ahead.
func (s *Service) undoStock(ctx context.Context, tx Tx, t Transaction) ([]string, error) {
	lines := make([]Line, 0, len(t.Lines))
	for _, l := range t.Lines {
		if l.ProductID != "" && (l.Details.Consumption != nil || l.Details.Production != nil) {
			lines = append(lines, l)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	var warnings []string
	for _, l := range lines {
		if c := l.Details.Consumption; c != nil {
			if _, err := s.engine.Restore(ctx, tx, l.ProductID, *c); err != nil {
				return nil, fmt.Errorf("transactions: restore line %d: %w", l.No, err)
			}
		}
		if p := l.Details.Production; p != nil {
			_, err := s.engine.Revert(ctx, tx, l.ProductID, *p)
			switch {
			case errors.Is(err, stock.ErrStockAlreadyConsumed):
				s.logger.Warn("produced stock already consumed, left in place",
					slog.String("code", t.Code), slog.String("product_id", l.ProductID))
				warnings = append(warnings, fmt.Sprintf("line %d: stock of %s already consumed, not reverted", l.No, l.ProductID))
			case err != nil:
				return nil, fmt.Errorf("transactions: revert line %d: %w", l.No, err)
			}
		}
	}
	return warnings, nil
}

// voidFields mirrors the sum of entries: what came in goes out and the
// profit recorded is taken back.
func voidFields(entries []ledger.Entry) ledger.Fields {
	f := ledger.Fields{Type: ledger.EntryVoid, ReferenceType: ledger.ReferenceTransaction}
	var (
		hasIn, hasOut, amountIn, amountOut = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
		profit, cost                       decimal.NullDecimal
	)
	for i, e := range entries {
		if i == 0 {
			f.Currency = e.Currency
			f.CashRegisterID = e.CashRegisterID
			f.ExchangeRate = e.ExchangeRate
		}
		hasIn = hasIn.Add(e.HASIn)
		hasOut = hasOut.Add(e.HASOut)
		if e.Currency == f.Currency {
			amountIn = amountIn.Add(e.AmountIn)
			amountOut = amountOut.Add(e.AmountOut)
		}
		profit = addNull(profit, e.ProfitHAS)
		cost = addNull(cost, e.CostHAS)
	}
	f.HASIn, f.HASOut = hasOut, hasIn
	f.AmountIn, f.AmountOut = amountOut, amountIn
	if profit.Valid {
		f.ProfitHAS = ledger.Some(profit.Decimal.Neg())
	}
	if cost.Valid {
		f.CostHAS = ledger.Some(cost.Decimal.Neg())
	}
	return f
}

func addNull(acc, v decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return acc
	}
	if !acc.Valid {
		return v
	}
	return ledger.Some(acc.Decimal.Add(v.Decimal))
}
