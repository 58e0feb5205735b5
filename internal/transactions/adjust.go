package transactions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
)

const kindCostAdjustment = "COST_ADJUSTMENT"

// Edit corrects the figures of a completed sale, purchase, payment or
// receipt. The stored snapshot prices the new figures; the difference to the
// old ones lands on the party balance and in an ADJUSTMENT entry.
func (s *Service) Edit(ctx context.Context, in EditInput) (res Result, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveTransaction(string(ledger.EntryAdjustment), outcome)
	}()
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	if !in.Amount.Valid && !in.ExpectedHAS.Valid && in.Discount == nil && len(in.Lines) == 0 {
		return Result{}, invalid("", "nothing to edit")
	}

	var (
		txn   Transaction
		entry ledger.Entry
		moves []cashregister.Movement
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.GetTransactionForUpdate(ctx, in.Code)
		if err != nil {
			return err
		}
		if t.Status == StatusCancelled {
			return ErrTransactionCancelled
		}
		if t.Type == TypeExchange || t.Type == TypeScrap {
			return ErrEditNotSupported
		}

		var party *parties.Party
		if t.PartyID != "" {
			p, err := tx.GetPartyForUpdate(ctx, t.PartyID)
			if err != nil {
				return err
			}
			party = &p
		}

		old := t
		old.Lines = append([]Line(nil), t.Lines...)
		var f ledger.Fields
		switch t.Type {
		case TypePayment, TypeReceipt:
			f, moves, err = editSettlement(&t, in)
		case TypeSale:
			f, err = editSale(&t, in)
		case TypePurchase:
			f, err = s.editPurchase(ctx, tx, &t, in)
		}
		if err != nil {
			return err
		}

		delta := t.BalanceDelta.Sub(old.BalanceDelta)
		if delta.IsPositive() {
			f.HASIn = delta
		} else {
			f.HASOut = delta.Abs()
		}
		f.ProfitHAS = someIfNotZero(profitOf(t).Sub(profitOf(old)))
		if party != nil && !delta.IsZero() {
			if _, err := tx.ApplyPartyDelta(ctx, party.ID, parties.DeltaOf(delta)); err != nil {
				return err
			}
		}

		now := s.now()
		t.UpdatedAt = now
		t.Version++
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}

		f.Type = ledger.EntryAdjustment
		f.TransactionDate = now
		f.ReferenceType = ledger.ReferenceTransaction
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

	res = Result{Transaction: txn, Entry: &entry}
	res.Warnings = s.moveCash(ctx, txn.Code, outbox.KindCashMove, moves)
	s.recordAudit(ctx, in.ActorID, "transaction:edit", txn.Code, map[string]any{
		"reason":   in.Reason,
		"version":  txn.Version,
		"entry_id": entry.ID,
	})
	s.logger.Info("transaction edited",
		slog.String("code", txn.Code), slog.Int("version", txn.Version), slog.String("delta_has", entry.HASNet.String()))
	return res, nil
}

func profitOf(t Transaction) decimal.Decimal {
	switch d := t.Details.(type) {
	case SaleDetails:
		return d.NetProfitHAS
	case SettlementDetails:
		return d.ProfitHAS
	}
	return decimal.Zero
}

func editSettlement(t *Transaction, in EditInput) (ledger.Fields, []cashregister.Movement, error) {
	if in.Discount != nil || len(in.Lines) > 0 {
		return ledger.Fields{}, nil, invalid("", "only amount and expected_has can change on a %s", t.Type)
	}
	d := t.Details.(SettlementDetails)
	before := d.Amount
	if in.Amount.Valid {
		if err := checkPositive("amount", in.Amount.Decimal); err != nil {
			return ledger.Fields{}, nil, err
		}
		d.Amount = in.Amount.Decimal
	}
	if in.ExpectedHAS.Valid {
		if err := checkPositive("expected_has", in.ExpectedHAS.Decimal); err != nil {
			return ledger.Fields{}, nil, err
		}
		d.ExpectedHAS = in.ExpectedHAS
	}
	if err := applySettlement(t, d); err != nil {
		return ledger.Fields{}, nil, err
	}

	d = t.Details.(SettlementDetails)
	f := ledger.Fields{
		Currency:       d.Currency,
		ExchangeRate:   ledger.Some(d.Rate),
		CashRegisterID: d.CashRegisterID,
	}
	diff := d.Amount.Sub(before)
	if diff.IsZero() {
		return f, nil, nil
	}
	dir := settlementDirection(t.Type)
	if diff.IsNegative() {
		dir = dir.Flip()
	}
	if dir == cashregister.In {
		f.AmountIn = diff.Abs()
	} else {
		f.AmountOut = diff.Abs()
	}
	if d.CashRegisterID == "" {
		return f, nil, nil
	}
	return f, []cashregister.Movement{{
		ID:            cashregister.MovementID(t.Code, fmt.Sprintf("adjust-%d", t.Version+1)),
		RegisterID:    d.CashRegisterID,
		Direction:     dir,
		Amount:        diff.Abs(),
		Currency:      d.Currency,
		ReferenceType: ledger.ReferenceTransaction,
		ReferenceID:   t.Code,
	}}, nil
}

func editSale(t *Transaction, in EditInput) (ledger.Fields, error) {
	if in.Amount.Valid || in.ExpectedHAS.Valid {
		return ledger.Fields{}, invalid("", "only line prices and the discount can change on a SALE")
	}
	d := t.Details.(SaleDetails)
	for i, e := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if e.Fineness.Valid || e.LaborRate.Valid || e.Price == nil {
			return ledger.Fields{}, invalid(field, "only price can change on a sale line")
		}
		idx, err := inventoryLine(t, e.No, field)
		if err != nil {
			return ledger.Fields{}, err
		}
		if err := checkPositive(field+".price.amount", e.Price.Amount); err != nil {
			return ledger.Fields{}, err
		}
		cur, err := normalize(field+".price.currency", e.Price.Currency)
		if err != nil {
			return ledger.Fields{}, err
		}
		sale, err := t.Snapshot.ToHAS(e.Price.Amount, cur, has.Sell)
		if err != nil {
			return ledger.Fields{}, err
		}
		l := &t.Lines[idx]
		l.LineTotalHAS = sale
		l.Details.SaleHAS = sale
		l.Details.Amount = e.Price.Amount
		l.Details.Currency = cur
		l.Details.ProfitHAS = has.Round(sale.Sub(l.Details.CostHAS))
	}
	if in.Discount != nil {
		if err := checkPositive("discount.amount", in.Discount.Amount); err != nil {
			return ledger.Fields{}, err
		}
		cur, err := normalize("discount.currency", in.Discount.Currency)
		if err != nil {
			return ledger.Fields{}, err
		}
		d.Discount = &AmountInput{Amount: in.Discount.Amount, Currency: cur}
	}
	if err := applySaleTotals(t, d); err != nil {
		return ledger.Fields{}, err
	}
	d = t.Details.(SaleDetails)
	return ledger.Fields{DiscountHAS: someIfNotZero(d.DiscountHAS)}, nil
}

func (s *Service) editPurchase(ctx context.Context, tx Tx, t *Transaction, in EditInput) (ledger.Fields, error) {
	if in.Amount.Valid || in.ExpectedHAS.Valid || in.Discount != nil {
		return ledger.Fields{}, invalid("", "only line fineness and labor rate can change on a PURCHASE")
	}
	before := t.TotalHASAmount

	indexes := make([]int, len(in.Lines))
	var ids []string
	for i, e := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if e.Price != nil || (!e.Fineness.Valid && !e.LaborRate.Valid) {
			return ledger.Fields{}, invalid(field, "only fineness and labor_rate can change on a purchase line")
		}
		idx, err := inventoryLine(t, e.No, field)
		if err != nil {
			return ledger.Fields{}, err
		}
		if e.Fineness.Valid {
			if err := checkFineness(field+".fineness", e.Fineness.Decimal); err != nil {
				return ledger.Fields{}, err
			}
		}
		if e.LaborRate.Valid {
			if err := checkNotNegative(field+".labor_rate", e.LaborRate.Decimal); err != nil {
				return ledger.Fields{}, err
			}
			if e.LaborRate.Decimal.IsPositive() && t.Lines[idx].Details.LaborType == "" {
				return ledger.Fields{}, invalid(field+".labor_rate", "line has no labor type")
			}
		}
		indexes[i] = idx
		ids = append(ids, t.Lines[idx].ProductID)
	}
	if _, err := lockProducts(ctx, tx, ids); err != nil {
		return ledger.Fields{}, err
	}

	for i, e := range in.Lines {
		l := &t.Lines[indexes[i]]
		if e.Fineness.Valid {
			l.Details.Fineness = e.Fineness.Decimal
		}
		if e.LaborRate.Valid {
			l.Details.LaborRate = e.LaborRate.Decimal
		}
		cost := pricePurchaseLine(l.WeightGram, l.Details.Fineness, l.Details.LaborType, l.Details.LaborRate, l.Details.Pieces)
		total := cost.Total()
		if l.Details.Production != nil {
			_, prod, err := s.engine.Reprice(ctx, tx, l.ProductID, *l.Details.Production, total)
			if err != nil {
				return ledger.Fields{}, fmt.Errorf("transactions: reprice line %d: %w", l.No, err)
			}
			l.Details.Production = &prod
		}
		l.LineTotalHAS = total
		l.Details.MaterialHAS = cost.Material
		l.Details.LaborHAS = cost.Labor
		l.Details.CostHAS = total
	}
	applyPurchaseTotals(t)
	return ledger.Fields{CostHAS: someIfNotZero(t.TotalHASAmount.Sub(before))}, nil
}

func inventoryLine(t *Transaction, no int, field string) (int, error) {
	for i, l := range t.Lines {
		if l.No == no && l.Kind == LineInventory {
			return i, nil
		}
	}
	return 0, invalid(field+".no", "no inventory line %d", no)
}

// AdjustProductCost sets the total carried cost of a unique item or a pool
// and records the change as an ADJUSTMENT entry against the product.
func (s *Service) AdjustProductCost(ctx context.Context, in CostAdjustmentInput) (out CostAdjustment, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveTransaction(kindCostAdjustment, outcome)
	}()
	if err := s.check(in); err != nil {
		return CostAdjustment{}, err
	}
	if err := checkNotNegative("total_cost_has", in.TotalCostHAS); err != nil {
		return CostAdjustment{}, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		p, delta, err := s.engine.AdjustCost(ctx, tx, in.ProductID, has.Round(in.TotalCostHAS))
		if err != nil {
			return err
		}
		entry, err := s.appendEntry(ctx, tx, ledger.Fields{
			Type:            ledger.EntryAdjustment,
			TransactionDate: s.now(),
			CostHAS:         ledger.Some(delta),
			ProductID:       p.ID,
			ReferenceType:   ledger.ReferenceProduct,
			ReferenceID:     p.ID,
			Description:     in.Reason,
			CreatedBy:       in.ActorID,
		})
		if err != nil {
			return err
		}
		out = CostAdjustment{Product: p, DeltaHAS: delta, Entry: entry}
		return nil
	})
	if err != nil {
		return CostAdjustment{}, err
	}
	s.recordAudit(ctx, in.ActorID, "product:adjust_cost", in.ProductID, map[string]any{
		"total_cost_has": out.Product.TotalCostHAS.String(),
		"delta_has":      out.DeltaHAS.String(),
		"entry_id":       out.Entry.ID,
	})
	return out, nil
}
