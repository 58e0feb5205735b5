package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/stock"
	"github.com/hasledger/hasledger/internal/transactions"
)

// Tx is the working copy handed to a WithTx callback.
type Tx struct {
	st  *state
	now func() time.Time
}

var _ transactions.Tx = (*Tx)(nil)

func (t *Tx) GetProductForUpdate(_ context.Context, id string) (stock.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return stock.Product{}, stock.ErrProductNotFound
	}
	return p, nil
}

func (t *Tx) InsertProduct(_ context.Context, p stock.Product) error {
	t.st.products[p.ID] = p
	return nil
}

func (t *Tx) UpdateProduct(_ context.Context, p stock.Product) error {
	if _, ok := t.st.products[p.ID]; !ok {
		return stock.ErrProductNotFound
	}
	t.st.products[p.ID] = p
	return nil
}

func (t *Tx) DeleteProduct(_ context.Context, id string) error {
	delete(t.st.products, id)
	return nil
}

func (t *Tx) ListLotsForUpdate(_ context.Context, scope stock.LotScope) ([]stock.Lot, error) {
	var out []stock.Lot
	for _, l := range t.st.lots {
		if !l.QuantityRemaining.IsPositive() {
			continue
		}
		if scope.ProductID != "" && l.ProductID != scope.ProductID {
			continue
		}
		if scope.ProductID == "" && l.Key != scope.Key {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *Tx) GetLotForUpdate(_ context.Context, id int64) (stock.Lot, error) {
	l, ok := t.st.lots[id]
	if !ok {
		return stock.Lot{}, stock.ErrLotNotFound
	}
	return l, nil
}

func (t *Tx) InsertLot(_ context.Context, lot stock.Lot) (stock.Lot, error) {
	t.st.nextLot++
	lot.ID = t.st.nextLot
	lot.CreatedAt = t.now()
	t.st.lots[lot.ID] = lot
	return lot, nil
}

func (t *Tx) UpdateLot(_ context.Context, lot stock.Lot) error {
	if _, ok := t.st.lots[lot.ID]; !ok {
		return stock.ErrLotNotFound
	}
	t.st.lots[lot.ID] = lot
	return nil
}

func (t *Tx) DeleteLot(_ context.Context, id int64) error {
	delete(t.st.lots, id)
	return nil
}

func (t *Tx) GetPoolForUpdate(_ context.Context, key stock.Key) (stock.Pool, error) {
	p, ok := t.st.pools[key]
	if !ok {
		return stock.Pool{}, stock.ErrPoolNotFound
	}
	return p, nil
}

func (t *Tx) UpsertPool(_ context.Context, pool stock.Pool) error {
	pool.UpdatedAt = t.now()
	t.st.pools[pool.Key] = pool
	return nil
}

func (t *Tx) GetPartyForUpdate(_ context.Context, id string) (parties.Party, error) {
	p, ok := t.st.parties[id]
	if !ok {
		return parties.Party{}, parties.ErrPartyNotFound
	}
	return p, nil
}

func (t *Tx) ApplyPartyDelta(_ context.Context, id string, delta parties.Delta) (parties.Balance, error) {
	p, ok := t.st.parties[id]
	if !ok {
		return parties.Balance{}, parties.ErrPartyNotFound
	}
	p.Balance = p.Balance.Apply(delta)
	p.UpdatedAt = t.now()
	t.st.parties[id] = p
	return p.Balance, nil
}

func (t *Tx) InsertEntry(_ context.Context, e ledger.Entry) error {
	for _, existing := range t.st.entries {
		if existing.ID == e.ID {
			return ledger.ErrDuplicateEntryID
		}
	}
	t.st.entries = append(t.st.entries, e)
	return nil
}

func (t *Tx) ListEntriesByReference(_ context.Context, refType, refID string) ([]ledger.Entry, error) {
	return t.st.entriesByReference(refType, refID), nil
}

func (t *Tx) InsertOutbox(_ context.Context, e outbox.Entry) error {
	t.st.outbox = append(t.st.outbox, e)
	return nil
}

func (t *Tx) InsertTransaction(_ context.Context, txn transactions.Transaction) error {
	if _, ok := t.st.transactions[txn.Code]; ok {
		return transactions.ErrDuplicateCode
	}
	t.st.transactions[txn.Code] = cloneTransaction(txn)
	return nil
}

func (t *Tx) GetTransactionForUpdate(_ context.Context, code string) (transactions.Transaction, error) {
	txn, ok := t.st.transactions[code]
	if !ok {
		return transactions.Transaction{}, transactions.ErrNotFound
	}
	return cloneTransaction(txn), nil
}

func (t *Tx) UpdateTransaction(_ context.Context, txn transactions.Transaction) error {
	if _, ok := t.st.transactions[txn.Code]; !ok {
		return transactions.ErrNotFound
	}
	t.st.transactions[txn.Code] = cloneTransaction(txn)
	return nil
}

func (t *Tx) ClaimIdempotencyKey(_ context.Context, rec shared.IdempotencyRecord) (shared.IdempotencyRecord, bool, error) {
	k := idemKey{rec.Scope, rec.Key}
	if existing, ok := t.st.idempotency[k]; ok {
		return existing, false, nil
	}
	t.st.idempotency[k] = rec
	return rec, true, nil
}
