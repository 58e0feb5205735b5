// Package memory keeps every repository in process memory. Database
// transactions are serialized and run against a copy of the state that
// replaces it only on commit, so a failed flow leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/pricing"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/stock"
	"github.com/hasledger/hasledger/internal/transactions"
)

type idemKey struct{ scope, key string }

type state struct {
	products     map[string]stock.Product
	lots         map[int64]stock.Lot
	pools        map[stock.Key]stock.Pool
	nextLot      int64
	parties      map[string]parties.Party
	entries      []ledger.Entry
	transactions map[string]transactions.Transaction
	idempotency  map[idemKey]shared.IdempotencyRecord
	outbox       []outbox.Entry
}

func newState() *state {
	return &state{
		products:     map[string]stock.Product{},
		lots:         map[int64]stock.Lot{},
		pools:        map[stock.Key]stock.Pool{},
		parties:      map[string]parties.Party{},
		transactions: map[string]transactions.Transaction{},
		idempotency:  map[idemKey]shared.IdempotencyRecord{},
	}
}

func (s *state) clone() *state {
	c := &state{
		products:     make(map[string]stock.Product, len(s.products)),
		lots:         make(map[int64]stock.Lot, len(s.lots)),
		pools:        make(map[stock.Key]stock.Pool, len(s.pools)),
		nextLot:      s.nextLot,
		parties:      make(map[string]parties.Party, len(s.parties)),
		entries:      append([]ledger.Entry(nil), s.entries...),
		transactions: make(map[string]transactions.Transaction, len(s.transactions)),
		idempotency:  make(map[idemKey]shared.IdempotencyRecord, len(s.idempotency)),
		outbox:       append([]outbox.Entry(nil), s.outbox...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.parties {
		c.parties[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = cloneTransaction(v)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

func cloneTransaction(t transactions.Transaction) transactions.Transaction {
	t.Lines = append([]transactions.Line(nil), t.Lines...)
	return t
}

// Store implements every repository the services need.
type Store struct {
	mu        sync.Mutex
	st        *state
	snapshots map[int64]has.Snapshot
	movements []cashregister.Movement
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st:        newState(),
		snapshots: map[int64]has.Snapshot{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock used for generated timestamps.
func (s *Store) WithNow(fn func() time.Time) *Store {
	if fn != nil {
		s.now = fn
	}
	return s
}

// WithTx runs fn against a private copy of the state and publishes the copy
// when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx transactions.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, &Tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// CreateParty registers a party with a zero balance.
func (s *Store) CreateParty(_ context.Context, p parties.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p.Balance = parties.NewBalance(decimal.Zero)
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.parties[p.ID] = p
	return nil
}

// GetParty loads a party.
func (s *Store) GetParty(_ context.Context, id string) (parties.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.parties[id]
	if !ok {
		return parties.Party{}, parties.ErrPartyNotFound
	}
	return p, nil
}

// ListBalances returns every party's cached balance.
func (s *Store) ListBalances(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(s.st.parties))
	for id, p := range s.st.parties {
		out[id] = p.Balance.HAS()
	}
	return out, nil
}

// GetProduct loads a product.
func (s *Store) GetProduct(_ context.Context, id string) (stock.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return stock.Product{}, stock.ErrProductNotFound
	}
	return p, nil
}

// GetPool loads the pool aggregate for a key.
func (s *Store) GetPool(_ context.Context, key stock.Key) (stock.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.pools[key]
	if !ok {
		return stock.Pool{}, stock.ErrPoolNotFound
	}
	return p, nil
}

// FindTransaction loads a transaction by code.
func (s *Store) FindTransaction(_ context.Context, code string) (transactions.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.transactions[code]
	if !ok {
		return transactions.Transaction{}, transactions.ErrNotFound
	}
	return cloneTransaction(t), nil
}

// LookupIdempotency returns the record held for a key.
func (s *Store) LookupIdempotency(_ context.Context, scope, key string) (shared.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.idempotency[idemKey{scope, key}]
	if !ok {
		return shared.IdempotencyRecord{}, shared.ErrNotFound
	}
	return rec, nil
}

// CleanupIdempotency drops keys created before now minus retention.
func (s *Store) CleanupIdempotency(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-retention)
	var removed int64
	for k, rec := range s.st.idempotency {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.st.idempotency, k)
			removed++
		}
	}
	return removed, nil
}

// ListEntriesByReference lists committed entries for a reference.
func (s *Store) ListEntriesByReference(ctx context.Context, refType, refID string) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.entriesByReference(refType, refID), nil
}

// ListByParty lists a party's committed entries.
func (s *Store) ListByParty(_ context.Context, partyID string) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.st.entries {
		if e.PartyID == partyID {
			out = append(out, e)
		}
	}
	return out, nil
}

// PartyTotals sums has_net per party.
func (s *Store) PartyTotals(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, e := range s.st.entries {
		if e.PartyID == "" {
			continue
		}
		out[e.PartyID] = out[e.PartyID].Add(e.HASNet)
	}
	return out, nil
}

// Entries returns every committed ledger entry in insertion order.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Entry(nil), s.st.entries...)
}

// FindByBucket implements pricing.Store.
func (s *Store) FindByBucket(_ context.Context, bucket time.Time) (has.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[bucket.Unix()]
	if !ok {
		return has.Snapshot{}, pricing.ErrSnapshotNotFound
	}
	return snap, nil
}

// FindLatestBefore implements pricing.Store.
func (s *Store) FindLatestBefore(_ context.Context, asOf time.Time) (has.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  has.Snapshot
		found bool
	)
	for _, snap := range s.snapshots {
		if snap.CapturedAt.After(asOf) {
			continue
		}
		if !found || snap.CapturedAt.After(best.CapturedAt) {
			best, found = snap, true
		}
	}
	if !found {
		return has.Snapshot{}, pricing.ErrSnapshotNotFound
	}
	return best, nil
}

// Insert implements pricing.Store.
func (s *Store) Insert(_ context.Context, snap has.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[snap.Bucket.Unix()]; ok {
		return pricing.ErrDuplicateBucket
	}
	s.snapshots[snap.Bucket.Unix()] = snap
	return nil
}

// InsertMovement implements cashregister.Repository. A known id is ignored.
func (s *Store) InsertMovement(_ context.Context, m cashregister.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.movements {
		if existing.ID == m.ID {
			return nil
		}
	}
	s.movements = append(s.movements, m)
	return nil
}

// ListByReference implements cashregister.Repository.
func (s *Store) ListByReference(_ context.Context, refType, refID string) ([]cashregister.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cashregister.Movement
	for _, m := range s.movements {
		if m.ReferenceType == refType && m.ReferenceID == refID {
			out = append(out, m)
		}
	}
	return out, nil
}

// RegisterTotals implements cashregister.Repository.
func (s *Store) RegisterTotals(_ context.Context, registerID string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, m := range s.movements {
		if m.RegisterID != registerID {
			continue
		}
		amount := m.Amount
		if m.Direction == cashregister.Out {
			amount = amount.Neg()
		}
		out[m.Currency] = out[m.Currency].Add(amount)
	}
	return out, nil
}

// InsertOutbox implements outbox.Writer outside a transaction.
func (s *Store) InsertOutbox(_ context.Context, e outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.outbox = append(s.st.outbox, e)
	return nil
}

// FetchPending implements outbox.Repository.
func (s *Store) FetchPending(_ context.Context, limit int) ([]outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Entry
	for _, e := range s.st.outbox {
		if e.Status != outbox.StatusPending {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDone implements outbox.Repository.
func (s *Store) MarkDone(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			e := &s.st.outbox[i]
			e.Status = outbox.StatusDone
			e.Attempts++
			e.LastError = ""
			e.ProcessedAt = &at
		}
	}
	return nil
}

// MarkAttempt implements outbox.Repository.
func (s *Store) MarkAttempt(_ context.Context, id uuid.UUID, lastError string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			e := &s.st.outbox[i]
			e.Attempts++
			e.LastError = lastError
			if failed {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

// CountByStatus reports the outbox backlog.
func (s *Store) CountByStatus(_ context.Context) (map[outbox.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[outbox.Status]int64{}
	for _, e := range s.st.outbox {
		out[e.Status]++
	}
	return out, nil
}

// Outbox returns every outbox row.
func (s *Store) Outbox() []outbox.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Entry(nil), s.st.outbox...)
}

func (st *state) entriesByReference(refType, refID string) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range st.entries {
		if e.ReferenceType == refType && e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out
}
