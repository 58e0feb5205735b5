package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// TotalsReader sums has_net per party over every entry.
type TotalsReader interface {
	PartyTotals(ctx context.Context) (map[string]decimal.Decimal, error)
}

// BalanceReader returns cached party balances keyed by party id.
type BalanceReader interface {
	ListBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Mismatch is a party whose cached balance disagrees with the ledger.
type Mismatch struct {
	PartyID   string          `json:"party_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerNet decimal.Decimal `json:"ledger_net"`
	Diff      decimal.Decimal `json:"diff"`
}

// Reconcile compares every cached party balance with the ledger sum.
func Reconcile(ctx context.Context, totals TotalsReader, balances BalanceReader) ([]Mismatch, int, error) {
	sums, err := totals.PartyTotals(ctx)
	if err != nil {
		return nil, 0, err
	}
	cached, err := balances.ListBalances(ctx)
	if err != nil {
		return nil, 0, err
	}

	ids := make(map[string]struct{}, len(cached))
	for id := range cached {
		ids[id] = struct{}{}
	}
	for id := range sums {
		ids[id] = struct{}{}
	}

	var out []Mismatch
	for id := range ids {
		bal := cached[id]
		net := sums[id]
		if bal.Equal(net) {
			continue
		}
		out = append(out, Mismatch{PartyID: id, Balance: bal, LedgerNet: net, Diff: bal.Sub(net)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartyID < out[j].PartyID })
	return out, len(ids), nil
}
