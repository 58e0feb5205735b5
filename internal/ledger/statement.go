package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/has"
)

// PartyReader lists a party's entries.
type PartyReader interface {
	ListByParty(ctx context.Context, partyID string) ([]Entry, error)
}

// StatementLine is an entry with the running HAS balance after it.
type StatementLine struct {
	Entry      Entry           `json:"entry"`
	RunningHAS decimal.Decimal `json:"running_has"`
}

// Statement is a party's HAS movement over a date range.
type Statement struct {
	PartyID    string          `json:"party_id"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	OpeningHAS decimal.Decimal `json:"opening_has"`
	ClosingHAS decimal.Decimal `json:"closing_has"`
	Lines      []StatementLine `json:"lines"`
}

// BuildStatement orders entries by transaction date, then creation time, then
// id, so back-dated entries land where they belong and the running balance is
// recomputed on every read. Zero from/to leave the range open.
func BuildStatement(ctx context.Context, reader PartyReader, partyID string, from, to time.Time) (Statement, error) {
	entries, err := reader.ListByParty(ctx, partyID)
	if err != nil {
		return Statement{}, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	st := Statement{PartyID: partyID, From: from, To: to, OpeningHAS: decimal.Zero}
	running := decimal.Zero
	for _, e := range entries {
		if !from.IsZero() && e.TransactionDate.Before(from) {
			running = running.Add(e.HASNet)
			st.OpeningHAS = running
			continue
		}
		if !to.IsZero() && e.TransactionDate.After(to) {
			break
		}
		running = has.Round(running.Add(e.HASNet))
		st.Lines = append(st.Lines, StatementLine{Entry: e, RunningHAS: running})
	}
	st.ClosingHAS = running
	return st, nil
}
