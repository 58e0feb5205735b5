package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryAppender struct {
	entries map[string]Entry
	order   []string
}

func newMemoryAppender() *memoryAppender {
	return &memoryAppender{entries: make(map[string]Entry)}
}

func (m *memoryAppender) InsertEntry(_ context.Context, e Entry) error {
	if _, ok := m.entries[e.ID]; ok {
		return ErrDuplicateEntryID
	}
	m.entries[e.ID] = e
	m.order = append(m.order, e.ID)
	return nil
}

func (m *memoryAppender) ListByParty(_ context.Context, partyID string) ([]Entry, error) {
	var out []Entry
	for _, id := range m.order {
		if e := m.entries[id]; e.PartyID == partyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestAppendDerivesNetsAndRounding(t *testing.T) {
	w := NewWriter().WithNow(func() time.Time { return fixedNow })
	store := newMemoryAppender()

	e, err := w.Append(context.Background(), store, Fields{
		Type:          EntrySale,
		HASIn:         dec("1.23456789"),
		HASOut:        dec("3.0000004"),
		Currency:      "try",
		AmountIn:      dec("100.005"),
		AmountOut:     dec("0"),
		ProfitHAS:     Some(dec("0.1234567")),
		PartyID:       "p1",
		ReferenceType: ReferenceTransaction,
		ReferenceID:   "TRX-20260314-AB12",
	})
	require.NoError(t, err)
	require.Regexp(t, `^LED-20260314-[A-Z0-9]{6}$`, e.ID)
	require.Equal(t, "1.234568", e.HASIn.String())
	require.Equal(t, "3", e.HASOut.String())
	require.Equal(t, "-1.765432", e.HASNet.String())
	require.Equal(t, "TL", e.Currency)
	require.Equal(t, "100.01", e.AmountNet.String())
	require.Equal(t, "0.123457", e.ProfitHAS.Decimal.String())
	require.False(t, e.CostHAS.Valid)
	require.True(t, e.TransactionDate.Equal(fixedNow))
}

func TestAppendRetriesOnIDCollision(t *testing.T) {
	w := NewWriter().WithNow(func() time.Time { return fixedNow })
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	w.suffix = func(int) string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	store := newMemoryAppender()
	f := Fields{Type: EntryPayment, HASOut: dec("1"), ReferenceType: ReferenceTransaction, ReferenceID: "TRX-1"}

	first, err := w.Append(context.Background(), store, f)
	require.NoError(t, err)
	second, err := w.Append(context.Background(), store, f)
	require.NoError(t, err)
	require.Equal(t, "LED-20260314-AAAAAA", first.ID)
	require.Equal(t, "LED-20260314-BBBBBB", second.ID)
}

func TestAppendRejectsInvalidFields(t *testing.T) {
	w := NewWriter()
	store := newMemoryAppender()

	_, err := w.Append(context.Background(), store, Fields{Type: EntrySale, ReferenceType: ReferenceTransaction})
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = w.Append(context.Background(), store, Fields{Type: EntrySale, HASIn: dec("-1"), ReferenceType: ReferenceTransaction, ReferenceID: "x"})
	require.ErrorIs(t, err, ErrInvalidEntry)
	require.Empty(t, store.entries)
}

func TestStatementRunningBalanceHandlesBackdating(t *testing.T) {
	w := NewWriter()
	store := newMemoryAppender()
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC) }

	_, err := w.Append(ctx, store, Fields{Type: EntryPurchase, TransactionDate: day(10), HASIn: dec("10"), PartyID: "p1", ReferenceType: ReferenceTransaction, ReferenceID: "a"})
	require.NoError(t, err)
	_, err = w.Append(ctx, store, Fields{Type: EntryPayment, TransactionDate: day(12), HASOut: dec("4"), PartyID: "p1", ReferenceType: ReferenceTransaction, ReferenceID: "b"})
	require.NoError(t, err)
	// recorded later, dated earlier
	_, err = w.Append(ctx, store, Fields{Type: EntryPurchase, TransactionDate: day(5), HASIn: dec("2"), PartyID: "p1", ReferenceType: ReferenceTransaction, ReferenceID: "c"})
	require.NoError(t, err)

	st, err := BuildStatement(ctx, store, "p1", day(6), time.Time{})
	require.NoError(t, err)
	require.True(t, st.OpeningHAS.Equal(dec("2")))
	require.Len(t, st.Lines, 2)
	require.True(t, st.Lines[0].RunningHAS.Equal(dec("12")))
	require.True(t, st.Lines[1].RunningHAS.Equal(dec("8")))
	require.True(t, st.ClosingHAS.Equal(dec("8")))
}

type staticTotals map[string]decimal.Decimal

func (s staticTotals) PartyTotals(context.Context) (map[string]decimal.Decimal, error) { return s, nil }
func (s staticTotals) ListBalances(context.Context) (map[string]decimal.Decimal, error) { return s, nil }

func TestReconcileReportsMismatches(t *testing.T) {
	ledgerSums := staticTotals{"p1": dec("5"), "p2": dec("-3")}
	balances := staticTotals{"p1": dec("5"), "p2": dec("-2"), "p3": dec("1")}

	mismatches, checked, err := Reconcile(context.Background(), ledgerSums, balances)
	require.NoError(t, err)
	require.Equal(t, 3, checked)
	require.Len(t, mismatches, 2)
	require.Equal(t, "p2", mismatches[0].PartyID)
	require.True(t, mismatches[0].Diff.Equal(dec("1")))
	require.Equal(t, "p3", mismatches[1].PartyID)
}
