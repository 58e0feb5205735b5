package outbox

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/platform/kafka"
)

type memoryRepo struct {
	rows map[uuid.UUID]Entry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[uuid.UUID]Entry)}
}

func (m *memoryRepo) InsertOutbox(_ context.Context, e Entry) error {
	m.rows[e.ID] = e
	return nil
}

func (m *memoryRepo) FetchPending(_ context.Context, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.rows {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) MarkDone(_ context.Context, id uuid.UUID, at time.Time) error {
	e := m.rows[id]
	e.Status = StatusDone
	e.Attempts++
	e.ProcessedAt = &at
	m.rows[id] = e
	return nil
}

func (m *memoryRepo) MarkAttempt(_ context.Context, id uuid.UUID, lastError string, failed bool) error {
	e := m.rows[id]
	e.Attempts++
	e.LastError = lastError
	if failed {
		e.Status = StatusFailed
	}
	m.rows[id] = e
	return nil
}

type recordingPublisher struct {
	topic    string
	messages []kafka.Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, messages ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.messages = append(p.messages, messages...)
	return nil
}

func TestDispatchDeliversThroughKafkaRelay(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e, err := NewEntry(KindLedgerEntry, "TRX-20260301-AB12", map[string]string{"id": "LED-20260301-XYZ123"}, now)
	require.NoError(t, err)
	require.NoError(t, repo.InsertOutbox(ctx, e))

	pub := &recordingPublisher{}
	d := NewDispatcher(repo, 3, nil)
	d.Handle(KindLedgerEntry, KafkaRelay(pub, "ledger.entries"))

	report, err := d.Dispatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Fetched: 1, Delivered: 1}, report)
	require.Equal(t, "ledger.entries", pub.topic)
	require.Len(t, pub.messages, 1)
	require.Equal(t, "TRX-20260301-AB12", string(pub.messages[0].Key))
	require.Equal(t, "ledger.entry", pub.messages[0].Headers["event-kind"])
	require.Equal(t, StatusDone, repo.rows[e.ID].Status)
}

func TestDispatchRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	e, err := NewEntry(KindCashMove, "TRX-1", struct{}{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.InsertOutbox(ctx, e))

	d := NewDispatcher(repo, 2, nil)
	d.Handle(KindCashMove, func(context.Context, Entry) error { return errors.New("register offline") })

	report, err := d.Dispatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retrying)
	require.Equal(t, StatusPending, repo.rows[e.ID].Status)

	report, err = d.Dispatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, StatusFailed, repo.rows[e.ID].Status)
	require.Equal(t, "register offline", repo.rows[e.ID].LastError)
	require.Equal(t, 2, repo.rows[e.ID].Attempts)
}

func TestDispatchUnknownKindIsRecorded(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	e, err := NewEntry(Kind("mystery"), "x", nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.InsertOutbox(ctx, e))

	report, err := NewDispatcher(repo, 5, nil).Dispatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retrying)
	require.Contains(t, repo.rows[e.ID].LastError, "no handler")
}
