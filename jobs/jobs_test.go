package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/cashregister"
	jobmetrics "github.com/hasledger/hasledger/internal/jobs"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOutboxDispatchJobReplaysDeferredCashMovement(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := memory.New().WithNow(func() time.Time { return now })
	register := cashregister.NewService(store, discardLogger()).WithNow(func() time.Time { return now })

	move := cashregister.Movement{
		ID:            cashregister.MovementID("TRX-20260314-AB12", "collection"),
		RegisterID:    "kasa-1",
		Direction:     cashregister.In,
		Amount:        decimal.RequireFromString("1500"),
		Currency:      "TL",
		ReferenceType: ledger.ReferenceTransaction,
		ReferenceID:   "TRX-20260314-AB12",
	}
	row, err := outbox.NewEntry(outbox.KindCashMove, move.ReferenceID, move, now)
	require.NoError(t, err)
	require.NoError(t, store.InsertOutbox(ctx, row))

	dispatcher := outbox.NewDispatcher(store, 3, discardLogger())
	dispatcher.Handle(outbox.KindCashMove, register.HandleMove)
	job := NewOutboxDispatchJob(dispatcher, 10, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewOutboxDispatchTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	totals, err := register.Totals(ctx, "kasa-1")
	require.NoError(t, err)
	require.True(t, totals["TL"].Equal(decimal.RequireFromString("1500")))

	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, job.Handle(ctx, task))
	totals, err = register.Totals(ctx, "kasa-1")
	require.NoError(t, err)
	require.True(t, totals["TL"].Equal(decimal.RequireFromString("1500")))
}

func TestOutboxDispatchJobRejectsBadPayload(t *testing.T) {
	job := NewOutboxDispatchJob(outbox.NewDispatcher(memory.New(), 3, nil), 10, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskOutboxDispatch, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *OutboxDispatchJob
	require.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskOutboxDispatch, nil)))
}

type stubTotals map[string]decimal.Decimal

func (s stubTotals) PartyTotals(context.Context) (map[string]decimal.Decimal, error) {
	return s, nil
}

type stubBalances struct {
	balances map[string]decimal.Decimal
	err      error
}

func (s stubBalances) ListBalances(context.Context) (map[string]decimal.Decimal, error) {
	return s.balances, s.err
}

type recordingGauge struct {
	last int
	set  bool
}

func (g *recordingGauge) SetLedgerMismatches(n int) {
	g.last, g.set = n, true
}

func TestLedgerReconcileJobPublishesMismatches(t *testing.T) {
	totals := stubTotals{"a": decimal.NewFromInt(5), "b": decimal.NewFromInt(-2)}
	balances := stubBalances{balances: map[string]decimal.Decimal{"a": decimal.NewFromInt(5), "b": decimal.NewFromInt(-3)}}
	gauge := &recordingGauge{}
	job := NewLedgerReconcileJob(totals, balances, gauge, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), NewLedgerReconcileTask()))
	require.True(t, gauge.set)
	require.Equal(t, 1, gauge.last)
}

func TestLedgerReconcileJobPropagatesErrors(t *testing.T) {
	gauge := &recordingGauge{}
	job := NewLedgerReconcileJob(stubTotals{}, stubBalances{err: errors.New("db down")}, gauge, discardLogger(), nil)
	require.Error(t, job.Handle(context.Background(), NewLedgerReconcileTask()))
	require.False(t, gauge.set)
}

type stubIdempotency struct {
	retention time.Duration
	calls     int
}

func (s *stubIdempotency) CleanupIdempotency(_ context.Context, retention time.Duration) (int64, error) {
	s.retention = retention
	s.calls++
	return 4, nil
}

func TestIdempotencyCleanupJob(t *testing.T) {
	store := &stubIdempotency{}
	job := &IdempotencyCleanupJob{Store: store, Retention: 30 * 24 * time.Hour, Logger: discardLogger()}

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 30*24*time.Hour, store.retention)

	task, err := NewIdempotencyCleanupTask(7 * 24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 7*24*time.Hour, store.retention)

	short, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), short), asynq.SkipRetry)
	require.Equal(t, 2, store.calls)
}

func TestHandlerHealthReportsOutboxBacklog(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	row, err := outbox.NewEntry(outbox.KindLedgerEntry, "TRX-20260314-AB12", map[string]string{"id": "LED-1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.InsertOutbox(ctx, row))

	r := chi.NewRouter()
	NewHandler(nil, store, discardLogger()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"retry":0,"archived":0,"outbox":{"PENDING":1}}`, rec.Body.String())
}

func TestScheduleCoversEveryJob(t *testing.T) {
	schedule, err := Schedule(50, 30*24*time.Hour)
	require.NoError(t, err)

	specs := map[string]string{}
	for _, p := range schedule {
		specs[p.Task.Type()] = p.Spec
	}
	require.Equal(t, map[string]string{
		TaskOutboxDispatch:     "@every 1m",
		TaskLedgerReconcile:    "30 2 * * *",
		TaskIdempotencyCleanup: "0 3 * * *",
	}, specs)
	require.JSONEq(t, `{"batch_size":50}`, string(schedule[0].Task.Payload()))
}

func TestNewWorkerRejectsIncompleteRoutes(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Routes: []Route{{Type: TaskOutboxDispatch}}})
	require.Error(t, err)
}
