package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hasledger/hasledger/internal/jobs"
	"github.com/hasledger/hasledger/internal/outbox"
)

const defaultBatchSize = 100

// OutboxDispatchJob delivers ledger events and deferred cash movements.
type OutboxDispatchJob struct {
	Dispatcher *outbox.Dispatcher
	BatchSize  int
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewOutboxDispatchJob initialises the dispatch handler.
func NewOutboxDispatchJob(d *outbox.Dispatcher, batchSize int, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxDispatchJob {
	return &OutboxDispatchJob{Dispatcher: d, BatchSize: batchSize, Logger: logger, Metrics: metrics}
}

// Handle runs one dispatch pass. The payload batch size wins over the job's.
func (j *OutboxDispatchJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Dispatcher == nil {
		return errors.New("outbox dispatch: handler not configured")
	}
	var payload OutboxDispatchPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	limit := payload.BatchSize
	if limit <= 0 {
		limit = j.BatchSize
	}
	if limit <= 0 {
		limit = defaultBatchSize
	}

	tracker := j.Metrics.Track(TaskOutboxDispatch)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	report, err := j.Dispatcher.Dispatch(ctx, limit)
	j.Metrics.AddOutbox("delivered", report.Delivered)
	j.Metrics.AddOutbox("retrying", report.Retrying)
	j.Metrics.AddOutbox("failed", report.Failed)
	if err != nil {
		logger(j.Logger).Error("outbox dispatch failed", slog.Any("error", err))
		return err
	}
	if report.Fetched > 0 {
		logger(j.Logger).Info("outbox dispatched",
			slog.Int("fetched", report.Fetched),
			slog.Int("delivered", report.Delivered),
			slog.Int("retrying", report.Retrying),
			slog.Int("failed", report.Failed),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
