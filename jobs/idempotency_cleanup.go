package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hasledger/hasledger/internal/jobs"
)

// IdempotencyStore drops idempotency keys older than retention.
type IdempotencyStore interface {
	CleanupIdempotency(ctx context.Context, retention time.Duration) (int64, error)
}

// IdempotencyCleanupJob expires old idempotency keys.
type IdempotencyCleanupJob struct {
	Store     IdempotencyStore
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle removes expired keys. Retention below a day is refused so replays of
// the current business day keep working.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	retention := j.Retention
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention > 0 {
			retention = payload.Retention
		}
	}
	if retention < 24*time.Hour {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()

	removed, err := j.Store.CleanupIdempotency(ctx, retention)
	if err != nil {
		logger(j.Logger).Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	logger(j.Logger).Info("idempotency keys expired", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}
