package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HandlerFunc delivers one row. Handlers must be idempotent; a row is
// retried until it succeeds or runs out of attempts.
type HandlerFunc func(ctx context.Context, e Entry) error

// Report summarises one dispatch run.
type Report struct {
	Fetched   int
	Delivered int
	Retrying  int
	Failed    int
}

// Dispatcher drains pending rows through registered handlers.
type Dispatcher struct {
	repo        Repository
	handlers    map[Kind]HandlerFunc
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// NewDispatcher builds Dispatcher. maxAttempts <= 0 means five.
func NewDispatcher(repo Repository, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:        repo,
		handlers:    make(map[Kind]HandlerFunc),
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// Handle registers fn for kind, replacing any earlier handler.
func (d *Dispatcher) Handle(kind Kind, fn HandlerFunc) {
	d.handlers[kind] = fn
}

// Dispatch processes up to limit pending rows, oldest first.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (Report, error) {
	entries, err := d.repo.FetchPending(ctx, limit)
	if err != nil {
		return Report{}, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	report := Report{Fetched: len(entries)}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		handler, ok := d.handlers[e.Kind]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind)
		} else {
			err = handler(ctx, e)
		}
		if err == nil {
			if markErr := d.repo.MarkDone(ctx, e.ID, d.now()); markErr != nil {
				return report, fmt.Errorf("outbox: mark done %s: %w", e.ID, markErr)
			}
			report.Delivered++
			continue
		}

		failed := e.Attempts+1 >= d.maxAttempts
		if markErr := d.repo.MarkAttempt(ctx, e.ID, err.Error(), failed); markErr != nil {
			return report, fmt.Errorf("outbox: mark attempt %s: %w", e.ID, markErr)
		}
		if failed {
			report.Failed++
			d.logger.Error("outbox entry failed permanently",
				slog.String("id", e.ID.String()), slog.String("kind", string(e.Kind)),
				slog.String("ref", e.Ref), slog.Any("error", err))
			continue
		}
		report.Retrying++
		d.logger.Warn("outbox entry delivery failed",
			slog.String("id", e.ID.String()), slog.String("kind", string(e.Kind)),
			slog.Int("attempt", e.Attempts+1), slog.Any("error", err))
	}
	return report, nil
}
