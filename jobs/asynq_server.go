package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Route binds a task type to its handler.
type Route struct {
	Type    string
	Handler asynq.HandlerFunc
}

// Periodic enqueues Task on the cron Spec (UTC).
type Periodic struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects what the worker process needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Routes      []Route
	Periodic    []Periodic
}

// Worker runs the asynq server for the ledger jobs together with the
// scheduler that enqueues them.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// Schedule returns the periodic ledger jobs: outbox dispatch every minute,
// reconciliation at 02:30 and key cleanup at 03:00.
func Schedule(batchSize int, retention time.Duration) ([]Periodic, error) {
	dispatch, err := NewOutboxDispatchTask(batchSize)
	if err != nil {
		return nil, err
	}
	cleanup, err := NewIdempotencyCleanupTask(retention)
	if err != nil {
		return nil, err
	}
	return []Periodic{
		{Spec: "@every 1m", Task: dispatch, Options: []asynq.Option{asynq.MaxRetry(0)}},
		{Spec: "30 2 * * *", Task: NewLedgerReconcileTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: "0 3 * * *", Task: cleanup, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}, nil
}

// NewWorker builds the server, mux and scheduler. Routes or periodic entries
// with missing parts are rejected.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	log := logger(cfg.Logger)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	mux := asynq.NewServeMux()
	for _, route := range cfg.Routes {
		if route.Type == "" || route.Handler == nil {
			return nil, errors.New("jobs: route requires type and handler")
		}
		mux.HandleFunc(route.Type, route.Handler)
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{QueueDefault: 1},
		ShutdownTimeout: 20 * time.Second,
		Logger:          newAsynqLogger(cfg.Logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("job failed",
				slog.String("task", task.Type()),
				slog.Int("retried", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err),
			)
		}),
	})

	w := &Worker{server: srv, mux: mux, logger: log}
	if len(cfg.Periodic) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC, Logger: newAsynqLogger(cfg.Logger)})
	for _, p := range cfg.Periodic {
		if p.Spec == "" || p.Task == nil {
			return nil, errors.New("jobs: periodic entry requires spec and task")
		}
		if _, err := w.scheduler.Register(p.Spec, p.Task, p.Options...); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Run processes jobs until ctx is cancelled or the server stops.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	w.logger.Info("worker started")

	done := make(chan error, 1)
	go func() {
		done <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
