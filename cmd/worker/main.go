package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hasledger/hasledger/internal/app"
	"github.com/hasledger/hasledger/internal/cashregister"
	jobmetrics "github.com/hasledger/hasledger/internal/jobs"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/observability"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/platform/db"
	"github.com/hasledger/hasledger/internal/platform/kafka"
	"github.com/hasledger/hasledger/internal/transactions"
	"github.com/hasledger/hasledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.StoreDriver != app.StorePostgres {
		logger.Error("worker requires the postgres store", slog.String("driver", cfg.StoreDriver))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())

	outboxRepo := outbox.NewRepository(pool)
	register := cashregister.NewService(cashregister.NewRepository(pool), logger)
	dispatcher := outbox.NewDispatcher(outboxRepo, cfg.OutboxMaxAttempts, logger)
	dispatcher.Handle(outbox.KindCashMove, register.HandleMove)
	dispatcher.Handle(outbox.KindCashReverse, register.HandleReverse)

	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(kafka.Config{Brokers: cfg.KafkaBrokers, ClientID: cfg.KafkaClientID})
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		dispatcher.Handle(outbox.KindLedgerEntry, outbox.KafkaRelay(producer, cfg.LedgerTopic))
	} else {
		logger.Warn("KAFKA_BROKERS not set, ledger events stay pending")
	}

	dispatchJob := jobs.NewOutboxDispatchJob(dispatcher, cfg.OutboxBatchSize, logger, jm)
	reconcileJob := jobs.NewLedgerReconcileJob(ledger.NewRepository(pool), parties.NewRepository(pool), metrics, logger, jm)
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:     transactions.NewRepository(pool),
		Retention: cfg.IdempotencyTTL,
		Logger:    logger,
		Metrics:   jm,
	}

	schedule, err := jobs.Schedule(cfg.OutboxBatchSize, cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Routes: []jobs.Route{
			{Type: jobs.TaskOutboxDispatch, Handler: dispatchJob.Handle},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Periodic: schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
