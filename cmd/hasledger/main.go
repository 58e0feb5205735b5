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
	"github.com/redis/go-redis/v9"

	"github.com/hasledger/hasledger/internal/app"
	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/observability"
	"github.com/hasledger/hasledger/internal/platform/cache"
	"github.com/hasledger/hasledger/internal/pricing"
	"github.com/hasledger/hasledger/internal/transactions"
	"github.com/hasledger/hasledger/jobs"
)

func main() {
	if len(os.Args) > 1 {
		os.Exit(runCLI(os.Args[1:]))
	}
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	metrics := observability.NewMetrics()

	back, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.String("driver", cfg.StoreDriver), slog.Any("error", err))
		os.Exit(1)
	}
	defer back.close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		if cfg.PriceFeed == "redis" {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("redis unavailable, snapshot cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		back.ready["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	feed, err := newFeed(cfg, redisClient)
	if err != nil {
		logger.Error("configure price feed", slog.Any("error", err))
		os.Exit(1)
	}
	prices := pricing.NewProvider(back.prices, feed, redisClient, pricing.Config{
		Bucket:   cfg.PriceBucket,
		CacheTTL: cfg.PriceCacheTTL,
	}, logger)

	service := transactions.NewService(transactions.Dependencies{
		Store:   back.store,
		Prices:  prices,
		Cash:    cashregister.NewService(back.cash, logger),
		Outbox:  back.outbox,
		Audit:   back.audit,
		Metrics: metrics,
		Logger:  logger,
	})
	txHandler := transactions.NewHandler(logger, service, back.ledger, back.balances)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, back.backlog, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		TransactionHandler: txHandler,
		JobHandler:         jobHandler,
		Readiness:          back.ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func newFeed(cfg *app.Config, client *redis.Client) (pricing.Feed, error) {
	if cfg.PriceFeed == "static" {
		quotes, err := cfg.StaticQuotes()
		if err != nil {
			return nil, err
		}
		return pricing.StaticFeed{Quotes: quotes}, nil
	}
	return pricing.NewRedisFeed(client, cfg.PriceQuotesKey, cfg.PriceMaxAge), nil
}
