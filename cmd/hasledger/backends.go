package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hasledger/hasledger/internal/app"
	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/platform/db"
	"github.com/hasledger/hasledger/internal/pricing"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/store/memory"
	"github.com/hasledger/hasledger/internal/transactions"
	"github.com/hasledger/hasledger/jobs"
)

// backends is every storage port the server wires, for one driver.
type backends struct {
	store    transactions.Store
	prices   pricing.Store
	cash     cashregister.Repository
	outbox   outbox.Writer
	ledger   transactions.LedgerReader
	balances ledger.BalanceReader
	backlog  jobs.OutboxBacklog
	audit    transactions.AuditPort
	ready    map[string]app.ReadinessCheck
	close    func()
}

func openBackends(ctx context.Context, cfg *app.Config, logger *slog.Logger) (backends, error) {
	switch cfg.StoreDriver {
	case app.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.New()
		return backends{
			store:    store,
			prices:   store,
			cash:     store,
			outbox:   store,
			ledger:   store,
			balances: store,
			backlog:  store,
			ready:    map[string]app.ReadinessCheck{},
			close:    func() {},
		}, nil
	case app.StorePostgres:
		if err := db.RunMigrations(cfg.PGDSN, cfg.MigrationsDir); err != nil {
			return backends{}, err
		}
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return backends{}, err
		}
		outboxRepo := outbox.NewRepository(pool)
		return backends{
			store:    transactions.NewRepository(pool),
			prices:   pricing.NewRepository(pool),
			cash:     cashregister.NewRepository(pool),
			outbox:   outboxRepo,
			ledger:   ledger.NewRepository(pool),
			balances: parties.NewRepository(pool),
			backlog:  outboxRepo,
			audit:    shared.NewAuditLogger(pool),
			ready:    map[string]app.ReadinessCheck{"postgres": pool.Ping},
			close:    pool.Close,
		}, nil
	default:
		return backends{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
