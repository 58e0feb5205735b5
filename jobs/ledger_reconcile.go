package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hasledger/hasledger/internal/jobs"
	"github.com/hasledger/hasledger/internal/ledger"
)

// MismatchGauge publishes the number of inconsistent parties.
type MismatchGauge interface {
	SetLedgerMismatches(n int)
}

// LedgerReconcileJob checks every cached party balance against the ledger.
// Mismatches are reported, never repaired.
type LedgerReconcileJob struct {
	Totals   ledger.TotalsReader
	Balances ledger.BalanceReader
	Gauge    MismatchGauge
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerReconcileJob initialises the reconciliation handler.
func NewLedgerReconcileJob(totals ledger.TotalsReader, balances ledger.BalanceReader, gauge MismatchGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Totals: totals, Balances: balances, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle runs one reconciliation sweep.
func (j *LedgerReconcileJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Totals == nil || j.Balances == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	mismatches, checked, err := ledger.Reconcile(ctx, j.Totals, j.Balances)
	if err != nil {
		logger(j.Logger).Error("ledger reconcile failed", slog.Any("error", err))
		return err
	}
	if j.Gauge != nil {
		j.Gauge.SetLedgerMismatches(len(mismatches))
	}
	for _, m := range mismatches {
		logger(j.Logger).Warn("party balance disagrees with ledger",
			slog.String("party_id", m.PartyID),
			slog.String("balance", m.Balance.String()),
			slog.String("ledger_net", m.LedgerNet.String()),
			slog.String("diff", m.Diff.String()),
		)
	}
	logger(j.Logger).Info("ledger reconciled", slog.Int("parties", checked), slog.Int("mismatches", len(mismatches)))
	return nil
}
