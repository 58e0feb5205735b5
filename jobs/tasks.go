package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskOutboxDispatch drains pending outbox rows.
	TaskOutboxDispatch = "outbox:dispatch"
	// TaskLedgerReconcile compares party balances with ledger totals.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// OutboxDispatchPayload bounds one dispatch run.
type OutboxDispatchPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewOutboxDispatchTask constructs an outbox dispatch task.
func NewOutboxDispatchTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(OutboxDispatchPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDispatch, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerReconcileTask constructs a reconciliation task.
func NewLedgerReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerReconcile, nil, asynq.Queue(QueueDefault))
}

// IdempotencyCleanupPayload carries the key retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
