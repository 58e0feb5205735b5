package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/jobs"
)

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskOutboxDispatch, 50, 0)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskOutboxDispatch, task.Type())
	var dispatch jobs.OutboxDispatchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &dispatch))
	require.Equal(t, 50, dispatch.BatchSize)

	task, err = BuildTask(jobs.TaskIdempotencyCleanup, 0, 48*time.Hour)
	require.NoError(t, err)
	var cleanup jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &cleanup))
	require.Equal(t, 48*time.Hour, cleanup.Retention)

	task, err = BuildTask(jobs.TaskLedgerReconcile, 0, 0)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerReconcile, task.Type())

	_, err = BuildTask("fx:backfill", 0, 0)
	require.Error(t, err)
}
