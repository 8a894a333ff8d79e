package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestReconcileTaskIsUniqueForAWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	raw := asynq.NewClient(opts)
	t.Cleanup(func() { _ = raw.Close() })

	task, err := NewLedgerReconcileTask("item_1", "user_1")
	require.NoError(t, err)
	_, err = raw.Enqueue(task)
	require.NoError(t, err)
	_, err = raw.Enqueue(task)
	require.ErrorIs(t, err, asynq.ErrDuplicateTask)

	client := NewClient(opts, nil)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.EnqueueReconcile(context.Background(), "item_1", "user_1"))

	mr.FastForward(uniqueFor + time.Second)
	_, err = raw.Enqueue(task)
	require.NoError(t, err)
}
