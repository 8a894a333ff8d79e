package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	jobmetrics "github.com/pizza-pantry/pizza-pantry/internal/jobs"
)

type fakeRepairer struct {
	cascaded   []string
	reconciled []string
	err        error
	result     inventory.ReconcileResult
}

func (f *fakeRepairer) RetryCascade(_ context.Context, itemID, _ string) (int64, error) {
	f.cascaded = append(f.cascaded, itemID)
	return 3, f.err
}

func (f *fakeRepairer) Reconcile(_ context.Context, itemID, _ string) (inventory.ReconcileResult, error) {
	f.reconciled = append(f.reconciled, itemID)
	return f.result, f.err
}

type fakePurger struct{ users []string }

func (f *fakePurger) PurgeAccount(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return nil
}

func newHandlers(repairer LedgerRepairer, purger AccountPurger) *LedgerHandlers {
	return NewLedgerHandlers(repairer, purger, jobmetrics.NewMetrics(prometheus.NewRegistry()), nil)
}

func TestTaskConstructors(t *testing.T) {
	task, err := NewCascadeDeleteTask("item_1", "user_1")
	require.NoError(t, err)
	require.Equal(t, TaskCascadeDelete, task.Type())
	require.JSONEq(t, `{"item_id":"item_1","owner_id":"user_1"}`, string(task.Payload()))

	_, err = NewLedgerReconcileTask("", "user_1")
	require.ErrorIs(t, err, errEmptyPayload)
	_, err = NewAccountPurgeTask("")
	require.ErrorIs(t, err, errEmptyPayload)
}

func TestHandleCascadeDelete(t *testing.T) {
	repairer := &fakeRepairer{}
	h := newHandlers(repairer, nil)
	task, err := NewCascadeDeleteTask("item_1", "user_1")
	require.NoError(t, err)

	require.NoError(t, h.HandleCascadeDelete(context.Background(), task))
	require.Equal(t, []string{"item_1"}, repairer.cascaded)

	repairer.err = errors.New("storage down")
	require.Error(t, h.HandleCascadeDelete(context.Background(), task))
}

func TestHandleReconcileSkipsMissingItem(t *testing.T) {
	repairer := &fakeRepairer{err: inventory.ErrNotFound}
	h := newHandlers(repairer, nil)
	task, err := NewLedgerReconcileTask("item_1", "user_1")
	require.NoError(t, err)

	require.NoError(t, h.HandleReconcile(context.Background(), task))
	require.Equal(t, []string{"item_1"}, repairer.reconciled)
}

func TestHandleReconcileRepairs(t *testing.T) {
	repairer := &fakeRepairer{result: inventory.ReconcileResult{ItemID: "item_1", Drift: -7, Repaired: true}}
	h := newHandlers(repairer, nil)
	task, err := NewLedgerReconcileTask("item_1", "user_1")
	require.NoError(t, err)
	require.NoError(t, h.HandleReconcile(context.Background(), task))
}

func TestMalformedPayloadIsNotRetried(t *testing.T) {
	h := newHandlers(&fakeRepairer{}, &fakePurger{})
	err := h.HandleReconcile(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte(`{`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.HandleCascadeDelete(context.Background(), asynq.NewTask(TaskCascadeDelete, []byte(`{"item_id":"x"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.HandlePurge(context.Background(), asynq.NewTask(TaskAccountPurge, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlePurge(t *testing.T) {
	purger := &fakePurger{}
	h := newHandlers(&fakeRepairer{}, purger)
	require.Len(t, h.TaskHandlers(), 3)

	task, err := NewAccountPurgeTask("user_9")
	require.NoError(t, err)
	require.NoError(t, h.HandlePurge(context.Background(), task))
	require.Equal(t, []string{"user_9"}, purger.users)

	require.Len(t, newHandlers(&fakeRepairer{}, nil).TaskHandlers(), 2)
}

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(fakeInspector{QueueCritical: {Queue: QueueCritical, Pending: 2, Retry: 1}}, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"critical","pending":2,"retry":1`)
	require.Contains(t, rec.Body.String(), `"queue":"default","pending":0`)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}
