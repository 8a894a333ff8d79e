package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	jobmetrics "github.com/pizza-pantry/pizza-pantry/internal/jobs"
)

// LedgerRepairer performs the repairs queued by the inventory service.
type LedgerRepairer interface {
	RetryCascade(ctx context.Context, itemID, ownerID string) (int64, error)
	Reconcile(ctx context.Context, itemID, ownerID string) (inventory.ReconcileResult, error)
}

// AccountPurger removes every document of an account.
type AccountPurger interface {
	PurgeAccount(ctx context.Context, userID string) error
}

// LedgerHandlers processes ledger repair tasks.
type LedgerHandlers struct {
	repairer LedgerRepairer
	purger   AccountPurger
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
}

// NewLedgerHandlers constructs LedgerHandlers. purger may be nil.
func NewLedgerHandlers(repairer LedgerRepairer, purger AccountPurger, metrics *jobmetrics.Metrics, logger *slog.Logger) *LedgerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerHandlers{repairer: repairer, purger: purger, metrics: metrics, logger: logger}
}

// TaskHandlers lists the handlers to register on the worker.
func (h *LedgerHandlers) TaskHandlers() []TaskHandler {
	handlers := []TaskHandler{
		{Type: TaskCascadeDelete, Handler: h.HandleCascadeDelete},
		{Type: TaskLedgerReconcile, Handler: h.HandleReconcile},
	}
	if h.purger != nil {
		handlers = append(handlers, TaskHandler{Type: TaskAccountPurge, Handler: h.HandlePurge})
	}
	return handlers
}

func decodeItem(t *asynq.Task) (ItemPayload, error) {
	var payload ItemPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if payload.ItemID == "" || payload.OwnerID == "" {
		return payload, fmt.Errorf("%s: %w: %w", t.Type(), errEmptyPayload, asynq.SkipRetry)
	}
	return payload, nil
}

// HandleCascadeDelete processes TaskCascadeDelete tasks.
func (h *LedgerHandlers) HandleCascadeDelete(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskCascadeDelete)
	payload, err := decodeItem(t)
	if err != nil {
		return tracker.End(err)
	}
	removed, err := h.repairer.RetryCascade(ctx, payload.ItemID, payload.OwnerID)
	if err != nil {
		h.logger.Warn("cascade delete job failed", slog.String("item_id", payload.ItemID), slog.Any("error", err))
		return tracker.End(err)
	}
	h.metrics.AddRecords(TaskCascadeDelete, removed)
	h.logger.Info("cascade delete job done", slog.String("item_id", payload.ItemID), slog.Int64("records", removed))
	return tracker.End(nil)
}

// HandleReconcile processes TaskLedgerReconcile tasks.
func (h *LedgerHandlers) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskLedgerReconcile)
	payload, err := decodeItem(t)
	if err != nil {
		return tracker.End(err)
	}
	res, err := h.repairer.Reconcile(ctx, payload.ItemID, payload.OwnerID)
	if errors.Is(err, inventory.ErrNotFound) {
		h.logger.Info("reconcile skipped, item gone", slog.String("item_id", payload.ItemID))
		return tracker.End(nil)
	}
	if err != nil {
		h.logger.Warn("reconcile job failed", slog.String("item_id", payload.ItemID), slog.Any("error", err))
		return tracker.End(err)
	}
	if res.Repaired {
		h.metrics.AddRecords(TaskLedgerReconcile, 1)
	}
	h.logger.Info("reconcile job done",
		slog.String("item_id", payload.ItemID),
		slog.Float64("drift", res.Drift),
		slog.Bool("repaired", res.Repaired))
	return tracker.End(nil)
}

// HandlePurge processes TaskAccountPurge tasks.
func (h *LedgerHandlers) HandlePurge(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskAccountPurge)
	var payload AccountPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == "" {
		return tracker.End(fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry))
	}
	if err := h.purger.PurgeAccount(ctx, payload.UserID); err != nil {
		h.logger.Warn("account purge job failed", slog.String("user_id", payload.UserID), slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}
