package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	driftEpsilon        = 1e-9
)

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	StorageTimeout  time.Duration
	MaxReasonLength int
	HistoryLimit    int
}

// Dependencies groups optional collaborators. Nil members are skipped.
type Dependencies struct {
	Idempotency IdempotencyStore
	Cache       QueryCache
	Scheduler   Scheduler
	Observer    Observer
	Logger      *slog.Logger
	Clock       func() time.Time
	NewID       func() string
}

// Service is the only component allowed to change an item's quantity.
type Service struct {
	items       ItemRepository
	adjustments AdjustmentRepository
	idempotency IdempotencyStore
	cache       QueryCache
	scheduler   Scheduler
	observer    Observer
	logger      *slog.Logger
	clock       func() time.Time
	newID       func() string
	builder     RecordBuilder
	validate    *validator.Validate
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(items ItemRepository, adjustments AdjustmentRepository, deps Dependencies, cfg ServiceConfig) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxReasonLength <= 0 {
		cfg.MaxReasonLength = DefaultMaxReasonLength
	}
	s := &Service{
		items:       items,
		adjustments: adjustments,
		idempotency: deps.Idempotency,
		cache:       deps.Cache,
		scheduler:   deps.Scheduler,
		observer:    deps.Observer,
		logger:      deps.Logger,
		clock:       deps.Clock,
		newID:       deps.NewID,
		validate:    newValidator(),
		cfg:         cfg,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = NewRecordID
	}
	s.builder = RecordBuilder{MaxReasonLength: cfg.MaxReasonLength, NewID: s.newID}
	return s
}

// CreateItem validates and persists a new item, seeding the ledger with its
// starting quantity.
func (s *Service) CreateItem(ctx context.Context, ownerID string, input CreateInput) (Item, error) {
	if ownerID == "" {
		return Item{}, shared.ErrUnauthorized
	}
	input.ItemFields = normalizeFields(input.ItemFields)
	if err := validateStruct(s.validate, input); err != nil {
		return Item{}, err
	}
	now := s.now()
	item := Item{
		ID:          s.newID(),
		OwnerID:     ownerID,
		Quantity:    input.Quantity,
		CreatedAt:   now,
		LastUpdated: now,
	}.WithFields(input.ItemFields)

	// The seed record is built before the item is stored so a record that
	// cannot be built leaves nothing behind.
	var seed *Adjustment
	if item.Quantity > 0 {
		record, err := s.builder.Build(item.ID, 0, item.Quantity, item.Quantity, InitialStockReason, ownerID, now)
		if err != nil {
			return Item{}, err
		}
		seed = &record
	}

	sctx, cancel := s.storageContext(ctx)
	created, err := s.items.Create(sctx, item)
	cancel()
	if err != nil {
		return Item{}, storageErr(err)
	}
	if seed != nil {
		if _, err := s.appendRecord(ctx, *seed); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Item{}, ErrNotFound
			}
			return created, s.partialFailure(ctx, "create", created, err)
		}
	}
	s.invalidate(ctx, ownerID)
	s.logger.Info("inventory item created",
		slog.String("item_id", created.ID),
		slog.String("owner_id", ownerID),
		slog.Float64("quantity", created.Quantity))
	return created, nil
}

// AdjustQuantity applies a signed delta and appends the matching ledger record.
func (s *Service) AdjustQuantity(ctx context.Context, in AdjustInput) (result AdjustResult, err error) {
	if in.OwnerID == "" {
		return AdjustResult{}, shared.ErrUnauthorized
	}
	if in.Delta == 0 || math.IsNaN(in.Delta) || math.IsInf(in.Delta, 0) {
		s.observer.AdjustmentApplied(OutcomeInvalid)
		return AdjustResult{}, ErrInvalidAdjustment
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	written := false
	if key != "" {
		replayed, ok, rerr := s.replay(ctx, in, key)
		if rerr != nil || ok {
			return replayed, rerr
		}
		if s.idempotency != nil {
			claimKey := "adjust:" + in.OwnerID + ":" + key
			claimed, cerr := s.idempotency.Claim(ctx, claimKey)
			switch {
			case cerr != nil:
				s.logger.Warn("idempotency claim unavailable", slog.Any("error", cerr))
			case !claimed:
				return AdjustResult{}, ErrIdempotencyConflict
			default:
				defer func() {
					if err != nil && !written {
						if rerr := s.idempotency.Release(context.WithoutCancel(ctx), claimKey); rerr != nil {
							s.logger.Warn("idempotency release", slog.Any("error", rerr))
						}
					}
				}()
			}
		}
	}

	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	item, err := s.items.FindByID(sctx, in.ItemID, in.OwnerID)
	if err != nil {
		return AdjustResult{}, storageErr(err)
	}
	next, err := ComputeNewQuantity(item.Quantity, in.Delta)
	if err != nil {
		s.observer.AdjustmentApplied(OutcomeRejected)
		return AdjustResult{}, err
	}
	now := s.now()
	record, err := s.builder.Build(item.ID, item.Quantity, next, in.Delta, in.Reason, in.OwnerID, now)
	if err != nil {
		s.observer.AdjustmentApplied(OutcomeInvalid)
		return AdjustResult{}, err
	}
	record.IdempotencyKey = key

	previous, updated, err := s.items.AtomicAdjustQuantity(sctx, item.ID, in.OwnerID, in.Delta, now)
	if err != nil {
		if errors.Is(err, ErrQuantityRejected) {
			s.observer.AdjustmentApplied(OutcomeRejected)
			return AdjustResult{}, ErrNegativeResult
		}
		s.observer.AdjustmentApplied(OutcomeFailed)
		if !errors.Is(err, ErrNotFound) {
			// The delta may have landed, so the claim is kept until it expires.
			written = true
			s.uncertainWrite(ctx, item, err)
		}
		return AdjustResult{}, storageErr(err)
	}
	written = true
	record.PreviousQuantity = previous
	record.NewQuantity = updated.Quantity

	saved, err := s.appendRecord(ctx, record)
	if err != nil {
		if errors.Is(err, ErrIdempotencyConflict) {
			return AdjustResult{}, s.compensate(ctx, updated, record)
		}
		if errors.Is(err, ErrNotFound) {
			// A concurrent delete removed the item and its ledger together.
			s.invalidate(ctx, in.OwnerID)
			return AdjustResult{}, ErrNotFound
		}
		return AdjustResult{}, s.partialFailure(ctx, "adjust", updated, err)
	}
	s.invalidate(ctx, in.OwnerID)
	s.observer.AdjustmentApplied(OutcomeApplied)
	s.logger.Info("inventory quantity adjusted",
		slog.String("item_id", updated.ID),
		slog.String("owner_id", in.OwnerID),
		slog.Float64("delta", in.Delta),
		slog.Float64("quantity", updated.Quantity))
	return AdjustResult{Item: updated, Adjustment: saved}, nil
}

// replay returns the stored outcome of a request already applied under key.
func (s *Service) replay(ctx context.Context, in AdjustInput, key string) (AdjustResult, bool, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	prior, err := s.adjustments.FindByIdempotencyKey(sctx, in.OwnerID, key)
	if errors.Is(err, ErrNotFound) {
		return AdjustResult{}, false, nil
	}
	if err != nil {
		return AdjustResult{}, false, storageErr(err)
	}
	if prior.ItemID != in.ItemID || prior.Delta != in.Delta {
		return AdjustResult{}, false, ErrIdempotencyConflict
	}
	item, err := s.items.FindByID(sctx, in.ItemID, in.OwnerID)
	if err != nil {
		return AdjustResult{}, false, storageErr(err)
	}
	s.observer.AdjustmentApplied(OutcomeReplayed)
	return AdjustResult{Item: item, Adjustment: prior, Replayed: true}, true, nil
}

// compensate reverses an applied delta whose record lost an idempotency race.
func (s *Service) compensate(ctx context.Context, item Item, record Adjustment) error {
	rctx, cancel := s.retryContext(ctx)
	defer cancel()
	if _, _, err := s.items.AtomicAdjustQuantity(rctx, item.ID, item.OwnerID, -record.Delta, s.now()); err != nil {
		return s.partialFailure(ctx, "adjust", item, err)
	}
	s.invalidate(ctx, item.OwnerID)
	return ErrIdempotencyConflict
}

// DeleteItem removes the item, then its ledger. The item is never restored
// when the cascade fails; the cascade is retried instead.
func (s *Service) DeleteItem(ctx context.Context, itemID, ownerID string) error {
	if ownerID == "" {
		return shared.ErrUnauthorized
	}
	sctx, cancel := s.storageContext(ctx)
	deleted, err := s.items.Delete(sctx, itemID, ownerID)
	cancel()
	if err != nil {
		return storageErr(err)
	}
	if !deleted {
		return ErrNotFound
	}
	s.invalidate(ctx, ownerID)
	s.cascade(ctx, itemID, ownerID)
	s.logger.Info("inventory item deleted", slog.String("item_id", itemID), slog.String("owner_id", ownerID))
	return nil
}

func (s *Service) cascade(ctx context.Context, itemID, ownerID string) {
	for attempt := 1; attempt <= 2; attempt++ {
		rctx, cancel := s.retryContext(ctx)
		removed, err := s.adjustments.DeleteByItem(rctx, itemID)
		cancel()
		if err == nil {
			if attempt > 1 {
				s.observer.CascadeRetry("recovered")
			}
			s.logger.Debug("ledger cascade deleted", slog.String("item_id", itemID), slog.Int64("records", removed))
			return
		}
		s.logger.Warn("ledger cascade failed",
			slog.String("item_id", itemID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	s.observer.CascadeRetry("deferred")
	if s.scheduler == nil {
		s.logger.Error("ledger records orphaned, no scheduler configured", slog.String("item_id", itemID))
		return
	}
	if err := s.scheduler.EnqueueCascadeDelete(context.WithoutCancel(ctx), itemID, ownerID); err != nil {
		s.logger.Error("enqueue cascade delete", slog.String("item_id", itemID), slog.Any("error", err))
	}
}

// RetryCascade removes ledger records left behind by a deleted item.
func (s *Service) RetryCascade(ctx context.Context, itemID, ownerID string) (int64, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	_, err := s.items.FindByID(sctx, itemID, ownerID)
	if err == nil {
		s.logger.Warn("cascade skipped, item still exists", slog.String("item_id", itemID))
		return 0, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, storageErr(err)
	}
	removed, err := s.adjustments.DeleteByItem(sctx, itemID)
	if err != nil {
		s.observer.CascadeRetry("failed")
		return 0, storageErr(err)
	}
	s.observer.CascadeRetry("completed")
	return removed, nil
}

// GetItem returns the item and its most recent ledger entries.
func (s *Service) GetItem(ctx context.Context, itemID, ownerID string) (ItemDetail, error) {
	if ownerID == "" {
		return ItemDetail{}, shared.ErrUnauthorized
	}
	detail, err := cachedLoad(ctx, s, ownerID, []string{"item", itemID}, func(ctx context.Context) (ItemDetail, error) {
		sctx, cancel := s.storageContext(ctx)
		defer cancel()
		item, err := s.items.FindByID(sctx, itemID, ownerID)
		if err != nil {
			return ItemDetail{}, storageErr(err)
		}
		history, err := s.adjustments.ListByItem(sctx, itemID, s.cfg.HistoryLimit)
		if err != nil {
			return ItemDetail{}, storageErr(err)
		}
		if history == nil {
			history = []Adjustment{}
		}
		return ItemDetail{Item: item, Adjustments: history}, nil
	})
	if err != nil {
		return ItemDetail{}, err
	}
	detail.OwnerID = ownerID
	return detail, nil
}

// ListItems returns the owner's items sorted by name, or by ascending
// quantity when only low-stock items are requested.
func (s *Service) ListItems(ctx context.Context, ownerID string, filter ListFilter) ([]Item, error) {
	if ownerID == "" {
		return nil, shared.ErrUnauthorized
	}
	all, err := cachedLoad(ctx, s, ownerID, []string{"items"}, func(ctx context.Context) ([]Item, error) {
		sctx, cancel := s.storageContext(ctx)
		defer cancel()
		items, err := s.items.ListByOwner(sctx, ownerID)
		return items, storageErr(err)
	})
	if err != nil {
		return nil, err
	}
	category := cases.Fold().String(strings.TrimSpace(filter.Category))
	search := cases.Fold().String(strings.TrimSpace(filter.Search))
	out := make([]Item, 0, len(all))
	for _, item := range all {
		item.OwnerID = ownerID
		if category != "" && cases.Fold().String(item.Category) != category {
			continue
		}
		if search != "" &&
			!strings.Contains(cases.Fold().String(item.Name), search) &&
			!strings.Contains(cases.Fold().String(item.Supplier), search) {
			continue
		}
		if filter.LowStock && !item.LowStock() {
			continue
		}
		out = append(out, item)
	}
	if filter.LowStock {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out, nil
}

// Stats summarises the owner's inventory.
func (s *Service) Stats(ctx context.Context, ownerID string) (Stats, error) {
	if ownerID == "" {
		return Stats{}, shared.ErrUnauthorized
	}
	return cachedLoad(ctx, s, ownerID, []string{"stats"}, func(ctx context.Context) (Stats, error) {
		sctx, cancel := s.storageContext(ctx)
		defer cancel()
		if reader, ok := s.items.(StatsReader); ok {
			stats, err := reader.StatsByOwner(sctx, ownerID)
			return stats, storageErr(err)
		}
		items, err := s.items.ListByOwner(sctx, ownerID)
		if err != nil {
			return Stats{}, storageErr(err)
		}
		var stats Stats
		for _, item := range items {
			stats.Add(item)
		}
		return stats, nil
	})
}

// UpdateItem edits descriptive fields. Quantity changes are rejected.
func (s *Service) UpdateItem(ctx context.Context, itemID, ownerID string, patch ItemPatch) (Item, error) {
	if ownerID == "" {
		return Item{}, shared.ErrUnauthorized
	}
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	item, err := s.items.FindByID(sctx, itemID, ownerID)
	if err != nil {
		return Item{}, storageErr(err)
	}
	fields := normalizeFields(patch.Apply(item.Fields()))
	verr := &ValidationError{Fields: map[string]string{}}
	if err := validateStruct(s.validate, fields); err != nil {
		if !errors.As(err, &verr) {
			return Item{}, err
		}
	}
	if patch.Quantity != nil {
		verr.Fields["quantity"] = "use the adjust endpoint to change quantity"
	}
	if len(verr.Fields) > 0 {
		return Item{}, verr
	}
	updated, err := s.items.UpdateFields(sctx, itemID, ownerID, fields, s.now())
	if err != nil {
		return Item{}, storageErr(err)
	}
	s.invalidate(ctx, ownerID)
	return updated, nil
}

// History lists ledger entries of an item, newest first.
func (s *Service) History(ctx context.Context, itemID, ownerID string, limit int) ([]Adjustment, error) {
	if ownerID == "" {
		return nil, shared.ErrUnauthorized
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	if _, err := s.items.FindByID(sctx, itemID, ownerID); err != nil {
		return nil, storageErr(err)
	}
	history, err := s.adjustments.ListByItem(sctx, itemID, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	if history == nil {
		history = []Adjustment{}
	}
	return history, nil
}

// Reconcile compares the item quantity with the ledger sum and appends a
// correcting record when they drifted apart.
func (s *Service) Reconcile(ctx context.Context, itemID, ownerID string) (ReconcileResult, error) {
	sctx, cancel := s.storageContext(ctx)
	item, err := s.items.FindByID(sctx, itemID, ownerID)
	if err != nil {
		cancel()
		return ReconcileResult{}, storageErr(err)
	}
	sum, err := s.adjustments.SumDeltas(sctx, itemID)
	cancel()
	if err != nil {
		return ReconcileResult{}, storageErr(err)
	}
	result := ReconcileResult{ItemID: itemID, Quantity: item.Quantity, LedgerSum: sum, Drift: item.Quantity - sum}
	if math.Abs(result.Drift) < driftEpsilon {
		result.Drift = 0
		return result, nil
	}
	s.observer.LedgerDrift(result.Drift)
	s.logger.Warn("ledger drift detected",
		slog.String("item_id", itemID),
		slog.Float64("quantity", item.Quantity),
		slog.Float64("ledger_sum", sum))
	record, err := s.builder.Build(itemID, sum, item.Quantity, result.Drift, ReconciliationReason, ownerID, s.now())
	if err != nil {
		return result, err
	}
	if _, err := s.appendRecord(ctx, record); err != nil {
		return result, storageErr(err)
	}
	s.invalidate(ctx, ownerID)
	result.Repaired = true
	return result, nil
}

// PurgeOwner deletes every item and ledger record of an owner.
func (s *Service) PurgeOwner(ctx context.Context, ownerID string) (PurgeResult, error) {
	if ownerID == "" {
		return PurgeResult{}, shared.ErrUnauthorized
	}
	if purger, ok := s.items.(OwnerPurger); ok {
		sctx, cancel := s.storageContext(ctx)
		result, err := purger.PurgeOwner(sctx, ownerID)
		cancel()
		s.invalidate(ctx, ownerID)
		if err != nil {
			return result, storageErr(err)
		}
		s.logPurge(ownerID, result)
		return result, nil
	}
	var result PurgeResult
	sctx, cancel := s.storageContext(ctx)
	removed, err := s.items.DeleteByOwner(sctx, ownerID)
	cancel()
	if err != nil {
		return result, storageErr(err)
	}
	result.Items = removed
	for attempt := 1; attempt <= 2; attempt++ {
		rctx, cancel := s.retryContext(ctx)
		removed, err = s.adjustments.DeleteByOwner(rctx, ownerID)
		cancel()
		if err == nil {
			result.Adjustments = removed
			break
		}
		s.logger.Warn("purge ledger failed", slog.String("owner_id", ownerID), slog.Int("attempt", attempt), slog.Any("error", err))
	}
	s.invalidate(ctx, ownerID)
	if err != nil {
		return result, storageErr(err)
	}
	s.logPurge(ownerID, result)
	return result, nil
}

func (s *Service) logPurge(ownerID string, result PurgeResult) {
	s.logger.Info("owner data purged",
		slog.String("owner_id", ownerID),
		slog.Int64("items", result.Items),
		slog.Int64("adjustments", result.Adjustments))
}

// appendRecord writes the record, retrying once with a fresh deadline. A
// duplicate id on the retry means the first attempt landed.
func (s *Service) appendRecord(ctx context.Context, record Adjustment) (Adjustment, error) {
	sctx, cancel := s.storageContext(ctx)
	saved, err := s.adjustments.Append(sctx, record)
	cancel()
	if err == nil || errors.Is(err, ErrIdempotencyConflict) || errors.Is(err, ErrNotFound) {
		return saved, err
	}
	s.logger.Warn("ledger append failed, retrying", slog.String("item_id", record.ItemID), slog.Any("error", err))
	rctx, cancel := s.retryContext(ctx)
	defer cancel()
	saved, err = s.adjustments.Append(rctx, record)
	if errors.Is(err, ErrDuplicateRecord) {
		return record, nil
	}
	return saved, err
}

func (s *Service) partialFailure(ctx context.Context, operation string, item Item, cause error) error {
	s.observer.PartialFailure(operation)
	s.logger.Error("ledger write diverged from item write",
		slog.String("operation", operation),
		slog.String("item_id", item.ID),
		slog.String("owner_id", item.OwnerID),
		slog.Any("error", cause))
	if s.scheduler != nil {
		if err := s.scheduler.EnqueueReconcile(context.WithoutCancel(ctx), item.ID, item.OwnerID); err != nil {
			s.logger.Error("enqueue reconcile", slog.String("item_id", item.ID), slog.Any("error", err))
		}
	}
	s.invalidate(ctx, item.OwnerID)
	return &PartialFailure{ItemID: item.ID, ItemWritten: true, RecordWritten: false, Err: storageErr(cause)}
}

// uncertainWrite handles an atomic write whose outcome is unknown: the
// increment may have committed even though the reply was lost. The item is
// queued for reconciliation, which appends a record only if drift exists.
func (s *Service) uncertainWrite(ctx context.Context, item Item, cause error) {
	s.observer.PartialFailure("adjust_unknown")
	s.logger.Error("quantity write outcome unknown",
		slog.String("item_id", item.ID),
		slog.String("owner_id", item.OwnerID),
		slog.Any("error", cause))
	if s.scheduler != nil {
		if err := s.scheduler.EnqueueReconcile(context.WithoutCancel(ctx), item.ID, item.OwnerID); err != nil {
			s.logger.Error("enqueue reconcile", slog.String("item_id", item.ID), slog.Any("error", err))
		}
	}
	s.invalidate(ctx, item.OwnerID)
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(context.WithoutCancel(ctx), ownerID); err != nil {
		s.logger.Warn("cache invalidation failed", slog.String("owner_id", ownerID), slog.Any("error", err))
	}
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StorageTimeout)
}

// retryContext detaches from the caller so a repair is not abandoned with
// the request.
func (s *Service) retryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return s.storageContext(context.WithoutCancel(ctx))
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func cachedLoad[T any](ctx context.Context, s *Service, ownerID string, parts []string, loader func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return loader(ctx)
	}
	key, err := s.cache.BuildKey(ctx, ownerID, parts...)
	if err != nil {
		s.logger.Warn("cache key unavailable", slog.Any("error", err))
		return loader(ctx)
	}
	var out T
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	return out, err
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStorageTimeout) {
		return fmt.Errorf("%w: %w", ErrStorageTimeout, err)
	}
	return err
}
