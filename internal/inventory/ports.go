package inventory

import (
	"context"
	"time"
)

// ItemRepository persists inventory items. Every lookup is scoped to the owner.
type ItemRepository interface {
	FindByID(ctx context.Context, id, ownerID string) (Item, error)
	Create(ctx context.Context, item Item) (Item, error)
	// AtomicAdjustQuantity applies quantity += delta in a single conditional
	// write and returns the quantity observed before the write. It returns
	// ErrQuantityRejected when the result would be negative.
	AtomicAdjustQuantity(ctx context.Context, id, ownerID string, delta float64, at time.Time) (float64, Item, error)
	UpdateFields(ctx context.Context, id, ownerID string, fields ItemFields, at time.Time) (Item, error)
	Delete(ctx context.Context, id, ownerID string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Item, error)
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}

// AdjustmentRepository persists the append-only ledger.
type AdjustmentRepository interface {
	Append(ctx context.Context, record Adjustment) (Adjustment, error)
	// ListByItem returns records newest first.
	ListByItem(ctx context.Context, itemID string, limit int) ([]Adjustment, error)
	DeleteByItem(ctx context.Context, itemID string) (int64, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (Adjustment, error)
	SumDeltas(ctx context.Context, itemID string) (float64, error)
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}

// IdempotencyStore guards in-flight requests sharing a key.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// QueryCache caches read models per owner and is bumped after mutations.
type QueryCache interface {
	BuildKey(ctx context.Context, scope string, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context, scope string) error
}

// Scheduler hands repair work to background jobs.
type Scheduler interface {
	EnqueueCascadeDelete(ctx context.Context, itemID, ownerID string) error
	EnqueueReconcile(ctx context.Context, itemID, ownerID string) error
}

// StatsReader is implemented by item stores that aggregate an owner's
// inventory without loading every item.
type StatsReader interface {
	StatsByOwner(ctx context.Context, ownerID string) (Stats, error)
}

// OwnerPurger is implemented by item stores that can remove an owner's items
// and ledger in a single transaction.
type OwnerPurger interface {
	PurgeOwner(ctx context.Context, ownerID string) (PurgeResult, error)
}
