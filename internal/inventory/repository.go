package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/db"
)

const itemColumns = `id, owner_id, name, category, quantity, min_stock, unit, price, supplier, created_at, last_updated`

const adjustmentColumns = `id, item_id, owner_id, previous_quantity, new_quantity, delta, reason, COALESCE(idempotency_key, ''), created_at`

// ItemStore persists items in PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore constructs ItemStore.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

// AdjustmentStore persists ledger records in PostgreSQL.
type AdjustmentStore struct {
	pool *pgxpool.Pool
}

// NewAdjustmentStore constructs AdjustmentStore.
func NewAdjustmentStore(pool *pgxpool.Pool) *AdjustmentStore {
	return &AdjustmentStore{pool: pool}
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Category, &item.Quantity, &item.MinStock,
		&item.Unit, &item.Price, &item.Supplier, &item.CreatedAt, &item.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return item, err
}

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var rec Adjustment
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.OwnerID, &rec.PreviousQuantity, &rec.NewQuantity,
		&rec.Delta, &rec.Reason, &rec.IdempotencyKey, &rec.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrNotFound
	}
	return rec, err
}

// pgErr translates driver errors into inventory errors.
func pgErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "23505" && pe.ConstraintName == "inventory_adjustments_pkey":
			return ErrDuplicateRecord
		case pe.Code == "23505" && pe.ConstraintName == "inventory_adjustments_idem_key":
			return ErrIdempotencyConflict
		case pe.Code == "23503" && pe.ConstraintName == "inventory_adjustments_item_fkey":
			// The item was deleted before its record landed.
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// FindByID loads an item owned by ownerID.
func (s *ItemStore) FindByID(ctx context.Context, id, ownerID string) (Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 AND owner_id = $2`, id, ownerID)
	item, err := scanItem(row)
	return item, pgErr("find item", err)
}

// Create inserts the item.
func (s *ItemStore) Create(ctx context.Context, item Item) (Item, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO inventory_items (`+itemColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+itemColumns,
		item.ID, item.OwnerID, item.Name, item.Category, item.Quantity, item.MinStock,
		item.Unit, item.Price, item.Supplier, item.CreatedAt, item.LastUpdated)
	created, err := scanItem(row)
	return created, pgErr("create item", err)
}

// AtomicAdjustQuantity locks the row and applies the delta in one statement.
// A concurrent adjustment waits on the row lock and then sees the new quantity.
func (s *ItemStore) AtomicAdjustQuantity(ctx context.Context, id, ownerID string, delta float64, at time.Time) (float64, Item, error) {
	const q = `WITH prev AS (
    SELECT id, quantity FROM inventory_items WHERE id = $1 AND owner_id = $2 FOR UPDATE
)
UPDATE inventory_items i
SET quantity = prev.quantity + $3, last_updated = $4
FROM prev
WHERE i.id = prev.id AND prev.quantity + $3 >= 0
RETURNING prev.quantity, i.id, i.owner_id, i.name, i.category, i.quantity, i.min_stock, i.unit, i.price, i.supplier, i.created_at, i.last_updated`
	var (
		previous float64
		item     Item
	)
	err := s.pool.QueryRow(ctx, q, id, ownerID, delta, at).Scan(&previous,
		&item.ID, &item.OwnerID, &item.Name, &item.Category, &item.Quantity, &item.MinStock,
		&item.Unit, &item.Price, &item.Supplier, &item.CreatedAt, &item.LastUpdated)
	if err == nil {
		return previous, item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, Item{}, pgErr("adjust quantity", err)
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1 AND owner_id = $2)`, id, ownerID).Scan(&exists); err != nil {
		return 0, Item{}, pgErr("adjust quantity", err)
	}
	if !exists {
		return 0, Item{}, ErrNotFound
	}
	return 0, Item{}, ErrQuantityRejected
}

// UpdateFields rewrites the descriptive columns. Quantity is untouched.
func (s *ItemStore) UpdateFields(ctx context.Context, id, ownerID string, fields ItemFields, at time.Time) (Item, error) {
	row := s.pool.QueryRow(ctx, `UPDATE inventory_items
SET name = $3, category = $4, min_stock = $5, unit = $6, price = $7, supplier = $8, last_updated = $9
WHERE id = $1 AND owner_id = $2
RETURNING `+itemColumns,
		id, ownerID, fields.Name, fields.Category, fields.MinStock, fields.Unit, fields.Price, fields.Supplier, at)
	item, err := scanItem(row)
	return item, pgErr("update item", err)
}

// Delete removes the item and reports whether it existed.
func (s *ItemStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, pgErr("delete item", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByOwner returns the owner's items sorted by name.
func (s *ItemStore) ListByOwner(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, pgErr("list items", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, pgErr("list items", err)
		}
		items = append(items, item)
	}
	return items, pgErr("list items", rows.Err())
}

// StatsByOwner aggregates the owner's items in one query.
func (s *ItemStore) StatsByOwner(ctx context.Context, ownerID string) (Stats, error) {
	var stats Stats
	err := s.pool.QueryRow(ctx, `SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE quantity <= min_stock AND quantity > 0),
    COUNT(*) FILTER (WHERE quantity <= 0),
    COALESCE(SUM(quantity::double precision * price::double precision), 0)::double precision
FROM inventory_items WHERE owner_id = $1`, ownerID).Scan(
		&stats.TotalItems, &stats.LowStockItems, &stats.OutOfStockItems, &stats.TotalValue)
	return stats, pgErr("item stats", err)
}

// DeleteByOwner removes every item of the owner.
func (s *ItemStore) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inventory_items WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, pgErr("delete owner items", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOwner removes ledger records and items of the owner in one
// transaction. Records go first so the count is not hidden by the cascade.
func (s *ItemStore) PurgeOwner(ctx context.Context, ownerID string) (PurgeResult, error) {
	var result PurgeResult
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM inventory_adjustments WHERE owner_id = $1`, ownerID)
		if err != nil {
			return err
		}
		result.Adjustments = tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM inventory_items WHERE owner_id = $1`, ownerID)
		if err != nil {
			return err
		}
		result.Items = tag.RowsAffected()
		return nil
	})
	return result, pgErr("purge owner", err)
}

// Append inserts a ledger record.
func (s *AdjustmentStore) Append(ctx context.Context, record Adjustment) (Adjustment, error) {
	var key *string
	if record.IdempotencyKey != "" {
		key = &record.IdempotencyKey
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO inventory_adjustments
(id, item_id, owner_id, previous_quantity, new_quantity, delta, reason, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+adjustmentColumns,
		record.ID, record.ItemID, record.OwnerID, record.PreviousQuantity, record.NewQuantity,
		record.Delta, record.Reason, key, record.Timestamp)
	saved, err := scanAdjustment(row)
	return saved, pgErr("append adjustment", err)
}

// ListByItem returns up to limit records, newest first. A limit of zero
// returns every record.
func (s *AdjustmentStore) ListByItem(ctx context.Context, itemID string, limit int) ([]Adjustment, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+adjustmentColumns+` FROM inventory_adjustments
WHERE item_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, itemID, lim)
	if err != nil {
		return nil, pgErr("list adjustments", err)
	}
	defer rows.Close()

	records := make([]Adjustment, 0)
	for rows.Next() {
		rec, err := scanAdjustment(rows)
		if err != nil {
			return nil, pgErr("list adjustments", err)
		}
		records = append(records, rec)
	}
	return records, pgErr("list adjustments", rows.Err())
}

// DeleteByItem removes the ledger of an item.
func (s *AdjustmentStore) DeleteByItem(ctx context.Context, itemID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inventory_adjustments WHERE item_id = $1`, itemID)
	if err != nil {
		return 0, pgErr("delete adjustments", err)
	}
	return tag.RowsAffected(), nil
}

// FindByIdempotencyKey loads the record written under key.
func (s *AdjustmentStore) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (Adjustment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM inventory_adjustments
WHERE owner_id = $1 AND idempotency_key = $2`, ownerID, key)
	rec, err := scanAdjustment(row)
	return rec, pgErr("find adjustment", err)
}

// SumDeltas totals the deltas recorded for an item.
func (s *AdjustmentStore) SumDeltas(ctx context.Context, itemID string) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM inventory_adjustments WHERE item_id = $1`, itemID).Scan(&sum)
	return sum, pgErr("sum adjustments", err)
}

// DeleteByOwner removes every ledger record of the owner.
func (s *AdjustmentStore) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inventory_adjustments WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, pgErr("delete owner adjustments", err)
	}
	return tag.RowsAffected(), nil
}
