package inventory

import (
	"time"
)

// InitialStockReason labels the ledger entry seeded by CreateItem.
const InitialStockReason = "Initial stock"

// ReconciliationReason labels entries appended by Reconcile to repair drift.
const ReconciliationReason = "Ledger reconciliation"

// Item is an inventory item owned by a single account.
type Item struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Quantity    float64   `json:"quantity"`
	MinStock    float64   `json:"minStock"`
	Unit        string    `json:"unit"`
	Price       float64   `json:"price"`
	Supplier    string    `json:"supplier"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// LowStock reports whether the quantity reached the warning threshold.
func (i Item) LowStock() bool {
	return i.Quantity <= i.MinStock
}

// OutOfStock reports whether nothing is left.
func (i Item) OutOfStock() bool {
	return i.Quantity <= 0
}

// Fields returns the editable attributes of the item.
func (i Item) Fields() ItemFields {
	return ItemFields{
		Name:     i.Name,
		Category: i.Category,
		MinStock: i.MinStock,
		Unit:     i.Unit,
		Price:    i.Price,
		Supplier: i.Supplier,
	}
}

// WithFields copies editable attributes onto the item.
func (i Item) WithFields(f ItemFields) Item {
	i.Name = f.Name
	i.Category = f.Category
	i.MinStock = f.MinStock
	i.Unit = f.Unit
	i.Price = f.Price
	i.Supplier = f.Supplier
	return i
}

// Adjustment is an immutable ledger entry describing one quantity change.
type Adjustment struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"itemId"`
	OwnerID          string    `json:"-"`
	PreviousQuantity float64   `json:"previousQuantity"`
	NewQuantity      float64   `json:"newQuantity"`
	Delta            float64   `json:"delta"`
	Reason           string    `json:"reason"`
	IdempotencyKey   string    `json:"-"`
	Timestamp        time.Time `json:"timestamp"`
}

// ItemFields are the attributes editable without touching the ledger.
type ItemFields struct {
	Name     string  `json:"name" validate:"required,max=100"`
	Category string  `json:"category" validate:"required,max=50"`
	MinStock float64 `json:"minStock" validate:"gte=0,lte=100000"`
	Unit     string  `json:"unit" validate:"required,max=20"`
	Price    float64 `json:"price" validate:"gte=0,lte=1000000,price"`
	Supplier string  `json:"supplier" validate:"required,max=100"`
}

// CreateInput describes a new item and its starting quantity.
type CreateInput struct {
	ItemFields
	Quantity float64 `json:"quantity" validate:"gte=0,lte=1000000"`
}

// ItemPatch carries a partial update. Quantity is accepted only so it can
// be rejected explicitly: quantities move through AdjustQuantity.
type ItemPatch struct {
	Name     *string  `json:"name"`
	Category *string  `json:"category"`
	MinStock *float64 `json:"minStock"`
	Unit     *string  `json:"unit"`
	Price    *float64 `json:"price"`
	Supplier *string  `json:"supplier"`
	Quantity *float64 `json:"quantity"`
}

// Apply merges the patch over f.
func (p ItemPatch) Apply(f ItemFields) ItemFields {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Category != nil {
		f.Category = *p.Category
	}
	if p.MinStock != nil {
		f.MinStock = *p.MinStock
	}
	if p.Unit != nil {
		f.Unit = *p.Unit
	}
	if p.Price != nil {
		f.Price = *p.Price
	}
	if p.Supplier != nil {
		f.Supplier = *p.Supplier
	}
	return f
}

// AdjustInput requests a signed quantity change.
type AdjustInput struct {
	ItemID         string
	OwnerID        string
	Delta          float64
	Reason         string
	IdempotencyKey string
}

// AdjustResult is returned by AdjustQuantity.
type AdjustResult struct {
	Item       Item       `json:"item"`
	Adjustment Adjustment `json:"adjustment"`
	Replayed   bool       `json:"replayed"`
}

// ItemDetail is an item with its most recent ledger entries.
type ItemDetail struct {
	Item
	Adjustments []Adjustment `json:"adjustments"`
}

// ListFilter narrows ListItems.
type ListFilter struct {
	Category string
	Search   string
	LowStock bool
}

// ReconcileResult reports the outcome of a ledger check.
type ReconcileResult struct {
	ItemID    string  `json:"itemId"`
	Quantity  float64 `json:"quantity"`
	LedgerSum float64 `json:"ledgerSum"`
	Drift     float64 `json:"drift"`
	Repaired  bool    `json:"repaired"`
}

// Stats summarises an owner's inventory.
type Stats struct {
	TotalItems      int64   `json:"totalItems"`
	LowStockItems   int64   `json:"lowStockItems"`
	OutOfStockItems int64   `json:"outOfStockItems"`
	TotalValue      float64 `json:"totalValue"`
}

// Add counts item. Out-of-stock items are not also counted as low stock.
func (s *Stats) Add(item Item) {
	s.TotalItems++
	switch {
	case item.OutOfStock():
		s.OutOfStockItems++
	case item.LowStock():
		s.LowStockItems++
	}
	s.TotalValue += item.Quantity * item.Price
}

// PurgeResult counts documents removed for an owner.
type PurgeResult struct {
	Items       int64 `json:"items"`
	Adjustments int64 `json:"adjustments"`
}
