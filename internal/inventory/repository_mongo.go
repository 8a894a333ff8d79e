package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	ItemsCollection       = "inventory"
	AdjustmentsCollection = "quantityAdjustments"
)

const idempotencyIndexName = "user_idempotency_key"

type itemDocument struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"userId"`
	Name        string    `bson:"name"`
	Category    string    `bson:"category"`
	Quantity    float64   `bson:"quantity"`
	MinStock    float64   `bson:"minStock"`
	Unit        string    `bson:"unit"`
	Price       float64   `bson:"price"`
	Supplier    string    `bson:"supplier"`
	CreatedAt   time.Time `bson:"createdAt"`
	LastUpdated time.Time `bson:"lastUpdated"`
}

func (d itemDocument) item() Item {
	return Item{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Name:        d.Name,
		Category:    d.Category,
		Quantity:    d.Quantity,
		MinStock:    d.MinStock,
		Unit:        d.Unit,
		Price:       d.Price,
		Supplier:    d.Supplier,
		CreatedAt:   d.CreatedAt.UTC(),
		LastUpdated: d.LastUpdated.UTC(),
	}
}

func toItemDocument(i Item) itemDocument {
	return itemDocument{
		ID:          i.ID,
		OwnerID:     i.OwnerID,
		Name:        i.Name,
		Category:    i.Category,
		Quantity:    i.Quantity,
		MinStock:    i.MinStock,
		Unit:        i.Unit,
		Price:       i.Price,
		Supplier:    i.Supplier,
		CreatedAt:   i.CreatedAt,
		LastUpdated: i.LastUpdated,
	}
}

type adjustmentDocument struct {
	ID               string    `bson:"_id"`
	ItemID           string    `bson:"itemId"`
	OwnerID          string    `bson:"userId"`
	PreviousQuantity float64   `bson:"previousQuantity"`
	NewQuantity      float64   `bson:"newQuantity"`
	Delta            float64   `bson:"adjustment"`
	Reason           string    `bson:"reason"`
	IdempotencyKey   string    `bson:"idempotencyKey,omitempty"`
	Timestamp        time.Time `bson:"timestamp"`
}

func (d adjustmentDocument) adjustment() Adjustment {
	return Adjustment{
		ID:               d.ID,
		ItemID:           d.ItemID,
		OwnerID:          d.OwnerID,
		PreviousQuantity: d.PreviousQuantity,
		NewQuantity:      d.NewQuantity,
		Delta:            d.Delta,
		Reason:           d.Reason,
		IdempotencyKey:   d.IdempotencyKey,
		Timestamp:        d.Timestamp.UTC(),
	}
}

// mongoErr translates driver errors into inventory errors.
func mongoErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsTimeout(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
	case mongo.IsDuplicateKeyError(err):
		if strings.Contains(err.Error(), idempotencyIndexName) {
			return ErrIdempotencyConflict
		}
		return ErrDuplicateRecord
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// EnsureMongoIndexes creates the indexes both collections rely on.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(ItemsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "name", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("inventory: item indexes: %w", err)
	}
	_, err = database.Collection(AdjustmentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "itemId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetName(idempotencyIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("inventory: adjustment indexes: %w", err)
	}
	return nil
}

// MongoItemStore persists items in MongoDB.
type MongoItemStore struct {
	coll *mongo.Collection
}

// NewMongoItemStore constructs MongoItemStore.
func NewMongoItemStore(database *mongo.Database) *MongoItemStore {
	return &MongoItemStore{coll: database.Collection(ItemsCollection)}
}

func ownedFilter(id, ownerID string) bson.M {
	return bson.M{"_id": id, "userId": ownerID}
}

// FindByID loads an item owned by ownerID.
func (s *MongoItemStore) FindByID(ctx context.Context, id, ownerID string) (Item, error) {
	var doc itemDocument
	if err := s.coll.FindOne(ctx, ownedFilter(id, ownerID)).Decode(&doc); err != nil {
		return Item{}, mongoErr("find item", err)
	}
	return doc.item(), nil
}

// Create inserts the item.
func (s *MongoItemStore) Create(ctx context.Context, item Item) (Item, error) {
	if _, err := s.coll.InsertOne(ctx, toItemDocument(item)); err != nil {
		return Item{}, mongoErr("create item", err)
	}
	return item, nil
}

// AtomicAdjustQuantity increments quantity only while the result stays
// non-negative and returns the document as it was before the increment.
func (s *MongoItemStore) AtomicAdjustQuantity(ctx context.Context, id, ownerID string, delta float64, at time.Time) (float64, Item, error) {
	filter := bson.M{"_id": id, "userId": ownerID, "quantity": bson.M{"$gte": -delta}}
	update := bson.M{
		"$inc": bson.M{"quantity": delta},
		"$set": bson.M{"lastUpdated": at},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var doc itemDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		item := doc.item()
		item.Quantity = doc.Quantity + delta
		item.LastUpdated = at.UTC()
		return doc.Quantity, item, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, Item{}, mongoErr("adjust quantity", err)
	}
	n, err := s.coll.CountDocuments(ctx, ownedFilter(id, ownerID))
	if err != nil {
		return 0, Item{}, mongoErr("adjust quantity", err)
	}
	if n == 0 {
		return 0, Item{}, ErrNotFound
	}
	return 0, Item{}, ErrQuantityRejected
}

// UpdateFields rewrites the descriptive fields. Quantity is untouched.
func (s *MongoItemStore) UpdateFields(ctx context.Context, id, ownerID string, fields ItemFields, at time.Time) (Item, error) {
	update := bson.M{"$set": bson.M{
		"name":        fields.Name,
		"category":    fields.Category,
		"minStock":    fields.MinStock,
		"unit":        fields.Unit,
		"price":       fields.Price,
		"supplier":    fields.Supplier,
		"lastUpdated": at,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc itemDocument
	if err := s.coll.FindOneAndUpdate(ctx, ownedFilter(id, ownerID), update, opts).Decode(&doc); err != nil {
		return Item{}, mongoErr("update item", err)
	}
	return doc.item(), nil
}

// Delete removes the item and reports whether it existed.
func (s *MongoItemStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, ownedFilter(id, ownerID))
	if err != nil {
		return false, mongoErr("delete item", err)
	}
	return res.DeletedCount > 0, nil
}

// ListByOwner returns the owner's items sorted by name.
func (s *MongoItemStore) ListByOwner(ctx context.Context, ownerID string) ([]Item, error) {
	cur, err := s.coll.Find(ctx, bson.M{"userId": ownerID}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, mongoErr("list items", err)
	}
	var docs []itemDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongoErr("list items", err)
	}
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.item())
	}
	return items, nil
}

// StatsByOwner aggregates the owner's items with a single $group stage.
func (s *MongoItemStore) StatsByOwner(ctx context.Context, ownerID string) (Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": ownerID}}},
		{{Key: "$group", Value: bson.M{
			"_id":        nil,
			"totalItems": bson.M{"$sum": 1},
			"lowStockItems": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$lte": bson.A{"$quantity", "$minStock"}},
					bson.M{"$gt": bson.A{"$quantity", 0}},
				}}, 1, 0,
			}}},
			"outOfStockItems": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$lte": bson.A{"$quantity", 0}}, 1, 0,
			}}},
			"totalValue": bson.M{"$sum": bson.M{"$multiply": bson.A{"$quantity", "$price"}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return Stats{}, mongoErr("item stats", err)
	}
	var rows []struct {
		TotalItems      int64   `bson:"totalItems"`
		LowStockItems   int64   `bson:"lowStockItems"`
		OutOfStockItems int64   `bson:"outOfStockItems"`
		TotalValue      float64 `bson:"totalValue"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return Stats{}, mongoErr("item stats", err)
	}
	if len(rows) == 0 {
		return Stats{}, nil
	}
	return Stats(rows[0]), nil
}

// DeleteByOwner removes every item of the owner.
func (s *MongoItemStore) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"userId": ownerID})
	if err != nil {
		return 0, mongoErr("delete owner items", err)
	}
	return res.DeletedCount, nil
}

// MongoAdjustmentStore persists ledger records in MongoDB.
type MongoAdjustmentStore struct {
	coll *mongo.Collection
}

// NewMongoAdjustmentStore constructs MongoAdjustmentStore.
func NewMongoAdjustmentStore(database *mongo.Database) *MongoAdjustmentStore {
	return &MongoAdjustmentStore{coll: database.Collection(AdjustmentsCollection)}
}

// Append inserts a ledger record.
func (s *MongoAdjustmentStore) Append(ctx context.Context, record Adjustment) (Adjustment, error) {
	doc := adjustmentDocument{
		ID:               record.ID,
		ItemID:           record.ItemID,
		OwnerID:          record.OwnerID,
		PreviousQuantity: record.PreviousQuantity,
		NewQuantity:      record.NewQuantity,
		Delta:            record.Delta,
		Reason:           record.Reason,
		IdempotencyKey:   record.IdempotencyKey,
		Timestamp:        record.Timestamp,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return Adjustment{}, mongoErr("append adjustment", err)
	}
	return record, nil
}

// ListByItem returns up to limit records, newest first. A limit of zero
// returns every record.
func (s *MongoAdjustmentStore) ListByItem(ctx context.Context, itemID string, limit int) ([]Adjustment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{"itemId": itemID}, opts)
	if err != nil {
		return nil, mongoErr("list adjustments", err)
	}
	var docs []adjustmentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongoErr("list adjustments", err)
	}
	records := make([]Adjustment, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.adjustment())
	}
	return records, nil
}

// DeleteByItem removes the ledger of an item.
func (s *MongoAdjustmentStore) DeleteByItem(ctx context.Context, itemID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"itemId": itemID})
	if err != nil {
		return 0, mongoErr("delete adjustments", err)
	}
	return res.DeletedCount, nil
}

// FindByIdempotencyKey loads the record written under key.
func (s *MongoAdjustmentStore) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (Adjustment, error) {
	var doc adjustmentDocument
	if err := s.coll.FindOne(ctx, bson.M{"userId": ownerID, "idempotencyKey": key}).Decode(&doc); err != nil {
		return Adjustment{}, mongoErr("find adjustment", err)
	}
	return doc.adjustment(), nil
}

// SumDeltas totals the deltas recorded for an item.
func (s *MongoAdjustmentStore) SumDeltas(ctx context.Context, itemID string) (float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"itemId": itemID}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$adjustment"}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, mongoErr("sum adjustments", err)
	}
	var out []struct {
		Total float64 `bson:"total"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return 0, mongoErr("sum adjustments", err)
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].Total, nil
}

// DeleteByOwner removes every ledger record of the owner.
func (s *MongoAdjustmentStore) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"userId": ownerID})
	if err != nil {
		return 0, mongoErr("delete owner adjustments", err)
	}
	return res.DeletedCount, nil
}
