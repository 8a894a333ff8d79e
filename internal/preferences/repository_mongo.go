package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the MongoDB collection holding preferences.
const Collection = "userPreferences"

type document struct {
	UserID        string `bson:"userId"`
	Email         string `bson:"email,omitempty"`
	Theme         string `bson:"theme"`
	Notifications struct {
		LowStock     bool `bson:"lowStock"`
		OutOfStock   bool `bson:"outOfStock"`
		WeeklyReport bool `bson:"weeklyReport"`
	} `bson:"notifications"`
	Inventory struct {
		DefaultCategory   string  `bson:"defaultCategory"`
		DefaultUnit       string  `bson:"defaultUnit"`
		LowStockThreshold float64 `bson:"lowStockThreshold"`
	} `bson:"inventory"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func toDocument(p Preferences) document {
	var d document
	d.UserID = p.UserID
	d.Email = p.Email
	d.Theme = p.Theme
	d.Notifications.LowStock = p.Notifications.LowStock
	d.Notifications.OutOfStock = p.Notifications.OutOfStock
	d.Notifications.WeeklyReport = p.Notifications.WeeklyReport
	d.Inventory.DefaultCategory = p.Inventory.DefaultCategory
	d.Inventory.DefaultUnit = p.Inventory.DefaultUnit
	d.Inventory.LowStockThreshold = p.Inventory.LowStockThreshold
	d.CreatedAt = p.CreatedAt
	d.UpdatedAt = p.UpdatedAt
	return d
}

func (d document) preferences() Preferences {
	return Preferences{
		UserID: d.UserID,
		Email:  d.Email,
		Theme:  d.Theme,
		Notifications: Notifications{
			LowStock:     d.Notifications.LowStock,
			OutOfStock:   d.Notifications.OutOfStock,
			WeeklyReport: d.Notifications.WeeklyReport,
		},
		Inventory: InventoryDefaults{
			DefaultCategory:   d.Inventory.DefaultCategory,
			DefaultUnit:       d.Inventory.DefaultUnit,
			LowStockThreshold: d.Inventory.LowStockThreshold,
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// MongoRepository stores preferences in MongoDB.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository constructs MongoRepository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(Collection)}
}

// EnsureIndexes creates the unique userId index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_id"),
	})
	if err != nil {
		return fmt.Errorf("preferences: ensure indexes: %w", err)
	}
	return nil
}

// Get loads the preferences of userID.
func (r *MongoRepository) Get(ctx context.Context, userID string) (Preferences, error) {
	var doc document
	err := r.coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("preferences: find: %w", err)
	}
	return doc.preferences(), nil
}

// Insert stores p when absent and returns the stored document.
func (r *MongoRepository) Insert(ctx context.Context, p Preferences) (Preferences, error) {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"userId": p.UserID},
		bson.M{"$setOnInsert": toDocument(p)},
		options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return Preferences{}, fmt.Errorf("preferences: insert: %w", err)
	}
	return r.Get(ctx, p.UserID)
}

// Save writes the editable settings of p, creating the document if needed.
func (r *MongoRepository) Save(ctx context.Context, p Preferences) (Preferences, error) {
	doc := toDocument(p)
	update := bson.M{
		"$set": bson.M{
			"theme":         doc.Theme,
			"notifications": doc.Notifications,
			"inventory":     doc.Inventory,
			"updatedAt":     doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"userId":    doc.UserID,
			"email":     doc.Email,
			"createdAt": doc.CreatedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var saved document
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"userId": p.UserID}, update, opts).Decode(&saved); err != nil {
		return Preferences{}, fmt.Errorf("preferences: save: %w", err)
	}
	return saved.preferences(), nil
}

// UpdateEmail sets the email of an existing document.
func (r *MongoRepository) UpdateEmail(ctx context.Context, userID, email string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"userId": userID}, bson.M{"$set": bson.M{"email": email, "updatedAt": at}})
	if err != nil {
		return fmt.Errorf("preferences: update email: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document of userID.
func (r *MongoRepository) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"userId": userID})
	if err != nil {
		return false, fmt.Errorf("preferences: delete: %w", err)
	}
	return res.DeletedCount > 0, nil
}
