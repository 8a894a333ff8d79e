package inventory

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/db"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/mongodb"
)

func postgresStores(t *testing.T) (*ItemStore, *AdjustmentStore) {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := db.New(ctx, dsn)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, db.EnsureSchema(ctx, pool))
	return NewItemStore(pool), NewAdjustmentStore(pool)
}

func mongoStores(t *testing.T) (*MongoItemStore, *MongoAdjustmentStore) {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, database, err := mongodb.New(ctx, uri, "pantry_test")
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	require.NoError(t, EnsureMongoIndexes(ctx, database))
	return NewMongoItemStore(database), NewMongoAdjustmentStore(database)
}

func TestPostgresStores(t *testing.T) {
	items, adjustments := postgresStores(t)
	exerciseStores(t, items, adjustments)
}

func TestMongoStores(t *testing.T) {
	items, adjustments := mongoStores(t)
	exerciseStores(t, items, adjustments)
}

func exerciseStores(t *testing.T, items ItemRepository, adjustments AdjustmentRepository) {
	ctx := context.Background()
	ownerID := "it_" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = items.DeleteByOwner(ctx, ownerID)
		_, _ = adjustments.DeleteByOwner(ctx, ownerID)
	})
	svc := NewService(items, adjustments, Dependencies{}, ServiceConfig{StorageTimeout: 5 * time.Second})

	item, err := svc.CreateItem(ctx, ownerID, CreateInput{
		ItemFields: ItemFields{Name: "Flour", Category: "Dough & Flour", MinStock: 5, Unit: "kg", Price: 1.25, Supplier: "Mill"},
		Quantity:   10,
	})
	require.NoError(t, err)

	_, err = items.FindByID(ctx, item.ID, "someone_else")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AdjustQuantity(ctx, AdjustInput{ItemID: item.ID, OwnerID: ownerID, Delta: -7, Reason: "Production Usage", IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, _, err = items.AtomicAdjustQuantity(ctx, item.ID, ownerID, -5, time.Now())
	require.ErrorIs(t, err, ErrQuantityRejected)

	replay, err := svc.AdjustQuantity(ctx, AdjustInput{ItemID: item.ID, OwnerID: ownerID, Delta: -7, Reason: "Production Usage", IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.True(t, replay.Replayed)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AdjustQuantity(ctx, AdjustInput{ItemID: item.ID, OwnerID: ownerID, Delta: 2, Reason: "Delivery Received"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := items.FindByID(ctx, item.ID, ownerID)
	require.NoError(t, err)
	require.InDelta(t, 23, stored.Quantity, 0.0001)
	sum, err := adjustments.SumDeltas(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, stored.Quantity, sum, 0.0001)

	history, err := adjustments.ListByItem(ctx, item.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.False(t, history[0].Timestamp.Before(history[2].Timestamp))

	if reader, ok := items.(StatsReader); ok {
		stats, err := reader.StatsByOwner(ctx, ownerID)
		require.NoError(t, err)
		require.Equal(t, Stats{TotalItems: 1, TotalValue: 28.75}, stats)
	}

	require.NoError(t, svc.DeleteItem(ctx, item.ID, ownerID))
	remaining, err := adjustments.ListByItem(ctx, item.ID, 0)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestPostgresRejectsRecordOfDeletedItem(t *testing.T) {
	items, adjustments := postgresStores(t)
	ctx := context.Background()
	ownerID := "it_" + uuid.NewString()
	now := time.Now().UTC()
	item, err := items.Create(ctx, Item{ID: uuid.NewString(), OwnerID: ownerID, Name: "Basil", Category: "Spices & Herbs",
		Quantity: 2, Unit: "units", Supplier: "Green Market", CreatedAt: now, LastUpdated: now})
	require.NoError(t, err)
	_, err = adjustments.Append(ctx, Adjustment{ID: uuid.NewString(), ItemID: item.ID, OwnerID: ownerID,
		PreviousQuantity: 0, NewQuantity: 2, Delta: 2, Reason: InitialStockReason, Timestamp: now})
	require.NoError(t, err)

	deleted, err := items.Delete(ctx, item.ID, ownerID)
	require.NoError(t, err)
	require.True(t, deleted)
	remaining, err := adjustments.ListByItem(ctx, item.ID, 0)
	require.NoError(t, err)
	require.Empty(t, remaining)

	_, err = adjustments.Append(ctx, Adjustment{ID: uuid.NewString(), ItemID: item.ID, OwnerID: ownerID,
		PreviousQuantity: 2, NewQuantity: 1, Delta: -1, Reason: "Production Usage", Timestamp: now})
	require.ErrorIs(t, err, ErrNotFound)
}
