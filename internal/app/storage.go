package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/db"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/mongodb"
	"github.com/pizza-pantry/pizza-pantry/internal/preferences"
)

// Storage bundles the repositories of the configured driver.
type Storage struct {
	Driver      string
	Items       inventory.ItemRepository
	Adjustments inventory.AdjustmentRepository
	Preferences preferences.Repository

	ping  func(ctx context.Context) error
	close func()
}

// Ping reports whether the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases connections.
func (s *Storage) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// OpenStorage connects to the database selected by STORAGE_DRIVER and
// prepares its schema or indexes.
func OpenStorage(ctx context.Context, cfg *Config, logger *slog.Logger) (*Storage, error) {
	switch cfg.StorageDriver {
	case DriverMongo:
		client, database, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		prefs := preferences.NewMongoRepository(database)
		if cfg.DBAutoMigrate {
			if err := inventory.EnsureMongoIndexes(ctx, database); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, err
			}
			if err := prefs.EnsureIndexes(ctx); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, err
			}
		}
		logger.Info("storage ready", slog.String("driver", DriverMongo), slog.String("database", cfg.MongoDB))
		return &Storage{
			Driver:      DriverMongo,
			Items:       inventory.NewMongoItemStore(database),
			Adjustments: inventory.NewMongoAdjustmentStore(database),
			Preferences: prefs,
			ping: func(ctx context.Context) error {
				return mongodb.Ping(ctx, client)
			},
			close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					logger.Warn("mongo disconnect", slog.Any("error", err))
				}
			},
		}, nil
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if cfg.DBAutoMigrate {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		logger.Info("storage ready", slog.String("driver", DriverPostgres))
		return &Storage{
			Driver:      DriverPostgres,
			Items:       inventory.NewItemStore(pool),
			Adjustments: inventory.NewAdjustmentStore(pool),
			Preferences: preferences.NewPostgresRepository(pool),
			ping: func(ctx context.Context) error {
				return db.Ping(ctx, pool)
			},
			close: pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.StorageDriver)
	}
}
