// Package querycache caches owner-scoped read models in Redis. Each scope
// carries a version number; bumping it orphans every key built before.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	versionKeyPrefix = "pantry:cache:version:"
	keyPrefix        = "pantry:cache:"
	// BumpChannel carries the scope whose version changed.
	BumpChannel = "pantry.cache.bump"
)

// Cache wraps Redis based caching with versioning controls.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	versions *expirable.LRU[string, int64]
	group    singleflight.Group
}

// New instantiates the cache. A nil client yields a pass-through cache.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client:   client,
		ttl:      ttl,
		logger:   logger,
		versions: expirable.NewLRU[string, int64](4096, nil, 30*time.Second),
	}
}

// Version returns the current version of scope, initialising when missing.
func (c *Cache) Version(ctx context.Context, scope string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if ver, ok := c.versions.Get(scope); ok {
		return ver, nil
	}
	key := versionKeyPrefix + scope
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if _, err := c.client.SetNX(ctx, key, 1, 0).Result(); err != nil {
			return 0, err
		}
		ver, err = c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	c.versions.Add(scope, ver)
	return ver, nil
}

// BuildKey composes the cache key with the current version of scope.
func (c *Cache) BuildKey(ctx context.Context, scope string, parts ...string) (string, error) {
	joined := strings.Join(append([]string{scope}, parts...), ":")
	if c == nil || c.client == nil {
		return keyPrefix + joined, nil
	}
	ver, err := c.Version(ctx, scope)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s:v%d", keyPrefix, joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
// Concurrent misses on the same key share one loader call. Redis failures
// degrade to calling the loader directly.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("querycache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		return load(ctx, dest, loader)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(context.WithoutCancel(ctx), key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every key of scope and tells other instances.
func (c *Cache) Bump(ctx context.Context, scope string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, versionKeyPrefix+scope).Err(); err != nil {
		return err
	}
	c.versions.Remove(scope)
	return c.client.Publish(ctx, BumpChannel, scope).Err()
}

// ListenForInvalidation drops locally memoised versions announced on
// channel until ctx is done.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == "" {
					c.versions.Purge()
					continue
				}
				c.versions.Remove(msg.Payload)
			}
		}
	}()
	return nil
}
