package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

// Cache keeps the per-model image projections in Redis so catalog pages
// don't hit Postgres on every render. Entries are invalidated on every
// mutation and on optimization-completion events, never updated in place.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
	TTL       time.Duration
}

func NewCache(namespace string, redisCl redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
		TTL:       ttl,
	}
}

func (c *Cache) key(modelID string) string {
	return c.Namespace + ":model:" + modelID
}

// GetModelImages returns the cached projection for a model. ok is false on
// a miss or an undecodable entry; errors are treated as misses so a flaky
// Redis never takes the read path down.
func (c *Cache) GetModelImages(ctx context.Context, modelID string) ([]entities.ModelImageView, bool) {
	raw, err := c.Redis.Get(ctx, c.key(modelID)).Bytes()
	if err != nil {
		return nil, false
	}
	var views []entities.ModelImageView
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, false
	}
	return views, true
}

// StoreModelImages caches the projection for the configured TTL.
func (c *Cache) StoreModelImages(ctx context.Context, modelID string, views []entities.ModelImageView) error {
	raw, err := json.Marshal(views)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, c.key(modelID), raw, c.TTL).Err()
}

// InvalidateModel drops the cached projection for one model.
func (c *Cache) InvalidateModel(ctx context.Context, modelID string) error {
	return c.Redis.Del(ctx, c.key(modelID)).Err()
}

// Flush drops every entry in the namespace.
func (c *Cache) Flush(ctx context.Context) error {
	keys := c.Redis.Keys(ctx, c.Namespace+":*")
	// using pipeline to delete keys efficiently
	pl := c.Redis.Pipeline()

	for _, key := range keys.Val() {
		pl.Del(ctx, key)
	}

	_, err := pl.Exec(ctx)
	return err
}
