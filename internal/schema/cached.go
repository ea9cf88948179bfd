package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"listing-snapshot-api/internal/cache"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds a shared upstream load.
const fetchTimeout = 30 * time.Second

// CachedLookup puts a cache in front of the metadata services. Concurrent
// misses for the same id share one upstream request. Failed lookups are
// not cached.
type CachedLookup struct {
	items ItemLookup
	skins SkinLookup
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
	group singleflight.Group
}

// NewCachedLookup wraps items and skins with c.
func NewCachedLookup(items ItemLookup, skins SkinLookup, c cache.Cache, ttl time.Duration, log *zap.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedLookup{
		items: items,
		skins: skins,
		cache: c,
		ttl:   ttl,
		log:   log.Named("schema.cache"),
	}
}

// GetItemByDefindex returns the cached item or fetches it.
func (c *CachedLookup) GetItemByDefindex(ctx context.Context, defindex int) (*Item, error) {
	var item Item
	err := c.fetch(ctx, fmt.Sprintf("schema:item:%d", defindex), &item, func(ctx context.Context) (interface{}, error) {
		return c.items.GetItemByDefindex(ctx, defindex)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetQualityByID returns the cached quality or fetches it.
func (c *CachedLookup) GetQualityByID(ctx context.Context, id int) (*Quality, error) {
	var quality Quality
	err := c.fetch(ctx, fmt.Sprintf("schema:quality:%d", id), &quality, func(ctx context.Context) (interface{}, error) {
		return c.items.GetQualityByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &quality, nil
}

// GetEffectByID returns the cached effect or fetches it.
func (c *CachedLookup) GetEffectByID(ctx context.Context, id int) (*Effect, error) {
	var effect Effect
	err := c.fetch(ctx, fmt.Sprintf("schema:effect:%d", id), &effect, func(ctx context.Context) (interface{}, error) {
		return c.items.GetEffectByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &effect, nil
}

// GetSkinByID returns the cached skin or fetches it.
func (c *CachedLookup) GetSkinByID(ctx context.Context, id int) (*Skin, error) {
	var skin Skin
	err := c.fetch(ctx, fmt.Sprintf("skin:%d", id), &skin, func(ctx context.Context) (interface{}, error) {
		return c.skins.GetSkinByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &skin, nil
}

func (c *CachedLookup) fetch(ctx context.Context, key string, out interface{}, load func(context.Context) (interface{}, error)) error {
	data, err := c.cache.Get(ctx, key)
	if err == nil {
		if err := json.Unmarshal(data, out); err == nil {
			return nil
		}
		c.log.Warn("dropping undecodable cache entry", zap.String("key", key))
		_ = c.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	// The shared load must outlive whichever caller started it.
	res := c.group.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return r.Err
		}
		return json.Unmarshal(r.Val.([]byte), out)
	}
}

var (
	_ ItemLookup = (*CachedLookup)(nil)
	_ SkinLookup = (*CachedLookup)(nil)
)
