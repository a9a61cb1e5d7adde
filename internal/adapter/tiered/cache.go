// Package tiered combines the in-process agent cache with a shared remote
// level. L1 absorbs hot reads on one instance; L2 lets a freshly started
// instance serve warm reads before its own cache fills.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/launchforge/launchforge/internal/port/cache"
)

// Cache reads through L1 then L2, backfilling L1 on an L2 hit. Writes and
// invalidations go to both levels.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. l1Expire bounds how long an L2 backfill lives
// in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2, backfilling L1 on an L2 hit.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

// Set writes to both levels.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Join(
		c.l1.Set(ctx, key, value, ttl),
		c.l2.Set(ctx, key, value, ttl),
	)
}

// Delete invalidates both levels. A failing level does not stop the other:
// leaving a stale entry behind is worse than a partial error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Join(
		c.l1.Delete(ctx, key),
		c.l2.Delete(ctx, key),
	)
}
