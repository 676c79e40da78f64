// Package cache keeps read-only copies of group ledgers in Redis so that
// display requests do not hit the ledger store. Writes always go to the
// store first; the committed group is then written through here. A copy is
// only replaced by one with a higher version.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/billbatista/acasinha-ledger/ledger"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "acasinha:group:"

type GroupCache struct {
	client *redis.Client
	cache  *cache.Cache
	ttl    time.Duration
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewGroupCache uses Redis only, without a per-process local tier, so every
// instance sees the same copy. Values are plain JSON so Set can read the
// cached version back.
func NewGroupCache(client *redis.Client, ttl time.Duration) *GroupCache {
	return &GroupCache{
		client: client,
		cache: cache.New(&cache.Options{
			Redis:     client,
			Marshal:   json.Marshal,
			Unmarshal: json.Unmarshal,
		}),
		ttl: ttl,
	}
}

func key(code string) string {
	return keyPrefix + code
}

// Get reports a miss for absent keys and for Redis failures alike.
func (c *GroupCache) Get(ctx context.Context, code string) (*ledger.GroupLedger, bool) {
	var g ledger.GroupLedger
	err := c.cache.Get(ctx, key(code), &g)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("group cache read failed", "group_code", code, "error", err)
		}
		return nil, false
	}
	return &g, true
}

// Set stores g unless the cache already holds the same or a newer version.
// A failed write drops the key so an older copy is not served until the TTL.
func (c *GroupCache) Set(ctx context.Context, g *ledger.GroupLedger) {
	k := key(g.Code)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		var cached struct {
			Version int64 `json:"version"`
		}
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case json.Unmarshal(raw, &cached) == nil && cached.Version >= g.Version:
			return nil
		}

		value, err := c.cache.Marshal(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, value, c.ttl)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		// another writer got there first; the next read repopulates
		slog.Debug("group cache write lost a race", "group_code", g.Code, "version", g.Version)
		c.Delete(ctx, g.Code)
	default:
		slog.Warn("group cache write failed", "group_code", g.Code, "error", err)
		c.Delete(ctx, g.Code)
	}
}

func (c *GroupCache) Delete(ctx context.Context, code string) {
	err := c.cache.Delete(ctx, key(code))
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("group cache invalidation failed", "group_code", code, "error", err)
	}
}
