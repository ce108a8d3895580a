package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultListTTL is the expiry applied to cached list responses and their
// reverse-index entries.
const DefaultListTTL = 120 * time.Second

// Dependency names an entity field a cached list response depends on.
// Writes touching that field invalidate every list cached under it.
type Dependency struct {
	Field string
	Value string
}

// Coordinator caches serialized list responses and keeps a reverse index
// from the entities a response depends on back to its cache key, so that
// entity writes can invalidate exactly the affected responses.
//
// Cache key layout:
//
//	{prefix}:{md5(kind:part:...)}                -> response payload
//	{prefix}:{md5(kind:field:value)}:{uuid}      -> cache key (reverse index)
//
// Reverse-index entries carry a random uuid suffix so repeated stores of
// the same response never clobber each other.
type Coordinator struct {
	cache  Cache
	prefix string
	ttl    time.Duration
}

// NewCoordinator creates a coordinator writing under the given key prefix.
// A non-positive ttl falls back to DefaultListTTL.
func NewCoordinator(cache Cache, prefix string, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultListTTL
	}
	return &Coordinator{cache: cache, prefix: prefix, ttl: ttl}
}

// ListKey builds the cache key for a list query. Parts must include the
// query kind, all filters, the pagination window and the viewer identity,
// so that differently scoped views never share an entry.
func (c *Coordinator) ListKey(parts ...string) string {
	return c.prefix + ":" + hashKey(strings.Join(parts, ":"))
}

// Get returns the cached payload for key, or "" on miss.
func (c *Coordinator) Get(ctx context.Context, key string) (string, error) {
	value, err := c.cache.Get(ctx, key)
	if err != nil || value == NullCacheValue {
		return "", err
	}
	return value, nil
}

// Store caches payload under key and records one reverse-index entry per
// dependency, all with the coordinator TTL.
func (c *Coordinator) Store(ctx context.Context, kind, key, payload string, deps ...Dependency) error {
	if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
		return err
	}
	if len(deps) == 0 {
		return nil
	}
	return c.cache.Pipeline(ctx, func(pipe Pipeliner) error {
		for _, dep := range deps {
			indexKey := c.prefix + ":" + hashKey(kind+":"+dep.Field+":"+dep.Value) + ":" + uuid.NewString()
			if err := pipe.Set(indexKey, key, c.ttl); err != nil {
				return err
			}
		}
		return nil
	})
}

// Invalidate drops every cached response depending on any of the given
// entity fields, along with the reverse-index entries pointing at them.
func (c *Coordinator) Invalidate(ctx context.Context, kind string, deps ...Dependency) error {
	for _, dep := range deps {
		pattern := c.prefix + ":" + hashKey(kind+":"+dep.Field+":"+dep.Value) + ":*"
		var cursor uint64
		for {
			keys, next, err := c.cache.Scan(ctx, cursor, pattern, 1000)
			if err != nil {
				return err
			}
			for _, indexKey := range keys {
				target, err := c.cache.Get(ctx, indexKey)
				if err == nil && target != "" {
					_ = c.cache.Del(ctx, target)
				}
			}
			if len(keys) > 0 {
				if err := c.cache.Del(ctx, keys...); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}

func hashKey(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
