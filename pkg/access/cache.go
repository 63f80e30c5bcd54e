package access

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/trellishq/trellis/pkg/policy"
)

// CacheKey identifies one cached decision.
type CacheKey struct {
	NodeID    string
	SubjectID string
	Action    policy.Action
}

// String renders the key for string-keyed backends. The anonymous
// subject renders as "-" so keys stay unambiguous.
func (k CacheKey) String() string {
	subject := k.SubjectID
	if subject == Anonymous {
		subject = "-"
	}
	return fmt.Sprintf("access:%s:%s:%s", k.NodeID, subject, k.Action)
}

// DecisionCache is a derived, disposable index of resolved decisions.
// It is never the system of record: any policy, hierarchy or
// membership write touching a node must invalidate it synchronously
// before the write returns, so revocation takes effect on the next
// check. A Get miss or backend failure only costs a recomputation.
type DecisionCache interface {
	Get(ctx context.Context, key CacheKey) (Decision, bool)
	Set(ctx context.Context, key CacheKey, d Decision)
	InvalidateNode(ctx context.Context, nodeID string) error
	InvalidateAll(ctx context.Context) error
}

// MemoryDecisionCache is an in-process LRU with TTL.
type MemoryDecisionCache struct {
	cache *lru.LRU[string, Decision]
}

// NewMemoryDecisionCache creates an in-memory decision cache holding
// at most maxEntries decisions for at most ttl each.
func NewMemoryDecisionCache(maxEntries int, ttl time.Duration) *MemoryDecisionCache {
	if maxEntries < 16 {
		maxEntries = 16
	}
	return &MemoryDecisionCache{
		cache: lru.NewLRU[string, Decision](maxEntries, nil, ttl),
	}
}

// Get retrieves a cached decision.
func (c *MemoryDecisionCache) Get(_ context.Context, key CacheKey) (Decision, bool) {
	return c.cache.Get(key.String())
}

// Set stores a decision.
func (c *MemoryDecisionCache) Set(_ context.Context, key CacheKey, d Decision) {
	c.cache.Add(key.String(), d)
}

// InvalidateNode drops cached decisions for a node. The LRU cannot
// pattern-match keys, so the whole cache is purged; acceptable for an
// in-memory cache that refills on demand.
func (c *MemoryDecisionCache) InvalidateNode(_ context.Context, _ string) error {
	c.cache.Purge()
	return nil
}

// InvalidateAll clears the cache.
func (c *MemoryDecisionCache) InvalidateAll(_ context.Context) error {
	c.cache.Purge()
	return nil
}

// RedisDecisionCache shares decisions across instances. Each node's
// live keys are tracked in a Redis set so InvalidateNode can delete
// exactly the affected entries.
type RedisDecisionCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDecisionCache connects to Redis and verifies the connection.
func NewRedisDecisionCache(addr, password string, db int, ttl time.Duration) (*RedisDecisionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDecisionCache{redis: client, ttl: ttl}, nil
}

// NewRedisDecisionCacheFromClient wraps an existing client, used in
// tests.
func NewRedisDecisionCacheFromClient(client *redis.Client, ttl time.Duration) *RedisDecisionCache {
	return &RedisDecisionCache{redis: client, ttl: ttl}
}

// Close closes the Redis connection.
func (c *RedisDecisionCache) Close() error {
	return c.redis.Close()
}

// Get retrieves a cached decision. Backend errors are treated as
// misses.
func (c *RedisDecisionCache) Get(ctx context.Context, key CacheKey) (Decision, bool) {
	data, err := c.redis.Get(ctx, key.String()).Result()
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

// Set stores a decision and registers its key under the node's index
// set. Failures are ignored: the next check recomputes.
func (c *RedisDecisionCache) Set(ctx context.Context, key CacheKey, d Decision) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	keyStr := key.String()
	pipe := c.redis.Pipeline()
	pipe.Set(ctx, keyStr, data, c.ttl)
	pipe.SAdd(ctx, nodeIndexKey(key.NodeID), keyStr)
	pipe.Expire(ctx, nodeIndexKey(key.NodeID), c.ttl)
	_, _ = pipe.Exec(ctx)
}

// InvalidateNode deletes every cached decision for a node. Callers
// must invoke this before acknowledging a policy or hierarchy write.
func (c *RedisDecisionCache) InvalidateNode(ctx context.Context, nodeID string) error {
	indexKey := nodeIndexKey(nodeID)
	keys, err := c.redis.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list cached decisions: %w", err)
	}
	keys = append(keys, indexKey)
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached decisions: %w", err)
	}
	return nil
}

// InvalidateAll removes every cached decision, used when membership
// changes shift org-scoped grants across many nodes.
func (c *RedisDecisionCache) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, "access:*", 200).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cached decisions: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to invalidate cached decisions: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func nodeIndexKey(nodeID string) string {
	return fmt.Sprintf("access:node-index:%s", nodeID)
}
