package redisx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL outlives Stripe's three day retry window.
const DefaultDedupTTL = 72 * time.Hour

// Deduper remembers which webhook deliveries were already processed.
//
// Claim returns true for the first caller of a (scope, id) pair. Release
// forgets a claim so a failed delivery can be retried.
type Deduper interface {
	Claim(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

func dedupKey(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}

// RedisDeduper claims keys with SET NX and a TTL.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDeduper returns a Deduper backed by rdb. A zero ttl uses DefaultDedupTTL.
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, scope, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(scope, id), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, scope, id string) error {
	if err := d.rdb.Del(ctx, dedupKey(scope, id)).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}
	return nil
}

// MemoryDeduper is the in-process fallback when no Redis URL is configured.
// Claims are not shared between replicas.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemoryDeduper returns an in-memory Deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Claim(_ context.Context, scope, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}

	key := dedupKey(scope, id)
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, scope, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(scope, id))
	return nil
}
