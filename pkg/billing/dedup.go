package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupCache remembers webhook event ids that were already handled. It is a
// best-effort fast path on top of the store's idempotent writes, not the
// correctness mechanism: reconciliation must stay safe without it.
//
// Checking and recording are separate operations: an event id is recorded
// only once its delivery concluded terminally, so a delivery that failed
// partway stays unmarked and the provider's redelivery is processed rather
// than skipped.
type DedupCache interface {
	// Seen reports whether the event id has been recorded.
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkSeen records the event id.
	MarkSeen(ctx context.Context, eventID string) error
}

const dedupKeyPrefix = "billing:webhook:event:"

// RedisDedup implements DedupCache on Redis with a TTL, so the marker set
// outlives a single process but does not grow without bound.
type RedisDedup struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDedup returns a Redis-backed dedup cache. A non-positive ttl
// defaults to 24 hours, comfortably past the provider's retry window.
func NewRedisDedup(client redis.UniversalClient, ttl time.Duration) *RedisDedup {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDedup) MarkSeen(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Err()
}

// MemDedup is an in-process DedupCache for single-instance deployments and
// tests. Entries are never evicted.
type MemDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemDedup returns an empty in-memory dedup cache.
func NewMemDedup() *MemDedup {
	return &MemDedup{seen: make(map[string]struct{})}
}

func (d *MemDedup) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *MemDedup) MarkSeen(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[eventID] = struct{}{}
	return nil
}
