package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers delivery keys for a while. Seen marks key and reports
// whether it had already been marked.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// MemoryDeduper is a per-process Deduper with a fixed TTL.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

// NewMemoryDeduper creates a MemoryDeduper. now may be nil.
func NewMemoryDeduper(ttl time.Duration, now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{ttl: ttl, now: now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= d.ttl {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return false, nil
}

// Len reports how many keys are remembered.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RedisDeduper shares dedup state across server instances.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper creates a RedisDeduper storing keys under prefix.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = "minno:event:"
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: prefix}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	set, err := d.client.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ingest: redis dedup %s: %w", key, err)
	}
	return !set, nil
}
