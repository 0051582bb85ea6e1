package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	ResetAfter time.Duration
}

// Counter is a fixed-window counting primitive shared by all limiters.
type Counter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

func windowBounds(now time.Time, window time.Duration) (index int64, resetAfter time.Duration) {
	index = now.UnixNano() / int64(window)
	end := time.Unix(0, (index+1)*int64(window))
	return index, end.Sub(now)
}

type memoryEntry struct {
	index int64
	count int64
}

// MemoryCounter keeps windows in-process. It is only correct for a single API
// instance.
type MemoryCounter struct {
	mu    sync.Mutex
	items map[string]*memoryEntry
	now   func() time.Time
}

func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		items: make(map[string]*memoryEntry),
		now:   now,
	}
}

func (m *MemoryCounter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	index, resetAfter := windowBounds(m.now(), window)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.items[key]
	if entry == nil || entry.index != index {
		entry = &memoryEntry{index: index}
		m.items[key] = entry
	}
	entry.count++

	return Decision{
		Allowed:    entry.count <= int64(limit),
		Count:      entry.count,
		Limit:      limit,
		ResetAfter: resetAfter,
	}, nil
}

type RedisCounter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisCounter(client redis.UniversalClient, now func() time.Time) *RedisCounter {
	if now == nil {
		now = time.Now
	}
	return &RedisCounter{client: client, now: now}
}

func (r *RedisCounter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	index, resetAfter := windowBounds(r.now(), window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, index)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return Decision{}, errors.Wrap(err, "redis rate limit incr")
	}

	count := incr.Val()
	return Decision{
		Allowed:    count <= int64(limit),
		Count:      count,
		Limit:      limit,
		ResetAfter: resetAfter,
	}, nil
}
