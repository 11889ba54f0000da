package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// processedKeyPrefix namespaces processed-event markers in Redis.
const processedKeyPrefix = "mirror:event:"

// Marker suppresses redelivered change events. First returns true exactly
// once per event id within the retention window. Handlers stay idempotent
// regardless; the marker only saves redundant work under at-least-once
// delivery.
type Marker interface {
	First(ctx context.Context, eventID string) (bool, error)
}

// RedisMarker is the distributed Marker for deployments with multiple
// consumer instances.
type RedisMarker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMarker creates a Redis-backed marker with the given retention.
func NewRedisMarker(client *redis.Client, ttl time.Duration) *RedisMarker {
	return &RedisMarker{client: client, ttl: ttl}
}

// First records the event id with SETNX; returns true when this call was the
// first to see it.
func (m *RedisMarker) First(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	return m.client.SetNX(ctx, processedKeyPrefix+eventID, "1", m.ttl).Result()
}

// MemoryMarker is the single-process Marker for tests and local runs.
type MemoryMarker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryMarker creates an empty in-memory marker.
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{seen: make(map[string]struct{})}
}

// First reports whether the event id is new, recording it.
func (m *MemoryMarker) First(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = struct{}{}
	return true, nil
}
