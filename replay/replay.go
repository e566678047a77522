// Package replay records consumed token nonces so that a signed token can be
// made single-use. Tokens are stateless by default; a Store is only consulted
// when token.WithReplayGuard is set.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store marks keys as consumed until they expire.
type Store interface {
	// Consume marks key as used until expiresAt. It returns true the first time
	// a key is consumed and false for every later call before expiry.
	Consume(ctx context.Context, key string, now, expiresAt time.Time) (bool, error)
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.Mutex
	used map[string]time.Time // key → expiresAt
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{used: make(map[string]time.Time)}
}

// Consume implements Store.
func (m *Memory) Consume(_ context.Context, key string, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.used[key]; ok && !now.After(exp) {
		return false, nil
	}
	m.used[key] = expiresAt
	return true, nil
}

// Sweep drops entries that expired before now and returns how many were removed.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, exp := range m.used {
		if now.After(exp) {
			delete(m.used, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// Redis is a Store shared by every process pointing at the same Redis.
// Expiry is enforced by Redis key TTLs.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed store. Keys are written under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "sendgate:nonce:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Consume implements Store with SET NX PX.
func (r *Redis) Consume(ctx context.Context, key string, now, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	ok, err := r.client.SetNX(ctx, r.prefix+key, now.UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("sendgate/replay: %w", err)
	}
	return ok, nil
}
