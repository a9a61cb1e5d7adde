// Package cache defines the port for the in-process agent read cache.
// Cached entries are serialized agents keyed by ID; writers invalidate on
// every mutation, and status events from other instances invalidate too.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AgentKey returns the cache key for one agent's serialized form. The dot
// separator keeps keys valid for backends with restricted key alphabets,
// such as JetStream KV.
func AgentKey(agentID string) string {
	return "agents." + agentID
}
