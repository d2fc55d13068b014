package assembler

import (
	"context"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/thread"
)

// MemoryCache implements HistoryCache in process memory.
// It is used in tests and in single-node deployments without Redis.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	maxTurns int
	ttl      time.Duration
}

type memoryEntry struct {
	turns     []thread.Turn
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory history cache.
// maxTurns <= 0 defaults to 50, ttl <= 0 defaults to 30 minutes.
func NewMemoryCache(maxTurns int, ttl time.Duration) *MemoryCache {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryCache{
		entries:  make(map[string]*memoryEntry),
		maxTurns: maxTurns,
		ttl:      ttl,
	}
}

// Get implements HistoryCache.
func (c *MemoryCache) Get(ctx context.Context, threadID string, limit int) ([]thread.Turn, error) {
	c.mu.RLock()
	entry, ok := c.entries[threadID]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) || len(entry.turns) == 0 {
		return nil, ErrCacheMiss
	}

	turns := entry.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]thread.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Put implements HistoryCache.
func (c *MemoryCache) Put(ctx context.Context, threadID string, turns []thread.Turn) error {
	stored := make([]thread.Turn, len(turns))
	copy(stored, turns)
	if len(stored) > c.maxTurns {
		stored = stored[len(stored)-c.maxTurns:]
	}

	c.mu.Lock()
	c.entries[threadID] = &memoryEntry{
		turns:     stored,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
	return nil
}

// Append implements HistoryCache.
func (c *MemoryCache) Append(ctx context.Context, threadID string, turns []thread.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[threadID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}

	entry.turns = append(entry.turns, turns...)
	if len(entry.turns) > c.maxTurns {
		entry.turns = entry.turns[len(entry.turns)-c.maxTurns:]
	}
	entry.expiresAt = time.Now().Add(c.ttl)
	return nil
}

// Invalidate implements HistoryCache.
func (c *MemoryCache) Invalidate(ctx context.Context, threadID string) error {
	c.mu.Lock()
	delete(c.entries, threadID)
	c.mu.Unlock()
	return nil
}

var _ HistoryCache = (*MemoryCache)(nil)
