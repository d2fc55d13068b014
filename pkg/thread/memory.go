package thread

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-memory turn backend.
// It is used in tests and in deployments that do not need durability.
type MemoryBackend struct {
	mu      sync.RWMutex
	threads map[string][]Turn
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		threads: make(map[string][]Turn),
	}
}

// MaxSeq implements Backend.
func (m *MemoryBackend) MaxSeq(ctx context.Context, threadID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.threads[threadID]
	if len(turns) == 0 {
		return 0, nil
	}
	return turns[len(turns)-1].Seq, nil
}

// InsertTurns implements Backend.
func (m *MemoryBackend) InsertTurns(ctx context.Context, turns []Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, turn := range turns {
		m.threads[turn.ThreadID] = append(m.threads[turn.ThreadID], turn)
	}
	return nil
}

// RecentTurns implements Backend.
func (m *MemoryBackend) RecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.threads[threadID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// TurnCount implements Backend.
func (m *MemoryBackend) TurnCount(ctx context.Context, threadID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.threads[threadID])), nil
}

// PruneIdleThreads implements Backend.
func (m *MemoryBackend) PruneIdleThreads(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for threadID, turns := range m.threads {
		if len(turns) == 0 {
			delete(m.threads, threadID)
			continue
		}
		if turns[len(turns)-1].CreatedAt.Before(cutoff) {
			deleted += int64(len(turns))
			delete(m.threads, threadID)
		}
	}
	return deleted, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
