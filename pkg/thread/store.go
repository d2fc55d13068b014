package thread

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reader is the read family of turn store operations.
// Implementations never mutate stored state.
type Reader interface {
	// RecentTurns returns up to limit turns of the thread with the highest
	// sequence numbers, ordered by ascending sequence. A limit <= 0 means
	// no limit. An unknown thread yields an empty slice, not an error.
	RecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error)

	// TurnCount returns the number of stored turns in the thread.
	TurnCount(ctx context.Context, threadID string) (int64, error)
}

// Writer is the write family of turn store operations.
// Implementations never return stored history.
type Writer interface {
	// AppendTurns appends the given turns to the thread in order, assigning
	// each a sequence number and timestamp. It returns the stored turns.
	// Appending zero turns is a no-op and returns an empty slice.
	AppendTurns(ctx context.Context, threadID string, turns []NewTurn) ([]Turn, error)
}

// Backend is the storage engine beneath a Store. It persists turns but does
// not assign sequence numbers; the Store owns ordering.
type Backend interface {
	// MaxSeq returns the highest sequence number in the thread, 0 if none.
	MaxSeq(ctx context.Context, threadID string) (int64, error)

	// InsertTurns persists fully populated turns.
	InsertTurns(ctx context.Context, turns []Turn) error

	// RecentTurns returns up to limit newest turns in ascending seq order.
	RecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error)

	// TurnCount returns the number of turns in the thread.
	TurnCount(ctx context.Context, threadID string) (int64, error)

	// PruneIdleThreads deletes all turns of threads whose newest turn is
	// older than cutoff. It returns the number of deleted turns.
	PruneIdleThreads(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Store is the turn store. It layers per-thread append serialization and turn
// validation over a Backend and exposes the Reader and Writer families.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Appends to the same thread are
// serialized by a per-thread lock so that sequence assignment (max + 1) is
// race free. Reads are not blocked by the lock; they see whatever the backend
// has committed.
type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	logger *slog.Logger
}

// NewStore creates a turn store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		locks:   make(map[string]*sync.Mutex),
		logger:  slog.Default().With("component", "thread.store"),
	}
}

// threadLock returns the lock for the given thread, creating it on first use.
// Locks are never removed; the table grows with the number of distinct
// threads seen by this process.
func (s *Store) threadLock(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[threadID] = lock
	}
	return lock
}

// AppendTurns implements Writer.
func (s *Store) AppendTurns(ctx context.Context, threadID string, turns []NewTurn) ([]Turn, error) {
	if threadID == "" {
		return nil, &ValidationError{Field: "thread_id", Message: "must not be empty"}
	}
	if len(turns) == 0 {
		return []Turn{}, nil
	}
	for _, nt := range turns {
		if nt.Role != RoleUser && nt.Role != RoleAssistant {
			return nil, &ValidationError{Field: "role", Message: "must be user or assistant"}
		}
		if nt.Content == "" {
			return nil, &ValidationError{Field: "content", Message: "must not be empty"}
		}
	}

	lock := s.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	maxSeq, err := s.backend.MaxSeq(ctx, threadID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := make([]Turn, len(turns))
	for i, nt := range turns {
		stored[i] = Turn{
			ThreadID:  threadID,
			Seq:       maxSeq + int64(i) + 1,
			Role:      nt.Role,
			Content:   nt.Content,
			CreatedAt: now,
		}
	}

	if err := s.backend.InsertTurns(ctx, stored); err != nil {
		return nil, err
	}

	s.logger.Debug("turns appended",
		"thread_id", threadID,
		"count", len(stored),
		"last_seq", stored[len(stored)-1].Seq,
	)

	return stored, nil
}

// RecentTurns implements Reader.
func (s *Store) RecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	return s.backend.RecentTurns(ctx, threadID, limit)
}

// TurnCount implements Reader.
func (s *Store) TurnCount(ctx context.Context, threadID string) (int64, error) {
	return s.backend.TurnCount(ctx, threadID)
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

var (
	_ Reader = (*Store)(nil)
	_ Writer = (*Store)(nil)
)
