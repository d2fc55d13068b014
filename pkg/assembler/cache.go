package assembler

import (
	"context"
	"errors"

	"mercator-hq/ganymede/pkg/thread"
)

// ErrCacheMiss is returned by HistoryCache.Get when the thread has no cached
// history. A miss is not a failure; the assembler falls through to the store.
var ErrCacheMiss = errors.New("history cache miss")

// HistoryCache holds recent turns per thread for fast context assembly.
// It is an acceleration layer in front of the durable turn store and may
// lose entries at any time without affecting correctness.
type HistoryCache interface {
	// Get returns up to limit cached turns with the highest sequence
	// numbers, in ascending order. Returns ErrCacheMiss when the thread
	// is not cached.
	Get(ctx context.Context, threadID string, limit int) ([]thread.Turn, error)

	// Put replaces the cached history for the thread.
	Put(ctx context.Context, threadID string, turns []thread.Turn) error

	// Append extends an existing cache entry with freshly persisted turns.
	// If the thread is not cached, Append is a no-op; a partial entry
	// built from appends alone would serve truncated history.
	Append(ctx context.Context, threadID string, turns []thread.Turn) error

	// Invalidate drops the cached history for the thread.
	Invalidate(ctx context.Context, threadID string) error
}
