package thread

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	config := DefaultSQLiteConfig()
	config.Path = filepath.Join(t.TempDir(), "threads.db")

	backend, err := NewSQLiteBackend(config)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLiteBackend_Roundtrip(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	store := NewStore(backend)
	ctx := context.Background()

	stored, err := store.AppendTurns(ctx, "thread-1", []NewTurn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}
	if stored[1].Seq != 2 {
		t.Errorf("Expected seq 2, got %d", stored[1].Seq)
	}

	turns, err := store.RecentTurns(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "hello" {
		t.Errorf("Unexpected first turn: %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant || turns[1].Content != "hi" {
		t.Errorf("Unexpected second turn: %+v", turns[1])
	}
}

func TestSQLiteBackend_RecentTurnsLimitOrder(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	store := NewStore(backend)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if _, err := store.AppendTurns(ctx, "thread-1", []NewTurn{
			{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)},
		}); err != nil {
			t.Fatalf("AppendTurns failed: %v", err)
		}
	}

	turns, err := store.RecentTurns(ctx, "thread-1", 4)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("Expected 4 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		want := int64(i + 3)
		if turn.Seq != want {
			t.Errorf("Expected seq %d at position %d, got %d", want, i, turn.Seq)
		}
	}
}

func TestSQLiteBackend_ConcurrentAppends(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	store := NewStore(backend)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.AppendTurns(ctx, "thread-1", []NewTurn{
				{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)},
			}); err != nil {
				t.Errorf("AppendTurns failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := store.TurnCount(ctx, "thread-1")
	if err != nil {
		t.Fatalf("TurnCount failed: %v", err)
	}
	if count != writers {
		t.Errorf("Expected %d turns, got %d", writers, count)
	}

	turns, _ := store.RecentTurns(ctx, "thread-1", 0)
	for i, turn := range turns {
		if turn.Seq != int64(i+1) {
			t.Fatalf("Expected dense seqs, got %d at position %d", turn.Seq, i)
		}
	}
}

func TestSQLiteBackend_PruneIdleThreads(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	backend.InsertTurns(ctx, []Turn{
		{ThreadID: "stale", Seq: 1, Role: RoleUser, Content: "old", CreatedAt: old},
		{ThreadID: "stale", Seq: 2, Role: RoleAssistant, Content: "old", CreatedAt: old},
		{ThreadID: "active", Seq: 1, Role: RoleUser, Content: "new", CreatedAt: fresh},
	})

	deleted, err := backend.PruneIdleThreads(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneIdleThreads failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted turns, got %d", deleted)
	}

	count, _ := backend.TurnCount(ctx, "active")
	if count != 1 {
		t.Errorf("Expected active thread untouched, got %d turns", count)
	}
	count, _ = backend.TurnCount(ctx, "stale")
	if count != 0 {
		t.Errorf("Expected stale thread deleted, got %d turns", count)
	}
}

func TestSQLiteBackend_PruneKeepsThreadWithRecentTail(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	// A thread with old turns but recent activity must survive whole.
	backend.InsertTurns(ctx, []Turn{
		{ThreadID: "mixed", Seq: 1, Role: RoleUser, Content: "old", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)},
		{ThreadID: "mixed", Seq: 2, Role: RoleUser, Content: "new", CreatedAt: time.Now().UTC()},
	})

	deleted, err := backend.PruneIdleThreads(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneIdleThreads failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected no deletions, got %d", deleted)
	}
}

func TestPruner_DisabledWithoutRetention(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	backend.InsertTurns(ctx, []Turn{
		{ThreadID: "t", Seq: 1, Role: RoleUser, Content: "x", CreatedAt: time.Now().Add(-1000 * time.Hour)},
	})

	pruner := NewPruner(backend, RetentionConfig{RetentionDays: 0})
	deleted, err := pruner.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected pruning disabled, got %d deletions", deleted)
	}
}

func TestRetentionScheduler_StartStop(t *testing.T) {
	backend := NewMemoryBackend()
	pruner := NewPruner(backend, RetentionConfig{
		RetentionDays: 7,
		PruneSchedule: "0 3 * * *",
	})
	scheduler := NewRetentionScheduler(pruner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !scheduler.IsRunning() {
		t.Error("Expected scheduler running")
	}

	scheduler.Stop()
	if scheduler.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
}

func TestRetentionScheduler_InvalidSchedule(t *testing.T) {
	pruner := NewPruner(NewMemoryBackend(), RetentionConfig{
		RetentionDays: 7,
		PruneSchedule: "not a cron expression",
	})
	scheduler := NewRetentionScheduler(pruner)

	if err := scheduler.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid cron schedule")
	}
}
