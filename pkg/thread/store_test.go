package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// ============================================================================
// Append Tests
// ============================================================================

func TestStore_AppendAssignsSequence(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	stored, err := store.AppendTurns(ctx, "thread-1", []NewTurn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}

	if len(stored) != 2 {
		t.Fatalf("Expected 2 stored turns, got %d", len(stored))
	}
	if stored[0].Seq != 1 || stored[1].Seq != 2 {
		t.Errorf("Expected seqs 1,2, got %d,%d", stored[0].Seq, stored[1].Seq)
	}

	// A second append continues the sequence.
	stored, err = store.AppendTurns(ctx, "thread-1", []NewTurn{
		{Role: RoleUser, Content: "next"},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}
	if stored[0].Seq != 3 {
		t.Errorf("Expected seq 3, got %d", stored[0].Seq)
	}
}

func TestStore_AppendValidation(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	tests := []struct {
		name     string
		threadID string
		turns    []NewTurn
	}{
		{"empty thread id", "", []NewTurn{{Role: RoleUser, Content: "x"}}},
		{"bad role", "t", []NewTurn{{Role: "system", Content: "x"}}},
		{"empty content", "t", []NewTurn{{Role: RoleUser, Content: ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AppendTurns(ctx, tt.threadID, tt.turns)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestStore_AppendEmptyIsNoop(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	stored, err := store.AppendTurns(ctx, "thread-1", nil)
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Expected empty result, got %d turns", len(stored))
	}

	count, _ := store.TurnCount(ctx, "thread-1")
	if count != 0 {
		t.Errorf("Expected 0 turns stored, got %d", count)
	}
}

func TestStore_ConcurrentAppendsSameThread(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendTurns(ctx, "thread-1", []NewTurn{
				{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)},
			})
			if err != nil {
				t.Errorf("AppendTurns failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := store.RecentTurns(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != writers {
		t.Fatalf("Expected %d turns, got %d", writers, len(turns))
	}

	// Sequence numbers must be dense and strictly increasing.
	for i, turn := range turns {
		if turn.Seq != int64(i+1) {
			t.Fatalf("Expected seq %d at position %d, got %d", i+1, i, turn.Seq)
		}
	}
}

func TestStore_ConcurrentAppendsDifferentThreads(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	const threads = 20
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			threadID := fmt.Sprintf("thread-%d", i)
			for j := 0; j < 5; j++ {
				if _, err := store.AppendTurns(ctx, threadID, []NewTurn{
					{Role: RoleUser, Content: "x"},
				}); err != nil {
					t.Errorf("AppendTurns failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < threads; i++ {
		count, err := store.TurnCount(ctx, fmt.Sprintf("thread-%d", i))
		if err != nil {
			t.Fatalf("TurnCount failed: %v", err)
		}
		if count != 5 {
			t.Errorf("Expected 5 turns in thread-%d, got %d", i, count)
		}
	}
}

// ============================================================================
// Read Tests
// ============================================================================

func TestStore_RecentTurnsLimit(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		store.AppendTurns(ctx, "thread-1", []NewTurn{
			{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)},
		})
	}

	turns, err := store.RecentTurns(ctx, "thread-1", 3)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(turns))
	}

	// The newest turns, in ascending order.
	if turns[0].Seq != 8 || turns[2].Seq != 10 {
		t.Errorf("Expected seqs 8..10, got %d..%d", turns[0].Seq, turns[2].Seq)
	}
}

func TestStore_UnknownThreadIsEmpty(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	turns, err := store.RecentTurns(ctx, "missing", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("Expected empty slice for unknown thread, got %d turns", len(turns))
	}
}

func TestStore_ReadDoesNotMutate(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	store.AppendTurns(ctx, "thread-1", []NewTurn{{Role: RoleUser, Content: "hello"}})

	turns, _ := store.RecentTurns(ctx, "thread-1", 0)
	turns[0].Content = "mutated"

	again, _ := store.RecentTurns(ctx, "thread-1", 0)
	if again[0].Content != "hello" {
		t.Error("Read result mutation leaked into the store")
	}
}
