package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeProvider is a minimal Provider for registry tests.
type fakeProvider struct {
	name   string
	closed bool
}

func (f *fakeProvider) StreamCompletion(ctx context.Context, req *CompletionRequest) (<-chan *StreamChunk, error) {
	ch := make(chan *StreamChunk)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) GetName() string { return f.name }

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&fakeProvider{name: "ollama"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p, err := reg.Get("ollama")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.GetName() != "ollama" {
		t.Errorf("Expected ollama, got %s", p.GetName())
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&fakeProvider{name: "ollama"}); err != nil {
		t.Fatalf("First register failed: %v", err)
	}

	err := reg.Register(&fakeProvider{name: "ollama"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigError for duplicate name, got %v", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("missing")
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "vllm"})
	reg.Register(&fakeProvider{name: "ollama"})

	names := reg.Names()
	if len(names) != 2 || names[0] != "ollama" || names[1] != "vllm" {
		t.Errorf("Expected sorted names [ollama vllm], got %v", names)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()
	p1 := &fakeProvider{name: "a"}
	p2 := &fakeProvider{name: "b"}
	reg.Register(p1)
	reg.Register(p2)

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !p1.closed || !p2.closed {
		t.Error("Expected all providers closed")
	}
	if len(reg.Names()) != 0 {
		t.Error("Expected registry emptied after Close")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "ollama"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Get("ollama"); err != nil {
				t.Errorf("Get failed: %v", err)
			}
			reg.Names()
		}()
	}
	wg.Wait()
}
