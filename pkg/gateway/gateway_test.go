package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/assembler"
	"mercator-hq/ganymede/pkg/broadcast"
	"mercator-hq/ganymede/pkg/coalesce"
	"mercator-hq/ganymede/pkg/pacer"
	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/retry"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/thread"
	"mercator-hq/ganymede/pkg/tokens"
)

// ============================================================
// Test fixtures
// ============================================================

// fakeProvider scripts a streamed response and records every request it
// serves.
type fakeProvider struct {
	name   string
	chunks []*providers.StreamChunk

	// hold, when non-nil, delays chunk emission until closed. A call whose
	// context ends while holding emits nothing.
	hold chan struct{}

	// started receives one signal per StreamCompletion call.
	started chan struct{}

	// aborted is closed when a held call observes context cancellation.
	aborted chan struct{}

	calls atomic.Int32

	mu       sync.Mutex
	requests []*providers.CompletionRequest
}

func (f *fakeProvider) StreamCompletion(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.StreamChunk, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks := f.chunks
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}

	out := make(chan *providers.StreamChunk, len(chunks))
	go func() {
		defer close(out)

		if f.hold != nil {
			select {
			case <-f.hold:
			case <-ctx.Done():
				if f.aborted != nil {
					close(f.aborted)
				}
				return
			}
		}

		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeProvider) GetName() string { return f.name }
func (f *fakeProvider) Close() error    { return nil }

func (f *fakeProvider) lastRequest() *providers.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// failingReader simulates an unreachable turn store.
type failingReader struct{}

func (failingReader) RecentTurns(ctx context.Context, threadID string, limit int) ([]thread.Turn, error) {
	return nil, retry.Permanent(errors.New("store down"))
}

func (failingReader) TurnCount(ctx context.Context, threadID string) (int64, error) {
	return 0, errors.New("store down")
}

func okChunks(deltas ...string) []*providers.StreamChunk {
	out := make([]*providers.StreamChunk, 0, len(deltas)+1)
	for _, d := range deltas {
		out = append(out, &providers.StreamChunk{Delta: d})
	}
	out = append(out, &providers.StreamChunk{
		FinishReason: providers.FinishReasonStop,
		Usage:        &providers.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	return out
}

type testEnv struct {
	gateway  *Gateway
	store    *thread.Store
	provider *fakeProvider
}

func newTestEnv(t *testing.T, prov *fakeProvider) *testEnv {
	t.Helper()

	store := thread.NewStore(thread.NewMemoryBackend())
	cache := assembler.NewMemoryCache(50, time.Minute)
	asm := assembler.New(store, cache, tokens.NewSimpleEstimator(nil), assembler.Config{}, retry.Policy{
		MaxTries:        2,
		MaxElapsed:      200 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})

	registry := providers.NewRegistry()
	if err := registry.Register(prov); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	pc := pacer.New(pacer.Limits{MaxConcurrent: 16, MaxQueueDepth: 16, MaxWait: time.Second}, nil)
	resolver := routing.NewResolver(nil, prov.name)
	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)

	gw := New(asm, pc, registry, resolver, store, cache, collector, Config{
		SystemPrompt:    "You are a helpful assistant.",
		UpstreamTimeout: 5 * time.Second,
	})
	return &testEnv{gateway: gw, store: store, provider: prov}
}

// drain reads the stream to completion.
func drain(t *testing.T, s *ChatStream, timeout time.Duration) []broadcast.Event {
	t.Helper()

	var out []broadcast.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("Timed out draining stream after %d events", len(out))
		}
	}
}

// waitTurnCount polls until the thread holds want turns. Persistence runs
// after the terminal event, so readers may observe it slightly later.
func waitTurnCount(t *testing.T, store *thread.Store, threadID string, want int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := store.TurnCount(context.Background(), threadID)
		if err != nil {
			t.Fatalf("TurnCount failed: %v", err)
		}
		if n == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	n, _ := store.TurnCount(context.Background(), threadID)
	t.Fatalf("Expected %d turns in thread %s, got %d", want, threadID, n)
}

// ============================================================
// Single request
// ============================================================

func TestChat_StreamsFullSequence(t *testing.T) {
	prov := &fakeProvider{name: "fake", chunks: okChunks("Hel", "lo!")}
	env := newTestEnv(t, prov)

	stream, err := env.gateway.Chat(context.Background(), &ChatRequest{
		ThreadID: "t1",
		Content:  "Say hello",
		Model:    "llama-3",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	defer stream.Close()

	if stream.Role != coalesce.RoleLeader {
		t.Errorf("Expected leader role, got %s", stream.Role)
	}

	events := drain(t, stream, 2*time.Second)
	if len(events) != 4 {
		t.Fatalf("Expected 4 events (meta, 2 deltas, done), got %d: %+v", len(events), events)
	}

	if events[0].Type != broadcast.EventMeta {
		t.Errorf("Expected meta first, got %s", events[0].Type)
	}
	if events[0].Meta.RequestID != stream.RequestID {
		t.Errorf("Meta request ID %s does not match stream %s", events[0].Meta.RequestID, stream.RequestID)
	}
	if events[0].Meta.Provider != "fake" || events[0].Meta.Model != "llama-3" {
		t.Errorf("Unexpected meta route: %+v", events[0].Meta)
	}

	if events[1].Delta != "Hel" || events[2].Delta != "lo!" {
		t.Errorf("Unexpected deltas: %q %q", events[1].Delta, events[2].Delta)
	}

	final := events[3]
	if final.Type != broadcast.EventDone {
		t.Fatalf("Expected done terminal, got %s", final.Type)
	}
	if final.Done.FinishReason != providers.FinishReasonStop {
		t.Errorf("Expected stop finish reason, got %s", final.Done.FinishReason)
	}
	if final.Done.CompletionTokens != 5 {
		t.Errorf("Expected completion tokens 5, got %d", final.Done.CompletionTokens)
	}
}

func TestChat_PersistsBothTurnsOnce(t *testing.T) {
	prov := &fakeProvider{name: "fake", chunks: okChunks("Hi ", "there")}
	env := newTestEnv(t, prov)

	stream, err := env.gateway.Chat(context.Background(), &ChatRequest{
		ThreadID: "t1",
		Content:  "Say hi",
		Model:    "m",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	drain(t, stream, 2*time.Second)
	stream.Close()

	waitTurnCount(t, env.store, "t1", 2)

	turns, err := env.store.RecentTurns(context.Background(), "t1", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if turns[0].Role != thread.RoleUser || turns[0].Content != "Say hi" {
		t.Errorf("Unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != thread.RoleAssistant || turns[1].Content != "Hi there" {
		t.Errorf("Unexpected assistant turn: %+v", turns[1])
	}
	if turns[0].Seq != 1 || turns[1].Seq != 2 {
		t.Errorf("Expected seqs 1,2, got %d,%d", turns[0].Seq, turns[1].Seq)
	}
}

func TestChat_NoThreadIDSkipsPersistence(t *testing.T) {
	prov := &fakeProvider{name: "fake", chunks: okChunks("ok")}
	env := newTestEnv(t, prov)

	stream, err := env.gateway.Chat(context.Background(), &ChatRequest{
		Content: "one-shot",
		Model:   "m",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	events := drain(t, stream, 2*time.Second)
	stream.Close()

	if events[len(events)-1].Type != broadcast.EventDone {
		t.Fatalf("Expected done, got %s", events[len(events)-1].Type)
	}
}

func TestChat_EmptyContentRejected(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{name: "fake"})

	if _, err := env.gateway.Chat(context.Background(), &ChatRequest{ThreadID: "t", Model: "m"}); err == nil {
		t.Error("Expected error for empty content")
	}
}

func TestChat_UnknownProviderRejected(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{name: "fake"})

	_, err := env.gateway.Chat(context.Background(), &ChatRequest{
		Content:  "hi",
		Provider: "ghost",
		Model:    "m",
	})
	if err == nil {
		t.Error("Expected error for unknown provider")
	}
}

// ============================================================
// Multi-turn conversation
// ============================================================

func TestChat_SecondTurnCarriesHistory(t *testing.T) {
	prov := &fakeProvider{name: "fake", chunks: okChunks("Paris")}
	env := newTestEnv(t, prov)

	first, err := env.gateway.Chat(context.Background(), &ChatRequest{
		ThreadID: "geo", Content: "Capital of France?", Model: "m",
	})
	if err != nil {
		t.Fatalf("First Chat failed: %v", err)
	}
	drain(t, first, 2*time.Second)
	first.Close()
	waitTurnCount(t, env.store, "geo", 2)

	prov.mu.Lock()
	prov.chunks = okChunks("About 2 million")
	prov.mu.Unlock()

	second, err := env.gateway.Chat(context.Background(), &ChatRequest{
		ThreadID: "geo", Content: "Population?", Model: "m",
	})
	if err != nil {
		t.Fatalf("Second Chat failed: %v", err)
	}
	drain(t, second, 2*time.Second)
	second.Close()
	waitTurnCount(t, env.store, "geo", 4)

	req := prov.lastRequest()
	want := []providers.Message{
		{Role: providers.RoleSystem, Content: "You are a helpful assistant."},
		{Role: providers.RoleUser, Content: "Capital of France?"},
		{Role: providers.RoleAssistant, Content: "Paris"},
		{Role: providers.RoleUser, Content: "Population?"},
	}
	if len(req.Messages) != len(want) {
		t.Fatalf("Expected %d messages, got %d: %+v", len(want), len(req.Messages), req.Messages)
	}
	for i, msg := range want {
		if req.Messages[i] != msg {
			t.Errorf("Message %d: expected %+v, got %+v", i, msg, req.Messages[i])
		}
	}
}

func TestChat_StoreDownDegradesToMinimalContext(t *testing.T) {
	prov := &fakeProvider{name: "fake", chunks: okChunks("still works")}

	store := thread.NewStore(thread.NewMemoryBackend())
	asm := assembler.New(failingReader{}, nil, tokens.NewSimpleEstimator(nil), assembler.Config{}, retry.Policy{
		MaxTries:        2,
		MaxElapsed:      100 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})
	registry := providers.NewRegistry()
	registry.Register(prov)
	gw := New(asm,
		pacer.New(pacer.Limits{MaxConcurrent: 4}, nil),
		registry,
		routing.NewResolver(nil, "fake"),
		store, nil,
		metrics.NewCollector(metrics.Config{}, nil),
		Config{SystemPrompt: "sys"},
	)

	stream, err := gw.Chat(context.Background(), &ChatRequest{
		ThreadID: "t1", Content: "hello", Model: "m",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	events := drain(t, stream, 2*time.Second)
	stream.Close()

	if events[len(events)-1].Type != broadcast.EventDone {
		t.Fatalf("Expected done despite store outage, got %s", events[len(events)-1].Type)
	}

	req := prov.lastRequest()
	if len(req.Messages) != 2 {
		t.Fatalf("Expected minimal context (system + user), got %d messages", len(req.Messages))
	}
}

// ============================================================
// Coalescing
// ============================================================

func TestChat_ConcurrentIdenticalShareOneUpstreamCall(t *testing.T) {
	const clients = 8

	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("shared ", "answer"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, clients),
	}
	env := newTestEnv(t, prov)

	req := &ChatRequest{ThreadID: "t1", Content: "same question", Model: "m"}

	streams := make([]*ChatStream, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := env.gateway.Chat(context.Background(), req)
			if err != nil {
				t.Errorf("Chat %d failed: %v", i, err)
				return
			}
			streams[i] = s
		}(i)
	}
	wg.Wait()

	// Everyone is subscribed; release the upstream.
	<-prov.started
	close(prov.hold)

	sequences := make([][]broadcast.Event, clients)
	for i, s := range streams {
		sequences[i] = drain(t, s, 2*time.Second)
		s.Close()
	}

	if got := prov.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 upstream call, got %d", got)
	}

	leaders := 0
	for _, s := range streams {
		if s.Role == coalesce.RoleLeader {
			leaders++
		}
		if s.RequestID != streams[0].RequestID {
			t.Errorf("Expected one shared request ID, got %s and %s", streams[0].RequestID, s.RequestID)
		}
	}
	if leaders != 1 {
		t.Errorf("Expected exactly 1 leader, got %d", leaders)
	}

	for i := 1; i < clients; i++ {
		if len(sequences[i]) != len(sequences[0]) {
			t.Fatalf("Subscriber %d saw %d events, subscriber 0 saw %d",
				i, len(sequences[i]), len(sequences[0]))
		}
		for j := range sequences[0] {
			if sequences[i][j].Type != sequences[0][j].Type ||
				sequences[i][j].Delta != sequences[0][j].Delta {
				t.Errorf("Subscriber %d event %d differs: %+v vs %+v",
					i, j, sequences[i][j], sequences[0][j])
			}
		}
	}

	// One upstream call, one pair of turns.
	waitTurnCount(t, env.store, "t1", 2)
}

func TestChat_DifferentRequestsGetSeparateCalls(t *testing.T) {
	// Different content while the first is still running must not coalesce.
	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("y"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, 2),
	}
	env := newTestEnv(t, prov)

	s1, err := env.gateway.Chat(context.Background(), &ChatRequest{Content: "alpha", Model: "m"})
	if err != nil {
		t.Fatalf("Chat alpha failed: %v", err)
	}
	s2, err := env.gateway.Chat(context.Background(), &ChatRequest{Content: "beta", Model: "m"})
	if err != nil {
		t.Fatalf("Chat beta failed: %v", err)
	}

	<-prov.started
	<-prov.started
	close(prov.hold)

	drain(t, s1, 2*time.Second)
	drain(t, s2, 2*time.Second)
	s1.Close()
	s2.Close()

	if got := prov.calls.Load(); got != 2 {
		t.Errorf("Expected 2 upstream calls for distinct requests, got %d", got)
	}
	if s1.RequestID == s2.RequestID {
		t.Error("Distinct requests must not share a request ID")
	}
}

func TestChat_RepeatAfterCompletionLeadsFreshCall(t *testing.T) {
	prov := &fakeProvider{name: "fake", chunks: okChunks("a")}
	env := newTestEnv(t, prov)

	req := &ChatRequest{Content: "same", Model: "m"}

	s1, err := env.gateway.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("First Chat failed: %v", err)
	}
	drain(t, s1, 2*time.Second)
	s1.Close()

	s2, err := env.gateway.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Second Chat failed: %v", err)
	}
	drain(t, s2, 2*time.Second)
	s2.Close()

	if s2.Role != coalesce.RoleLeader {
		t.Errorf("Post-completion arrival must lead, got %s", s2.Role)
	}
	if s1.RequestID == s2.RequestID {
		t.Error("Fresh call must mint a new request ID")
	}
	if got := prov.calls.Load(); got != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", got)
	}
}

func TestChat_MidStreamJoinerSeesFullSequence(t *testing.T) {
	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("one", "two", "three"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	env := newTestEnv(t, prov)

	req := &ChatRequest{Content: "q", Model: "m"}

	leader, err := env.gateway.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Leader Chat failed: %v", err)
	}
	<-prov.started

	// The meta event is already published; a joiner now must still see it.
	follower, err := env.gateway.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Follower Chat failed: %v", err)
	}
	if follower.Role != coalesce.RoleFollower {
		t.Fatalf("Expected follower, got %s", follower.Role)
	}

	close(prov.hold)

	leaderEvents := drain(t, leader, 2*time.Second)
	followerEvents := drain(t, follower, 2*time.Second)
	leader.Close()
	follower.Close()

	if len(followerEvents) != len(leaderEvents) {
		t.Fatalf("Follower saw %d events, leader %d", len(followerEvents), len(leaderEvents))
	}
	if followerEvents[0].Type != broadcast.EventMeta {
		t.Errorf("Follower must see the meta event first, got %s", followerEvents[0].Type)
	}
}

// ============================================================
// Cancellation
// ============================================================

func TestCancel_OneOfTwoLeavesStreamRunning(t *testing.T) {
	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("full ", "answer"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	env := newTestEnv(t, prov)

	req := &ChatRequest{Content: "q", Model: "m"}

	leader, err := env.gateway.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Leader Chat failed: %v", err)
	}
	<-prov.started
	follower, err := env.gateway.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Follower Chat failed: %v", err)
	}

	if err := env.gateway.Cancel(follower.RequestID, follower.SubscriberID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	close(prov.hold)

	events := drain(t, leader, 2*time.Second)
	leader.Close()

	if events[len(events)-1].Type != broadcast.EventDone {
		t.Errorf("Leader stream must complete after follower cancel, got %s",
			events[len(events)-1].Type)
	}

	// The cancelled follower's channel closes without a terminal event.
	followerEvents := drain(t, follower, 2*time.Second)
	for _, ev := range followerEvents {
		if ev.Terminal() {
			t.Errorf("Cancelled follower must not receive a terminal event, got %s", ev.Type)
		}
	}
}

func TestCancel_LastSubscriberAbortsUpstream(t *testing.T) {
	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("never delivered"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
		aborted: make(chan struct{}),
	}
	env := newTestEnv(t, prov)

	stream, err := env.gateway.Chat(context.Background(), &ChatRequest{
		ThreadID: "t1", Content: "q", Model: "m",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	<-prov.started

	if err := env.gateway.Cancel(stream.RequestID, stream.SubscriberID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case <-prov.aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("Upstream context not cancelled after last subscriber left")
	}

	// An aborted call leaves no partial assistant turn.
	time.Sleep(50 * time.Millisecond)
	n, err := env.store.TurnCount(context.Background(), "t1")
	if err != nil {
		t.Fatalf("TurnCount failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no persisted turns after abort, got %d", n)
	}
}

func TestCancel_CloseIsEquivalentAndIdempotent(t *testing.T) {
	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("x"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
		aborted: make(chan struct{}),
	}
	env := newTestEnv(t, prov)

	stream, err := env.gateway.Chat(context.Background(), &ChatRequest{Content: "q", Model: "m"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	<-prov.started

	stream.Close()
	stream.Close()

	select {
	case <-prov.aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("Upstream context not cancelled after Close")
	}

	// The handle is gone once the subscriber detached.
	if err := env.gateway.Cancel(stream.RequestID, stream.SubscriberID); !errors.Is(err, ErrUnknownSubscription) {
		t.Errorf("Expected ErrUnknownSubscription after Close, got %v", err)
	}
}

func TestCancel_UnknownSubscription(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{name: "fake"})

	if err := env.gateway.Cancel("nope", "nobody"); !errors.Is(err, ErrUnknownSubscription) {
		t.Errorf("Expected ErrUnknownSubscription, got %v", err)
	}
}

// ============================================================
// Failure paths
// ============================================================

func TestChat_UpstreamStreamErrorTerminatesWithErrorEvent(t *testing.T) {
	prov := &fakeProvider{
		name: "fake",
		chunks: []*providers.StreamChunk{
			{Delta: "partial"},
			{Error: fmt.Errorf("connection reset")},
		},
	}
	env := newTestEnv(t, prov)

	stream, err := env.gateway.Chat(context.Background(), &ChatRequest{
		ThreadID: "t1", Content: "q", Model: "m",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	events := drain(t, stream, 2*time.Second)
	stream.Close()

	final := events[len(events)-1]
	if final.Type != broadcast.EventError {
		t.Fatalf("Expected error terminal, got %s", final.Type)
	}
	if final.Error == "" {
		t.Error("Error event must carry a message")
	}

	// Failed calls persist nothing.
	time.Sleep(50 * time.Millisecond)
	n, _ := env.store.TurnCount(context.Background(), "t1")
	if n != 0 {
		t.Errorf("Expected no turns after stream error, got %d", n)
	}
}

func TestChat_PacerRejectionBecomesErrorEvent(t *testing.T) {
	prov := &fakeProvider{
		name:    "fake",
		chunks:  okChunks("x"),
		hold:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	defer close(prov.hold)

	store := thread.NewStore(thread.NewMemoryBackend())
	asm := assembler.New(store, nil, tokens.NewSimpleEstimator(nil), assembler.Config{}, retry.DefaultPolicy())
	registry := providers.NewRegistry()
	registry.Register(prov)
	gw := New(asm,
		pacer.New(pacer.Limits{MaxConcurrent: 1, MaxQueueDepth: 1, MaxWait: 50 * time.Millisecond}, nil),
		registry,
		routing.NewResolver(nil, "fake"),
		store, nil,
		metrics.NewCollector(metrics.Config{}, nil),
		Config{},
	)

	// Occupy the single slot.
	first, err := gw.Chat(context.Background(), &ChatRequest{Content: "a", Model: "m"})
	if err != nil {
		t.Fatalf("First Chat failed: %v", err)
	}
	defer first.Close()
	<-prov.started

	// A different request now exceeds the queue wait.
	second, err := gw.Chat(context.Background(), &ChatRequest{Content: "b", Model: "m"})
	if err != nil {
		t.Fatalf("Second Chat failed: %v", err)
	}
	events := drain(t, second, 2*time.Second)
	second.Close()

	final := events[len(events)-1]
	if final.Type != broadcast.EventError {
		t.Fatalf("Expected error terminal for paced-out request, got %s", final.Type)
	}
}
