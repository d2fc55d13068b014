// Package gateway orchestrates a chat request end to end: routing, context
// assembly, coalescing, pacing, the upstream call, fan-out, and persistence.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/assembler"
	"mercator-hq/ganymede/pkg/broadcast"
	"mercator-hq/ganymede/pkg/coalesce"
	"mercator-hq/ganymede/pkg/pacer"
	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/thread"
)

// ErrUnknownSubscription is returned by Cancel for an unknown request or
// subscriber ID.
var ErrUnknownSubscription = errors.New("unknown subscription")

// Config contains gateway orchestration settings.
type Config struct {
	// SystemPrompt is prepended to every assembled context.
	SystemPrompt string

	// SubscriberBuffer is the per-subscriber event channel headroom.
	SubscriberBuffer int

	// UpstreamTimeout bounds one upstream call end to end, including the
	// pacer wait. Default: 5 minutes
	UpstreamTimeout time.Duration

	// PersistTimeout bounds the post-completion turn write.
	// Default: 10 seconds
	PersistTimeout time.Duration
}

// ChatRequest is one client chat request.
type ChatRequest struct {
	// ThreadID selects the conversation. Empty means a one-shot request
	// with no history and no persistence.
	ThreadID string

	// Content is the new user turn.
	Content string

	// Provider optionally pins the upstream provider.
	Provider string

	// Model is the requested model.
	Model string
}

// ChatStream is one subscriber's view of a (possibly shared) response.
type ChatStream struct {
	// RequestID identifies the shared upstream response.
	RequestID string

	// SubscriberID identifies this subscriber for cancellation.
	SubscriberID string

	// Role reports whether this request started the upstream call or
	// attached to one already in flight.
	Role coalesce.Role

	// Provider and Model are the resolved route.
	Provider string
	Model    string

	events <-chan broadcast.Event
	cancel func()
}

// Events returns the subscriber's event channel. See broadcast.Subscriber.
func (s *ChatStream) Events() <-chan broadcast.Event {
	return s.events
}

// Close detaches the subscriber. If it is the last one on a live stream,
// the upstream call is aborted. Close is idempotent.
func (s *ChatStream) Close() {
	s.cancel()
}

// Gateway coordinates the request path.
type Gateway struct {
	assembler *assembler.Assembler
	registry  *coalesce.Registry
	pacer     *pacer.Pacer
	providers providers.Set
	resolver  *routing.Resolver
	writer    thread.Writer
	cache     assembler.HistoryCache
	metrics   *metrics.Collector
	config    Config
	subs      *subscriptions
	logger    *slog.Logger
}

// New creates a gateway. cache may be nil (no write-through after
// completion); metrics must not be nil.
func New(
	asm *assembler.Assembler,
	pc *pacer.Pacer,
	set providers.Set,
	resolver *routing.Resolver,
	writer thread.Writer,
	cache assembler.HistoryCache,
	collector *metrics.Collector,
	config Config,
) *Gateway {
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = 5 * time.Minute
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = 10 * time.Second
	}
	return &Gateway{
		assembler: asm,
		registry:  coalesce.NewRegistry(),
		pacer:     pc,
		providers: set,
		resolver:  resolver,
		writer:    writer,
		cache:     cache,
		metrics:   collector,
		config:    config,
		subs:      newSubscriptions(),
		logger:    slog.Default().With("component", "gateway"),
	}
}

// Chat handles one chat request. Identical concurrent requests share a
// single upstream call: the first arrival leads and drives it, later
// arrivals follow the same stream. The returned ChatStream must be closed
// by the caller when it stops reading.
func (g *Gateway) Chat(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("content must not be empty")
	}

	decision, err := g.resolver.Resolve(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}
	if _, err := g.providers.Get(decision.Provider); err != nil {
		return nil, err
	}

	arrived := time.Now()
	key := coalesce.NewKey(req.ThreadID, req.Content, decision.Provider, decision.Model)

	var driveCtx context.Context
	var driveCancel context.CancelFunc
	entry, role := g.registry.JoinOrLead(key, func() *coalesce.Entry {
		driveCtx, driveCancel = context.WithTimeout(context.Background(), g.config.UpstreamTimeout)
		cancel := driveCancel
		stream := broadcast.New(g.config.SubscriberBuffer, cancel)
		stream.SetOnDrop(func(string) { g.metrics.RecordDroppedSubscriber() })
		return &coalesce.Entry{
			RequestID: uuid.NewString(),
			Stream:    stream,
		}
	})

	subscriberID := uuid.NewString()
	sub, err := entry.Stream.Subscribe(subscriberID)
	if err != nil {
		if role == coalesce.RoleLeader {
			driveCancel()
			g.registry.Remove(entry)
		}
		return nil, err
	}

	g.subs.add(entry.RequestID, subscriberID, entry)
	g.metrics.RecordCoalesce(string(role))

	if role == coalesce.RoleLeader {
		go g.drive(driveCtx, driveCancel, entry, req, decision, arrived)
	}

	stream := &ChatStream{
		RequestID:    entry.RequestID,
		SubscriberID: subscriberID,
		Role:         role,
		Provider:     decision.Provider,
		Model:        decision.Model,
		events:       sub.Events(),
	}
	stream.cancel = func() {
		g.detach(entry, subscriberID)
	}
	return stream, nil
}

// Cancel detaches one subscriber from its stream. When the last subscriber
// of a live stream is cancelled, the upstream call is aborted.
func (g *Gateway) Cancel(requestID, subscriberID string) error {
	entry, ok := g.subs.get(requestID, subscriberID)
	if !ok {
		return ErrUnknownSubscription
	}
	g.detach(entry, subscriberID)
	return nil
}

// detach unsubscribes and drops the cancellation handle.
func (g *Gateway) detach(entry *coalesce.Entry, subscriberID string) {
	g.subs.remove(entry.RequestID, subscriberID)
	entry.Stream.Unsubscribe(subscriberID)
}

// drive runs the upstream call for an entry and publishes its event
// sequence. It is detached from any one client's context: followers may
// come and go while it runs, and it stops early only when the stream's
// onEmpty hook cancels driveCtx (every subscriber left) or the upstream
// timeout fires.
func (g *Gateway) drive(
	ctx context.Context,
	cancel context.CancelFunc,
	entry *coalesce.Entry,
	req *ChatRequest,
	decision routing.Decision,
	arrived time.Time,
) {
	defer cancel()
	defer g.registry.Remove(entry)
	defer g.subs.dropRequest(entry.RequestID)

	logger := g.logger.With(
		"request_id", entry.RequestID,
		"thread_id", req.ThreadID,
		"provider", decision.Provider,
		"model", decision.Model,
	)

	// The meta event goes out before any slow work (assembly, pacer wait,
	// upstream connect) so every subscriber learns the response identity
	// immediately.
	g.publish(entry, broadcast.Event{
		Type: broadcast.EventMeta,
		Meta: &broadcast.Meta{
			RequestID: entry.RequestID,
			ThreadID:  req.ThreadID,
			Provider:  decision.Provider,
			Model:     decision.Model,
		},
	})
	g.metrics.RecordTimeToFirstEvent(decision.Provider, time.Since(arrived))

	bundle, err := g.assembler.Assemble(ctx, req.ThreadID, g.config.SystemPrompt, req.Content, decision.Model)
	if err != nil {
		logger.Error("context assembly failed", "error", err)
		g.fail(entry, decision, arrived, "invalid request")
		return
	}
	g.metrics.RecordAssembly(string(bundle.Source))

	pacerStart := time.Now()
	release, err := g.pacer.Acquire(ctx, decision.Provider)
	g.metrics.RecordPacerWait(decision.Provider, time.Since(pacerStart))
	if err != nil {
		var rateErr *pacer.RateLimitedError
		if errors.As(err, &rateErr) {
			g.metrics.RecordPacerRejection(decision.Provider, rateErr.Reason)
			logger.Warn("request rejected by pacer", "reason", rateErr.Reason)
			g.fail(entry, decision, arrived, "provider is at capacity, try again later")
			return
		}
		logger.Info("request cancelled while waiting for permit")
		g.fail(entry, decision, arrived, "request cancelled")
		return
	}
	defer release()

	prov, err := g.providers.Get(decision.Provider)
	if err != nil {
		g.fail(entry, decision, arrived, "provider unavailable")
		return
	}

	chunks, err := prov.StreamCompletion(ctx, &providers.CompletionRequest{
		Model:    decision.Model,
		Messages: bundle.Messages,
		Stream:   true,
		Metadata: map[string]string{
			"request_id": entry.RequestID,
			"thread_id":  req.ThreadID,
		},
	})
	if err != nil {
		logger.Error("upstream call failed", "error", err)
		g.metrics.RecordUpstreamCall(decision.Provider, "error")
		g.fail(entry, decision, arrived, "upstream request failed")
		return
	}

	var content []byte
	var usage *providers.TokenUsage
	finishReason := providers.FinishReasonStop

	for chunk := range chunks {
		if chunk.Error != nil {
			logger.Error("upstream stream failed", "error", chunk.Error)
			g.metrics.RecordUpstreamCall(decision.Provider, "stream_error")
			g.fail(entry, decision, arrived, "upstream stream failed")
			return
		}
		if chunk.Delta != "" {
			content = append(content, chunk.Delta...)
			g.publish(entry, broadcast.Event{Type: broadcast.EventDelta, Delta: chunk.Delta})
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	if ctx.Err() != nil {
		// Aborted: either every subscriber cancelled or the upstream
		// timeout fired. Nothing is persisted.
		logger.Info("upstream call aborted", "reason", ctx.Err())
		g.metrics.RecordUpstreamCall(decision.Provider, "aborted")
		g.fail(entry, decision, arrived, "request cancelled")
		return
	}

	done := &broadcast.Done{FinishReason: finishReason}
	if usage != nil {
		done.PromptTokens = usage.PromptTokens
		done.CompletionTokens = usage.CompletionTokens
	}
	g.publish(entry, broadcast.Event{Type: broadcast.EventDone, Done: done})

	g.metrics.RecordUpstreamCall(decision.Provider, "success")
	g.metrics.RecordRequest(decision.Provider, decision.Model, "success", time.Since(arrived))

	g.persist(req, string(content), logger)
}

// persist writes the user and assistant turns once per upstream call and
// extends the history cache. Runs after the stream completes so a failed or
// aborted call leaves no partial assistant turn behind.
func (g *Gateway) persist(req *ChatRequest, assistantContent string, logger *slog.Logger) {
	if req.ThreadID == "" || assistantContent == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.PersistTimeout)
	defer cancel()

	stored, err := g.writer.AppendTurns(ctx, req.ThreadID, []thread.NewTurn{
		{Role: thread.RoleUser, Content: req.Content},
		{Role: thread.RoleAssistant, Content: assistantContent},
	})
	if err != nil {
		logger.Error("failed to persist turns, history will be incomplete", "error", err)
		return
	}
	g.metrics.RecordTurnsAppended(len(stored))

	if g.cache != nil {
		if err := g.cache.Append(ctx, req.ThreadID, stored); err != nil {
			logger.Warn("history cache write-through failed", "error", err)
		}
	}
}

// publish forwards an event to the entry's stream and records it.
func (g *Gateway) publish(entry *coalesce.Entry, ev broadcast.Event) {
	entry.Stream.Publish(ev)
	g.metrics.RecordStreamEvent(string(ev.Type))
}

// fail terminates the stream with a client-safe error and records the
// request as failed.
func (g *Gateway) fail(entry *coalesce.Entry, decision routing.Decision, arrived time.Time, msg string) {
	g.publish(entry, broadcast.Event{Type: broadcast.EventError, Error: msg})
	g.metrics.RecordRequest(decision.Provider, decision.Model, "error", time.Since(arrived))
}
