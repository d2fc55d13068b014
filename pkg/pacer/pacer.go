// Package pacer gates upstream calls per provider.
//
// Each provider has a fixed number of concurrency permits and, optionally, a
// token bucket limiting call starts per second. Callers that cannot acquire
// a permit immediately wait in a FIFO queue; the queue has a bounded depth
// and a bounded wait, and exceeding either surfaces a RateLimitedError
// instead of unbounded queueing.
package pacer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Rejection reasons carried by RateLimitedError.
const (
	ReasonQueueFull    = "queue_full"
	ReasonQueueTimeout = "queue_timeout"
)

// RateLimitedError is returned when a caller cannot be admitted within the
// provider's queue bounds.
type RateLimitedError struct {
	// Provider is the gated provider.
	Provider string

	// Reason is why admission failed (queue_full, queue_timeout).
	Reason string

	// RetryAfter is a hint for when capacity may free up.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider %q rate limited (%s)", e.Provider, e.Reason)
}

// Limits bounds one provider's upstream traffic.
type Limits struct {
	// MaxConcurrent is the number of simultaneous upstream calls.
	// Default: 4
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxQueueDepth is how many callers may wait for a permit.
	// Default: 32
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// MaxWait bounds the total time a caller spends waiting.
	// Default: 10 seconds
	MaxWait time.Duration `yaml:"max_wait"`

	// RatePerSecond limits upstream call starts. Zero disables the bucket.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the bucket capacity. Defaults to RatePerSecond rounded up,
	// minimum 1, when a rate is set.
	Burst int64 `yaml:"burst"`
}

func (l Limits) withDefaults() Limits {
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = 4
	}
	if l.MaxQueueDepth <= 0 {
		l.MaxQueueDepth = 32
	}
	if l.MaxWait <= 0 {
		l.MaxWait = 10 * time.Second
	}
	if l.RatePerSecond > 0 && l.Burst <= 0 {
		l.Burst = int64(l.RatePerSecond + 0.5)
		if l.Burst < 1 {
			l.Burst = 1
		}
	}
	return l
}

// waiter is one queued caller.
type waiter struct {
	ch        chan struct{}
	granted   bool
	abandoned bool
}

// gate is the per-provider admission state.
type gate struct {
	mu       sync.Mutex
	limits   Limits
	inflight int
	waiters  []*waiter
	bucket   *TokenBucket
}

func newGate(limits Limits) *gate {
	g := &gate{limits: limits}
	if limits.RatePerSecond > 0 {
		g.bucket = NewTokenBucket(limits.Burst, limits.RatePerSecond)
	}
	return g
}

// Pacer holds one gate per provider.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Permit handoff is FIFO within a
// provider: queued callers are granted in arrival order as permits free up.
type Pacer struct {
	mu        sync.Mutex
	gates     map[string]*gate
	defaults  Limits
	overrides map[string]Limits
	logger    *slog.Logger
}

// New creates a pacer. overrides supplies per-provider limits; providers
// without an override use the defaults.
func New(defaults Limits, overrides map[string]Limits) *Pacer {
	p := &Pacer{
		gates:     make(map[string]*gate),
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Limits, len(overrides)),
		logger:    slog.Default().With("component", "pacer"),
	}
	for name, limits := range overrides {
		p.overrides[name] = limits.withDefaults()
	}
	return p
}

func (p *Pacer) gate(provider string) *gate {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.gates[provider]
	if !ok {
		limits, hasOverride := p.overrides[provider]
		if !hasOverride {
			limits = p.defaults
		}
		g = newGate(limits)
		p.gates[provider] = g
	}
	return g
}

// Acquire admits one upstream call for the provider. On success it returns a
// release func that must be called exactly once when the call finishes. On
// failure it returns a RateLimitedError (queue full or wait exhausted) or
// the context error.
func (p *Pacer) Acquire(ctx context.Context, provider string) (func(), error) {
	g := p.gate(provider)
	deadline := time.Now().Add(g.maxWait())

	if err := g.acquireSlot(ctx, provider, deadline); err != nil {
		return nil, err
	}

	if err := g.paceStart(ctx, provider, deadline); err != nil {
		g.release()
		return nil, err
	}

	released := false
	var mu sync.Mutex
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if !released {
			released = true
			g.release()
		}
	}, nil
}

func (g *gate) maxWait() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits.MaxWait
}

// acquireSlot takes a concurrency permit, queueing FIFO if none is free.
func (g *gate) acquireSlot(ctx context.Context, provider string, deadline time.Time) error {
	g.mu.Lock()

	if g.inflight < g.limits.MaxConcurrent && len(g.waiters) == 0 {
		g.inflight++
		g.mu.Unlock()
		return nil
	}

	if len(g.waiters) >= g.limits.MaxQueueDepth {
		maxWait := g.limits.MaxWait
		g.mu.Unlock()
		return &RateLimitedError{
			Provider:   provider,
			Reason:     ReasonQueueFull,
			RetryAfter: maxWait,
		}
	}

	w := &waiter{ch: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-w.ch:
		return nil

	case <-ctx.Done():
		if g.abandon(w) {
			return ctx.Err()
		}
		// Granted concurrently with cancellation; give the permit back.
		g.release()
		return ctx.Err()

	case <-timer.C:
		if g.abandon(w) {
			return &RateLimitedError{
				Provider:   provider,
				Reason:     ReasonQueueTimeout,
				RetryAfter: g.maxWait(),
			}
		}
		// Granted in the same instant the timer fired; keep the permit.
		return nil
	}
}

// abandon marks the waiter as given up. It returns false if the waiter was
// already granted, in which case the caller owns a permit.
func (g *gate) abandon(w *waiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w.granted {
		return false
	}
	w.abandoned = true
	return true
}

// paceStart waits for the rate bucket within the remaining budget.
// The caller already holds a concurrency permit.
func (g *gate) paceStart(ctx context.Context, provider string, deadline time.Time) error {
	for {
		g.mu.Lock()
		bucket := g.bucket
		g.mu.Unlock()

		if bucket == nil || bucket.Take(1) {
			return nil
		}

		wait := bucket.TimeUntilAvailable(1)
		if time.Now().Add(wait).After(deadline) {
			return &RateLimitedError{
				Provider:   provider,
				Reason:     ReasonQueueTimeout,
				RetryAfter: wait,
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// release returns a permit and grants queued callers in FIFO order while
// capacity remains. Granting after the decrement keeps the in-flight count
// honest when the concurrency limit was lowered at runtime.
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inflight--
	for g.inflight < g.limits.MaxConcurrent && len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		if w.abandoned {
			continue
		}
		w.granted = true
		g.inflight++
		close(w.ch)
	}
}

// UpdateLimits applies new limits to a provider at runtime. A raised
// concurrency limit admits queued callers immediately; a changed rate
// rebuilds the bucket.
func (p *Pacer) UpdateLimits(provider string, limits Limits) {
	limits = limits.withDefaults()

	p.mu.Lock()
	p.overrides[provider] = limits
	g, ok := p.gates[provider]
	p.mu.Unlock()

	if !ok {
		return
	}

	g.mu.Lock()
	oldRate, oldBurst := g.limits.RatePerSecond, g.limits.Burst
	g.limits = limits
	if limits.RatePerSecond != oldRate || limits.Burst != oldBurst {
		if limits.RatePerSecond > 0 {
			g.bucket = NewTokenBucket(limits.Burst, limits.RatePerSecond)
		} else {
			g.bucket = nil
		}
	}
	for g.inflight < g.limits.MaxConcurrent && len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		if w.abandoned {
			continue
		}
		g.inflight++
		w.granted = true
		close(w.ch)
	}
	g.mu.Unlock()

	p.logger.Info("pacer limits updated",
		"provider", provider,
		"max_concurrent", limits.MaxConcurrent,
		"max_queue_depth", limits.MaxQueueDepth,
		"max_wait", limits.MaxWait,
		"rate_per_second", limits.RatePerSecond,
	)
}

// Snapshot reports a provider's current admission state.
func (p *Pacer) Snapshot(provider string) (inflight, queued int) {
	g := p.gate(provider)
	g.mu.Lock()
	defer g.mu.Unlock()

	live := 0
	for _, w := range g.waiters {
		if !w.abandoned {
			live++
		}
	}
	return g.inflight, live
}
