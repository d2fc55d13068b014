package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber channel headroom beyond the
// replayed history.
const DefaultSubscriberBuffer = 64

// Subscriber is one consumer of a broadcast stream.
type Subscriber struct {
	// ID identifies the subscriber for cancellation.
	ID string

	ch chan Event
}

// Events returns the subscriber's event channel. The channel is closed after
// a terminal event is delivered, or early if the subscriber is dropped or
// unsubscribed. A close without a preceding terminal event means the
// subscriber did not see the end of the stream.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Broadcaster fans one event sequence out to any number of subscribers.
//
// # Ordering and Replay
//
// Events are published under a single lock, so every subscriber observes the
// same sequence in the same order. The full sequence is retained for the
// lifetime of the broadcaster; a subscriber that joins mid-stream first
// receives the retained history, then live events, and therefore sees the
// complete sequence from the meta event on.
//
// # Terminal Events
//
// The first done or error event makes the broadcaster terminal. Publishes
// after that are ignored, and subscribers that join afterwards receive the
// full history followed by a channel close.
//
// # Slow Subscribers
//
// A subscriber whose channel is full at publish time is dropped: its channel
// is closed immediately without a terminal event. One stalled consumer never
// blocks the others.
type Broadcaster struct {
	mu       sync.Mutex
	history  []Event
	subs     map[string]*Subscriber
	terminal bool
	emptied  bool
	bufSize  int
	onEmpty  func()
	onDrop   func(id string)
	logger   *slog.Logger
}

// New creates a broadcaster. bufSize is the per-subscriber channel headroom
// (<= 0 uses DefaultSubscriberBuffer). onEmpty, if non-nil, is invoked at
// most once when the subscriber count drops to zero before the stream is
// terminal; the gateway uses it to abort the upstream call.
func New(bufSize int, onEmpty func()) *Broadcaster {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:    make(map[string]*Subscriber),
		bufSize: bufSize,
		onEmpty: onEmpty,
		logger:  slog.Default().With("component", "broadcast"),
	}
}

// SetOnDrop registers a hook invoked with the subscriber ID each time a slow
// subscriber is dropped. Must be set before publishing begins.
func (b *Broadcaster) SetOnDrop(fn func(id string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a new subscriber and replays the retained history into
// its channel before returning. The subscriber ID must be unique within this
// broadcaster.
func (b *Broadcaster) Subscribe(id string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[id]; exists {
		return nil, fmt.Errorf("subscriber %q already registered", id)
	}

	sub := &Subscriber{
		ID: id,
		ch: make(chan Event, len(b.history)+b.bufSize),
	}
	for _, ev := range b.history {
		sub.ch <- ev
	}

	if b.terminal {
		close(sub.ch)
		return sub, nil
	}

	b.subs[id] = sub
	return sub, nil
}

// Publish appends the event to the sequence and delivers it to every
// subscriber. Publishing after a terminal event is a no-op.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()

	if b.terminal {
		b.mu.Unlock()
		return
	}

	b.history = append(b.history, ev)

	var dropped []string
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Full buffer: the consumer has stalled. Cut it loose.
			close(sub.ch)
			delete(b.subs, id)
			dropped = append(dropped, id)
		}
	}

	if ev.Terminal() {
		b.terminal = true
		for id, sub := range b.subs {
			close(sub.ch)
			delete(b.subs, id)
		}
	}

	notifyEmpty := b.noteEmptyLocked()
	onDrop := b.onDrop
	b.mu.Unlock()

	for _, id := range dropped {
		b.logger.Warn("slow subscriber dropped", "subscriber_id", id)
		if onDrop != nil {
			onDrop(id)
		}
	}
	if notifyEmpty != nil {
		notifyEmpty()
	}
}

// Unsubscribe removes the subscriber and closes its channel. It returns the
// number of remaining subscribers. Unknown IDs are ignored.
func (b *Broadcaster) Unsubscribe(id string) int {
	b.mu.Lock()

	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
	remaining := len(b.subs)

	notifyEmpty := b.noteEmptyLocked()
	b.mu.Unlock()

	if notifyEmpty != nil {
		notifyEmpty()
	}
	return remaining
}

// noteEmptyLocked returns the onEmpty hook exactly once, the first time the
// subscriber count reaches zero before the terminal event. Must be called
// with the lock held; the returned func must be called after unlocking.
func (b *Broadcaster) noteEmptyLocked() func() {
	if b.terminal || b.emptied || len(b.subs) > 0 || b.onEmpty == nil {
		return nil
	}
	b.emptied = true
	return b.onEmpty
}

// Terminal reports whether the stream has ended.
func (b *Broadcaster) Terminal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminal
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// History returns a copy of the event sequence so far.
func (b *Broadcaster) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}
