package coalesce

import (
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/broadcast"
)

// Role is a caller's relationship to an in-flight entry.
type Role string

const (
	// RoleLeader drives the upstream call for the entry it created.
	RoleLeader Role = "leader"

	// RoleFollower attaches to an entry another caller is driving.
	RoleFollower Role = "follower"
)

// Entry is one in-flight upstream request shared by a leader and any number
// of followers.
type Entry struct {
	// Key is the request fingerprint.
	Key Key

	// RequestID is the shared response identity, minted by the leader.
	RequestID string

	// Stream is the broadcast stream all participants subscribe to.
	Stream *broadcast.Broadcaster

	// CreatedAt is when the leader registered the entry.
	CreatedAt time.Time

	removeOnce sync.Once
}

// Registry tracks in-flight requests by fingerprint.
//
// # Thread Safety
//
// JoinOrLead is atomic: for any burst of concurrent identical requests,
// exactly one caller observes RoleLeader and all others receive the same
// Entry as followers. Remove is idempotent per entry, so teardown happens
// exactly once no matter how many paths reach it.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Key]*Entry),
		logger:  slog.Default().With("component", "coalesce"),
	}
}

// JoinOrLead returns the live entry for the key, creating it if absent.
// The newEntry constructor runs under the registry lock and must not call
// back into the registry.
//
// An entry whose stream has already reached its terminal state does not
// accept followers: the stale entry is replaced and the caller leads a
// fresh upstream request.
func (r *Registry) JoinOrLead(key Key, newEntry func() *Entry) (*Entry, Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok && !entry.Stream.Terminal() {
		r.logger.Debug("request coalesced onto in-flight entry",
			"key", string(key), "request_id", entry.RequestID)
		return entry, RoleFollower
	}

	entry := newEntry()
	entry.Key = key
	entry.CreatedAt = time.Now()
	r.entries[key] = entry

	return entry, RoleLeader
}

// Remove tears the entry down. Only the currently registered entry for the
// key is removed, so a leader finishing late can never evict its successor.
// Repeated calls for the same entry are no-ops.
func (r *Registry) Remove(entry *Entry) {
	entry.removeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if current, ok := r.entries[entry.Key]; ok && current == entry {
			delete(r.entries, entry.Key)
		}
	})
}

// Get returns the live entry for the key, if any.
func (r *Registry) Get(key Key) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	return entry, ok
}

// Len returns the number of in-flight entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
