package gateway

import (
	"sync"

	"mercator-hq/ganymede/pkg/coalesce"
)

// subscriptions maps (request ID, subscriber ID) pairs to their in-flight
// entry so the cancel endpoint can find the right stream. Entries are
// removed when a subscriber detaches and swept wholesale when the drive
// goroutine finishes.
type subscriptions struct {
	mu        sync.Mutex
	byRequest map[string]map[string]*coalesce.Entry
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		byRequest: make(map[string]map[string]*coalesce.Entry),
	}
}

func (s *subscriptions) add(requestID, subscriberID string, entry *coalesce.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.byRequest[requestID]
	if !ok {
		subs = make(map[string]*coalesce.Entry)
		s.byRequest[requestID] = subs
	}
	subs[subscriberID] = entry
}

func (s *subscriptions) get(requestID, subscriberID string) (*coalesce.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byRequest[requestID][subscriberID]
	return entry, ok
}

func (s *subscriptions) remove(requestID, subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.byRequest[requestID]
	if !ok {
		return
	}
	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(s.byRequest, requestID)
	}
}

// dropRequest removes every subscription handle for a finished request.
// Subscribers still drain their channels; only cancellation by ID stops
// resolving, which is fine because the stream is already terminal.
func (s *subscriptions) dropRequest(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byRequest, requestID)
}
