// Package coalesce deduplicates identical in-flight chat requests.
//
// Two requests are identical when they target the same thread with the same
// user content, provider, and model. The first arrival becomes the leader
// and drives the upstream call; later identical arrivals become followers
// and attach to the leader's broadcast stream. One upstream call serves all
// of them, and the thread's turns are persisted exactly once.
package coalesce

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key is the identity of an in-flight request.
type Key string

// NewKey fingerprints a request. Fields are NUL separated before hashing so
// adjacent fields cannot collide by concatenation.
func NewKey(threadID, content, provider, model string) Key {
	h := sha256.New()
	for _, part := range []string{threadID, content, provider, model} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}
