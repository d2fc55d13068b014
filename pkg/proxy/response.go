package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"mercator-hq/ganymede/pkg/broadcast"
)

// ErrorBody is the JSON error envelope returned by every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	// Message is a client-safe description.
	Message string `json:"message"`

	// Code is a stable machine-readable identifier.
	Code string `json:"code"`

	// Param names the offending request field, when known.
	Param string `json:"param,omitempty"`
}

// Subscription is the first SSE event of every stream. It tells the client
// how to address this particular attachment for cancellation.
type Subscription struct {
	// RequestID is the shared response identity.
	RequestID string `json:"request_id"`

	// SubscriberID identifies this client's attachment to the stream.
	SubscriberID string `json:"subscriber_id"`

	// Role is "leader" or "follower".
	Role string `json:"role"`
}

// WriteJSONResponse writes a JSON response with the given status code.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}

// WriteErrorResponse writes the error envelope with the status code derived
// from the error type.
func WriteErrorResponse(w http.ResponseWriter, err error) error {
	statusCode, body := HandleError(err)
	if statusCode == http.StatusTooManyRequests {
		if ra := retryAfterSeconds(err); ra != "" {
			w.Header().Set("Retry-After", ra)
		}
	}
	return WriteJSONResponse(w, statusCode, body)
}

// SetSSEHeaders sets the headers for a Server-Sent Events response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSESubscription writes the subscription event that opens every
// stream.
func WriteSSESubscription(w http.ResponseWriter, sub *Subscription) error {
	return writeSSE(w, "subscription", sub)
}

// WriteSSEEvent writes one broadcast event in SSE format:
//
//	event: delta
//	data: {"type":"delta","delta":"Hel"}
//
// followed by a blank line, and flushes so clients see it immediately.
func WriteSSEEvent(w http.ResponseWriter, ev broadcast.Event) error {
	return writeSSE(w, string(ev.Type), ev)
}

func writeSSE(w http.ResponseWriter, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE payload: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
