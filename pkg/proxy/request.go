package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (1MB).
	// Chat requests carry a single user turn, not whole documents.
	MaxRequestBodySize = 1 * 1024 * 1024

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	// ThreadID selects the conversation. Optional; empty means a one-shot
	// request with no history and no persistence.
	ThreadID string `json:"thread_id,omitempty"`

	// Content is the new user turn. Required.
	Content string `json:"content"`

	// Provider optionally pins the upstream provider, bypassing routing
	// rules.
	Provider string `json:"provider,omitempty"`

	// Model is the requested model. Required.
	Model string `json:"model"`
}

// Validate checks required fields.
func (r *ChatRequest) Validate() error {
	if r.Content == "" {
		return &RequestError{Message: "content is required", Param: "content"}
	}
	if r.Model == "" {
		return &RequestError{Message: "model is required", Param: "model"}
	}
	return nil
}

// CancelRequest is the body of POST /v1/cancel.
type CancelRequest struct {
	// RequestID is the shared response identity from the meta event.
	RequestID string `json:"request_id"`

	// SubscriberID identifies which subscriber to detach, from the
	// subscription event.
	SubscriberID string `json:"subscriber_id"`
}

// Validate checks required fields.
func (r *CancelRequest) Validate() error {
	if r.RequestID == "" {
		return &RequestError{Message: "request_id is required", Param: "request_id"}
	}
	if r.SubscriberID == "" {
		return &RequestError{Message: "subscriber_id is required", Param: "subscriber_id"}
	}
	return nil
}

// RequestError is a client error detected while parsing or validating a
// request body.
type RequestError struct {
	// Message describes the problem.
	Message string

	// Param names the offending field, when known.
	Param string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("invalid request: %s (param: %s)", e.Message, e.Param)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// ParseChatRequest parses and validates a chat request body. The body is
// capped at MaxRequestBodySize to prevent memory exhaustion.
func ParseChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := parseBody(r, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseCancelRequest parses and validates a cancel request body.
func ParseCancelRequest(r *http.Request) (*CancelRequest, error) {
	var req CancelRequest
	if err := parseBody(r, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func parseBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) >= MaxRequestBodySize {
		return &RequestError{
			Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize),
			Param:   "body",
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &RequestError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Param:   "body",
		}
	}
	return nil
}
