package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/broadcast"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/pacer"
	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/routing"
)

func TestHandleError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "request error",
			err:        &RequestError{Message: "content is required", Param: "content"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "unroutable model",
			err:        &routing.UnroutableError{Model: "mystery-9000"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeUnroutableModel,
		},
		{
			name:       "unknown provider",
			err:        &providers.NotFoundError{Provider: "ghost"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeUnknownProvider,
		},
		{
			name:       "unknown subscription",
			err:        gateway.ErrUnknownSubscription,
			wantStatus: http.StatusNotFound,
			wantCode:   CodeUnknownSubscription,
		},
		{
			name:       "pacer rejection",
			err:        &pacer.RateLimitedError{Provider: "ollama", Reason: pacer.ReasonQueueFull},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   CodeRateLimited,
		},
		{
			name:       "upstream rate limit",
			err:        &providers.RateLimitError{Provider: "ollama", Message: "slow down"},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   CodeRateLimited,
		},
		{
			name:       "upstream timeout",
			err:        &providers.TimeoutError{Provider: "ollama", Timeout: time.Minute},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   CodeUpstreamTimeout,
		},
		{
			name:       "provider error",
			err:        &providers.ProviderError{Provider: "ollama", StatusCode: 500, Message: "boom"},
			wantStatus: http.StatusBadGateway,
			wantCode:   CodeUpstreamError,
		},
		{
			name:       "unknown error",
			err:        errors.New("something private"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := HandleError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, status)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, body.Error.Code)
			}
			if body.Error.Message == "" {
				t.Error("Error body must carry a message")
			}
		})
	}
}

func TestHandleError_InternalDetailsDoNotLeak(t *testing.T) {
	_, body := HandleError(errors.New("dsn=postgres://user:hunter2@db"))
	if strings.Contains(body.Error.Message, "hunter2") {
		t.Error("Internal error details leaked to client")
	}
}

func TestWriteErrorResponse_RetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &pacer.RateLimitedError{
		Provider:   "ollama",
		Reason:     pacer.ReasonQueueTimeout,
		RetryAfter: 2500 * time.Millisecond,
	}

	if werr := WriteErrorResponse(rec, err); werr != nil {
		t.Fatalf("WriteErrorResponse failed: %v", werr)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Expected Retry-After 3 (rounded up), got %q", got)
	}
}

func TestWriteSSEEvent_Format(t *testing.T) {
	rec := httptest.NewRecorder()

	if err := WriteSSEEvent(rec, broadcast.Event{
		Type:  broadcast.EventDelta,
		Delta: "Hel",
	}); err != nil {
		t.Fatalf("WriteSSEEvent failed: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: delta\ndata: ") {
		t.Errorf("Unexpected SSE framing: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("SSE event must end with a blank line: %q", body)
	}
	if !strings.Contains(body, `"delta":"Hel"`) {
		t.Errorf("Payload missing delta: %q", body)
	}
}
