package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/coalesce"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/proxy"
	"mercator-hq/ganymede/pkg/proxy/middleware"
)

// ChatHandler serves POST /v1/chat as a Server-Sent Events stream.
//
// The first SSE event is always "subscription", carrying the request and
// subscriber IDs the client needs for POST /v1/cancel. After that the
// handler relays the broadcast sequence: meta, deltas, then done or error.
// An identical request already in flight attaches to the running stream
// instead of starting a new upstream call.
type ChatHandler struct {
	Gateway *gateway.Gateway
}

// NewChatHandler creates a chat handler.
func NewChatHandler(gw *gateway.Gateway) *ChatHandler {
	return &ChatHandler{Gateway: gw}
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	startTime := time.Now()

	if r.Method != http.MethodPost {
		if err := proxy.WriteErrorResponse(w, &proxy.RequestError{
			Message: "use POST", Param: "method",
		}); err != nil {
			slog.ErrorContext(ctx, "failed to write error response", "error", err)
		}
		return
	}

	chatReq, err := proxy.ParseChatRequest(r)
	if err != nil {
		slog.WarnContext(ctx, "rejected chat request",
			"request_id", requestID,
			"error", err,
		)
		if err := proxy.WriteErrorResponse(w, err); err != nil {
			slog.ErrorContext(ctx, "failed to write error response", "error", err)
		}
		return
	}

	stream, err := h.Gateway.Chat(ctx, &gateway.ChatRequest{
		ThreadID: chatReq.ThreadID,
		Content:  chatReq.Content,
		Provider: chatReq.Provider,
		Model:    chatReq.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "chat request failed",
			"request_id", requestID,
			"model", chatReq.Model,
			"error", err,
		)
		if err := proxy.WriteErrorResponse(w, err); err != nil {
			slog.ErrorContext(ctx, "failed to write error response", "error", err)
		}
		return
	}
	defer stream.Close()

	slog.InfoContext(ctx, "chat stream opened",
		"request_id", requestID,
		"upstream_request_id", stream.RequestID,
		"subscriber_id", stream.SubscriberID,
		"role", stream.Role,
		"thread_id", chatReq.ThreadID,
		"provider", stream.Provider,
		"model", stream.Model,
	)

	proxy.SetSSEHeaders(w)
	if err := proxy.WriteSSESubscription(w, &proxy.Subscription{
		RequestID:    stream.RequestID,
		SubscriberID: stream.SubscriberID,
		Role:         string(stream.Role),
	}); err != nil {
		slog.ErrorContext(ctx, "failed to write subscription event", "error", err)
		return
	}

	eventCount := 0
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				slog.InfoContext(ctx, "chat stream finished",
					"request_id", requestID,
					"upstream_request_id", stream.RequestID,
					"role", stream.Role,
					"events_sent", eventCount,
					"coalesced", stream.Role == coalesce.RoleFollower,
					"latency_ms", time.Since(startTime).Milliseconds(),
				)
				return
			}
			if err := proxy.WriteSSEEvent(w, ev); err != nil {
				slog.WarnContext(ctx, "failed to write SSE event, closing stream",
					"request_id", requestID,
					"events_sent", eventCount,
					"error", err,
				)
				return
			}
			eventCount++

		case <-ctx.Done():
			// Client went away. Detaching may abort the upstream call if
			// this was the last subscriber.
			slog.InfoContext(ctx, "client disconnected during stream",
				"request_id", requestID,
				"upstream_request_id", stream.RequestID,
				"events_sent", eventCount,
			)
			return
		}
	}
}
