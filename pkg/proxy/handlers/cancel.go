package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/proxy"
	"mercator-hq/ganymede/pkg/proxy/middleware"
)

// CancelHandler serves POST /v1/cancel. It detaches one subscriber from a
// running stream; when the last subscriber of a live stream is cancelled,
// the upstream call is aborted.
type CancelHandler struct {
	Gateway *gateway.Gateway
}

// NewCancelHandler creates a cancel handler.
func NewCancelHandler(gw *gateway.Gateway) *CancelHandler {
	return &CancelHandler{Gateway: gw}
}

// ServeHTTP implements http.Handler.
func (h *CancelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		if err := proxy.WriteErrorResponse(w, &proxy.RequestError{
			Message: "use POST", Param: "method",
		}); err != nil {
			slog.ErrorContext(ctx, "failed to write error response", "error", err)
		}
		return
	}

	cancelReq, err := proxy.ParseCancelRequest(r)
	if err != nil {
		if err := proxy.WriteErrorResponse(w, err); err != nil {
			slog.ErrorContext(ctx, "failed to write error response", "error", err)
		}
		return
	}

	if err := h.Gateway.Cancel(cancelReq.RequestID, cancelReq.SubscriberID); err != nil {
		slog.WarnContext(ctx, "cancel failed",
			"request_id", middleware.GetRequestID(ctx),
			"upstream_request_id", cancelReq.RequestID,
			"subscriber_id", cancelReq.SubscriberID,
			"error", err,
		)
		if err := proxy.WriteErrorResponse(w, err); err != nil {
			slog.ErrorContext(ctx, "failed to write error response", "error", err)
		}
		return
	}

	slog.InfoContext(ctx, "subscriber cancelled",
		"upstream_request_id", cancelReq.RequestID,
		"subscriber_id", cancelReq.SubscriberID,
	)

	if err := proxy.WriteJSONResponse(w, http.StatusOK, map[string]string{
		"status": "cancelled",
	}); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}
