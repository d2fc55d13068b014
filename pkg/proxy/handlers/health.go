package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/providers"
)

// HealthHandler handles liveness probes.
type HealthHandler struct{}

// NewHealthHandler creates a health check handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// ReadyHandler handles readiness probes. The gateway is ready when at least
// one upstream provider is configured.
type ReadyHandler struct {
	Providers providers.Set
}

// NewReadyHandler creates a readiness check handler.
func NewReadyHandler(set providers.Set) *ReadyHandler {
	return &ReadyHandler{Providers: set}
}

// ServeHTTP implements http.Handler.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := h.Providers.Names()

	status := "ready"
	statusCode := http.StatusOK
	if len(names) == 0 {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"providers": names,
		"timestamp": time.Now().Unix(),
	})
}
