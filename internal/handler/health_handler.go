package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	Store         string `json:"store"`
	StoreDriver   string `json:"store_driver"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready bool   `json:"ready"`
	Store string `json:"store"`
}

func (h *Handler) storeStatus(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}

// Health handles GET /health. It always answers 200 while the process is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     h.now().UTC().Format(time.RFC3339),
		Store:         h.storeStatus(r.Context()),
		StoreDriver:   h.driver,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready handles GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.storeStatus(r.Context())
	ready := status == "connected"

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ReadyResponse{Ready: ready, Store: status})
}
