package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
	"github.com/dandantas/sentinel/pkg/middleware"
)

// IncidentListResponse represents the incident list response
type IncidentListResponse struct {
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
	Results []model.Incident `json:"results"`
}

// DeleteResponse represents the delete response
type DeleteResponse struct {
	Message string `json:"message"`
}

// GetState handles GET /api/v1/monitors/{id}/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err, "monitor state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteMonitor handles DELETE /api/v1/monitors/{id}
func (h *Handler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteMonitor(r.Context(), id); err != nil {
		writeStoreError(w, r, err, "monitor")
		return
	}
	middleware.Logger(r.Context()).Info("Monitor deleted", "monitor_id", id)
	writeJSON(w, http.StatusOK, DeleteResponse{Message: "Monitor deleted successfully"})
}

// ListIncidents handles GET /api/v1/incidents
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	status := model.IncidentStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.IncidentOpen, model.IncidentResolved:
	default:
		writeError(w, r, http.StatusBadRequest, "status must be open or resolved")
		return
	}

	limit := queryLimit(r, 50, 100)

	incidents, err := h.store.ListIncidents(r.Context(), store.IncidentFilter{
		MonitorID: r.URL.Query().Get("monitor_id"),
		Status:    status,
		Limit:     limit,
	})
	if err != nil {
		writeStoreError(w, r, err, "incidents")
		return
	}

	writeJSON(w, http.StatusOK, IncidentListResponse{
		Count:   len(incidents),
		Limit:   limit,
		Results: incidents,
	})
}

// GetIncident handles GET /api/v1/incidents/{id}
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "incident")
		return
	}
	updates, err := h.store.ListUpdates(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "incident updates")
		return
	}
	writeJSON(w, http.StatusOK, model.IncidentDetail{Incident: *inc, Updates: updates})
}
