package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
	"github.com/dandantas/sentinel/internal/store"
	"github.com/dandantas/sentinel/pkg/middleware"
)

const maxIngestBody = 64 << 10

// TokenHeader may carry the ingest token instead of the body
const TokenHeader = "X-Monitor-Token"

// IngestRequest is the body accepted by both push endpoints
type IngestRequest struct {
	Token   string `json:"token"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// IngestResponse is returned by both push endpoints
type IngestResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeIngestError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, IngestResponse{OK: false, Error: msg})
}

// requestToken prefers the body token, then X-Monitor-Token, then a bearer token
func requestToken(r *http.Request, body IngestRequest) string {
	if body.Token != "" {
		return body.Token
	}
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authenticate loads the monitor and checks the token against its stored hash.
// An unknown monitor and a wrong token are indistinguishable to the caller.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, kind model.CheckKind) (*model.Monitor, IngestRequest, bool) {
	var body IngestRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeIngestError(w, http.StatusBadRequest, "Invalid request body")
			return nil, body, false
		}
	}

	token := requestToken(r, body)
	if token == "" {
		writeIngestError(w, http.StatusUnauthorized, "Invalid monitor ID or token")
		return nil, body, false
	}

	monitorID := chi.URLParam(r, "monitorID")
	m, err := h.store.GetMonitor(r.Context(), monitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeIngestError(w, http.StatusUnauthorized, "Invalid monitor ID or token")
			return nil, body, false
		}
		middleware.Logger(r.Context()).Error("Failed to load monitor", "monitor_id", monitorID, "error", err)
		writeIngestError(w, http.StatusInternalServerError, "Internal server error")
		return nil, body, false
	}

	want := m.Check.TokenHash()
	got := model.HashToken(token)
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		writeIngestError(w, http.StatusUnauthorized, "Invalid monitor ID or token")
		return nil, body, false
	}
	if m.Kind() != kind {
		writeIngestError(w, http.StatusBadRequest, "Monitor is not a "+string(kind)+" type")
		return nil, body, false
	}
	return m, body, true
}

// publishCheck enqueues an immediate check so a push is evaluated without
// waiting for the next scheduler tick
func (h *Handler) publishCheck(r *http.Request, m *model.Monitor, report *model.Report) error {
	if !m.Enabled {
		return nil
	}
	job := model.NewCheckJob("push-"+uuid.NewString(), m, h.now().Unix())
	job.Report = report
	return queue.PublishJSON(r.Context(), h.checks, job)
}

// Heartbeat handles POST /api/v1/heartbeats/{monitorID}
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.authenticate(w, r, model.KindHeartbeat)
	if !ok {
		return
	}
	log := middleware.Logger(r.Context())

	if err := h.store.RecordHeartbeat(r.Context(), m.ID, h.now().Unix()); err != nil {
		log.Error("Failed to record heartbeat", "monitor_id", m.ID, "error", err)
		writeIngestError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.publishCheck(r, m, nil); err != nil {
		log.Error("Failed to publish heartbeat check", "monitor_id", m.ID, "error", err)
		writeIngestError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Debug("Heartbeat received", "monitor_id", m.ID)
	writeJSON(w, http.StatusOK, IngestResponse{OK: true})
}

// Webhook handles POST /api/v1/webhooks/{monitorID}
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	m, body, ok := h.authenticate(w, r, model.KindWebhook)
	if !ok {
		return
	}
	log := middleware.Logger(r.Context())

	status, valid := model.ParseReportedStatus(body.Status)
	if !valid {
		writeIngestError(w, http.StatusBadRequest, "status must be one of up, down, degraded")
		return
	}
	report := model.Report{Status: status, Reason: body.Message, At: h.now().Unix()}

	if err := h.store.RecordReport(r.Context(), m.ID, report); err != nil {
		log.Error("Failed to record status report", "monitor_id", m.ID, "error", err)
		writeIngestError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.publishCheck(r, m, &report); err != nil {
		log.Error("Failed to publish webhook check", "monitor_id", m.ID, "error", err)
		writeIngestError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Info("Status report received", "monitor_id", m.ID, "status", status)
	writeJSON(w, http.StatusOK, IngestResponse{OK: true})
}
