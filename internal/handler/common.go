package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dandantas/sentinel/internal/store"
	"github.com/dandantas/sentinel/pkg/middleware"
)

// ErrorResponse is the body of every non-2xx API reply
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:         http.StatusText(statusCode),
		Message:       message,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
}

// writeStoreError maps store.ErrNotFound to 404; anything else is logged and hidden behind a 500
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, what+" not found")
		return
	}
	middleware.Logger(r.Context()).Error("Store request failed", "what", what, "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// queryLimit reads ?limit=, falling back to def when absent or malformed and clamping to [1, hi]
func queryLimit(r *http.Request, def, hi int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		n = def
	}
	return max(1, min(n, hi))
}
