package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// CorrelationIDKey is the context key for the request correlation id
const CorrelationIDKey contextKey = "correlation_id"

// CorrelationHeader carries the correlation id in both directions
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID reuses an inbound X-Correlation-ID or X-Request-ID, or mints one
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = r.Header.Get("X-Request-ID")
		}
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		w.Header().Set(CorrelationHeader, id)
		ctx := context.WithValue(r.Context(), CorrelationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID extracts the correlation id from ctx
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// Logger returns the default logger tagged with the request's correlation id
func Logger(ctx context.Context) *slog.Logger {
	if id := GetCorrelationID(ctx); id != "" {
		return slog.Default().With("correlation_id", id)
	}
	return slog.Default()
}
