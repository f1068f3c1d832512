package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// quietPaths are probed constantly and only logged at debug
var quietPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// Logging logs each completed request with its route pattern and status
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		log := Logger(r.Context())
		attrs := []any{
			"method", r.Method,
			"route", route,
			"status_code", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes_written", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		}
		switch {
		case status >= 500:
			log.Error("HTTP request failed", attrs...)
		case quietPaths[r.URL.Path] || strings.HasPrefix(route, "/api/v1/events"):
			log.Debug("HTTP request completed", attrs...)
		default:
			log.Info("HTTP request completed", attrs...)
		}
	})
}
