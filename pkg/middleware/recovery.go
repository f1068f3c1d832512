package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
)

// Recovery turns a handler panic into a JSON 500 and logs the stack
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			Logger(r.Context()).Error("Panic recovered",
				"error", rec,
				"stack_trace", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"error":          http.StatusText(http.StatusInternalServerError),
				"correlation_id": GetCorrelationID(r.Context()),
			})
		}()

		next.ServeHTTP(w, r)
	})
}
