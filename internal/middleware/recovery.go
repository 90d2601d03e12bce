package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoveryMiddleware recovers from panics and logs the error. A panic
// mid-stream (e.g. while a Transform is processing a chunk) must still
// come back to the client as the relay's plain {"error": message} body
// rather than a bare 500 with no payload, so callers parsing every
// response the same way don't choke on this one path.
func RecoveryMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(logrus.Fields{
						"request_id": RequestID(r.Context()),
						"error":      err,
						"method":     r.Method,
						"path":       r.URL.Path,
						"stack":      string(debug.Stack()),
					}).Error("panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(struct {
						Error string `json:"error"`
					}{Error: "internal error"})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}