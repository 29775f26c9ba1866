package internal

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/auth"
)

// requestLogger logs one line per request. Server errors log at Warn, the
// rest at Debug.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request completed")
				return
			}
			entry.Debug("request completed")
		})
	}
}

// actorID is the user the request acts for, taken from the token.
func actorID(r *http.Request) int64 {
	return auth.UserIDFromContext(r.Context())
}

// tenantID is the tenant the request is scoped to, taken from the token.
func tenantID(r *http.Request) int64 {
	return auth.TenantIDFromContext(r.Context())
}
