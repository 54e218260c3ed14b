package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// RequestIDFromContext returns the id assigned by LoggingMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// LoggingMiddleware assigns a request id and writes one access log entry per request
func LoggingMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			next.ServeHTTP(rw, r.WithContext(ctx))

			entry := logger.WithFields(logrus.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"bytes":       rw.bytes,
				"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
				"remote_addr": r.RemoteAddr,
			})
			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				entry.Error("http request failed")
			case rw.statusCode >= http.StatusBadRequest:
				entry.Warn("http request rejected")
			default:
				entry.Info("http request")
			}
		})
	}
}
