// ABOUTME: HTTP middleware for the forward-auth listener
// ABOUTME: Request ids, access logging, request metrics, and panic recovery

package forwardauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries the request id; generated when the proxy sends none.
const HeaderRequestID = "X-Request-Id"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// RequestIDFromContext returns the request id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// RequestID propagates X-Request-Id, generating a UUID when absent.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// statusWriter captures the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// routeLabel maps a path to a bounded label for logs and metrics.
func routeLabel(r *http.Request) string {
	if r.URL.Path == HealthPath {
		return "healthz"
	}
	return "auth"
}

// AccessLog logs each request and records request metrics. Health probes are
// logged at debug level. The forwarded URI is never logged because it carries
// the token.
func AccessLog(logger *slog.Logger, observer Observer) func(http.Handler) http.Handler {
	if observer == nil {
		observer = noopObserver{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routeLabel(r)
			observer.ObserveRequest(route, wrapped.status, duration)

			level := slog.LevelInfo
			switch {
			case route == "healthz":
				level = slog.LevelDebug
			case wrapped.status >= http.StatusInternalServerError:
				level = slog.LevelError
			}

			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"route", route,
				"status", wrapped.status,
				"duration_ms", duration.Milliseconds(),
				"bytes", wrapped.bytes,
				"instance_id", r.Header.Get(HeaderInstanceID),
				"remote_addr", r.RemoteAddr,
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// Recover catches panics in handlers and returns a 500 response.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered in HTTP handler",
						"error", err,
						"method", r.Method,
						"request_id", RequestIDFromContext(r.Context()),
					)
					writeText(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Wrap applies the standard middleware chain: request id, access log, recovery.
func Wrap(h http.Handler, logger *slog.Logger, observer Observer) http.Handler {
	return RequestID(AccessLog(logger, observer)(Recover(logger)(h)))
}
