package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/util"
	"github.com/corralhq/corral/pkg/format"
)

type contextKey string

const LoggerKey contextKey = "logger"

// isControlPlanePath reports whether a path belongs to the gateway's own
// surface rather than the proxied backend API. Proxied requests log their
// own lifecycle at INFO, so the middleware drops to Debug for them.
func isControlPlanePath(path string) bool {
	return path == constants.DefaultHealthCheckEndpoint ||
		path == "/version" ||
		strings.HasPrefix(path, "/admin/") ||
		strings.HasPrefix(path, "/debug/")
}

// responseWriter wraps http.ResponseWriter to capture response size and status.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func (rw *responseWriter) WriteHeader(s int) {
	rw.status = s
	rw.ResponseWriter.WriteHeader(s)
}

// Flush must pass through to the underlying writer or streaming responses
// buffer up and arrive in bursts.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GetLogger retrieves the request-scoped logger from context.
func GetLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	return util.RequestIDFromContext(ctx)
}

// RequestLogging assigns each request an id, propagates it through context
// and the response header, and logs start/completion with timing and sizes.
func RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(constants.HeaderRequestID)
		if requestID == "" {
			requestID = util.GenerateRequestID()
		}

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		ctx := util.WithRequestID(r.Context(), requestID)
		baseLogger := slog.Default().With("request_id", requestID)
		ctx = context.WithValue(ctx, LoggerKey, baseLogger)

		w.Header().Set(constants.HeaderRequestID, requestID)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		startFields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_bytes", requestSize,
		}
		if isControlPlanePath(r.URL.Path) {
			baseLogger.Info("Request started", startFields...)
		} else {
			baseLogger.Debug("Request started", startFields...)
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		doneFields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", duration.Milliseconds(),
			"response_bytes", wrapped.size,
			"response_size", format.Bytes(uint64(wrapped.size)),
		}
		if isControlPlanePath(r.URL.Path) {
			baseLogger.Info("Request completed", doneFields...)
		} else {
			baseLogger.Debug("Request completed", doneFields...)
		}
	})
}
