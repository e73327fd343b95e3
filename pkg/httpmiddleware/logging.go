package httpmiddleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// HTTPLogger provides HTTP request/response logging middleware
type HTTPLogger struct {
	logger logger.Logger
	// quiet paths are logged at debug level (probes and scrapes).
	quiet []string
}

// NewHTTPLogger creates a new HTTP logger middleware. Requests whose path
// starts with one of quietPrefixes are logged at debug level.
func NewHTTPLogger(log logger.Logger, quietPrefixes ...string) *HTTPLogger {
	return &HTTPLogger{logger: log, quiet: quietPrefixes}
}

func (h *HTTPLogger) isQuiet(path string) bool {
	for _, p := range h.quiet {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware returns the HTTP logging middleware
func (h *HTTPLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestLogger := h.RequestLogger(r)

		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		fields := []logger.LogField{
			logger.HTTPStatusField(wrapped.Status()),
			logger.IntField("response_bytes", wrapped.BytesWritten()),
			logger.DurationField("duration", time.Since(start)),
		}
		if h.isQuiet(r.URL.Path) {
			requestLogger.Debug("HTTP request handled", fields...)
			return
		}
		requestLogger.Info("HTTP request handled", fields...)
	})
}

// RequestLogger creates a logger with request context for use in handlers
func (h *HTTPLogger) RequestLogger(r *http.Request) logger.Logger {
	return h.logger.WithFields(
		logger.ClientIPField(r.RemoteAddr),
		logger.HTTPMethodField(r.Method),
		logger.HTTPPathField(r.URL.Path),
		logger.CorrelationIDField(r.Header.Get(CorrelationIDHeader)),
	)
}
