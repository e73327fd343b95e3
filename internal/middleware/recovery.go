// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// RecoveryConfig holds configuration for the recovery middleware
type RecoveryConfig struct {
	Logger              logger.Logger
	EnableStackTrace    bool   // Whether to log full stack traces
	ResponseMessage     string // Custom message to return to clients
	ResponseContentType string // Content type for error responses
	// OnPanic runs after the error response is written, e.g. to count it.
	OnPanic func(r *http.Request)
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.ResponseMessage == "" {
		c.ResponseMessage = `{"error":"Internal server error","code":"INTERNAL_ERROR"}`
	}
	if c.ResponseContentType == "" {
		c.ResponseContentType = "application/json"
	}
	return c
}

// Recovery returns a middleware that recovers from panics and logs them
func Recovery(config RecoveryConfig) func(http.Handler) http.Handler {
	config = config.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					handlePanic(w, r, err, config)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func handlePanic(w http.ResponseWriter, r *http.Request, err any, config RecoveryConfig) {
	fields := []logger.LogField{
		logger.StringField("panic_error", fmt.Sprintf("%v", err)),
		logger.HTTPMethodField(r.Method),
		logger.HTTPPathField(r.URL.Path),
		logger.ClientIPField(getClientIP(r)),
		logger.CorrelationIDField(logger.GetCorrelationIDFromContext(r.Context())),
	}
	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		fields = append(fields, logger.StringField("tenant", tenant))
	}
	if config.EnableStackTrace {
		fields = append(fields, logger.StringField("stack_trace", string(debug.Stack())))
	}
	config.Logger.Error("HTTP request panic recovered", fields...)

	w.Header().Set("Content-Type", config.ResponseContentType)
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(config.ResponseMessage))

	if config.OnPanic != nil {
		config.OnPanic(r)
	}
}

// getClientIP extracts the real client IP from proxy headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
