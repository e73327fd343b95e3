package httpmiddleware

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// Config holds configuration for HTTP middleware application.
// Use DefaultConfig() for sensible defaults, then customize as needed.
//
// Request timeouts are not applied here: long-lived websocket routes share
// the router, so handlers that need one add middleware.Timeout per group.
type Config struct {
	Logger   logger.Logger   // Required for logging middleware
	CORS     *CORSConfig     // CORS configuration
	Security *secure.Options // Security headers configuration
	// QuietPaths are logged at debug level.
	QuietPaths []string

	EnableCorrelationID bool // Add correlation ID to requests
	EnableSecurity      bool // Add security headers
	EnableRealIP        bool // Extract real client IP
	EnableLogging       bool // Log HTTP requests (requires Logger)
	EnableCORS          bool // Enable CORS headers
	EnableHeartbeat     bool // Add /ping endpoint
}

// DefaultConfig returns a production-ready middleware configuration.
// Logging is disabled by default - set Logger and EnableLogging=true to enable.
func DefaultConfig() Config {
	corsConfig := DefaultCORSConfig()
	return Config{
		CORS:       &corsConfig,
		QuietPaths: []string{"/health", "/metrics", "/ping"},

		EnableCorrelationID: true,
		EnableSecurity:      true,
		EnableRealIP:        true,
		EnableLogging:       false,
		EnableCORS:          true,
		EnableHeartbeat:     true,
	}
}

// ApplyToRouter applies the configured middleware to a Chi router.
// First applied is outermost:
//  1. CorrelationID
//  2. Security
//  3. RealIP
//  4. Logging
//  5. CORS
//  6. Heartbeat
func ApplyToRouter(router chi.Router, config Config) {
	if config.EnableCorrelationID {
		router.Use(CorrelationID())
	}
	if config.EnableSecurity {
		router.Use(Security(config.Security))
	}
	if config.EnableRealIP {
		router.Use(middleware.RealIP)
	}
	if config.EnableLogging && config.Logger != nil {
		router.Use(NewHTTPLogger(config.Logger, config.QuietPaths...).Middleware)
	}
	if config.EnableCORS && config.CORS != nil {
		router.Use(CORS(*config.CORS))
	}
	if config.EnableHeartbeat {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// WithLogger applies DefaultConfig with request logging enabled.
func WithLogger(router chi.Router, log logger.Logger) {
	config := DefaultConfig()
	config.Logger = log
	config.EnableLogging = true
	ApplyToRouter(router, config)
}
