package config

import "time"

// HTTPConfig holds the operational HTTP server configuration
type HTTPConfig struct {
	Port            int           `env:"PORT" yaml:"port" default:"8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" yaml:"request_timeout" default:"30s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"15s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" yaml:"cors_allowed_origins" default:"http://localhost:3000,http://localhost:8080"`
	// STSSeconds > 0 sends Strict-Transport-Security.
	STSSeconds int64 `env:"HTTP_STS_SECONDS" yaml:"sts_seconds"`
	// APIToken, when set, guards /events and /sessions.
	APIToken string `env:"API_TOKEN" yaml:"-"`
}
