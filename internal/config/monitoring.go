package config

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" yaml:"enabled" default:"true"`
	Path    string `env:"METRICS_PATH" yaml:"path" default:"/metrics"`
}
