package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/internal/session_manager"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Service configuration
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"group-tagger"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Commands  CommandsConfig  `yaml:"commands"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Events    EventsConfig    `yaml:"events"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Slack     SlackConfig     `yaml:"slack"`
}

// Validate validates the configuration and returns an error if invalid
func (c *AppConfig) Validate() error {
	var result error

	// Validate log level
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("log_level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}

	// Validate log format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("log_format must be either 'json' or 'text', got %q", c.Logging.Format))
	}

	// Validate port range
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.HTTP.RequestTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("request_timeout must be greater than 0"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("shutdown_timeout must be greater than 0"))
	}

	// Session timings
	s := c.Sessions
	if s.AuthTimeout <= 0 || s.ReadyBackoff <= 0 || s.KeepAliveInterval <= 0 ||
		s.CacheRefreshInterval <= 0 || s.CacheTTL <= 0 || s.ReconnectDelay <= 0 || s.OperationTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("session timings must all be greater than 0"))
	}
	if s.MaxPairingAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("max_pairing_attempts must be at least 1, got %d", s.MaxPairingAttempts))
	}
	if s.ReadyPolls < 1 {
		result = multierror.Append(result, fmt.Errorf("ready_polls must be at least 1, got %d", s.ReadyPolls))
	}
	if s.KeepAliveFailures < 1 {
		result = multierror.Append(result, fmt.Errorf("keepalive_failures must be at least 1, got %d", s.KeepAliveFailures))
	}
	if s.MaxRecreateAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("max_recreate_attempts must be at least 1, got %d", s.MaxRecreateAttempts))
	}

	// Bootstrap
	if c.Bootstrap.MaxSessions < 0 {
		result = multierror.Append(result, fmt.Errorf("max_sessions cannot be negative"))
	}
	if c.Bootstrap.Concurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("bootstrap concurrency must be at least 1, got %d", c.Bootstrap.Concurrency))
	}
	if c.Bootstrap.Stagger < 0 {
		result = multierror.Append(result, fmt.Errorf("bootstrap stagger cannot be negative"))
	}

	// Commands
	if c.Commands.Prefix == "" || strings.ContainsAny(c.Commands.Prefix, " \t\n") {
		result = multierror.Append(result, fmt.Errorf("command prefix must be non-empty and contain no whitespace, got %q", c.Commands.Prefix))
	}
	if c.Commands.OwnerNumber != "" && !identity.LooksLikePhone(c.Commands.OwnerNumber) {
		result = multierror.Append(result, fmt.Errorf("owner_number %q does not look like a phone number", c.Commands.OwnerNumber))
	}
	if c.Commands.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("command timeout must be greater than 0"))
	}

	// Gateway
	if u, err := url.Parse(c.Gateway.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("gateway url must be a ws:// or wss:// url, got %q", c.Gateway.URL))
	}

	// Storage
	switch storage_manager.BackendType(c.Storage.Backend) {
	case storage_manager.BackendLocal:
		if c.Storage.LocalDir == "" {
			result = multierror.Append(result, fmt.Errorf("storage local_dir is required for the local backend"))
		}
	case storage_manager.BackendS3:
		if c.Storage.S3Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("storage s3_bucket is required for the s3 backend"))
		}
	case storage_manager.BackendGit:
		if c.Storage.GitPath == "" {
			result = multierror.Append(result, fmt.Errorf("storage git_path is required for the git backend"))
		}
	case storage_manager.BackendPostgres:
		if c.Database.URL == "" {
			result = multierror.Append(result, fmt.Errorf("DATABASE_URL is required for the postgres backend"))
		}
		if c.Database.MaxConnections <= 0 {
			result = multierror.Append(result, fmt.Errorf("database_max_connections must be greater than 0"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("storage backend must be one of [local, s3, git, postgres], got %q", c.Storage.Backend))
	}

	// Alerts
	if c.Telegram.Enabled() && c.Telegram.ChatID == "" {
		result = multierror.Append(result, fmt.Errorf("telegram alert_chat_id is required when TELEGRAM_BOT_TOKEN is set"))
	}
	if c.Slack.Enabled() && c.Slack.Channel == "" {
		result = multierror.Append(result, fmt.Errorf("slack alert_channel is required when SLACK_BOT_TOKEN is set"))
	}

	return result
}

// GetLogLevel returns the parsed logger level
func (c *AppConfig) GetLogLevel() logger.Level {
	return logger.ParseLevel(c.Logging.Level)
}

// LoggerConfig returns the logger configuration for this service.
func (c *AppConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.GetLogLevel(),
		Format:     c.Logging.Format,
		Service:    c.ServiceName,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	}
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "dev"
}

// SessionTimings converts the session section for the registry.
func (c *AppConfig) SessionTimings() session_manager.Timings {
	s := c.Sessions
	return session_manager.Timings{
		AuthTimeout:          s.AuthTimeout,
		MaxPairingAttempts:   s.MaxPairingAttempts,
		ReadyPolls:           s.ReadyPolls,
		ReadyBackoff:         s.ReadyBackoff,
		KeepAliveInterval:    s.KeepAliveInterval,
		KeepAliveFailures:    s.KeepAliveFailures,
		CacheRefreshInterval: s.CacheRefreshInterval,
		ReconnectDelay:       s.ReconnectDelay,
		OperationTimeout:     s.OperationTimeout,
		MaxRecreateAttempts:  s.MaxRecreateAttempts,
	}
}

// BootstrapSettings converts the bootstrap section for the registry.
func (c *AppConfig) BootstrapSettings() session_manager.BootstrapConfig {
	return session_manager.BootstrapConfig{
		MaxSessions:   c.Bootstrap.MaxSessions,
		Concurrency:   c.Bootstrap.Concurrency,
		Stagger:       c.Bootstrap.Stagger,
		RetryInterval: c.Bootstrap.RetryInterval,
		Tenant:        c.Bootstrap.Tenant,
	}
}

// StorageManagerConfig converts the storage and database sections.
func (c *AppConfig) StorageManagerConfig() storage_manager.Config {
	cfg := storage_manager.Config{Backend: storage_manager.BackendType(c.Storage.Backend)}
	switch cfg.Backend {
	case storage_manager.BackendLocal:
		cfg.LocalConfig = &storage_manager.LocalConfig{BaseDir: c.Storage.LocalDir}
	case storage_manager.BackendS3:
		cfg.S3Config = &storage_manager.S3Config{
			Bucket:   c.Storage.S3Bucket,
			Prefix:   c.Storage.S3Prefix,
			Region:   c.Storage.S3Region,
			Profile:  c.Storage.S3Profile,
			Endpoint: c.Storage.S3Endpoint,
		}
	case storage_manager.BackendGit:
		cfg.GitConfig = &storage_manager.GitProviderOptions{
			Path:          c.Storage.GitPath,
			AuthorName:    c.Storage.GitAuthorName,
			AuthorEmail:   c.Storage.GitAuthorEmail,
			InitIfMissing: true,
		}
	case storage_manager.BackendPostgres:
		cfg.PostgresConfig = &storage_manager.PostgresConfig{
			URL:            c.Database.URL,
			MaxConns:       int32(c.Database.MaxConnections), //nolint:gosec // validated positive and small
			SkipMigrations: c.Database.SkipMigrations,
		}
	}
	return cfg
}

// LogConfig logs the current configuration (without sensitive data)
func (c *AppConfig) LogConfig(log logger.Logger) {
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("environment", c.Environment),
		logger.IntField("port", c.HTTP.Port),
		logger.StringField("log_level", c.Logging.Level),
		logger.StringField("log_format", c.Logging.Format),
		logger.StringField("storage_backend", c.Storage.Backend),
		logger.StringField("gateway_url", c.Gateway.URL),
		logger.IntField("max_sessions", c.Bootstrap.MaxSessions),
		logger.IntField("bootstrap_concurrency", c.Bootstrap.Concurrency),
		logger.DurationField("bootstrap_stagger", c.Bootstrap.Stagger),
		logger.StringField("command_prefix", c.Commands.Prefix),
		logger.BoolField("owner_configured", c.Commands.OwnerNumber != ""),
		logger.BoolField("auto_save_contacts", c.Commands.AutoSaveContacts),
		logger.BoolField("metrics_enabled", c.Metrics.Enabled),
		logger.BoolField("telegram_alerts", c.Telegram.Enabled()),
		logger.BoolField("slack_alerts", c.Slack.Enabled()),
	)
}
