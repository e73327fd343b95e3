package config

import "time"

// SessionConfig holds the session lifecycle timings.
type SessionConfig struct {
	AuthTimeout          time.Duration `env:"SESSION_AUTH_TIMEOUT" yaml:"auth_timeout" default:"180s"`
	MaxPairingAttempts   int           `env:"SESSION_MAX_PAIRING_ATTEMPTS" yaml:"max_pairing_attempts" default:"5"`
	ReadyPolls           int           `env:"SESSION_READY_POLLS" yaml:"ready_polls" default:"3"`
	ReadyBackoff         time.Duration `env:"SESSION_READY_BACKOFF" yaml:"ready_backoff" default:"5s"`
	KeepAliveInterval    time.Duration `env:"SESSION_KEEPALIVE_INTERVAL" yaml:"keepalive_interval" default:"5m"`
	KeepAliveFailures    int           `env:"SESSION_KEEPALIVE_FAILURES" yaml:"keepalive_failures" default:"3"`
	CacheRefreshInterval time.Duration `env:"SESSION_CACHE_REFRESH_INTERVAL" yaml:"cache_refresh_interval" default:"10m"`
	CacheTTL             time.Duration `env:"SESSION_CACHE_TTL" yaml:"cache_ttl" default:"5m"`
	ReconnectDelay       time.Duration `env:"SESSION_RECONNECT_DELAY" yaml:"reconnect_delay" default:"10s"`
	MaxRecreateAttempts  int           `env:"SESSION_MAX_RECREATE_ATTEMPTS" yaml:"max_recreate_attempts" default:"5"`
	OperationTimeout     time.Duration `env:"SESSION_OPERATION_TIMEOUT" yaml:"operation_timeout" default:"30s"`
}

// BootstrapConfig holds the startup pool configuration.
type BootstrapConfig struct {
	MaxSessions   int           `env:"MAX_SESSIONS" yaml:"max_sessions" default:"10"`
	Concurrency   int           `env:"BOOTSTRAP_CONCURRENCY" yaml:"concurrency" default:"5"`
	Stagger       time.Duration `env:"BOOTSTRAP_STAGGER" yaml:"stagger" default:"30s"`
	RetryInterval time.Duration `env:"BOOTSTRAP_RETRY_INTERVAL" yaml:"retry_interval" default:"5s"`
	Tenant        string        `env:"BOOTSTRAP_TENANT" yaml:"tenant" default:"bootstrap"`
}

// CommandsConfig holds the command router configuration.
type CommandsConfig struct {
	Prefix           string        `env:"COMMAND_PREFIX" yaml:"prefix" default:"!"`
	OwnerNumber      string        `env:"OWNER_NUMBER" yaml:"owner_number"`
	AutoSaveContacts bool          `env:"AUTO_SAVE_CONTACTS" yaml:"auto_save_contacts"`
	Timeout          time.Duration `env:"COMMAND_TIMEOUT" yaml:"timeout" default:"2m"`
}

// GatewayConfig points at the connection gateway that runs the chat client.
type GatewayConfig struct {
	URL              string        `env:"GATEWAY_URL" yaml:"url" default:"ws://localhost:3001"`
	Token            string        `env:"GATEWAY_TOKEN" yaml:"-"`
	HandshakeTimeout time.Duration `env:"GATEWAY_HANDSHAKE_TIMEOUT" yaml:"handshake_timeout" default:"15s"`
	WriteTimeout     time.Duration `env:"GATEWAY_WRITE_TIMEOUT" yaml:"write_timeout" default:"10s"`
}

// EventsConfig holds the websocket event hub configuration.
type EventsConfig struct {
	Path         string        `env:"EVENTS_PATH" yaml:"path" default:"/events"`
	PingInterval time.Duration `env:"EVENTS_PING_INTERVAL" yaml:"ping_interval" default:"30s"`
	Buffer       int           `env:"EVENTS_BUFFER" yaml:"buffer" default:"64"`
}
