package config

// DatabaseConfig holds the Postgres connection used by the postgres storage
// backend.
type DatabaseConfig struct {
	URL            string `env:"DATABASE_URL" yaml:"-"`
	MaxConnections int    `env:"DATABASE_MAX_CONNECTIONS" yaml:"max_connections" default:"10"`
	SkipMigrations bool   `env:"DATABASE_SKIP_MIGRATIONS" yaml:"skip_migrations"`
}
