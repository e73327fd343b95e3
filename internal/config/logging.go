package config

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL" yaml:"level" default:"info"`
	Format     string `env:"LOG_FORMAT" yaml:"format" default:"json"`
	File       string `env:"LOG_FILE" yaml:"file"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" yaml:"max_size_mb" default:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" yaml:"max_backups" default:"5"`
}
