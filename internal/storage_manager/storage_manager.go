package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// BackendType represents the type of storage backend.
type BackendType string

const (
	// BackendLocal uses the local filesystem for storage.
	BackendLocal BackendType = "local"
	// BackendS3 uses AWS S3 for storage.
	BackendS3 BackendType = "s3"
	// BackendGit uses a git working tree; every change is a commit.
	BackendGit BackendType = "git"
	// BackendPostgres stores objects in a Postgres table.
	BackendPostgres BackendType = "postgres"
)

// Storage namespaces used by the application.
const (
	NamespaceAuth       = "auth"
	NamespaceSessions   = "sessions"
	NamespacePrincipals = "principals"
	NamespaceContacts   = "contacts"
)

// Config holds the configuration for the StorageManager.
type Config struct {
	Backend        BackendType
	LocalConfig    *LocalConfig
	S3Config       *S3Config
	GitConfig      *GitProviderOptions
	PostgresConfig *PostgresConfig
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	BaseDir string
}

// S3Config holds configuration for S3 storage. When Client is nil one is built
// from the default AWS credential chain using Region, Profile and Endpoint.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Profile  string
	Endpoint string
	Client   *s3.Client
}

// PostgresConfig holds configuration for Postgres storage. When Pool is nil
// one is opened from URL.
type PostgresConfig struct {
	URL      string
	MaxConns int32
	Pool     *pgxpool.Pool
	// SkipMigrations leaves the schema untouched on start.
	SkipMigrations bool
}

// StorageManager hands out namespace-scoped providers over one backend.
type StorageManager struct {
	config   Config
	provider FileProvider
	closer   func()
}

// New opens the configured backend.
func New(ctx context.Context, config Config, log logger.Logger) (*StorageManager, error) {
	m := &StorageManager{config: config}

	switch config.Backend {
	case BackendLocal:
		if config.LocalConfig == nil || config.LocalConfig.BaseDir == "" {
			return nil, fmt.Errorf("base directory is required for local backend")
		}
		m.provider = NewLocalFileProvider(config.LocalConfig.BaseDir)

	case BackendS3:
		cfg := config.S3Config
		if cfg == nil || cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket is required for s3 backend")
		}
		client := cfg.Client
		if client == nil {
			var err error
			if client, err = newS3Client(ctx, cfg); err != nil {
				return nil, err
			}
		}
		m.provider = NewS3FileProvider(cfg.Bucket, cfg.Prefix, NewAWSS3Client(client))

	case BackendGit:
		if config.GitConfig == nil {
			return nil, fmt.Errorf("git config is required for git backend")
		}
		provider, err := NewGitFileProvider(*config.GitConfig)
		if err != nil {
			return nil, err
		}
		m.provider = provider

	case BackendPostgres:
		cfg := config.PostgresConfig
		if cfg == nil || (cfg.Pool == nil && cfg.URL == "") {
			return nil, fmt.Errorf("database url is required for postgres backend")
		}
		pool := cfg.Pool
		if pool == nil {
			poolCfg, err := pgxpool.ParseConfig(cfg.URL)
			if err != nil {
				return nil, fmt.Errorf("parse database url: %w", err)
			}
			if cfg.MaxConns > 0 {
				poolCfg.MaxConns = cfg.MaxConns
			}
			if pool, err = pgxpool.NewWithConfig(ctx, poolCfg); err != nil {
				return nil, fmt.Errorf("open database pool: %w", err)
			}
			m.closer = pool.Close
		}
		if !cfg.SkipMigrations {
			if err := RunMigrations(pool, log); err != nil {
				m.Close()
				return nil, err
			}
		}
		m.provider = NewPostgresFileProvider(pool)

	default:
		return nil, fmt.Errorf("unsupported backend type: %q", config.Backend)
	}

	log.Info("Storage backend ready", logger.StringField("backend", string(config.Backend)))
	return m, nil
}

// NewWithProvider creates a StorageManager over a custom FileProvider.
func NewWithProvider(provider FileProvider) *StorageManager {
	return &StorageManager{provider: provider}
}

// GetProvider returns a FileProvider isolated to namespace.
func (m *StorageManager) GetProvider(namespace string) FileProvider {
	if namespace == "" {
		return m.provider
	}
	return NewPrefixedFileProvider(m.provider, namespace)
}

// Backend returns the configured backend type.
func (m *StorageManager) Backend() BackendType {
	return m.config.Backend
}

// Ping reports whether the backend is reachable.
func (m *StorageManager) Ping(ctx context.Context) error {
	if pinger, ok := m.provider.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Close releases resources the manager opened itself.
func (m *StorageManager) Close() {
	if m.closer != nil {
		m.closer()
		m.closer = nil
	}
}

func newS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	}), nil
}
