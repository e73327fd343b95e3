package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	appconfig "github.com/lewisedginton/group_tagger/internal/config"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/pkg/config"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// getLogger retrieves the logger from the CLI context metadata
func getLogger(ctx *cli.Context) logger.Logger {
	if ctx.App.Metadata != nil {
		if log, ok := ctx.App.Metadata["logger"].(logger.Logger); ok {
			return log
		}
	}

	// Fallback to default logger if not found
	return logger.NewLogger(logger.Config{
		Level:   logger.InfoLevel,
		Format:  "json",
		Service: "group-tagger",
	})
}

// loadConfig reads the optional --config-file and overlays the environment.
func loadConfig(ctx *cli.Context) (*appconfig.AppConfig, error) {
	cfg := &appconfig.AppConfig{}
	if err := config.GetConfig(cfg, ctx.String("config-file"), false); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStorage opens the configured credential store for offline commands.
func openStorage(ctx *cli.Context, cfg *appconfig.AppConfig, log logger.Logger) (*storage_manager.StorageManager, error) {
	smCfg := cfg.StorageManagerConfig()
	if smCfg.Backend == storage_manager.BackendLocal {
		if err := os.MkdirAll(smCfg.LocalConfig.BaseDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	storage, err := storage_manager.New(ctx.Context, smCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return storage, nil
}
