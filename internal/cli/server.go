package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/group_tagger/internal/server"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// ServerCommand returns a command for server operations
func ServerCommand() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Server operations",
		Subcommands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start the session orchestrator and its HTTP service",
				Action: serverStartAction,
			},
		},
	}
}

func serverStartAction(ctx *cli.Context) error {
	log := getLogger(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		log.Error("Failed to load config", logger.ErrorField(err))
		return err
	}

	// The configured logger replaces the bootstrap one from the global flags.
	log = logger.NewLogger(cfg.LoggerConfig())
	cfg.LogConfig(log)

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := server.New(runCtx, cfg, log)
	if err != nil {
		log.Error("Failed to create server", logger.ErrorField(err))
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Fatal server error occurred", logger.ErrorField(err))
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("Server exited gracefully")
	return nil
}
