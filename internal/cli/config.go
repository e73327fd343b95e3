package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// ConfigCommand returns a command for configuration operations
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Configuration operations",
		Subcommands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "Validate configuration",
				Action: configValidateAction,
			},
		},
	}
}

func configValidateAction(ctx *cli.Context) error {
	log := getLogger(ctx)

	log.Info("Validating configuration")

	cfg, err := loadConfig(ctx)
	if err != nil {
		log.Error("Configuration validation failed", logger.ErrorField(err))
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration validation passed",
		logger.StringField("storage_backend", cfg.Storage.Backend),
		logger.StringField("gateway_url", cfg.Gateway.URL))
	w := ctx.App.Writer
	fmt.Fprintln(w, "✅ Configuration is valid")
	fmt.Fprintf(w, "  storage:      %s\n", cfg.Storage.Backend)
	fmt.Fprintf(w, "  gateway:      %s\n", cfg.Gateway.URL)
	fmt.Fprintf(w, "  max sessions: %d (concurrency %d, stagger %s)\n",
		cfg.Bootstrap.MaxSessions, cfg.Bootstrap.Concurrency, cfg.Bootstrap.Stagger)
	fmt.Fprintf(w, "  prefix:       %s\n", cfg.Commands.Prefix)
	fmt.Fprintf(w, "  alerts:       telegram=%t slack=%t\n", cfg.Telegram.Enabled(), cfg.Slack.Enabled())
	return nil
}
