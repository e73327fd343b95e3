package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/group_tagger/internal/session_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// CredentialsCommand returns a command for inspecting stored session credentials
func CredentialsCommand() *cli.Command {
	return &cli.Command{
		Name:    "credentials",
		Aliases: []string{"creds"},
		Usage:   "Stored session credential operations",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List sessions that will be restored on startup",
				Action: credentialsListAction,
			},
			{
				Name:      "purge",
				Usage:     "Delete a stored credential so it is never restored",
				ArgsUsage: "<session-id>",
				Action:    credentialsPurgeAction,
			},
		},
	}
}

func credentialsListAction(ctx *cli.Context) error {
	log := getLogger(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	storage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	stored, err := session_manager.ListCredentials(ctx.Context, storage, log)
	if err != nil {
		log.Error("Failed to list credentials", logger.ErrorField(err))
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	w := tabwriter.NewWriter(ctx.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTENANT\tREQUIRED\tCREATED")
	for _, s := range stored {
		tenant, created := s.Tenant, ""
		if !s.Indexed {
			tenant = "-"
		}
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.ID, tenant, s.Required, created)
	}
	return w.Flush()
}

func credentialsPurgeAction(ctx *cli.Context) error {
	log := getLogger(ctx)

	if ctx.NArg() != 1 {
		return errors.New("usage: credentials purge <session-id>")
	}
	id := ctx.Args().First()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	storage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := session_manager.PurgeCredential(ctx.Context, storage, id, log); err != nil {
		return fmt.Errorf("failed to purge %s: %w", id, err)
	}
	fmt.Fprintf(ctx.App.Writer, "Purged %s\n", id)
	return nil
}
