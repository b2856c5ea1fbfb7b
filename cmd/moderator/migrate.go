package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetingmod/moderator/pkg/storage/sqlstore"
)

func openStore(ctx context.Context, a app, stderr io.Writer) (*sqlstore.Store, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return sqlstore.Open(ctx, cfg.DatabaseURL, newLogger(stderr, slog.LevelWarn))
}

func newMigrateCmd(a app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}
	cmd.AddCommand(newMigrateStatusCmd(a))
	return cmd
}

func newMigrateStatusCmd(a app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()
			statuses, err := store.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
			for _, st := range statuses {
				state, at := "pending", "-"
				if st.Applied {
					state = "applied"
					at = st.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Version, state, at, st.Path)
			}
			return tw.Flush()
		},
	}
}
