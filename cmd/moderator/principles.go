package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meetingmod/moderator/pkg/principles"
)

func newPrinciplesCmd(a app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principles",
		Short: "Inspect the principles catalog",
	}
	cmd.AddCommand(newPrinciplesListCmd(a))
	return cmd
}

func newPrinciplesListCmd(a app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List principle documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			catalog, err := principles.NewCatalog(cfg.PrinciplesDir, newLogger(cmd.ErrOrStderr(), slog.LevelWarn))
			if err != nil {
				return err
			}
			list, err := catalog.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"principles": list})
			}
			if len(list) == 0 {
				fmt.Fprintf(out, "no principles in %s\n", catalog.Dir())
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTAGS\tFILE")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, strings.Join(p.Tags, ","), p.FilePath)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
