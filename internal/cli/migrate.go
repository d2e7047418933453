package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lsst-ts/nightreport/internal/config"
	"github.com/lsst-ts/nightreport/internal/database"
	"github.com/lsst-ts/nightreport/internal/logging"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply, revert or inspect schema migrations of the nightreport table.

Examples:
  nightreport migrate up            # apply all pending migrations
  nightreport migrate down --to 2   # revert to version 2
  nightreport migrate down --to 0   # remove the schema
  nightreport migrate status`,
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := logging.Setup(cfg.SlogLevel())
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			n, err := database.Migrate(cmd.Context(), db, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d migration(s); schema at version %d\n",
				color.New(color.FgGreen).Sprint("applied"), n, database.LatestVersion())
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations newer than --to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target < 0 || target > database.LatestVersion() {
				return fmt.Errorf("--to must be between 0 and %d", database.LatestVersion())
			}
			cfg := config.Load()
			log := logging.Setup(cfg.SlogLevel())
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			n, err := database.Rollback(cmd.Context(), db, log, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d migration(s); schema at version %d\n",
				color.New(color.FgYellow).Sprint("reverted"), n, target)
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "schema version to revert to")
	cmd.MarkFlagRequired("to")
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			status, err := database.Status(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Version  State    Name")
			fmt.Fprintln(cmd.OutOrStdout(), "──────────────────────────────────────────────")
			for _, s := range status {
				state := color.New(color.FgYellow).Sprint("pending")
				applied := ""
				if s.Applied {
					state = color.New(color.FgGreen).Sprint("applied")
					applied = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8d %s  %-32s %s\n", s.Version, state, s.Name, applied)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
