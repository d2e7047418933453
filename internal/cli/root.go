package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsst-ts/nightreport/internal/version"
)

// RootCmd returns the nightreport command. Run without a subcommand it serves.
func RootCmd() *cobra.Command {
	serve := ServeCmd()
	rootCmd := &cobra.Command{
		Use:     "nightreport",
		Short:   "Night report service",
		Version: version.String(),
		Long: `nightreport stores observatory night reports in PostgreSQL and serves
them over a REST API. Configuration comes from the environment, optionally
preloaded from a .env file (ENV_FILE).`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(VersionCmd())
	return rootCmd
}

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
