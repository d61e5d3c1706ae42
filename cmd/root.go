package cmd

import (
	"github.com/spf13/cobra"

	"live-ingest/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ingest",
		Short:         "live stream ingest gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config), healthcheck(config))
	return rootCmd
}
