package cmd

import (
	"github.com/spf13/cobra"

	"live-ingest/config"
	server2 "live-ingest/server"
)

func healthcheck(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "run the deep health check once and exit non-zero when unhealthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHealthcheck(config)
		},
	}
}
