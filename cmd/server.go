package cmd

import (
	"github.com/spf13/cobra"

	"live-ingest/config"
	server2 "live-ingest/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "serve media server hooks and health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHttp(config)
		},
	}
}
