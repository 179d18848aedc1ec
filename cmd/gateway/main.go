package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/liquidity-gateway/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:          "gateway",
		Short:        "AMM liquidity gateway: REST snapshots and websocket streams of indexed pool state",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path (empty uses defaults and environment)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket servers",
		RunE:  runServe,
	}
	serveCmd.Flags().String("log-level", "", "override log level (debug, info, warn, error)")
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
