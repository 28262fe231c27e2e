package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the agentcore
// HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentcore server",
		Long: `Start the agentcore server.

The server will:
1. Load and validate configuration from the specified file
2. Wire the HTTP Transport, Responder, and Agent Runtime for the
   configured provider
3. Start the Batching Service fronting the Agent Runtime
4. Serve inbound messages at POST /v1/messages, health checks at
   /healthz, and Prometheus metrics at /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  agentcore serve

  # Start with custom config
  agentcore serve --config /etc/agentcore/production.yaml

  # Start with debug logging
  agentcore serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")

	return cmd
}
