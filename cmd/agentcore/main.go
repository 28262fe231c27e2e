// Package main provides the agentcore CLI: a single binary that loads the
// §6 configuration surface, wires the Core components (HTTP Transport,
// Responder, Agent Runtime, Batching Service, Telemetry Bus) together, and
// serves inbound requests.
//
// # Basic Usage
//
// Start the server:
//
//	agentcore serve --config agentcore.yaml
//
// Validate a configuration file without starting anything:
//
//	agentcore config validate --config agentcore.yaml
//
// Print the configuration file's JSON Schema:
//
//	agentcore config schema
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can drive it without a process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - single-agent runtime server",
		Long: `agentcore drives the Agent Runtime turn loop behind an HTTP front
door: inbound messages land in the Batching Service, flushed batches run
through the Agent Runtime's guardrail/tool/handoff loop, and every
lifecycle event is fanned out over the Telemetry Bus.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
