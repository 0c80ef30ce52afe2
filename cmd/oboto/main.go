// Package main provides the CLI entry point for oboto, a single-process AI
// agent runtime: a bounded actor-critic loop over tool calls, plus a
// background task manager and a recurring scheduler that spawn independent
// runs of the same loop.
//
// # Basic Usage
//
// Run a single request to completion:
//
//	oboto run "summarize this repo's README"
//
// Spawn the same request as a background task and poll it:
//
//	oboto task spawn "summarize this repo's README"
//	oboto task list
//
// Register a recurring schedule:
//
//	oboto schedule create --name daily-report --interval 24h "send the daily report"
//
// # Environment Variables
//
//   - OBOTO_CONFIG: path to the YAML configuration file (default: oboto.yaml)
//   - OBOTO_OPENAI_API_KEY: OpenAI API key for the default transport adapter
//   - OBOTO_DEFAULT_MODEL: overrides llm.default_model
//   - OBOTO_WORKSPACE_DIR: overrides workspace.dir
//   - OBOTO_LOG_LEVEL: overrides logging.level
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main so tests
// can exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "oboto",
		Short:        "oboto - a bounded actor-critic AI agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	defaultConfig := "oboto.yaml"
	if v := os.Getenv("OBOTO_CONFIG"); v != "" {
		defaultConfig = v
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to YAML configuration file")

	rootCmd.AddCommand(
		buildRunCmd(&configPath),
		buildTaskCmd(&configPath),
		buildScheduleCmd(&configPath),
	)
	return rootCmd
}
