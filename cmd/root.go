// Package cmd contains the tessera CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessera-ai/tessera/internal/log"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Tessera document ingestion and semantic routing service",
	Long: `Tessera ingests documents through a durable job pipeline, stores their
embeddings in PostgreSQL, and routes questions to the right destination
agent with layered, organization-aware visibility.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "write logs as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from the persistent flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: flagJSONLogs})
	slog.SetDefault(logger)
	return logger
}

// configHint points the operator at the configuration sources after a
// load failure.
func configHint() {
	os.Stderr.WriteString("hint: configuration is read from ~/.tessera/config.yaml and TESSERA_* environment variables\n")
}
