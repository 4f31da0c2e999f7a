// Package cmd implements the sage command line interface.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/internal/config"
	"github.com/sagekit/sage/internal/log"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Sage is a retrieval-augmented conversational assistant",
	Long: `Sage serves configured assistants over HTTP, answering with context
retrieved from ingested documents. Run "sage serve" to start the API,
"sage ingest" to add documents, or "sage chat" for a terminal session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file path (default: ./sage.yaml, falling back to env and defaults)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}

func newLogger(cfg *config.Config) log.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: cfg.Log.JSON})
}
