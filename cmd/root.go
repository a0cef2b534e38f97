// Package cmd wires the CLI: configuration, logging, the model and
// store backends, and the agent itself.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dorvan/ragent/internal/config"
	"github.com/dorvan/ragent/internal/log"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ragent",
	Short: "ragent - a retrieval-augmented terminal assistant",
	Long: `ragent answers questions with a tool-calling agent backed by a
knowledge base you build yourself: ingest documents with "ragent ingest",
then ask with "ragent ask". Without a configured database the knowledge
base lives in memory for the duration of the process.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.ragent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

// setup loads configuration and builds the logger before any
// subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger = log.New(log.Config{Level: level, JSON: jsonLogs})
	return nil
}
