package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, injected at build time via ldflags.
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("ragent %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Model: %s\n", cfg.ModelName)
	fmt.Printf("  Embedder: %s\n", cfg.EmbedderModel)
	fmt.Printf("  Max iterations: %d\n", cfg.MaxIterations)
	fmt.Printf("  Chunking: %s (size %d, overlap %d)\n",
		cfg.Chunking.Strategy, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	fmt.Printf("  Retrieval: %s (max %d results)\n",
		cfg.Retrieval.Strictness, cfg.Retrieval.MaxResults)
	if cfg.DatabaseURL != "" {
		fmt.Println("  Store: postgres")
	} else {
		fmt.Println("  Store: in-memory")
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		fmt.Println("  GEMINI_API_KEY: configured")
	} else {
		fmt.Println("  GEMINI_API_KEY: not set")
	}
	return nil
}
