package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dorvan/ragent/internal/chunk"
	"github.com/dorvan/ragent/internal/ingest"
)

var (
	chunkStrategy string
	chunkSize     int
	chunkOverlap  int
	duplicates    string
	idPrefix      string
	extraMetadata []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file|url]...",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest reads each argument (a local path or an http(s) URL), splits it
into chunks, and stores them in the knowledge base. Re-ingesting
identical content is skipped by default; choose another policy with
--duplicates.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&chunkStrategy, "strategy", "", "chunking strategy: fixed, sentence, paragraph, recursive (default from config)")
	ingestCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "maximum chunk length in characters (default from config)")
	ingestCmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", -1, "overlap between adjacent chunks (default from config)")
	ingestCmd.Flags().StringVar(&duplicates, "duplicates", "skip", "duplicate handling: skip, replace, error, allow")
	ingestCmd.Flags().StringVar(&idPrefix, "id-prefix", "", "chunk id prefix (default: filename)")
	ingestCmd.Flags().StringSliceVar(&extraMetadata, "metadata", nil, "extra chunk metadata as key=value, repeatable")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.cleanup()

	pipeline, err := ingest.New(ingest.Config{Store: b.store, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	metadata, err := parseMetadata(extraMetadata)
	if err != nil {
		return err
	}

	files := make([]ingest.FileInput, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			files = append(files, ingest.FileInput{URL: arg})
		} else {
			files = append(files, ingest.FileInput{Path: arg})
		}
	}

	result, err := pipeline.Ingest(ctx, files, ingest.Options{
		Chunking:   chunkOptions(),
		Duplicates: ingest.DuplicateHandling(duplicates),
		Metadata:   metadata,
		IDPrefix:   idPrefix,
	})
	if err != nil {
		return fmt.Errorf("ingesting: %w", err)
	}

	fmt.Printf("Added %d chunks (%d files skipped, %d replaced)\n",
		result.Added, result.Skipped, result.Replaced)
	return nil
}

// chunkOptions starts from the configured chunking section and applies
// any flag overrides.
func chunkOptions() chunk.Options {
	opts := cfg.ChunkOptions()
	if chunkStrategy != "" {
		opts.Strategy = chunk.Strategy(chunkStrategy)
	}
	if chunkSize > 0 {
		opts.ChunkSize = chunkSize
	}
	if chunkOverlap >= 0 {
		opts.ChunkOverlap = chunkOverlap
	}
	return opts
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", pair)
		}
		out[key] = value
	}
	return out, nil
}
