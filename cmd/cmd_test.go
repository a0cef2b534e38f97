package cmd

import (
	"testing"

	"github.com/dorvan/ragent/internal/chunk"
	"github.com/dorvan/ragent/internal/config"
)

func TestQualifyModel(t *testing.T) {
	if got := qualifyModel("gemini-2.5-flash"); got != "googleai/gemini-2.5-flash" {
		t.Errorf("qualifyModel = %q", got)
	}
	if got := qualifyModel("googleai/gemini-2.5-pro"); got != "googleai/gemini-2.5-pro" {
		t.Errorf("already-qualified name changed: %q", got)
	}
}

func TestParseMetadata(t *testing.T) {
	got, err := parseMetadata([]string{"team=infra", "source=wiki"})
	if err != nil {
		t.Fatalf("parseMetadata error: %v", err)
	}
	if got["team"] != "infra" || got["source"] != "wiki" {
		t.Errorf("parseMetadata = %v", got)
	}

	if _, err := parseMetadata([]string{"no-equals"}); err == nil {
		t.Error("expected error for malformed pair")
	}
	if _, err := parseMetadata([]string{"=value"}); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestChunkOptions_FlagOverrides(t *testing.T) {
	cfg = &config.Config{
		Chunking: config.ChunkingConfig{Strategy: "recursive", ChunkSize: 1000, ChunkOverlap: 200},
	}
	t.Cleanup(func() {
		cfg = nil
		chunkStrategy, chunkSize, chunkOverlap = "", 0, -1
	})

	chunkStrategy = "fixed"
	chunkSize = 300
	chunkOverlap = 0

	got := chunkOptions()
	if got.Strategy != chunk.StrategyFixed || got.ChunkSize != 300 || got.ChunkOverlap != 0 {
		t.Errorf("chunkOptions = %+v", got)
	}
}
