package tools

// knowledge.go defines the retrieval tool exposed to the model.
//
// search_knowledge_base runs a similarity query through the retrieval
// engine and returns matched chunks as JSON. When nothing is retrievable
// it returns a human-readable diagnostic instead, so the model can tell
// the user what the knowledge base contains.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dorvan/ragent/internal/knowledge"
	"github.com/dorvan/ragent/internal/retrieval"
)

// SearchKnowledgeBaseName is the reserved name of the retrieval tool.
// The citation tracker keys on it to recognize retrieval results.
const SearchKnowledgeBaseName = "search_knowledge_base"

// maxDiagnosticFilenames bounds the document listing in the no-results
// diagnostic.
const maxDiagnosticFilenames = 10

// KnowledgeSearchInput is the retrieval tool's argument object.
type KnowledgeSearchInput struct {
	Query string `json:"query" jsonschema:"the search query string"`
}

// SearchResult is one retrieved passage as serialized for the model.
type SearchResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// KnowledgeSearch implements Tool over a retrieval engine.
type KnowledgeSearch struct {
	engine     *retrieval.Engine
	store      knowledge.Store
	maxResults int
	strictness retrieval.Strictness
	logger     *slog.Logger
}

// NewKnowledgeSearch creates the retrieval tool. Strictness and
// maxResults come from run configuration; the model cannot change them.
func NewKnowledgeSearch(engine *retrieval.Engine, store knowledge.Store, strictness retrieval.Strictness, maxResults int, logger *slog.Logger) (*KnowledgeSearch, error) {
	if engine == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("knowledge store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxResults <= 0 {
		maxResults = retrieval.DefaultMaxResults
	}
	if strictness == "" {
		strictness = retrieval.StrictnessAllResults
	}
	return &KnowledgeSearch{
		engine:     engine,
		store:      store,
		maxResults: maxResults,
		strictness: strictness,
		logger:     logger,
	}, nil
}

// Name implements Tool.
func (k *KnowledgeSearch) Name() string { return SearchKnowledgeBaseName }

// Description implements Tool.
func (k *KnowledgeSearch) Description() string {
	return "Search the knowledge base for passages relevant to a query using semantic similarity. " +
		"Returns a JSON array of {content, metadata} entries, or a diagnostic message when nothing matches. " +
		"Use this before answering questions that may be covered by ingested documents."
}

// InputSchema implements Tool.
func (k *KnowledgeSearch) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[KnowledgeSearchInput](nil)
}

// Run implements Tool.
func (k *KnowledgeSearch) Run(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query argument is required")
	}

	results, err := k.engine.Query(ctx, query, retrieval.QueryOptions{
		MaxResults: k.maxResults,
		Strictness: k.strictness,
	})
	if err != nil {
		return "", fmt.Errorf("knowledge base query: %w", err)
	}

	if len(results) == 0 {
		return k.diagnostic(ctx)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{Content: r.Content, Metadata: r.Metadata})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding search results: %w", err)
	}

	k.logger.Debug("knowledge base search", "query_len", len(query), "results", len(out))
	return string(raw), nil
}

// diagnostic explains an empty result to the model: either the store
// holds nothing, or nothing cleared the strictness threshold. It lists
// known documents so the model can tell the user what is available, and
// states that strictness is user-controlled.
func (k *KnowledgeSearch) diagnostic(ctx context.Context) (string, error) {
	count, err := k.store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("counting knowledge base: %w", err)
	}

	if count == 0 {
		return "The knowledge base is empty. No documents have been ingested yet.", nil
	}

	filenames, err := k.knownFilenames(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "No results cleared the current search strictness (%s). ", k.strictness)
	b.WriteString("The knowledge base contains the following documents:\n")
	for _, f := range filenames {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("The search strictness can only be changed by the end user, not by you. " +
		"Suggest that the user relax it if these documents look relevant.")
	return b.String(), nil
}

// knownFilenames returns up to maxDiagnosticFilenames distinct source
// filenames in insertion order.
func (k *KnowledgeSearch) knownFilenames(ctx context.Context) ([]string, error) {
	chunks, err := k.store.GetByFilter(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge base: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, c := range chunks {
		name := c.Metadata[knowledge.MetadataKeyFilename]
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
		if len(names) == maxDiagnosticFilenames {
			break
		}
	}
	if len(names) == 0 {
		names = append(names, "(unnamed documents)")
	}
	return names, nil
}
