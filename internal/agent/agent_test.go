package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/dorvan/ragent/internal/knowledge"
	"github.com/dorvan/ragent/internal/llm"
	"github.com/dorvan/ragent/internal/log"
	"github.com/dorvan/ragent/internal/retrieval"
	"github.com/dorvan/ragent/internal/testutil"
	"github.com/dorvan/ragent/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seededStore(t *testing.T) *knowledge.MemoryStore {
	t.Helper()
	store := knowledge.NewMemoryStore()
	err := store.Upsert(context.Background(), []knowledge.Chunk{
		{ID: "1", Content: "go channels coordinate goroutines", Metadata: map[string]string{"filename": "go.md"}},
		{ID: "2", Content: "contexts carry deadlines", Metadata: map[string]string{"filename": "ctx.md"}},
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return store
}

func searchCall(query string) llm.ToolCall {
	return llm.ToolCall{
		ID:        "call-1",
		Name:      tools.SearchKnowledgeBaseName,
		Arguments: map[string]any{"query": query},
	}
}

func TestRun_NoToolCallsTerminatesAfterOneIteration(t *testing.T) {
	model := testutil.NewMockModel("the answer")
	ctrl, err := New(Config{
		Model:  model,
		Store:  seededStore(t),
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if model.CallCount() != 1 {
		t.Errorf("model calls = %d, want exactly 1", model.CallCount())
	}
	if result.Response.Content != "the answer" {
		t.Errorf("Response = %q", result.Response.Content)
	}
	if result.Citations != nil {
		t.Errorf("Citations should be nil when no retrieval occurred, got %+v", result.Citations)
	}
	if len(result.UsagePerNode) != 1 || result.UsagePerNode[0].Iteration != 1 {
		t.Errorf("usage entries wrong: %+v", result.UsagePerNode)
	}
}

func TestRun_AlwaysToolModelStopsAtIterationCap(t *testing.T) {
	model := testutil.AlwaysToolModel(tools.SearchKnowledgeBaseName, map[string]any{"query": "go channels"})
	ctrl, err := New(Config{
		Model:  model,
		Store:  seededStore(t),
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("cap exhaustion must be a degraded success, got error: %v", err)
	}

	if len(result.UsagePerNode) != DefaultMaxIterations {
		t.Errorf("model invocations = %d, want %d", len(result.UsagePerNode), DefaultMaxIterations)
	}
	// The last message in history stands as the result.
	last := result.Messages[len(result.Messages)-1]
	if result.Response.ID != last.ID {
		t.Errorf("Response should be the last message in history")
	}
	// Retrieval happened, so citations are present and every one is
	// linked to a message.
	if result.Citations == nil {
		t.Fatal("expected citations after retrieval")
	}
	for _, c := range result.Citations {
		if c.UsedByMessageID == "" {
			t.Errorf("citation %d left unlinked", c.ID)
		}
	}
}

func TestRun_ToolThenAnswerLinksCitations(t *testing.T) {
	model := testutil.NewMockModel("final answer")
	model.EnqueueToolCalls(searchCall("go channels"))

	ctrl, err := New(Config{
		Model:  model,
		Store:  seededStore(t),
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "how do channels work?")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Response.Content != "final answer" {
		t.Errorf("Response = %q", result.Response.Content)
	}
	if len(result.Citations) == 0 {
		t.Fatal("expected citations from the search result")
	}
	for _, c := range result.Citations {
		if c.UsedByMessageID != result.Response.ID {
			t.Errorf("citation linked to %q, want final assistant message %q", c.UsedByMessageID, result.Response.ID)
		}
		if c.UsedInIteration != 1 {
			t.Errorf("citation iteration = %d, want 1", c.UsedInIteration)
		}
	}
}

func TestRun_CitationDedupAcrossToolCalls(t *testing.T) {
	model := testutil.NewMockModel("done")
	// Two identical searches across two iterations.
	model.EnqueueToolCalls(searchCall("go channels"))
	model.EnqueueToolCalls(searchCall("go channels"))

	ctrl, err := New(Config{
		Model:  model,
		Store:  seededStore(t),
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	seen := make(map[string]int)
	for _, c := range result.Citations {
		seen[c.Content+"|"+c.Metadata["filename"]]++
	}
	for key, n := range seen {
		if n > 1 {
			t.Errorf("citation %q recorded %d times, want 1", key, n)
		}
	}
}

func TestRun_EmptyStoreDiagnosticYieldsEmptyCitations(t *testing.T) {
	model := testutil.NewMockModel("done")
	model.EnqueueToolCalls(searchCall("anything"))

	ctrl, err := New(Config{
		Model:  model,
		Store:  knowledge.NewMemoryStore(),
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	// Retrieval ran but matched nothing: citations must be present and
	// empty, not nil.
	if result.Citations == nil {
		t.Fatal("Citations should be non-nil when the retrieval tool ran")
	}
	if len(result.Citations) != 0 {
		t.Errorf("expected zero citations, got %+v", result.Citations)
	}
}

func TestRun_UnknownToolBecomesErrorResult(t *testing.T) {
	model := testutil.NewMockModel("recovered")
	model.EnqueueToolCalls(llm.ToolCall{ID: "x", Name: "vanished_tool", Arguments: map[string]any{}})

	ctrl, err := New(Config{
		Model:  model,
		Store:  seededStore(t),
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("unknown tool must not abort the loop: %v", err)
	}

	var found bool
	for _, m := range result.Messages {
		if m.Role == llm.RoleTool && strings.HasPrefix(m.Content, "Error:") {
			found = true
			if m.ToolName != "vanished_tool" {
				t.Errorf("error result tool name = %q", m.ToolName)
			}
		}
	}
	if !found {
		t.Error("expected a synthetic error tool-result message")
	}
	if result.Response.Content != "recovered" {
		t.Errorf("loop should continue to the final answer, got %q", result.Response.Content)
	}
}

func TestRun_NoToolsConfiguredSkipsLoop(t *testing.T) {
	model := testutil.NewMockModel("direct answer")
	ctrl, err := New(Config{Model: model, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if model.CallCount() != 1 {
		t.Errorf("model calls = %d, want 1", model.CallCount())
	}
	calls := model.Calls()
	if len(calls[0].Tools) != 0 {
		t.Errorf("no tools should be advertised, got %+v", calls[0].Tools)
	}
	if result.Response.Content != "direct answer" {
		t.Errorf("Response = %q", result.Response.Content)
	}
}

func TestRun_StructuredOutputSecondCall(t *testing.T) {
	type verdict struct {
		Answer string `json:"answer"`
	}

	model := testutil.NewMockModel("fallback")
	model.EnqueueToolCalls(searchCall("go channels"))
	model.EnqueueText("prose answer")
	model.EnqueueText(`{"answer": "structured"}`)

	ctrl, err := New(Config{
		Model:      model,
		Store:      seededStore(t),
		OutputType: verdict{},
		Logger:     log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	result, err := ctrl.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Response.Content != `{"answer": "structured"}` {
		t.Errorf("Response should be the structured call's content, got %q", result.Response.Content)
	}
	if result.StructuredData == nil {
		t.Fatal("expected StructuredData")
	}
	// The structured re-invocation must not lose earlier usage or
	// citations.
	if len(result.UsagePerNode) != 3 {
		t.Errorf("usage entries = %d, want 3 (loop x2 + structured)", len(result.UsagePerNode))
	}
	if len(result.Citations) == 0 {
		t.Error("citations from the loop must be preserved")
	}
}

func TestRun_ModelErrorPropagates(t *testing.T) {
	model := testutil.NewMockModel("unused")
	model.SetError(errors.New("provider down"))

	ctrl, err := New(Config{Model: model, Store: seededStore(t), Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := ctrl.Run(context.Background(), "question"); err == nil {
		t.Error("expected model failure to propagate")
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoModel) {
		t.Errorf("error = %v, want ErrNoModel", err)
	}
}

func TestNew_DefaultStrictnessFromConfig(t *testing.T) {
	ctrl, err := New(Config{
		Model:      testutil.NewMockModel("x"),
		Store:      knowledge.NewMemoryStore(),
		Strictness: retrieval.StrictnessBalanced,
		Logger:     log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if ctrl.registry.Count() != 1 {
		t.Errorf("expected exactly the retrieval tool registered, got %v", ctrl.registry.Names())
	}
}
