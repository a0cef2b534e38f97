package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dorvan/ragent/internal/llm"
)

// echoTool returns its "text" argument.
type echoTool struct {
	name string
	err  error
}

type echoInput struct {
	Text string `json:"text"`
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes text back" }

func (e *echoTool) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[echoInput](nil)
}

func (e *echoTool) Run(_ context.Context, args map[string]any) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	text, _ := args["text"].(string)
	return "echo: " + text, nil
}

func TestRegistry_DefsCarryArgumentSchema(t *testing.T) {
	r, err := NewRegistry(&echoTool{name: "echo"})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	defs := r.Defs()
	if len(defs) != 1 {
		t.Fatalf("defs = %d, want 1", len(defs))
	}
	schema := defs[0].Schema
	if schema == nil {
		t.Fatal("advertised def must carry the argument schema")
	}
	if _, ok := schema.Properties["text"]; !ok {
		t.Errorf("schema is missing the text property: %+v", schema)
	}
}

func TestRegistry_DuplicateNames(t *testing.T) {
	_, err := NewRegistry(&echoTool{name: "echo"}, &echoTool{name: "echo"})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestRegistry_LookupAndDefs(t *testing.T) {
	r, err := NewRegistry(&echoTool{name: "echo"}, &echoTool{name: "other"})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	if _, ok := r.Lookup("echo"); !ok {
		t.Error("Lookup(echo) should succeed")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) should fail")
	}

	defs := r.Defs()
	if len(defs) != 2 || defs[0].Name != "echo" || defs[1].Name != "other" {
		t.Errorf("Defs out of order or wrong: %+v", defs)
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	r, _ := NewRegistry(&echoTool{name: "echo"})

	out, err := r.Dispatch(context.Background(), llm.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if out != "echo: hello" {
		t.Errorf("Dispatch output = %q", out)
	}
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	r, _ := NewRegistry(&echoTool{name: "echo"})

	_, err := r.Dispatch(context.Background(), llm.ToolCall{Name: "vanished"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_DispatchToolFailure(t *testing.T) {
	boom := fmt.Errorf("backend exploded")
	r, _ := NewRegistry(&echoTool{name: "echo", err: boom})

	_, err := r.Dispatch(context.Background(), llm.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "x"},
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped tool failure", err)
	}
}

func TestRegistry_DispatchValidatesArguments(t *testing.T) {
	r, _ := NewRegistry(&echoTool{name: "echo"})

	// "text" must be a string per the schema.
	_, err := r.Dispatch(context.Background(), llm.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": 42},
	})
	if err == nil {
		t.Error("expected schema validation failure for non-string text")
	}
}
