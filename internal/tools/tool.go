// Package tools provides the agent's callable tool set: a small
// explicitly registered collection dispatched by name, with JSON-schema
// validated arguments.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dorvan/ragent/internal/llm"
)

// Tool is a capability the model may invoke through the agent loop.
// Implementations must be safe for concurrent use.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// InputSchema describes the tool's argument object.
	InputSchema() (*jsonschema.Schema, error)

	// Run executes the tool. The returned string is delivered to the
	// model verbatim as the tool result.
	Run(ctx context.Context, args map[string]any) (string, error)
}

// ErrNotFound indicates a tool name with no registration. The loop
// converts it into an in-band error tool result rather than aborting.
var ErrNotFound = errors.New("tool not found")

// Registry is a finite, explicitly registered tool set with name-based
// dispatch. Stateless after construction; safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry. Duplicate names are a configuration
// error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Name()
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.tools)
}

// Defs returns the tool definitions to advertise to the model,
// including each tool's argument schema. A tool whose schema cannot be
// built is advertised without one, matching Dispatch's lenient
// validation.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema, err := t.InputSchema()
		if err != nil {
			schema = nil
		}
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      schema,
		})
	}
	return defs
}

// Dispatch resolves and runs a tool call, validating the arguments
// against the tool's input schema first. An unknown name returns
// ErrNotFound; validation and execution failures return descriptive
// errors. Callers decide whether failures abort or become in-band
// results.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	t, ok := r.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: %q (known tools: %v)", ErrNotFound, call.Name, r.Names())
	}

	if err := validateArgs(t, call.Arguments); err != nil {
		return "", fmt.Errorf("invalid arguments for %q: %w", call.Name, err)
	}

	out, err := t.Run(ctx, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("running %q: %w", call.Name, err)
	}
	return out, nil
}

func validateArgs(t Tool, args map[string]any) error {
	schema, err := t.InputSchema()
	if err != nil || schema == nil {
		// A tool without a usable schema accepts any arguments.
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return resolved.Validate(args)
}

// SortedNames returns the registered names sorted, for stable logs.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
