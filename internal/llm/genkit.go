package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

// GenkitClient implements Client over a Genkit instance. Tool requests
// are returned to the caller rather than executed by Genkit, so the
// agent loop keeps ownership of tool dispatch.
//
// Safe for concurrent use.
type GenkitClient struct {
	g         *genkit.Genkit
	modelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	logger    *slog.Logger

	mu      sync.Mutex
	defined map[string]ai.Tool // tools registered with Genkit, by name
}

// NewGenkitClient creates a GenkitClient for the given provider-
// qualified model name.
func NewGenkitClient(g *genkit.Genkit, modelName string, logger *slog.Logger) (*GenkitClient, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitClient{
		g:         g,
		modelName: modelName,
		logger:    logger,
		defined:   make(map[string]ai.Tool),
	}, nil
}

// Generate invokes the model with the conversation and tool set.
func (c *GenkitClient) Generate(ctx context.Context, req Request) (*Response, error) {
	msgs, err := toGenkitMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(msgs...),
	}
	if len(req.Tools) > 0 {
		refs := make([]ai.ToolRef, 0, len(req.Tools))
		for _, t := range req.Tools {
			refs = append(refs, c.toolRef(t))
		}
		opts = append(opts, ai.WithTools(refs...))
		// The loop controller executes tools itself; Genkit must hand
		// tool requests back instead of dispatching them.
		opts = append(opts, ai.WithReturnToolRequests(true))
	}
	if req.OutputType != nil {
		opts = append(opts, ai.WithOutputType(req.OutputType))
	}

	start := time.Now()
	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("model call timed out after %s: %w", time.Since(start).Round(time.Millisecond), err)
		}
		return nil, fmt.Errorf("model generation: %w", err)
	}

	out := &Response{
		Message: Message{
			ID:      uuid.NewString(),
			Role:    RoleAI,
			Content: resp.Text(),
		},
	}

	for _, tr := range resp.ToolRequests() {
		call := ToolCall{
			ID:        tr.Ref,
			Name:      tr.Name,
			Arguments: toArguments(tr.Input),
		}
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	out.Message.ToolCalls = out.ToolCalls

	if resp.Usage != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		}
	}

	c.logger.Debug("model call complete",
		"model", c.modelName,
		"tool_requests", len(out.ToolCalls),
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)
	return out, nil
}

// toolRef returns the Genkit registration for a tool, defining it on
// first use with the tool's argument schema so the model knows the
// expected input shape. The handler is never invoked (tool requests
// are returned, not dispatched), so it only guards against
// misconfiguration.
func (c *GenkitClient) toolRef(def ToolDef) ai.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.defined[def.Name]; ok {
		return t
	}

	handler := func(_ *ai.ToolContext, _ any) (string, error) {
		return "", fmt.Errorf("tool %q is executed by the agent loop, not by genkit", def.Name)
	}

	var t ai.Tool
	if schema := schemaMap(def.Schema); schema != nil {
		t = genkit.DefineTool(c.g, def.Name, def.Description, handler, ai.WithInputSchema(schema))
	} else {
		t = genkit.DefineTool(c.g, def.Name, def.Description, handler)
	}
	c.defined[def.Name] = t
	return t
}

// schemaMap converts a tool's argument schema to the map form Genkit
// registers. Returns nil when there is no usable schema, in which case
// the tool is advertised without one.
func schemaMap(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func toGenkitMessages(messages []Message) ([]*ai.Message, error) {
	out := make([]*ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, &ai.Message{
				Role:    ai.RoleSystem,
				Content: []*ai.Part{ai.NewTextPart(m.Content)},
			})
		case RoleHuman:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case RoleAI:
			parts := make([]*ai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, ai.NewTextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, ai.NewToolRequestPart(&ai.ToolRequest{
					Ref:   tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				}))
			}
			out = append(out, &ai.Message{Role: ai.RoleModel, Content: parts})
		case RoleTool:
			out = append(out, &ai.Message{
				Role: ai.RoleTool,
				Content: []*ai.Part{ai.NewToolResponsePart(&ai.ToolResponse{
					Ref:    m.ToolCallID,
					Name:   m.ToolName,
					Output: m.Content,
				})},
			})
		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return out, nil
}

// toArguments normalizes a tool request input into a string-keyed map.
// Non-map inputs are wrapped under "input"; unparseable values yield an
// empty map.
func toArguments(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return map[string]any{"input": input}
		}
		return m
	}
}
