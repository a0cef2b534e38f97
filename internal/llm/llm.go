// Package llm defines the narrow model capability the agent loop
// depends on. The core never touches a concrete SDK type; GenkitClient
// is the production implementation and testutil.MockModel the test one.
package llm

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry in a conversation. Messages are immutable once
// appended; ordering is conversation order.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"` // set on tool-result messages
	ToolName   string     `json:"toolName,omitempty"`   // set on tool-result messages
}

// Usage is the raw token accounting of one model invocation.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ToolDef describes a tool offered to the model. The argument schema is
// carried alongside the name so backends can advertise it; execution
// stays with the caller. A nil Schema means the tool accepts any
// arguments.
type ToolDef struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Request is a single model invocation.
type Request struct {
	Messages []Message
	Tools    []ToolDef

	// OutputType, when non-nil, constrains the response to the JSON
	// shape of the given example value (structured output).
	OutputType any
}

// Response is the model's reply to one Request.
type Response struct {
	Message   Message    // role ai; Content may be empty when tools are requested
	ToolCalls []ToolCall // tools the model wants invoked, in request order
	Usage     Usage
}

// Client is the model capability. Implementations must be safe for
// concurrent use by independent runs.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
