// Package testutil provides shared test doubles: a deterministic model
// capability and helpers reused across package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dorvan/ragent/internal/llm"
)

// MockModel is a deterministic llm.Client. Responses are consumed from
// a queue in order; when the queue is empty the fallback text response
// is returned. All requests are recorded for assertions.
//
// Thread-safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	queue    []*llm.Response
	fallback string
	err      error
	calls    []llm.Request
	usage    llm.Usage
}

// NewMockModel creates a MockModel returning fallback when the response
// queue is empty. Every call reports a fixed non-zero token usage.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{
		fallback: fallback,
		usage:    llm.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	}
}

// SetUsage overrides the per-call token usage.
func (m *MockModel) SetUsage(u llm.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = u
}

// SetError makes every Generate call fail.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// EnqueueText queues a plain text response.
func (m *MockModel) EnqueueText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, &llm.Response{
		Message: llm.Message{Role: llm.RoleAI, Content: text},
	})
}

// EnqueueToolCalls queues a response requesting the given tool calls.
func (m *MockModel) EnqueueToolCalls(calls ...llm.ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, &llm.Response{
		Message:   llm.Message{Role: llm.RoleAI},
		ToolCalls: calls,
	})
}

// Calls returns a copy of all recorded requests.
func (m *MockModel) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]llm.Request, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// CallCount returns the number of Generate invocations.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Generate implements llm.Client.
func (m *MockModel) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}

	var resp *llm.Response
	if len(m.queue) > 0 {
		resp = m.queue[0]
		m.queue = m.queue[1:]
	} else {
		resp = &llm.Response{
			Message: llm.Message{Role: llm.RoleAI, Content: m.fallback},
		}
	}

	// Copy so callers can mutate the result safely, and stamp identity
	// the way the real client does.
	out := *resp
	out.Message.ID = uuid.NewString()
	out.Message.ToolCalls = out.ToolCalls
	out.Usage = m.usage
	return &out, nil
}

// AlwaysToolModel returns a model that requests the same tool call on
// every invocation, for iteration-cap tests.
func AlwaysToolModel(toolName string, args map[string]any) llm.Client {
	return alwaysTool{name: toolName, args: args}
}

type alwaysTool struct {
	name string
	args map[string]any
}

func (a alwaysTool) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.Response{
		Message: llm.Message{ID: uuid.NewString(), Role: llm.RoleAI},
		ToolCalls: []llm.ToolCall{
			{ID: uuid.NewString(), Name: a.name, Arguments: a.args},
		},
		Usage: llm.Usage{InputTokens: 50, OutputTokens: 10, TotalTokens: 60},
	}, nil
}
