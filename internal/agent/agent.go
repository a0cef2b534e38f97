// Package agent runs the bounded tool-calling conversation loop: model
// invocation, tool dispatch, citation tracking, and usage accounting.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dorvan/ragent/internal/knowledge"
	"github.com/dorvan/ragent/internal/llm"
	"github.com/dorvan/ragent/internal/retrieval"
	"github.com/dorvan/ragent/internal/tools"
	"github.com/dorvan/ragent/internal/usage"
)

// DefaultMaxIterations caps the tool-calling loop. The cap is the
// backstop preventing unbounded tool-calling recursion.
const DefaultMaxIterations = 5

// nodeName tags usage entries produced by the loop.
const nodeName = "agent"

// Sentinel errors for construction.
var (
	// ErrNoModel indicates Config.Model was not provided.
	ErrNoModel = errors.New("model client is required")
)

// Config assembles a Controller. Model is required; everything else is
// optional.
type Config struct {
	Model     llm.Client
	ModelName string // used for usage pricing lookups

	// Store, when set, enables the search_knowledge_base tool over it.
	Store      knowledge.Store
	Strictness retrieval.Strictness // retrieval score tier (user-controlled)
	MaxResults int                  // retrieval result cap

	// Tools are caller-supplied tools offered alongside retrieval.
	Tools []tools.Tool

	SystemPrompt  string
	MaxIterations int // default DefaultMaxIterations

	// OutputType, when non-nil, requests structured output shaped like
	// the given example value for the final response.
	OutputType any

	Prices usage.PriceTable

	// RateLimiter proactively throttles model calls. Nil uses the
	// default of 10 requests/sec sustained with a burst of 30.
	RateLimiter *rate.Limiter

	Logger *slog.Logger
}

// Result is the outcome of one loop run.
type Result struct {
	// Messages is the full conversation in order.
	Messages []llm.Message

	// Response is the final assistant message.
	Response llm.Message

	// Citations is nil when no retrieval occurred during the run, and
	// non-nil (possibly empty) when the retrieval tool ran but nothing
	// matched. Callers can distinguish the two.
	Citations []Citation

	// StructuredData holds the final response parsed as JSON when an
	// OutputType was configured and the content was valid JSON.
	StructuredData json.RawMessage

	// UsagePerNode lists one entry per model invocation.
	UsagePerNode []usage.Entry
}

// Controller drives the agent loop. The Controller itself is immutable
// after construction and safe for concurrent Run calls; each run gets
// its own tracker and accountant.
type Controller struct {
	model         llm.Client
	modelName     string
	registry      *tools.Registry
	systemPrompt  string
	maxIterations int
	outputType    any
	prices        usage.PriceTable
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// New creates a Controller. When cfg.Store is set, a
// search_knowledge_base tool over it joins the registered tool set.
func New(cfg Config) (*Controller, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	toolSet := make([]tools.Tool, 0, len(cfg.Tools)+1)
	if cfg.Store != nil {
		engine, err := retrieval.New(cfg.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("building retrieval engine: %w", err)
		}
		search, err := tools.NewKnowledgeSearch(engine, cfg.Store, cfg.Strictness, cfg.MaxResults, logger)
		if err != nil {
			return nil, fmt.Errorf("building knowledge search tool: %w", err)
		}
		toolSet = append(toolSet, search)
	}
	toolSet = append(toolSet, cfg.Tools...)

	registry, err := tools.NewRegistry(toolSet...)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	c := &Controller{
		model:         cfg.Model,
		modelName:     cfg.ModelName,
		registry:      registry,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: maxIterations,
		outputType:    cfg.OutputType,
		prices:        cfg.Prices,
		limiter:       limiter,
		logger:        logger,
	}

	logger.Debug("agent controller initialized",
		"tools", registry.SortedNames(),
		"max_iterations", maxIterations,
	)
	return c, nil
}

// Run executes the loop for a single user input.
func (c *Controller) Run(ctx context.Context, input string) (*Result, error) {
	tracker := NewCitationTracker(tools.SearchKnowledgeBaseName)
	acct := usage.NewAccountant(c.modelName, c.prices, c.logger)

	var messages []llm.Message
	if c.systemPrompt != "" {
		messages = append(messages, llm.Message{
			ID:      uuid.NewString(),
			Role:    llm.RoleSystem,
			Content: c.systemPrompt,
		})
	}
	messages = append(messages, llm.Message{
		ID:      uuid.NewString(),
		Role:    llm.RoleHuman,
		Content: input,
	})

	if c.registry.Count() == 0 {
		return c.runSingle(ctx, messages, acct)
	}

	defs := c.registry.Defs()

	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		resp, err := c.invoke(ctx, llm.Request{Messages: messages, Tools: defs}, acct, iteration, "generate")
		if err != nil {
			return nil, err
		}
		messages = append(messages, resp.Message)

		if len(resp.ToolCalls) == 0 {
			tracker.LinkPending(resp.Message.ID)
			return c.finish(ctx, messages, resp.Message, tracker, acct, iteration)
		}

		c.logger.Debug("executing tool calls",
			"iteration", iteration,
			"count", len(resp.ToolCalls),
		)
		for _, call := range resp.ToolCalls {
			messages = append(messages, c.executeTool(ctx, call, tracker, iteration))
		}
	}

	// Iteration cap reached without a final text turn. The last message
	// in history stands as the result; this is degraded but successful.
	last := messages[len(messages)-1]
	tracker.LinkPending(last.ID)
	c.logger.Warn("iteration cap reached without final response",
		"max_iterations", c.maxIterations,
	)
	return c.assemble(messages, last, tracker, acct), nil
}

// runSingle handles the no-tools path: one model call, optionally under
// the structured output type, and done.
func (c *Controller) runSingle(ctx context.Context, messages []llm.Message, acct *usage.Accountant) (*Result, error) {
	resp, err := c.invoke(ctx, llm.Request{Messages: messages, OutputType: c.outputType}, acct, 1, "generate")
	if err != nil {
		return nil, err
	}
	messages = append(messages, resp.Message)

	result := c.assemble(messages, resp.Message, nil, acct)
	if c.outputType != nil {
		result.StructuredData = parseStructured(resp.Message.Content)
	}
	return result, nil
}

// finish completes a run whose model response carried no tool calls.
// With an output type configured, the model is re-invoked once under
// the structured schema; that second message becomes the response while
// previously captured usage and citations are preserved.
func (c *Controller) finish(ctx context.Context, messages []llm.Message, response llm.Message, tracker *CitationTracker, acct *usage.Accountant, iteration int) (*Result, error) {
	if c.outputType != nil {
		structured, err := c.invoke(ctx, llm.Request{Messages: messages, OutputType: c.outputType}, acct, iteration, "structured")
		if err != nil {
			return nil, err
		}
		messages = append(messages, structured.Message)
		response = structured.Message

		result := c.assemble(messages, response, tracker, acct)
		result.StructuredData = parseStructured(response.Content)
		return result, nil
	}
	return c.assemble(messages, response, tracker, acct), nil
}

// invoke performs one rate-limited model call and records its usage.
func (c *Controller) invoke(ctx context.Context, req llm.Request, acct *usage.Accountant, iteration int, method string) (*llm.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.model.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model call (iteration %d): %w", iteration, err)
	}
	if resp.Message.ID == "" {
		resp.Message.ID = uuid.NewString()
	}
	acct.Record(nodeName, method, resp.Usage, iteration)
	return resp, nil
}

// executeTool dispatches one tool call. Unknown tools and execution
// failures become in-band error results so the loop continues and the
// model can react; successful retrieval results feed the tracker.
func (c *Controller) executeTool(ctx context.Context, call llm.ToolCall, tracker *CitationTracker, iteration int) llm.Message {
	out, err := c.registry.Dispatch(ctx, call)
	if err != nil {
		c.logger.Warn("tool call failed",
			"tool", call.Name,
			"iteration", iteration,
			"error", err,
		)
		out = fmt.Sprintf("Error: %v", err)
	} else {
		tracker.Observe(call.Name, out, iteration)
	}

	return llm.Message{
		ID:         uuid.NewString(),
		Role:       llm.RoleTool,
		Content:    out,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

// assemble builds the Result. Citations stay nil when no retrieval
// occurred so callers can tell "no tools used" from "nothing matched".
func (c *Controller) assemble(messages []llm.Message, response llm.Message, tracker *CitationTracker, acct *usage.Accountant) *Result {
	result := &Result{
		Messages:     messages,
		Response:     response,
		UsagePerNode: acct.Drain(),
	}
	if tracker != nil && tracker.Observed() {
		result.Citations = tracker.Citations()
	}
	return result
}

// parseStructured returns the content as raw JSON when it is valid
// JSON, else nil.
func parseStructured(content string) json.RawMessage {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil
	}
	return json.RawMessage(trimmed)
}
