// Package usage converts raw token counts into cost-augmented entries
// using a per-model price table. An Accountant is scoped to a single
// run; the price table is read-only and process-wide.
package usage

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dorvan/ragent/internal/llm"
)

// Price is the cost per million tokens for one model.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps provider-qualified model names to prices.
type PriceTable map[string]Price

// DefaultPrices covers the models the default configuration can select.
// Unregistered models cost zero and log a warning.
func DefaultPrices() PriceTable {
	return PriceTable{
		"googleai/gemini-2.5-flash":      {InputPerMillion: 0.30, OutputPerMillion: 2.50},
		"googleai/gemini-2.5-flash-lite": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"googleai/gemini-2.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	}
}

// Cost is the dollar cost of one invocation. No rounding is applied
// until display formatting.
type Cost struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	InputCost    float64 `json:"inputCost"`
	OutputCost   float64 `json:"outputCost"`
	TotalCost    float64 `json:"totalCost"`
}

// Entry records one model invocation.
type Entry struct {
	ID           string    `json:"id"`
	ModelName    string    `json:"modelName"`
	NodeName     string    `json:"nodeName"`
	InvokeMethod string    `json:"invokeMethod"`
	Timestamp    time.Time `json:"timestamp"`
	Iteration    int       `json:"iteration,omitempty"`
	Usage        Cost      `json:"usage"`
}

// Accountant accumulates usage entries for a single run. It holds
// per-run mutable state and must not be shared across concurrent runs.
type Accountant struct {
	modelName string
	prices    PriceTable
	logger    *slog.Logger
	entries   []Entry
}

// NewAccountant creates an Accountant pricing against the given table.
// A nil table falls back to DefaultPrices.
func NewAccountant(modelName string, prices PriceTable, logger *slog.Logger) *Accountant {
	if prices == nil {
		prices = DefaultPrices()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{modelName: modelName, prices: prices, logger: logger}
}

// Record converts raw token usage into a cost entry and appends it.
func (a *Accountant) Record(nodeName, invokeMethod string, u llm.Usage, iteration int) {
	price, ok := a.prices[a.modelName]
	if !ok {
		a.logger.Warn("model not in price table, recording zero cost", "model", a.modelName)
	}

	inputCost := float64(u.InputTokens) / 1e6 * price.InputPerMillion
	outputCost := float64(u.OutputTokens) / 1e6 * price.OutputPerMillion

	a.entries = append(a.entries, Entry{
		ID:           uuid.NewString(),
		ModelName:    a.modelName,
		NodeName:     nodeName,
		InvokeMethod: invokeMethod,
		Timestamp:    time.Now(),
		Iteration:    iteration,
		Usage: Cost{
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			TotalTokens:  u.TotalTokens,
			InputCost:    inputCost,
			OutputCost:   outputCost,
			TotalCost:    inputCost + outputCost,
		},
	})
}

// Drain returns the accumulated entries and clears the accumulator.
func (a *Accountant) Drain() []Entry {
	out := a.entries
	a.entries = nil
	return out
}
