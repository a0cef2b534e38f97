package usage

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/dorvan/ragent/internal/llm"
	"github.com/dorvan/ragent/internal/log"
)

func TestAccountant_Record(t *testing.T) {
	prices := PriceTable{
		"test/model": {InputPerMillion: 2.0, OutputPerMillion: 8.0},
	}
	acct := NewAccountant("test/model", prices, log.NewNop())

	acct.Record("agent", "generate", llm.Usage{InputTokens: 500_000, OutputTokens: 250_000, TotalTokens: 750_000}, 1)

	entries := acct.Drain()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.NodeName != "agent" || e.InvokeMethod != "generate" || e.Iteration != 1 {
		t.Errorf("entry tags wrong: %+v", e)
	}
	if math.Abs(e.Usage.InputCost-1.0) > 1e-9 {
		t.Errorf("InputCost = %v, want 1.0", e.Usage.InputCost)
	}
	if math.Abs(e.Usage.OutputCost-2.0) > 1e-9 {
		t.Errorf("OutputCost = %v, want 2.0", e.Usage.OutputCost)
	}
	if math.Abs(e.Usage.TotalCost-3.0) > 1e-9 {
		t.Errorf("TotalCost = %v, want 3.0", e.Usage.TotalCost)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("entry missing id or timestamp: %+v", e)
	}
}

func TestAccountant_UnregisteredModelZeroCost(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{})
	acct := NewAccountant("unknown/model", PriceTable{}, logger)

	acct.Record("agent", "generate", llm.Usage{InputTokens: 1000, OutputTokens: 1000, TotalTokens: 2000}, 0)

	entries := acct.Drain()
	if entries[0].Usage.TotalCost != 0 {
		t.Errorf("TotalCost = %v, want 0 for unregistered model", entries[0].Usage.TotalCost)
	}
	if !strings.Contains(buf.String(), "price table") {
		t.Errorf("expected warning log, got %q", buf.String())
	}
}

func TestAccountant_DrainClears(t *testing.T) {
	acct := NewAccountant("test/model", DefaultPrices(), log.NewNop())
	acct.Record("agent", "generate", llm.Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20}, 1)
	acct.Record("agent", "generate", llm.Usage{InputTokens: 20, OutputTokens: 20, TotalTokens: 40}, 2)

	first := acct.Drain()
	if len(first) != 2 {
		t.Fatalf("first drain = %d entries, want 2", len(first))
	}
	if second := acct.Drain(); len(second) != 0 {
		t.Errorf("second drain = %d entries, want 0", len(second))
	}
}

func TestDefaultPrices_NotEmpty(t *testing.T) {
	if len(DefaultPrices()) == 0 {
		t.Fatal("default price table is empty")
	}
}
