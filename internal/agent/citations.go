package agent

import (
	"encoding/json"
)

// Citation links a retrieved passage to the assistant message that used
// it. IDs are monotonic within a run.
type Citation struct {
	ID              int               `json:"id"`
	Content         string            `json:"content"`
	Metadata        map[string]string `json:"metadata"`
	UsedInIteration int               `json:"usedInIteration"`
	UsedByMessageID string            `json:"usedByMessageId,omitempty"`
}

// citationKey dedupes citations run-wide: no two citations may share
// both content and source filename.
type citationKey struct {
	content  string
	filename string
}

// CitationTracker accumulates citations for one run. Per-run mutable
// state; never share an instance across concurrent runs.
type CitationTracker struct {
	toolName string
	observed bool
	nextID   int
	seen     map[citationKey]struct{}
	all      []*Citation
	pending  []*Citation
}

// NewCitationTracker creates a tracker that reacts only to results of
// the named retrieval tool.
func NewCitationTracker(toolName string) *CitationTracker {
	return &CitationTracker{
		toolName: toolName,
		nextID:   1,
		seen:     make(map[citationKey]struct{}),
	}
}

// observedResult mirrors the retrieval tool's JSON result entries.
type observedResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Observe parses a tool result into citations. Results of other tools
// are ignored, as are payloads that are not a JSON result array (the
// retrieval tool emits human-readable diagnostics in that case, and
// those are not citations).
func (t *CitationTracker) Observe(toolName, raw string, iteration int) {
	if toolName != t.toolName {
		return
	}
	t.observed = true

	var results []observedResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return
	}

	for _, r := range results {
		key := citationKey{content: r.Content, filename: r.Metadata["filename"]}
		if _, dup := t.seen[key]; dup {
			continue
		}
		t.seen[key] = struct{}{}

		c := &Citation{
			ID:              t.nextID,
			Content:         r.Content,
			Metadata:        r.Metadata,
			UsedInIteration: iteration,
		}
		t.nextID++
		t.all = append(t.all, c)
		t.pending = append(t.pending, c)
	}
}

// LinkPending stamps every pending citation with the message that used
// it and clears the buffer. Each citation is linked exactly once: to
// the first assistant turn emitted after it was observed.
func (t *CitationTracker) LinkPending(messageID string) {
	for _, c := range t.pending {
		c.UsedByMessageID = messageID
	}
	t.pending = nil
}

// Observed reports whether any retrieval tool result was seen this run,
// whether or not it produced citations.
func (t *CitationTracker) Observed() bool {
	return t.observed
}

// Citations returns the run's citations in observation order.
func (t *CitationTracker) Citations() []Citation {
	out := make([]Citation, 0, len(t.all))
	for _, c := range t.all {
		out = append(out, *c)
	}
	return out
}
