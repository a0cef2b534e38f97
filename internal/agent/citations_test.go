package agent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const trackedTool = "search_knowledge_base"

func TestCitationTracker_ObserveAndLink(t *testing.T) {
	tr := NewCitationTracker(trackedTool)

	tr.Observe(trackedTool, `[{"content":"a","metadata":{"filename":"f1"}},{"content":"b","metadata":{"filename":"f2"}}]`, 1)
	tr.LinkPending("msg-1")

	got := tr.Citations()
	want := []Citation{
		{ID: 1, Content: "a", Metadata: map[string]string{"filename": "f1"}, UsedInIteration: 1, UsedByMessageID: "msg-1"},
		{ID: 2, Content: "b", Metadata: map[string]string{"filename": "f2"}, UsedInIteration: 1, UsedByMessageID: "msg-1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}
}

func TestCitationTracker_DedupByContentAndFilename(t *testing.T) {
	tr := NewCitationTracker(trackedTool)

	tr.Observe(trackedTool, `[{"content":"a","metadata":{"filename":"f1"}}]`, 1)
	// Same passage again in a later iteration: dropped.
	tr.Observe(trackedTool, `[{"content":"a","metadata":{"filename":"f1"}}]`, 2)
	// Same content from a different file: kept.
	tr.Observe(trackedTool, `[{"content":"a","metadata":{"filename":"f2"}}]`, 2)

	got := tr.Citations()
	if len(got) != 2 {
		t.Fatalf("citations = %d, want 2: %+v", len(got), got)
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("IDs must be monotonic, got %d then %d", got[0].ID, got[1].ID)
	}
	if got[1].Metadata["filename"] != "f2" {
		t.Errorf("second citation should be the f2 passage, got %+v", got[1])
	}
}

func TestCitationTracker_LinkOnlyPending(t *testing.T) {
	tr := NewCitationTracker(trackedTool)

	tr.Observe(trackedTool, `[{"content":"a","metadata":{"filename":"f1"}}]`, 1)
	tr.LinkPending("msg-1")
	tr.Observe(trackedTool, `[{"content":"b","metadata":{"filename":"f1"}}]`, 2)
	tr.LinkPending("msg-2")

	got := tr.Citations()
	if got[0].UsedByMessageID != "msg-1" {
		t.Errorf("first citation relinked: %q", got[0].UsedByMessageID)
	}
	if got[1].UsedByMessageID != "msg-2" {
		t.Errorf("second citation linked to %q, want msg-2", got[1].UsedByMessageID)
	}
}

func TestCitationTracker_IgnoresOtherToolsAndDiagnostics(t *testing.T) {
	tr := NewCitationTracker(trackedTool)

	tr.Observe("calculator", `[{"content":"a","metadata":{}}]`, 1)
	if tr.Observed() {
		t.Error("other tools must not mark retrieval as observed")
	}

	tr.Observe(trackedTool, "The knowledge base is empty. Nothing to search.", 1)
	if !tr.Observed() {
		t.Error("a diagnostic still means retrieval ran")
	}
	if len(tr.Citations()) != 0 {
		t.Errorf("diagnostics must not produce citations: %+v", tr.Citations())
	}
}
