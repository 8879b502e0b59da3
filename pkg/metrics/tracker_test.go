package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAppendsJSONLEntry(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)

	tr.Record(TokenEvent{SessionKey: "chan-1", Model: "claude-sonnet-4-5-20250929", InputTokens: 1000, OutputTokens: 500})
	tr.Record(TokenEvent{SessionKey: "chan-1", Model: "claude-sonnet-4-5-20250929", InputTokens: 200, OutputTokens: 50})

	path := filepath.Join(dir, "metrics", "tokens.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening tokens.jsonl: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}

	var ev TokenEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshaling event: %v", err)
	}
	if ev.SessionKey != "chan-1" || ev.InputTokens != 1000 {
		t.Errorf("got %+v, want SessionKey=chan-1 InputTokens=1000", ev)
	}
	if ev.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want a positive computed cost", ev.CostUSD)
	}
	if ev.Timestamp == "" {
		t.Error("Timestamp should be stamped when not set by the caller")
	}
}

func TestCalculateCostFallsBackToDefaultPricing(t *testing.T) {
	known := calculateCost("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000, 0, 0)
	unknown := calculateCost("some-unrecognized-model", 1_000_000, 1_000_000, 0, 0)
	if known != unknown {
		t.Errorf("calculateCost(unknown model) = %v, want it to fall back to sonnet pricing (%v)", unknown, known)
	}
}

func TestCalculateCostScalesWithTokenCounts(t *testing.T) {
	small := calculateCost("claude-haiku-3-5-20241022", 1000, 500, 0, 0)
	large := calculateCost("claude-haiku-3-5-20241022", 2000, 1000, 0, 0)
	if large <= small {
		t.Errorf("expected cost to scale up with token counts: small=%v large=%v", small, large)
	}
}
