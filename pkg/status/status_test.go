package status

import (
	"strings"
	"testing"
	"time"
)

func TestAppendAndRender(t *testing.T) {
	b := NewBlock()
	b.Append("tool_started", "shell: ls")

	rendered := b.Render()
	if !strings.Contains(rendered, "tool_started") || !strings.Contains(rendered, "shell: ls") {
		t.Errorf("Render() = %q, want it to contain the appended entry", rendered)
	}
}

func TestRenderEmptyWhenNoEntries(t *testing.T) {
	b := NewBlock()
	if got := b.Render(); got != "" {
		t.Errorf("Render() = %q, want empty string for a fresh block", got)
	}
}

func TestBlockPrunesByMaxEntries(t *testing.T) {
	b := NewBlockWithLimits(2, time.Hour)
	b.Append("a", "first")
	b.Append("b", "second")
	b.Append("c", "third")

	entries := b.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(Entries()) = %d, want 2", len(entries))
	}
	if entries[0].Detail != "second" || entries[1].Detail != "third" {
		t.Errorf("entries = %+v, want the oldest entry pruned", entries)
	}
}

func TestBlockPrunesByMaxAge(t *testing.T) {
	b := NewBlockWithLimits(DefaultMaxEntries, 10*time.Millisecond)
	b.Append("a", "stale")
	time.Sleep(20 * time.Millisecond)
	b.Append("b", "fresh")

	entries := b.Entries()
	if len(entries) != 1 || entries[0].Detail != "fresh" {
		t.Errorf("entries = %+v, want only the fresh entry to survive", entries)
	}
}

func TestNewBlockWithLimitsAppliesDefaultsOnZero(t *testing.T) {
	b := NewBlockWithLimits(0, 0)
	if b.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", b.maxEntries, DefaultMaxEntries)
	}
	if b.maxAge != DefaultMaxAge {
		t.Errorf("maxAge = %v, want %v", b.maxAge, DefaultMaxAge)
	}
}
