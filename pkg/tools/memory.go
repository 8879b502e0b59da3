package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

// MemorySaveTool writes a memory record and indexes it for recall.
type MemorySaveTool struct {
	store      *store.Store
	vector     *memory.VectorStore
	channelID  string
	specialist string
}

func NewMemorySaveTool(s *store.Store, vs *memory.VectorStore) *MemorySaveTool {
	return &MemorySaveTool{store: s, vector: vs}
}

func (t *MemorySaveTool) SetContext(channel, _ string) { t.channelID = channel }
func (t *MemorySaveTool) SetSpecialist(name string)     { t.specialist = name }

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save a fact, preference, decision, or other durable piece of knowledge so it can be recalled in future conversations."
}

func (t *MemorySaveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The fact or knowledge to remember",
			},
			"memory_type": map[string]interface{}{
				"type":        "string",
				"description": "Category of memory",
				"enum":        []string{"fact", "preference", "decision", "identity", "event", "observation", "goal", "todo"},
			},
			"importance": map[string]interface{}{
				"type":        "number",
				"description": "How important this is to remember, 0.0-1.0 (default 0.5)",
			},
		},
		"required": []string{"content", "memory_type"},
	}
}

func (t *MemorySaveTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}
	memType, _ := args["memory_type"].(string)
	if memType == "" {
		memType = string(model.MemoryFact)
	}
	importance := 0.5
	if v, ok := args["importance"].(float64); ok {
		importance = v
	}

	m := &model.Memory{
		Content:     content,
		MemoryType:  model.MemoryType(memType),
		Importance:  importance,
		Source:      "memory_save_tool",
		ChannelID:   t.channelID,
		Specialist:  t.specialist,
	}
	if err := t.store.SaveMemory(ctx, m); err != nil {
		return ErrorResult(fmt.Sprintf("saving memory: %v", err))
	}

	if t.vector != nil {
		if err := t.vector.Index(ctx, m.ID, content); err != nil {
			_ = t.store.SetIndexed(ctx, m.ID, false)
		}
	}

	return SilentResult(fmt.Sprintf("Saved memory %s", m.ID))
}

// MemoryRecallTool runs hybrid search (dense + lexical + graph fusion) over
// stored memories.
type MemoryRecallTool struct {
	searcher   *memory.Searcher
	channelID  string
	specialist string
}

func NewMemoryRecallTool(searcher *memory.Searcher) *MemoryRecallTool {
	return &MemoryRecallTool{searcher: searcher}
}

func (t *MemoryRecallTool) SetContext(channel, _ string) { t.channelID = channel }
func (t *MemoryRecallTool) SetSpecialist(name string)     { t.specialist = name }

func (t *MemoryRecallTool) Name() string { return "memory_recall" }

func (t *MemoryRecallTool) Description() string {
	return "Search memory for facts, preferences, or past context relevant to a query. Call this proactively whenever prior context might help answer the user."
}

func (t *MemoryRecallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural-language description of what to recall",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results (default 5)",
			},
			"memory_type": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one memory type",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemoryRecallTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	limit := 5
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}
	filter := memory.SearchFilter{}
	if mt, ok := args["memory_type"].(string); ok && mt != "" {
		filter.MemoryType = model.MemoryType(mt)
	}

	results, err := t.searcher.Search(ctx, query, limit, filter, t.channelID, t.specialist)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory recall failed: %v", err))
	}
	if len(results) == 0 {
		return SilentResult("No relevant memories found.")
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("- [%s, importance=%.2f] %s\n", r.Memory.MemoryType, r.Memory.Importance, r.Memory.Content))
	}
	return SilentResult(sb.String())
}

// formatRelativeAge renders a human-readable "how long ago" string, used by
// status-block and bulletin rendering that references memory timestamps.
func formatRelativeAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
