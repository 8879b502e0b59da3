package specialists

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/providers"
)

const reviewPrompt = `You are reviewing recent interactions for the specialist "%s".

Below are recent knowledge entries extracted from conversations involving this specialist. Analyze them and produce self-improvement notes:

1. What patterns are you seeing in the questions/requests?
2. What knowledge gaps did you notice?
3. What could you do better next time?
4. Any recurring topics or entities to track more closely?

Keep your notes concise and actionable (max 10 bullet points).

RECENT KNOWLEDGE:
%s

Write your self-improvement notes below:`

// ReviewSpecialist analyzes a specialist's recently recalled knowledge and
// appends self-improvement notes to its LEARNINGS.md file. Run periodically
// by Cortex's maintenance cadence, one specialist at a time.
func ReviewSpecialist(ctx context.Context, name string, provider providers.LLMProvider, model string, searcher *memory.Searcher, workspace string) error {
	if searcher == nil {
		return fmt.Errorf("memory searcher not available")
	}

	results, err := searcher.Search(ctx, "recent interactions and consultations", 20, memory.SearchFilter{}, "", name)
	if err != nil {
		return fmt.Errorf("search specialist knowledge: %w", err)
	}
	if len(results) == 0 {
		logger.InfoCF("specialist", "no recent knowledge for review", map[string]interface{}{
			"specialist": name,
		})
		return nil
	}

	var factLines []string
	for _, r := range results {
		factLines = append(factLines, fmt.Sprintf("- [%s] %s", r.Memory.MemoryType, r.Memory.Content))
	}

	prompt := fmt.Sprintf(reviewPrompt, name, strings.Join(factLines, "\n"))

	reviewCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := provider.Chat(reviewCtx, []providers.Message{
		{Role: "user", Content: prompt},
	}, nil, model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.3,
	})
	if err != nil {
		return fmt.Errorf("review LLM call: %w", err)
	}

	learningsPath := filepath.Join(workspace, "specialists", name, "LEARNINGS.md")
	header := fmt.Sprintf("\n\n## Review — %s\n\n", time.Now().Format("2006-01-02"))

	f, err := os.OpenFile(learningsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open LEARNINGS.md: %w", err)
	}
	defer f.Close()

	f.WriteString(header)
	f.WriteString(strings.TrimSpace(resp.Content))
	f.WriteString("\n")

	logger.InfoCF("specialist", "specialist review completed", map[string]interface{}{
		"specialist":     name,
		"facts_reviewed": len(results),
	})
	return nil
}

// ReviewAllSpecialists runs a review for every known specialist.
func ReviewAllSpecialists(ctx context.Context, loader *SpecialistLoader, provider providers.LLMProvider, model string, searcher *memory.Searcher, workspace string) {
	for _, s := range loader.ListSpecialists() {
		if err := ReviewSpecialist(ctx, s.Name, provider, model, searcher, workspace); err != nil {
			logger.WarnCF("specialist", "review failed", map[string]interface{}{
				"specialist": s.Name,
				"error":      err.Error(),
			})
		}
	}
}
