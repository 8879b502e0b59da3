package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/store"
)

// CompactionTier classifies how urgently a Channel needs to shed context.
type CompactionTier string

const (
	TierNone       CompactionTier = "none"
	TierBackground CompactionTier = "background"
	TierUrgent     CompactionTier = "urgent"
	TierEmergency  CompactionTier = "emergency"
)

// ClassifyCompactionTier applies the tiered ratio policy from spec §4.3.
func ClassifyCompactionTier(usedTokens, windowTokens int, backgroundRatio, urgentRatio, emergencyRatio float64) CompactionTier {
	if windowTokens <= 0 {
		return TierNone
	}
	ratio := float64(usedTokens) / float64(windowTokens)
	switch {
	case ratio >= emergencyRatio:
		return TierEmergency
	case ratio >= urgentRatio:
		return TierUrgent
	case ratio >= backgroundRatio:
		return TierBackground
	default:
		return TierNone
	}
}

// CompactorConfig carries the thresholds and retention floor.
type CompactorConfig struct {
	RetentionFloor int // N_recent: turns never eligible for compaction
}

// Compactor summarizes a contiguous turn range for one channel using a
// cheap-tier model, archiving the originals and replacing them with the
// summary in one atomic store operation.
type Compactor struct {
	store    *store.Store
	provider providers.LLMProvider
	model    string
	cfg      CompactorConfig
}

func NewCompactor(s *store.Store, provider providers.LLMProvider, cheapModel string, cfg CompactorConfig) *Compactor {
	if cfg.RetentionFloor <= 0 {
		cfg.RetentionFloor = 20
	}
	return &Compactor{store: s, provider: provider, model: cheapModel, cfg: cfg}
}

// PlanSplit picks the turn range to compact out of allTurns, keeping at
// least RetentionFloor of the most recent turns untouched. Scans backward
// accumulating a rough size budget, mirroring the token-budget backward
// scan used to pick a compaction split elsewhere in the corpus.
func (c *Compactor) PlanSplit(allTurns []model.ConversationTurn, safeWindowChars int) (splitIdx int, ok bool) {
	if len(allTurns) <= c.cfg.RetentionFloor {
		return 0, false
	}

	recentChars := 0
	splitIdx = len(allTurns)
	for i := len(allTurns) - 1; i >= 0; i-- {
		count := len(allTurns) - i
		recentChars += len(allTurns[i].Inbound) + len(allTurns[i].Outbound)
		if count <= c.cfg.RetentionFloor {
			splitIdx = i
			continue
		}
		if safeWindowChars > 0 && recentChars > safeWindowChars {
			splitIdx = i + 1
			break
		}
		splitIdx = i
	}

	if splitIdx <= 0 || splitIdx >= len(allTurns) {
		return 0, false
	}
	return splitIdx, true
}

// Compact summarizes turns[start,end] for channelID and archives them,
// replacing the range with the summary record in the store. The LLM call
// uses an isolated empty message history (no session id lookup) so it can
// never recursively trigger this channel's own compaction trigger.
func (c *Compactor) Compact(ctx context.Context, channelID string, turns []model.ConversationTurn) (*model.CompactionSummary, error) {
	if len(turns) == 0 {
		return nil, fmt.Errorf("compactor: empty turn range")
	}
	start, end := turns[0].Sequence, turns[len(turns)-1].Sequence

	var convo strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&convo, "user: %s\n", t.Inbound)
		if t.Outbound != "" {
			fmt.Fprintf(&convo, "assistant: %s\n", t.Outbound)
		}
	}

	prompt := fmt.Sprintf(`Summarize the following conversation turns into a concise prose summary that preserves:
- Who the user is and any identity cues they've given
- Decisions made and their reasoning
- Open TODOs or commitments not yet resolved
- Any outstanding tool-call references that still matter

Conversation:
%s`, convo.String())

	summaryText, err := c.summarize(ctx, prompt)
	if err != nil {
		logger.WarnCF("compactor", "summarization failed, falling back to truncation notice", map[string]interface{}{
			"channel": channelID, "error": err.Error(),
		})
		summaryText = fmt.Sprintf("[%d turns truncated after summarization failed: %v]", len(turns), err)
	}

	summary, err := c.store.ArchiveAndReplace(ctx, channelID, start, end, summaryText)
	if err != nil {
		return nil, fmt.Errorf("archiving compacted range: %w", err)
	}
	return summary, nil
}

// EmergencyTruncate drops turns[0:splitIdx] without ever calling the LLM —
// used at the emergency tier where there may not be time for a model call.
func (c *Compactor) EmergencyTruncate(ctx context.Context, channelID string, turns []model.ConversationTurn, splitIdx int) (*model.CompactionSummary, error) {
	if splitIdx <= 0 || splitIdx >= len(turns) {
		return nil, fmt.Errorf("compactor: invalid emergency split")
	}
	dropped := turns[:splitIdx]
	start, end := dropped[0].Sequence, dropped[len(dropped)-1].Sequence
	notice := fmt.Sprintf("[%d turns dropped under emergency compaction without summarization]", len(dropped))
	return c.store.ArchiveAndReplace(ctx, channelID, start, end, notice)
}

func (c *Compactor) summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: prompt},
	}, nil, c.model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
