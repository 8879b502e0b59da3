package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/store"
)

// thinkTagRe strips <think>...</think> reasoning blocks some models emit.
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// Extractor runs the Mem0-style extract-then-consolidate pipeline that
// turns a conversation turn (or an arbitrary document, for specialists) into
// durable Memory rows.
type Extractor struct {
	provider providers.LLMProvider
	model    string
	store    *store.Store
	vector   *VectorStore
}

func NewExtractor(provider providers.LLMProvider, model string, s *store.Store, vs *VectorStore) *Extractor {
	return &Extractor{provider: provider, model: model, store: s, vector: vs}
}

// ExtractedFact is a single fact pulled from text by the LLM.
type ExtractedFact struct {
	Fact     string `json:"fact"`
	Category string `json:"category"`
}

// consolidationAction is the LLM's decision for how to reconcile an
// extracted fact with the most similar memories already on file.
type consolidationAction struct {
	Action  string `json:"action"` // ADD, UPDATE, DELETE, NOOP
	FactID  string `json:"fact_id"`
	NewFact string `json:"new_fact"`
}

// ExtractAndConsolidate runs the full pipeline against one conversation
// turn: extract facts, then for each fact search for similar memories and
// let the LLM decide ADD/UPDATE/DELETE/NOOP.
func (ke *Extractor) ExtractAndConsolidate(ctx context.Context, userMsg, assistantMsg, channelID, specialist string) {
	facts, err := ke.extractFacts(ctx, extractionPrompt, userMsg, truncate(assistantMsg, 2000))
	if err != nil {
		logger.WarnCF("memory", "knowledge extraction failed", map[string]interface{}{
			"error": err.Error(), "channel_id": channelID, "specialist": specialist,
		})
		return
	}
	if len(facts) == 0 {
		return
	}
	logger.InfoCF("memory", "extracted facts from conversation", map[string]interface{}{
		"count": len(facts), "channel_id": channelID, "specialist": specialist,
	})
	for _, fact := range facts {
		if err := ke.consolidateFact(ctx, fact, channelID, specialist); err != nil {
			logger.WarnCF("memory", "failed to consolidate fact", map[string]interface{}{
				"error": err.Error(), "fact": fact.Fact,
			})
		}
	}
}

// ExtractAndConsolidateSpecialist runs the same pipeline over an arbitrary
// document or consultation transcript using the richer specialist-aware
// extraction prompt.
func (ke *Extractor) ExtractAndConsolidateSpecialist(ctx context.Context, content, question, channelID, specialist string) {
	combined := content
	if question != "" {
		combined = fmt.Sprintf("Question: %s\n\nResponse: %s", question, content)
	}
	facts, err := ke.extractFacts(ctx, specialistExtractionPrompt, combined, "")
	if err != nil {
		logger.WarnCF("memory", "specialist knowledge extraction failed", map[string]interface{}{
			"error": err.Error(), "specialist": specialist,
		})
		return
	}
	if len(facts) == 0 {
		return
	}
	logger.InfoCF("memory", "extracted specialist facts", map[string]interface{}{
		"count": len(facts), "specialist": specialist,
	})
	for _, fact := range facts {
		if err := ke.consolidateFact(ctx, fact, channelID, specialist); err != nil {
			logger.WarnCF("memory", "failed to consolidate specialist fact", map[string]interface{}{
				"error": err.Error(), "fact": fact.Fact,
			})
		}
	}
}

const extractionPrompt = `Extract key facts about the user from this conversation. Focus on:
- Biographical information (name, location, occupation, plans)
- Preferences and opinions
- Tasks, deadlines, goals
- Relationships (people mentioned)
- Important context (events, decisions, states)

Return a JSON array of facts. Each fact should be a self-contained statement.
If no meaningful facts can be extracted, return an empty array [].

Categories: biographical, preference, task, relationship, contextual

Example output:
[
  {"fact": "User is a student at QMUL", "category": "biographical"},
  {"fact": "User prefers dark mode in all apps", "category": "preference"}
]

CONVERSATION:
User: %s
Assistant: %s

Return ONLY valid JSON, no markdown fences or explanation.`

const specialistExtractionPrompt = `Extract key facts and information from the following content. Preserve:
- Names, dates, amounts, locations, deadlines
- Agreements, decisions, commitments
- Relationships between people and entities
- Key details (prices, quantities, schedules, contact info)

Each fact should be self-contained and preserve WHO said/did it and WHEN.
Categories: financial, operational, logistic, contractual, relationship, decision, contact, contextual

Return a JSON array of facts. If no meaningful facts can be extracted, return an empty array [].

CONTENT:
%s

Return ONLY valid JSON, no markdown fences or explanation.`

func (ke *Extractor) extractFacts(ctx context.Context, promptTmpl, primary, secondary string) ([]ExtractedFact, error) {
	if len(primary) < 10 {
		return nil, nil
	}

	var prompt string
	if secondary != "" {
		prompt = fmt.Sprintf(promptTmpl, primary, secondary)
	} else {
		prompt = fmt.Sprintf(promptTmpl, primary)
	}

	resp, err := ke.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: prompt},
	}, nil, ke.model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM extraction call: %w", err)
	}

	content := cleanJSON(resp.Content)

	var facts []ExtractedFact
	if err := json.Unmarshal([]byte(content), &facts); err != nil {
		var single ExtractedFact
		if err2 := json.Unmarshal([]byte(content), &single); err2 == nil && single.Fact != "" {
			facts = []ExtractedFact{single}
		} else {
			return nil, fmt.Errorf("parse extracted facts: %w (response: %s)", err, truncate(content, 200))
		}
	}
	return facts, nil
}

func (ke *Extractor) consolidateFact(ctx context.Context, fact ExtractedFact, channelID, specialist string) error {
	results, err := NewSearcher(ke.store, ke.vector).Search(ctx, fact.Fact, 3, SearchFilter{}, channelID, specialist)
	if err != nil {
		return ke.addFact(ctx, fact, channelID, specialist)
	}

	var similar []Result
	for _, r := range results {
		if r.Score > 0.8 {
			similar = append(similar, r)
		}
	}
	if len(similar) == 0 {
		return ke.addFact(ctx, fact, channelID, specialist)
	}

	action, err := ke.decideAction(ctx, fact, similar)
	if err != nil {
		logger.WarnCF("memory", "consolidation decision failed, adding as new", map[string]interface{}{"error": err.Error()})
		return ke.addFact(ctx, fact, channelID, specialist)
	}

	switch action.Action {
	case "UPDATE":
		if action.FactID != "" {
			_ = ke.deleteFact(ctx, action.FactID)
		}
		newFact := action.NewFact
		if newFact == "" {
			newFact = fact.Fact
		}
		return ke.addFact(ctx, ExtractedFact{Fact: newFact, Category: fact.Category}, channelID, specialist)
	case "DELETE":
		if action.FactID != "" {
			return ke.deleteFact(ctx, action.FactID)
		}
		return nil
	case "NOOP":
		return nil
	default:
		return ke.addFact(ctx, fact, channelID, specialist)
	}
}

func (ke *Extractor) addFact(ctx context.Context, fact ExtractedFact, channelID, specialist string) error {
	mem := model.Memory{
		Content:    fact.Fact,
		MemoryType: model.MemoryFact,
		Importance: 0.6,
		Source:     fact.Category,
		ChannelID:  channelID,
		Specialist: specialist,
	}
	if err := ke.store.SaveMemory(ctx, &mem); err != nil {
		return err
	}
	if err := ke.vector.Index(ctx, mem.ID, mem.Content); err != nil {
		logger.WarnCF("memory", "failed to index new fact, will retry in maintenance", map[string]interface{}{
			"memory_id": mem.ID, "error": err.Error(),
		})
		return nil
	}
	return nil
}

func (ke *Extractor) deleteFact(ctx context.Context, memoryID string) error {
	if err := ke.store.DeleteMemory(ctx, memoryID); err != nil {
		return err
	}
	return ke.vector.Delete(ctx, memoryID)
}

const consolidationPrompt = `You are managing a knowledge base about a user. A new fact has been extracted from a conversation, and similar existing facts were found.

NEW FACT: %s

EXISTING SIMILAR FACTS:
%s

Decide what to do:
- UPDATE: The new fact updates/replaces an existing one (e.g., new address replaces old). Return the merged fact.
- DELETE: An existing fact is now obsolete due to the new fact. Specify which to delete.
- NOOP: The new fact is essentially the same as an existing one. No action needed.
- ADD: The new fact is related but distinct from existing facts. Add it.

Return ONLY valid JSON:
{"action": "UPDATE|DELETE|NOOP|ADD", "fact_id": "id_of_existing_fact_if_applicable", "new_fact": "merged fact text for UPDATE"}
`

func (ke *Extractor) decideAction(ctx context.Context, fact ExtractedFact, similar []Result) (*consolidationAction, error) {
	var lines []string
	for _, r := range similar {
		lines = append(lines, fmt.Sprintf("- [ID: %s] %s (score: %.2f)", r.Memory.ID, r.Memory.Content, r.Score))
	}

	prompt := fmt.Sprintf(consolidationPrompt, fact.Fact, strings.Join(lines, "\n"))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := ke.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: prompt},
	}, nil, ke.model, map[string]interface{}{
		"max_tokens":  256,
		"temperature": 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("consolidation LLM call: %w", err)
	}

	var action consolidationAction
	if err := json.Unmarshal([]byte(cleanJSON(resp.Content)), &action); err != nil {
		return nil, fmt.Errorf("parse consolidation action: %w", err)
	}
	return &action, nil
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = thinkTagRe.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
