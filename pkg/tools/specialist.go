package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/specialists"
	"github.com/pico-agents/coreagent/pkg/state"
)

// SpecialistWorkerFunc spawns a task_type="specialist" Worker bound to the
// named persona and runs its LLM loop to completion (a specialist
// consultation is a bounded, synchronous task from the caller's point of
// view, even though internally it is just another Worker run).
type SpecialistWorkerFunc func(ctx context.Context, specialist, question, extraContext string) (string, error)

// ConsultSpecialistTool asks a named persona a question with its own
// scoped memory and a restricted, read-only tool set.
type ConsultSpecialistTool struct {
	loader *specialists.SpecialistLoader
	run    SpecialistWorkerFunc
}

func NewConsultSpecialistTool(loader *specialists.SpecialistLoader, run SpecialistWorkerFunc) *ConsultSpecialistTool {
	return &ConsultSpecialistTool{loader: loader, run: run}
}

func (t *ConsultSpecialistTool) Name() string { return "consult_specialist" }

func (t *ConsultSpecialistTool) Description() string {
	desc := "Consult a domain specialist for focused expertise. The specialist has its own persona, scoped memory, and learns from each consultation."
	all := t.loader.ListSpecialists()
	if len(all) > 0 {
		var parts []string
		for _, s := range all {
			if s.Description != "" {
				parts = append(parts, fmt.Sprintf("%s (%s)", s.Name, s.Description))
			} else {
				parts = append(parts, s.Name)
			}
		}
		desc += " Available specialists: " + strings.Join(parts, ", ") + "."
	}
	return desc
}

func (t *ConsultSpecialistTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"specialist": map[string]interface{}{"type": "string", "description": "Name of the specialist to consult"},
			"question":   map[string]interface{}{"type": "string", "description": "The question to ask the specialist"},
			"context":    map[string]interface{}{"type": "string", "description": "Optional extra context to provide to the specialist"},
		},
		"required": []string{"specialist", "question"},
	}
}

func (t *ConsultSpecialistTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	specialistName, _ := args["specialist"].(string)
	question, _ := args["question"].(string)
	extraContext, _ := args["context"].(string)
	if specialistName == "" || question == "" {
		return ErrorResult("specialist and question are required")
	}
	if !t.loader.Exists(specialistName) {
		return ErrorResult(fmt.Sprintf("specialist %q not found", specialistName))
	}
	if t.run == nil {
		return ErrorResult("consult_specialist is not wired")
	}
	result, err := t.run(ctx, specialistName, question, extraContext)
	if err != nil {
		return ErrorResult(fmt.Sprintf("specialist consultation failed: %v", err))
	}
	return SilentResult(fmt.Sprintf("Specialist '%s' response:\n\n%s", specialistName, result))
}

// CreateSpecialistTool writes a new SPECIALIST.md persona file, optionally
// generating it via the LLM, and seeds it with initial knowledge.
type CreateSpecialistTool struct {
	loader    *specialists.SpecialistLoader
	provider  providers.LLMProvider
	model     string
	extractor *memory.Extractor
}

func NewCreateSpecialistTool(loader *specialists.SpecialistLoader, provider providers.LLMProvider, model string, extractor *memory.Extractor) *CreateSpecialistTool {
	return &CreateSpecialistTool{loader: loader, provider: provider, model: model, extractor: extractor}
}

func (t *CreateSpecialistTool) Name() string { return "create_specialist" }

func (t *CreateSpecialistTool) Description() string {
	return "Create a new domain specialist with a custom persona. The specialist will have its own scoped memory and can be consulted via consult_specialist."
}

func (t *CreateSpecialistTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":              map[string]interface{}{"type": "string", "description": "Specialist name (lowercase letters, digits, hyphens only)"},
			"description":       map[string]interface{}{"type": "string", "description": "What this specialist should know about and be expert in"},
			"initial_knowledge": map[string]interface{}{"type": "string", "description": "Optional initial information to seed the specialist with"},
		},
		"required": []string{"name", "description"},
	}
}

var validSpecialistName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]$`)

func (t *CreateSpecialistTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	name, _ := args["name"].(string)
	description, _ := args["description"].(string)
	initialKnowledge, _ := args["initial_knowledge"].(string)
	if name == "" || description == "" {
		return ErrorResult("name and description are required")
	}
	if !validSpecialistName.MatchString(name) {
		return ErrorResult("name must contain only lowercase letters, digits, and hyphens (cannot start/end with hyphen)")
	}
	if t.loader.Exists(name) {
		return ErrorResult(fmt.Sprintf("specialist %q already exists", name))
	}

	specDir := filepath.Join(t.loader.Dir(), name)
	if err := os.MkdirAll(filepath.Join(specDir, "references"), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create specialist directory: %v", err))
	}

	personaPrompt := fmt.Sprintf(`Generate a specialist persona definition for a domain expert.

Name: %s
Domain: %s

Write a SPECIALIST.md file with:
1. YAML frontmatter with "name" and "description" fields
2. A markdown body that defines the specialist's persona, expertise areas, and approach

Return ONLY the file content, no explanation.`, name, description)

	resp, err := t.provider.Chat(ctx, []providers.Message{{Role: "user", Content: personaPrompt}}, nil, t.model,
		map[string]interface{}{"max_tokens": 1024, "temperature": 0.7})
	content := ""
	if err != nil {
		titleName := strings.ToUpper(name[:1]) + name[1:]
		content = fmt.Sprintf("---\nname: %s\ndescription: %s\n---\n\n# %s Specialist\n\nYou are a specialist in %s.\n",
			name, description, titleName, description)
	} else {
		content = resp.Content
	}

	specFile := filepath.Join(specDir, "SPECIALIST.md")
	if err := os.WriteFile(specFile, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write SPECIALIST.md: %v", err))
	}

	if initialKnowledge != "" && t.extractor != nil {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			t.extractor.ExtractAndConsolidateSpecialist(bgCtx, initialKnowledge, "", fmt.Sprintf("specialist:%s", name), name)
		}()
	}

	return SilentResult(fmt.Sprintf("Created specialist '%s' at %s.\nDescription: %s\nYou can now consult this specialist with consult_specialist.", name, specFile, description))
}

// FeedSpecialistTool ingests arbitrary text (chat logs, notes, documents)
// into a specialist's scoped memory via the extraction pipeline.
type FeedSpecialistTool struct {
	loader    *specialists.SpecialistLoader
	extractor *memory.Extractor
}

func NewFeedSpecialistTool(loader *specialists.SpecialistLoader, extractor *memory.Extractor) *FeedSpecialistTool {
	return &FeedSpecialistTool{loader: loader, extractor: extractor}
}

func (t *FeedSpecialistTool) Name() string { return "feed_specialist" }

func (t *FeedSpecialistTool) Description() string {
	return "Feed knowledge to a specialist. Ingests text content (chat logs, documents, notes) and extracts facts into the specialist's scoped memory."
}

func (t *FeedSpecialistTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"specialist":  map[string]interface{}{"type": "string", "description": "Name of the specialist to feed"},
			"content":     map[string]interface{}{"type": "string", "description": "Text content to ingest"},
			"source_name": map[string]interface{}{"type": "string", "description": "Name of the source, e.g. a document or chat title"},
		},
		"required": []string{"specialist", "content"},
	}
}

func (t *FeedSpecialistTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	specialistName, _ := args["specialist"].(string)
	content, _ := args["content"].(string)
	sourceName, _ := args["source_name"].(string)
	if specialistName == "" || content == "" {
		return ErrorResult("specialist and content are required")
	}
	if !t.loader.Exists(specialistName) {
		return ErrorResult(fmt.Sprintf("specialist %q not found", specialistName))
	}
	if t.extractor == nil {
		return ErrorResult("semantic memory is not enabled — cannot feed specialist")
	}

	chunks := chunkContent(content, 1500, 200)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		for _, chunk := range chunks {
			t.extractor.ExtractAndConsolidateSpecialist(bgCtx, chunk, "", fmt.Sprintf("specialist:%s", specialistName), specialistName)
		}
		logger.InfoCF("specialist", "feed completed", map[string]interface{}{
			"specialist": specialistName, "chunks": len(chunks),
		})
	}()

	summary := fmt.Sprintf("Processing %d chunk(s) for specialist '%s', knowledge will be available shortly.", len(chunks), specialistName)
	if sourceName != "" {
		summary += fmt.Sprintf(" Source: %s.", sourceName)
	}
	return SilentResult(summary)
}

// chunkContent splits text into overlapping chunks for extraction.
func chunkContent(content string, chunkSize, overlap int) []string {
	runes := []rune(content)
	if len(runes) <= chunkSize {
		return []string{content}
	}
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		start += chunkSize - overlap
		if start >= len(runes) {
			break
		}
	}
	return chunks
}

// LinkTopicTool manages the topic-to-specialist binding used to pin a
// messaging thread to a persona (Telegram forum topics, Discord threads).
type LinkTopicTool struct {
	topicMappings *state.TopicMappingStore
	loader        *specialists.SpecialistLoader
	chatID        string
	threadID      string
}

func NewLinkTopicTool(topicMappings *state.TopicMappingStore, loader *specialists.SpecialistLoader) *LinkTopicTool {
	return &LinkTopicTool{topicMappings: topicMappings, loader: loader}
}

func (t *LinkTopicTool) SetContext(_, chatID string) { t.chatID = chatID }
func (t *LinkTopicTool) SetThread(threadID string)    { t.threadID = threadID }

func (t *LinkTopicTool) Name() string { return "link_topic" }

func (t *LinkTopicTool) Description() string {
	desc := "Link or unlink a forum topic to a specialist. When linked, all messages in that topic are handled by the specialist persona."
	all := t.loader.ListSpecialists()
	if len(all) > 0 {
		var names []string
		for _, s := range all {
			names = append(names, s.Name)
		}
		desc += " Available specialists: " + strings.Join(names, ", ") + "."
	}
	return desc
}

func (t *LinkTopicTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action":     map[string]interface{}{"type": "string", "enum": []string{"link", "unlink", "status"}},
			"specialist": map[string]interface{}{"type": "string", "description": "Name of the specialist to link (required for 'link')"},
		},
		"required": []string{"action"},
	}
}

func (t *LinkTopicTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	action, _ := args["action"].(string)
	specialist, _ := args["specialist"].(string)
	if action == "" {
		return ErrorResult("action is required (link, unlink, or status)")
	}
	if t.threadID == "" {
		return ErrorResult("this tool must be used from within a forum topic")
	}
	if t.chatID == "" {
		return ErrorResult("no chat context available")
	}

	switch action {
	case "link":
		if specialist == "" {
			return ErrorResult("specialist name is required for 'link' action")
		}
		if !t.loader.Exists(specialist) {
			return ErrorResult(fmt.Sprintf("specialist %q not found", specialist))
		}
		if err := t.topicMappings.SetMapping(t.chatID, t.threadID, specialist); err != nil {
			return ErrorResult(fmt.Sprintf("failed to link topic: %v", err))
		}
		return SilentResult(fmt.Sprintf("Topic linked to specialist '%s'.", specialist))
	case "unlink":
		current := t.topicMappings.LookupSpecialist(t.chatID, t.threadID)
		if current == "" {
			return SilentResult("This topic is not linked to any specialist.")
		}
		if err := t.topicMappings.RemoveMapping(t.chatID, t.threadID); err != nil {
			return ErrorResult(fmt.Sprintf("failed to unlink topic: %v", err))
		}
		return SilentResult(fmt.Sprintf("Topic unlinked from specialist '%s'.", current))
	case "status":
		current := t.topicMappings.LookupSpecialist(t.chatID, t.threadID)
		if current == "" {
			return SilentResult("This topic is not linked to any specialist.")
		}
		return SilentResult(fmt.Sprintf("This topic is linked to specialist '%s'.", current))
	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", action))
	}
}
