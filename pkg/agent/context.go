package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/specialists"
	"github.com/pico-agents/coreagent/pkg/status"
	"github.com/pico-agents/coreagent/pkg/store"
	"github.com/pico-agents/coreagent/pkg/tools"
)

// ContextBuilder assembles the message list a Channel (or any process
// sharing its context shape) sends to the LLM: identity, bootstrap files,
// specialist roster, status block, recalled memories, then rolling history
// and the current message.
type ContextBuilder struct {
	workspace        string
	agentName        string
	store            *store.Store
	specialistLoader *specialists.SpecialistLoader
	tools            *tools.ToolRegistry
	statusBlock      *status.Block
}

func NewContextBuilder(workspace, agentName string, s *store.Store) *ContextBuilder {
	return &ContextBuilder{
		workspace: workspace,
		agentName: agentName,
		store:     s,
	}
}

func (cb *ContextBuilder) SetSpecialistLoader(loader *specialists.SpecialistLoader) {
	cb.specialistLoader = loader
}

func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.tools = registry
}

func (cb *ContextBuilder) SetStatusBlock(b *status.Block) {
	cb.statusBlock = b
}

func (cb *ContextBuilder) getIdentity() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	workspacePath, _ := filepath.Abs(cb.workspace)
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# %s

You are %s, a personal AI assistant running as a supervised process on your
own host. Conversations, sub-tasks, and periodic housekeeping are handled by
separate processes behind you — branches for bounded research, workers for
longer jobs, a compactor that keeps your history within budget, and a cortex
that watches the whole system and leaves you bulletins. None of that is
visible to the user; to them you are a single continuous conversation.

## Current Time
%s

## Runtime
%s

## Workspace
Your workspace is at: %s
- Memory is structured and searched for you — use memory_save and
  memory_recall rather than keeping a parallel notes file.
- Specialists (if any) live under %s/specialists/{name}/

%s

## Rules

1. Use tools to act. Do not narrate an action instead of calling the tool
   that performs it.
2. Branch for research you need an answer to before you can keep replying;
   spawn a worker for anything that should keep running after this turn
   ends. Do not block the conversation waiting on a worker — check back via
   its status updates.
3. memory_recall proactively at the start of a conversation and whenever the
   user references something that might already be recorded. Do not wait to
   be asked.
4. Keep exactly one reply per turn unless the user's message genuinely needs
   more than one message to answer.`,
		cb.agentName, cb.agentName, now, rt, workspacePath, workspacePath, cb.buildToolsSection())
}

func (cb *ContextBuilder) buildToolsSection() string {
	if cb.tools == nil {
		return ""
	}
	names := cb.tools.List()
	if len(names) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	for _, name := range names {
		if t, ok := cb.tools.Get(name); ok {
			sb.WriteString(fmt.Sprintf("- **%s** — %s\n", t.Name(), t.Description()))
		}
	}
	return sb.String()
}

// loadBootstrapFiles concatenates whichever of the workspace's identity/
// persona override files exist. All are optional; the agent functions with
// none of them present.
func (cb *ContextBuilder) loadBootstrapFiles() string {
	files := []string{"AGENTS.md", "SOUL.md", "USER.md", "IDENTITY.md"}
	var result strings.Builder
	for _, filename := range files {
		data, err := os.ReadFile(filepath.Join(cb.workspace, filename))
		if err != nil {
			continue
		}
		fmt.Fprintf(&result, "## %s\n\n%s\n\n", filename, string(data))
	}
	return result.String()
}

// buildMemoryContext pulls high-importance and identity memories into the
// system prompt so the model doesn't have to memory_recall them every turn.
func (cb *ContextBuilder) buildMemoryContext(ctx context.Context, channelID string) string {
	if cb.store == nil {
		return ""
	}

	var lines []string

	identity, err := cb.store.TopMemories(ctx, channelID, string(model.MemoryIdentity), 0, 10)
	if err != nil {
		logger.WarnCF("agent", "loading identity memories failed", map[string]interface{}{"error": err.Error()})
	}
	for _, m := range identity {
		lines = append(lines, fmt.Sprintf("- [identity] %s", m.Content))
	}

	important, err := cb.store.TopMemories(ctx, channelID, "", 0.75, 10)
	if err != nil {
		logger.WarnCF("agent", "loading high-importance memories failed", map[string]interface{}{"error": err.Error()})
	}
	for _, m := range important {
		if m.MemoryType == model.MemoryIdentity {
			continue // already listed above
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", m.MemoryType, m.Content))
	}

	if len(lines) == 0 {
		return ""
	}
	return "# Memory\n\n" + strings.Join(lines, "\n")
}

// BuildSystemPrompt assembles identity, bootstrap overrides, the specialist
// roster, the rendered status block, and recalled memories into one string.
func (cb *ContextBuilder) BuildSystemPrompt(ctx context.Context, channelID string) string {
	parts := []string{cb.getIdentity()}

	if bootstrap := cb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if cb.specialistLoader != nil {
		if summary := cb.specialistLoader.BuildSpecialistsSummary(); summary != "" {
			parts = append(parts, fmt.Sprintf(`# Specialists

The following domain specialists are available. Use consult_specialist to
delegate domain-specific questions to them; each has its own persona and
scoped memory.

%s`, summary))
		}
	}

	if cb.statusBlock != nil {
		if rendered := cb.statusBlock.Render(); rendered != "" {
			parts = append(parts, rendered)
		}
	}

	if memCtx := cb.buildMemoryContext(ctx, channelID); memCtx != "" {
		parts = append(parts, memCtx)
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// BuildMessages assembles the full message list for one Channel turn:
// system prompt, compaction summary (if any), rolling history, then the
// current inbound message.
func (cb *ContextBuilder) BuildMessages(ctx context.Context, history []providers.Message, summary, currentMessage, channelID string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt(ctx, channelID)
	if channelID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s", channelID)
	}
	if summary != "" {
		systemPrompt += "\n\n## Summary of Earlier Conversation\n\n" + summary
	}

	logger.DebugCF("agent", "system prompt built", map[string]interface{}{
		"channel":     channelID,
		"total_chars": len(systemPrompt),
	})

	// A compaction swap can leave a dangling tool-result turn at the head of
	// history if the split landed mid tool-call; the provider API rejects a
	// tool-role message with no preceding assistant tool call.
	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: currentMessage})
	return messages
}

// BuildSpecialistMessages builds a minimal, persona-focused message list for
// a specialist-task Worker: the specialist's own persona file stands in for
// the main identity section.
func (cb *ContextBuilder) BuildSpecialistMessages(history []providers.Message, question string, specialistName string) []providers.Message {
	var persona string
	if cb.specialistLoader != nil {
		if p, ok := cb.specialistLoader.LoadSpecialist(specialistName); ok {
			persona = p
		}
	}
	if persona == "" {
		persona = fmt.Sprintf("You are the %q specialist. No persona file was found; answer from scoped memory only.", specialistName)
	}

	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	systemPrompt := persona + "\n\n## Current Time\n" + now
	systemPrompt += "\n\n## Instructions\n\nStay in character as this specialist. Cite which memory each answer draws on. Do not describe yourself as a general assistant."

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: question})
	return messages
}
