package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/hook"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/tools"
)

// thinkTagRe strips <think>...</think> reasoning blocks some models emit.
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

func stripThinkingTags(s string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(s, ""))
}

func stripThinkingTagsForStream(s string) string {
	s = thinkTagRe.ReplaceAllString(s, "")
	if idx := strings.LastIndex(s, "<think>"); idx != -1 {
		if !strings.Contains(s[idx:], "</think>") {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// toolStrikeLimit is how many consecutive failures of the same tool trips
// its circuit breaker for the remainder of one iteration run.
const toolStrikeLimit = 3

// IterationConfig parameterizes the shared tool-calling LLM loop used by
// Channel, Branch, and Worker — they differ only in their tool set, turn
// cap, and what (if anything) they do with streamed deltas.
type IterationConfig struct {
	Provider providers.LLMProvider
	Model    string
	Tools    *tools.ToolRegistry
	MaxTurns int

	Process model.ProcessID
	Channel string

	Hook          *hook.Hook
	OnStreamDelta func(fullText string) // optional; receives the accumulated, think-tag-stripped text
	MaxTokens     int
	Temperature   float64
}

// IterationResult is what one run of the loop produced.
type IterationResult struct {
	Content  string
	Messages []providers.Message // full transcript including tool turns, for the caller to persist
	Turns    int
	Partial  bool // true if the loop stopped because it hit MaxTurns, not because the model replied

	InputTokens      int // summed across every LLM call this iteration made
	OutputTokens     int
	CacheReadTokens  int
	CacheCreateTokens int
	Model            string // model that served the final reply
}

// RunIteration drives messages through the LLM/tool-calling loop until the
// model replies with no tool calls, MaxTurns is reached, or ctx is
// cancelled at a turn boundary. Tool calls with external side effects that
// are already in flight when ctx is cancelled are allowed to finish; their
// results are simply discarded because the loop returns right after.
func RunIteration(ctx context.Context, messages []providers.Message, cfg IterationConfig) (*IterationResult, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	strikes := make(map[string]int)
	disabled := make(map[string]bool)

	turn := 0
	var finalContent, lastModel string
	hadToolCall := false
	var inTok, outTok, cacheRead, cacheCreate int

	for turn < cfg.MaxTurns {
		select {
		case <-ctx.Done():
			return &IterationResult{
				Content: finalContent, Messages: messages, Turns: turn, Partial: true,
				InputTokens: inTok, OutputTokens: outTok, CacheReadTokens: cacheRead, CacheCreateTokens: cacheCreate, Model: lastModel,
			}, ctx.Err()
		default:
		}
		turn++

		if cfg.Hook != nil && cfg.Hook.ShouldNudge(turn, hadToolCall) {
			messages = append(messages, providers.Message{Role: "system", Content: hook.NudgeText})
		}

		toolDefs := cfg.Tools.ToProviderDefs()
		llmOpts := map[string]interface{}{
			"max_tokens":  cfg.MaxTokens,
			"temperature": cfg.Temperature,
		}

		response, err := callLLM(ctx, cfg, messages, toolDefs, llmOpts)
		if err != nil {
			return &IterationResult{
				Content: finalContent, Messages: messages, Turns: turn, Partial: true,
				InputTokens: inTok, OutputTokens: outTok, CacheReadTokens: cacheRead, CacheCreateTokens: cacheCreate, Model: lastModel,
			}, fmt.Errorf("LLM call failed: %w", err)
		}
		response.Content = stripThinkingTags(response.Content)
		if response.Usage != nil {
			inTok += response.Usage.PromptTokens
			outTok += response.Usage.CompletionTokens
			cacheRead += response.Usage.CacheReadTokens
			cacheCreate += response.Usage.CacheCreateTokens
		}
		if response.Model != "" {
			lastModel = response.Model
		}

		if len(response.ToolCalls) == 0 {
			finalContent = response.Content
			break
		}

		hadToolCall = true
		assistantMsg := providers.Message{Role: "assistant", Content: response.Content}
		for _, tc := range response.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
				ID: tc.ID, Name: tc.Name,
				Function: &providers.FunctionCall{Name: tc.Name, Arguments: string(argsJSON)},
			})
		}
		messages = append(messages, assistantMsg)

		for _, tc := range response.ToolCalls {
			if cfg.Hook != nil {
				cfg.Hook.OnToolStarted(cfg.Process, cfg.Channel, tc.Name)
			}

			var result *tools.ToolResult
			if disabled[tc.Name] {
				result = tools.ErrorResult(fmt.Sprintf("tool %q disabled after %d consecutive failures this run", tc.Name, toolStrikeLimit))
			} else {
				result = cfg.Tools.Execute(ctx, tc.Name, tc.Arguments)
			}

			if result.IsError {
				strikes[tc.Name]++
				if strikes[tc.Name] >= toolStrikeLimit {
					disabled[tc.Name] = true
					logger.WarnCF("agent", "tool circuit breaker tripped", map[string]interface{}{
						"tool": tc.Name, "strikes": strikes[tc.Name],
					})
				}
			} else {
				strikes[tc.Name] = 0
			}

			if cfg.Hook != nil {
				errText := ""
				if result.Err != nil {
					errText = result.Err.Error()
				}
				cfg.Hook.OnToolCompleted(cfg.Process, cfg.Channel, tc.Name, result.ForLLM, result.IsError, errText)
			}

			contentForLLM := result.ForLLM
			if contentForLLM == "" && result.Err != nil {
				contentForLLM = result.Err.Error()
			}
			messages = append(messages, providers.Message{Role: "tool", Content: contentForLLM, ToolCallID: tc.ID})
		}
	}

	partial := finalContent == "" && turn >= cfg.MaxTurns
	return &IterationResult{
		Content: finalContent, Messages: messages, Turns: turn, Partial: partial,
		InputTokens: inTok, OutputTokens: outTok, CacheReadTokens: cacheRead, CacheCreateTokens: cacheCreate, Model: lastModel,
	}, nil
}

func callLLM(ctx context.Context, cfg IterationConfig, messages []providers.Message, toolDefs []providers.ToolDefinition, llmOpts map[string]interface{}) (*providers.LLMResponse, error) {
	sp, canStream := cfg.Provider.(providers.StreamingProvider)
	if canStream && cfg.OnStreamDelta != nil {
		filtered := func(fullText string) {
			cleaned := stripThinkingTagsForStream(fullText)
			if cleaned == "" {
				return
			}
			if scrubbed, redacted := hook.Scrub(cleaned); redacted {
				cleaned = scrubbed
			}
			cfg.OnStreamDelta(cleaned)
		}
		notifier := bus.NewStreamNotifier(1500*time.Millisecond, filtered)
		resp, err := sp.ChatStream(ctx, messages, toolDefs, cfg.Model, llmOpts, func(delta string) {
			notifier.Append(delta)
		})
		notifier.Flush()
		return resp, err
	}
	return cfg.Provider.Chat(ctx, messages, toolDefs, cfg.Model, llmOpts)
}
