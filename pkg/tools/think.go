package tools

import (
	"context"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// thinkLogLimit bounds how much of a thought reaches the debug log, so a
// model that rambles doesn't flood log storage with its scratchpad.
const thinkLogLimit = 500

// ThinkTool lets a process reason through a problem step by step without
// taking any action. The thought never reaches the user — it is recorded at
// debug level so an operator tailing logs can follow the reasoning trace
// behind a later tool call or reply, then returned silently to the LLM.
type ThinkTool struct {
	component string
}

// NewThinkTool builds a think tool that logs under the given component name
// (e.g. "channel", "worker") so multi-process runs can be told apart in logs.
func NewThinkTool(component string) *ThinkTool {
	return &ThinkTool{component: component}
}

func (t *ThinkTool) Name() string {
	return "think"
}

func (t *ThinkTool) Description() string {
	return "Use this tool to think through a problem step-by-step before acting. Your thought is private and not shown to the user. Use it when you need to reason about complex decisions, plan multi-step actions, or analyze information before responding."
}

func (t *ThinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"thought": map[string]interface{}{
				"type":        "string",
				"description": "Your step-by-step reasoning or analysis",
			},
		},
		"required": []string{"thought"},
	}
}

func (t *ThinkTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	thought, _ := args["thought"].(string)
	if thought == "" {
		return ErrorResult("thought is required")
	}
	logged := thought
	if len(logged) > thinkLogLimit {
		logged = logged[:thinkLogLimit] + "..."
	}
	logger.DebugCF(t.component, "thought", map[string]interface{}{"thought": logged})
	return SilentResult("Thought recorded.")
}
