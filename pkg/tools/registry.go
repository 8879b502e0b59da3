// Package tools implements the tool sets exposed to each process kind's LLM
// loop (Channel, Branch, Worker) plus the registry and result plumbing they
// share.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/pico-agents/coreagent/pkg/providers"
)

// ToolResult is what a Tool returns: ForLLM is what goes back into the
// conversation as the tool-result message; ForUser, when non-empty and not
// Silent, is surfaced to the user immediately rather than waiting for the
// model's next turn.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

// ErrorResult builds a ToolResult reporting msg as a tool-level error.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// SilentResult builds a success ToolResult whose content is for the LLM
// only — it was already delivered to the user some other way, or needs no
// user-facing echo.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

// OKResult builds a plain success ToolResult.
func OKResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

// Tool is the minimal interface every tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ContextualTool is implemented by tools that need the current channel/chat
// target before Execute is called (message, branch, spawn_worker, route).
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// ToolRegistry holds the tools available to one process's LLM loop. Workers
// and Branches each get their own registry instance scoped to their
// task-type's permitted tool set; Channel's registry carries the full set.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// ToProviderDefs builds the OpenAI-style function definitions sent to the LLM.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs a tool by name. An unknown tool name is reported as a tool
// error the LLM can see and react to, not a process-level failure.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	t, ok := r.Get(name)
	if !ok {
		return &ToolResult{ForLLM: "unknown tool: " + name, IsError: true}
	}
	return t.Execute(ctx, args)
}

// SetContext propagates channel/chatID to every registered ContextualTool.
func (r *ToolRegistry) SetContext(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ct, ok := t.(ContextualTool); ok {
			ct.SetContext(channel, chatID)
		}
	}
}
