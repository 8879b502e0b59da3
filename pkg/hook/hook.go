// Package hook implements the prompt hook every process's LLM loop runs
// through: it emits ProcessEvents for tool invocation/result, scrubs
// secret-shaped text out of outbound replies, and optionally nudges a
// loop that is burning turns without taking any action.
package hook

import (
	"regexp"

	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/model"
)

// Hook is the shared middleware wired into Channel, Branch, and Worker
// loops. It holds no per-run state of its own beyond its configuration —
// per-run nudge tracking lives with the caller's turn counter.
type Hook struct {
	bus *bus.EventBus

	nudgeAfterTurns int // 0 disables nudging
}

// Option configures a Hook at construction.
type Option func(*Hook)

// WithNudgeAfterTurns enables the "no tool calls yet" nudge once a loop has
// completed this many turns without any tool call.
func WithNudgeAfterTurns(turns int) Option {
	return func(h *Hook) { h.nudgeAfterTurns = turns }
}

func New(eventBus *bus.EventBus, opts ...Option) *Hook {
	h := &Hook{bus: eventBus}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnToolStarted publishes a tool_started event.
func (h *Hook) OnToolStarted(proc model.ProcessID, channel, tool string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(bus.ProcessEvent{Kind: bus.EventToolStarted, Process: proc, Channel: channel, Tool: tool})
}

// OnToolCompleted publishes tool_completed or tool_failed depending on
// outcome, carrying a short detail string for status-block rendering.
func (h *Hook) OnToolCompleted(proc model.ProcessID, channel, tool, detail string, isError bool, errText string) {
	if h.bus == nil {
		return
	}
	kind := bus.EventToolCompleted
	if isError {
		kind = bus.EventToolFailed
	}
	h.bus.Publish(bus.ProcessEvent{Kind: kind, Process: proc, Channel: channel, Tool: tool, Detail: detail, Err: errText})
}

// ShouldNudge reports whether a loop that has run turnsSoFar turns without
// any tool call should receive a nudge. hadToolCall should reflect whether
// any tool call has fired in the loop so far.
func (h *Hook) ShouldNudge(turnsSoFar int, hadToolCall bool) bool {
	if h.nudgeAfterTurns <= 0 || hadToolCall {
		return false
	}
	return turnsSoFar >= h.nudgeAfterTurns
}

// NudgeText is the system note injected when ShouldNudge reports true.
const NudgeText = "You've gone several turns without using a tool or replying. If you have enough information, use `reply` now; otherwise use a tool to make progress."

// --- Secret scrubbing -------------------------------------------------

// secretPatterns matches common secret shapes seen in outbound text:
// cloud provider keys, bearer/API tokens, private key blocks, and generic
// key=value assignments whose key name looks credential-shaped.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                                   // AWS access key id
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]{20,}`),                     // bearer tokens
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),                                // OpenAI/Anthropic-style secret keys
	regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z-]{10,}`),                       // Slack tokens
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"]?[a-zA-Z0-9._\-]{12,}['"]?`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), // JWTs
}

const redactedPlaceholder = "[REDACTED]"

// Scrub returns text with any secret-shaped substring replaced, plus
// whether anything was redacted. The Channel calls this on every outbound
// fragment before it reaches the messaging layer.
func Scrub(text string) (string, bool) {
	found := false
	out := text
	for _, re := range secretPatterns {
		if re.MatchString(out) {
			found = true
			out = re.ReplaceAllString(out, redactedPlaceholder)
		}
	}
	return out, found
}

// ContainsSecret reports whether text matches a known secret shape, without
// performing any replacement — used by tests asserting the invariant that
// secret patterns never reach outbound bytes.
func ContainsSecret(text string) bool {
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
