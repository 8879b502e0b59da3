package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pico-agents/coreagent/pkg/hook"
)

// ReplyCallback delivers one outbound fragment to the messaging layer.
type ReplyCallback func(channel, chatID, content string, metadata map[string]string) error

// ReplyTool is the Channel's user-facing output tool. Unlike the Worker/
// Branch message tool it never needs a thread_id override — the Channel
// always replies on the conversation it was invoked from.
type ReplyTool struct {
	send           ReplyCallback
	defaultChannel string
	defaultChatID  string
	sentInRound    bool
}

func NewReplyTool() *ReplyTool { return &ReplyTool{} }

func (t *ReplyTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
	t.sentInRound = false
}

func (t *ReplyTool) SetSendCallback(cb ReplyCallback) { t.send = cb }
func (t *ReplyTool) HasSentInRound() bool             { return t.sentInRound }

func (t *ReplyTool) Name() string        { return "reply" }
func (t *ReplyTool) Description() string { return "Send a reply fragment to the user in this conversation." }

func (t *ReplyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The text to send to the user",
			},
		},
		"required": []string{"content"},
	}
}

func (t *ReplyTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}
	if t.send == nil {
		return ErrorResult("reply is not wired to a messaging layer")
	}
	scrubbed, redacted := hook.Scrub(content)
	if redacted {
		content = scrubbed
	}
	if err := t.send(t.defaultChannel, t.defaultChatID, content, nil); err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("sending reply: %v", err), IsError: true, Err: err}
	}
	t.sentInRound = true
	return SilentResult("reply sent")
}

// BranchFunc registers and starts a Branch process in the background and
// returns its id immediately — the caller does not wait for it to conclude.
// The conclusion arrives later as a branch_completed event, which the
// Channel injects into its next LLM turn as a system note.
type BranchFunc func(ctx context.Context, task string) (branchID string, err error)

// BranchTool forks a read-only history snapshot into a short-lived agent
// loop. It does not block: the loop keeps serving the conversation while
// the branch runs, and its conclusion surfaces through the event bus.
type BranchTool struct {
	run BranchFunc
}

func NewBranchTool(run BranchFunc) *BranchTool { return &BranchTool{run: run} }

func (t *BranchTool) Name() string { return "branch" }
func (t *BranchTool) Description() string {
	return "Fork a short-lived sub-agent with a read-only copy of this conversation's history to explore a bounded question in the background. Its conclusion will appear as a system note in a later turn; this call does not wait for it."
}

func (t *BranchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "What the branch should investigate or do",
			},
		},
		"required": []string{"task"},
	}
}

func (t *BranchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return ErrorResult("task is required")
	}
	if t.run == nil {
		return ErrorResult("branch is not wired")
	}
	id, err := t.run(ctx, task)
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("starting branch: %v", err), IsError: true, Err: err}
	}
	return SilentResult(fmt.Sprintf("branch %s started", id))
}

// WorkerSpawnFunc starts a Worker in the background and returns its id
// immediately — the caller does not wait for it to finish.
type WorkerSpawnFunc func(ctx context.Context, taskType, prompt string) (workerID string, err error)

// SpawnWorkerTool registers a long-running typed task. Its result surfaces
// later through the status block or an injected BranchResult-style event,
// never by blocking this tool call.
type SpawnWorkerTool struct {
	spawn WorkerSpawnFunc
}

func NewSpawnWorkerTool(spawn WorkerSpawnFunc) *SpawnWorkerTool { return &SpawnWorkerTool{spawn: spawn} }

func (t *SpawnWorkerTool) Name() string { return "spawn_worker" }
func (t *SpawnWorkerTool) Description() string {
	return "Start a long-running typed task (shell, file, browser, web_search, cron, ...) in the background. Returns a worker id you can route follow-ups to or cancel."
}

func (t *SpawnWorkerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_type": map[string]interface{}{
				"type":        "string",
				"description": "What kind of task this worker performs (e.g. shell, file, browser, web_search, cron, specialist)",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "The task instructions for the worker",
			},
		},
		"required": []string{"task_type", "prompt"},
	}
}

func (t *SpawnWorkerTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	taskType, _ := args["task_type"].(string)
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(taskType) == "" || strings.TrimSpace(prompt) == "" {
		return ErrorResult("task_type and prompt are required")
	}
	if t.spawn == nil {
		return ErrorResult("spawn_worker is not wired")
	}
	id, err := t.spawn(ctx, taskType, prompt)
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("spawning worker: %v", err), IsError: true, Err: err}
	}
	return OKResult(fmt.Sprintf("worker %s started", id))
}

// RouteFunc forwards text to an already-running Worker's inbound queue.
type RouteFunc func(workerID, text string) bool

// RouteTool delivers a follow-up message to a named running Worker.
type RouteTool struct {
	route RouteFunc
}

func NewRouteTool(route RouteFunc) *RouteTool { return &RouteTool{route: route} }

func (t *RouteTool) Name() string        { return "route" }
func (t *RouteTool) Description() string { return "Send a follow-up message to an already-running worker." }

func (t *RouteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"worker_id": map[string]interface{}{"type": "string", "description": "Target worker id"},
			"message":   map[string]interface{}{"type": "string", "description": "Follow-up text"},
		},
		"required": []string{"worker_id", "message"},
	}
}

func (t *RouteTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	workerID, _ := args["worker_id"].(string)
	message, _ := args["message"].(string)
	if workerID == "" || strings.TrimSpace(message) == "" {
		return ErrorResult("worker_id and message are required")
	}
	if t.route == nil || !t.route(workerID, message) {
		return ErrorResult(fmt.Sprintf("no running worker %s, or its queue is full", workerID))
	}
	return SilentResult(fmt.Sprintf("routed to worker %s", workerID))
}

// CancelFunc signals a running Branch or Worker to stop.
type CancelFunc func(id string)

// CancelTool aborts a running Branch or Worker by id.
type CancelTool struct {
	cancel CancelFunc
}

func NewCancelTool(cancel CancelFunc) *CancelTool { return &CancelTool{cancel: cancel} }

func (t *CancelTool) Name() string        { return "cancel" }
func (t *CancelTool) Description() string { return "Cancel a running branch or worker by id." }

func (t *CancelTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "string", "description": "Branch or worker id to cancel"},
		},
		"required": []string{"id"},
	}
}

func (t *CancelTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	if t.cancel == nil {
		return ErrorResult("cancel is not wired")
	}
	t.cancel(id)
	return SilentResult(fmt.Sprintf("cancel signalled for %s", id))
}

// SkipTool is an explicit no-op: the model decided this turn needs no
// user-visible action and no side effect.
type SkipTool struct{}

func NewSkipTool() *SkipTool { return &SkipTool{} }

func (t *SkipTool) Name() string        { return "skip" }
func (t *SkipTool) Description() string { return "Take no action this turn." }

func (t *SkipTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *SkipTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return SilentResult("skipped")
}

// ReactCallback attaches a lightweight reaction to the inbound message,
// where the messaging adapter supports it.
type ReactCallback func(channel, chatID, emoji string) error

// ReactTool sends a cheap acknowledgement without a full reply.
type ReactTool struct {
	react          ReactCallback
	defaultChannel string
	defaultChatID  string
}

func NewReactTool(react ReactCallback) *ReactTool { return &ReactTool{react: react} }

func (t *ReactTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

func (t *ReactTool) Name() string        { return "react" }
func (t *ReactTool) Description() string { return "Attach a short emoji reaction to the user's message instead of replying in full." }

func (t *ReactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"emoji": map[string]interface{}{"type": "string", "description": "The reaction emoji"},
		},
		"required": []string{"emoji"},
	}
}

func (t *ReactTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	emoji, _ := args["emoji"].(string)
	if emoji == "" {
		return ErrorResult("emoji is required")
	}
	if t.react == nil {
		return SilentResult("reactions not supported on this channel")
	}
	if err := t.react(t.defaultChannel, t.defaultChatID, emoji); err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("reacting: %v", err), IsError: true, Err: err}
	}
	return SilentResult("reacted")
}

// StatusAppendFunc appends one entry to a channel's status block.
type StatusAppendFunc func(kind, detail string)

// SetStatusTool lets the model record a significant process event onto the
// status block that gets prepended to every subsequent LLM call.
type SetStatusTool struct {
	append StatusAppendFunc
}

func NewSetStatusTool(append StatusAppendFunc) *SetStatusTool { return &SetStatusTool{append: append} }

func (t *SetStatusTool) Name() string { return "set_status" }
func (t *SetStatusTool) Description() string {
	return "Record a short status note (e.g. what you're working on) that stays visible across the next few turns."
}

func (t *SetStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"detail": map[string]interface{}{"type": "string", "description": "The status text"},
		},
		"required": []string{"detail"},
	}
}

func (t *SetStatusTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	detail, _ := args["detail"].(string)
	if strings.TrimSpace(detail) == "" {
		return ErrorResult("detail is required")
	}
	if t.append == nil {
		return SilentResult("status not wired")
	}
	t.append("status", detail)
	return SilentResult("status updated")
}
