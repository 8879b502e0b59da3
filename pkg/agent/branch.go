package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/hook"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/tools"
)

// DefaultBranchMaxTurns is used when a caller doesn't override it.
const DefaultBranchMaxTurns = 10

// Branch runs a bounded, read-only exploration against a forked copy of a
// Channel's history. Nothing it does touches the parent's live history;
// only its final conclusion is reported back, via the event bus, as a
// branch_completed event the parent injects as a system note.
type Branch struct {
	id       model.ProcessID
	task     string
	history  []providers.Message // forked snapshot, never mutated in the parent
	provider providers.LLMProvider
	model    string
	tools    *tools.ToolRegistry
	maxTurns int
	hook     *hook.Hook
	eventBus *bus.EventBus
	channel  string
}

// BranchOptions configures one Branch run.
type BranchOptions struct {
	Channel  string
	Task     string
	History  []providers.Message // forked snapshot
	Provider providers.LLMProvider
	Model    string
	Tools    *tools.ToolRegistry // shared set: memory_save, memory_recall, reply-to-parent
	MaxTurns int
	Hook     *hook.Hook
	Bus      *bus.EventBus
}

func NewBranch(opts BranchOptions) *Branch {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultBranchMaxTurns
	}
	return &Branch{
		id:       model.ProcessID{ID: uuid.NewString(), Kind: model.KindBranch, AgentName: opts.Channel},
		task:     opts.Task,
		history:  opts.History,
		provider: opts.Provider,
		model:    opts.Model,
		tools:    opts.Tools,
		maxTurns: maxTurns,
		hook:     opts.Hook,
		eventBus: opts.Bus,
		channel:  opts.Channel,
	}
}

func (b *Branch) ID() string { return b.id.ID }

// Run drives the branch's own short LLM loop to a conclusion and publishes
// it on the event bus. Intended to be called from a goroutine the caller
// does not wait on — Channel.spawnBranch starts it and returns immediately.
func (b *Branch) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, branchDeadline)
	defer cancel()

	if b.eventBus != nil {
		b.eventBus.Publish(bus.ProcessEvent{Kind: bus.EventBranchStarted, Process: b.id, Channel: b.channel, Task: b.task})
	}

	messages := append([]providers.Message{
		{Role: "system", Content: fmt.Sprintf(
			"You are a branch sub-agent. You were given a read-only snapshot of a conversation and one task. "+
				"Investigate or carry out the task, then reply with your conclusion — it is the only thing the parent conversation will see.\n\nTask: %s",
			b.task)},
	}, b.history...)

	result, err := RunIteration(ctx, messages, IterationConfig{
		Provider: b.provider,
		Model:    b.model,
		Tools:    b.tools,
		MaxTurns: b.maxTurns,
		Process:  b.id,
		Channel:  b.channel,
		Hook:     b.hook,
	})

	conclusion := ""
	var runErr error
	switch {
	case err != nil && ctx.Err() != nil:
		conclusion = "branch cancelled before it could conclude"
		runErr = ctx.Err()
	case err != nil:
		conclusion = fmt.Sprintf("branch failed: %v", err)
		runErr = err
	case result.Partial:
		conclusion = "branch ran out of turns before concluding; partial findings: " + result.Content
	default:
		conclusion = result.Content
	}

	if b.eventBus != nil {
		errText := ""
		if runErr != nil {
			errText = runErr.Error()
		}
		b.eventBus.Publish(bus.ProcessEvent{
			Kind: bus.EventBranchCompleted, Process: b.id, Channel: b.channel,
			Task: b.task, Detail: conclusion, Err: errText,
		})
		b.eventBus.Publish(bus.ProcessEvent{Kind: bus.EventProcessTerminated, Process: b.id, Channel: b.channel})
	}
}

// runDeadline bounds a branch run so a stuck LLM/tool call can't hold a
// concurrency slot forever; spec defaults leave this generous.
const branchDeadline = 10 * time.Minute
