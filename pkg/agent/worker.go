package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/hook"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/tools"
)

// DefaultWorkerMaxTurns is used when a caller doesn't override it.
const DefaultWorkerMaxTurns = 50

// WorkerState is one state in the Worker lifecycle. Transitions are guarded
// by isLegalTransition — an illegal request is rejected rather than applied.
type WorkerState string

const (
	WorkerPending       WorkerState = "pending"
	WorkerRunning       WorkerState = "running"
	WorkerAwaitingInput WorkerState = "awaiting_input"
	WorkerSucceeded     WorkerState = "succeeded"
	WorkerFailed        WorkerState = "failed"
	WorkerCancelled     WorkerState = "cancelled"
	WorkerTimedOut      WorkerState = "timed_out"
)

func (s WorkerState) terminal() bool {
	switch s {
	case WorkerSucceeded, WorkerFailed, WorkerCancelled, WorkerTimedOut:
		return true
	default:
		return false
	}
}

// isLegalTransition enumerates the Worker state machine from spec §4.5:
//
//	Pending -> Running -> (Succeeded | Failed | Cancelled | TimedOut)
//	Running -> AwaitingInput -> Running   (on follow-up prompt)
func isLegalTransition(from, to WorkerState) bool {
	switch from {
	case WorkerPending:
		return to == WorkerRunning || to == WorkerCancelled
	case WorkerRunning:
		switch to {
		case WorkerAwaitingInput, WorkerSucceeded, WorkerFailed, WorkerCancelled, WorkerTimedOut:
			return true
		}
		return false
	case WorkerAwaitingInput:
		return to == WorkerRunning || to == WorkerCancelled
	default:
		return false // terminal states never transition further
	}
}

// WorkerOptions configures one Worker run.
type WorkerOptions struct {
	Channel  string
	TaskType string
	Prompt   string
	Provider providers.LLMProvider
	Model    string
	Tools    *tools.ToolRegistry // task-type-specific set
	MaxTurns int
	Hook     *hook.Hook
	Bus      *bus.EventBus

	// InboundBuffer sizes the follow-up queue; a full queue causes Route to
	// report failure back to whoever tried to deliver the follow-up.
	InboundBuffer int
}

// Worker executes one typed, possibly long-running task. Unlike Branch it
// accepts follow-up messages on a dedicated inbound channel while running,
// and its partial output is preserved even when it's cancelled or exhausts
// its turn budget.
type Worker struct {
	id       model.ProcessID
	taskType string
	prompt   string
	provider providers.LLMProvider
	model    string
	tools    *tools.ToolRegistry
	maxTurns int
	hook     *hook.Hook
	eventBus *bus.EventBus
	channel  string

	inbound chan string

	mu    sync.Mutex
	state WorkerState
}

func NewWorker(opts WorkerOptions) *Worker {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultWorkerMaxTurns
	}
	buf := opts.InboundBuffer
	if buf <= 0 {
		buf = 8
	}
	return &Worker{
		id:       model.ProcessID{ID: uuid.NewString(), Kind: model.KindWorker, AgentName: opts.Channel, TaskType: opts.TaskType},
		taskType: opts.TaskType,
		prompt:   opts.Prompt,
		provider: opts.Provider,
		model:    opts.Model,
		tools:    opts.Tools,
		maxTurns: maxTurns,
		hook:     opts.Hook,
		eventBus: opts.Bus,
		channel:  opts.Channel,
		inbound:  make(chan string, buf),
		state:    WorkerPending,
	}
}

func (w *Worker) ID() string { return w.id.ID }

// InboundTx is the send half of the follow-up queue, handed to the process
// Supervisor at registration time so Route can deliver later messages.
func (w *Worker) InboundTx() chan<- string { return w.inbound }

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// transition applies a state change if legal, returning whether it took.
func (w *Worker) transition(to WorkerState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !isLegalTransition(w.state, to) {
		return false
	}
	w.state = to
	return true
}

// Run drives the Worker's task-type-specific LLM loop from Pending to a
// terminal state, accepting follow-ups via inbound while Running. Intended
// to run in its own goroutine; the caller does not wait on it — progress
// and completion surface via the event bus.
func (w *Worker) Run(ctx context.Context) {
	if !w.transition(WorkerRunning) {
		return
	}
	if w.eventBus != nil {
		w.eventBus.Publish(bus.ProcessEvent{Kind: bus.EventWorkerStarted, Process: w.id, Channel: w.channel, Task: w.taskType})
	}

	messages := []providers.Message{
		{Role: "system", Content: fmt.Sprintf(
			"You are a worker process executing one task of type %q. Carry it out using your tools, "+
				"then summarize what you did and its outcome. You may receive follow-up instructions mid-task; "+
				"incorporate them into the same job rather than starting over.", w.taskType)},
		{Role: "user", Content: w.prompt},
	}

	var (
		finalState WorkerState
		detail     string
		errText    string
	)

workerLoop:
	for {
		result, err := RunIteration(ctx, messages, IterationConfig{
			Provider: w.provider,
			Model:    w.model,
			Tools:    w.tools,
			MaxTurns: w.maxTurns,
			Process:  w.id,
			Channel:  w.channel,
			Hook:     w.hook,
		})
		messages = result.Messages

		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				finalState = WorkerTimedOut
			} else {
				finalState = WorkerCancelled
			}
			detail = "stopped at turn boundary; partial result: " + result.Content
			break
		}
		if err != nil {
			finalState = WorkerFailed
			detail = result.Content
			errText = err.Error()
			break
		}
		if result.Partial {
			// Hit max_turns without concluding: return what was collected
			// rather than discard it, per the partial-recovery contract.
			finalState = WorkerSucceeded
			detail = "max turns reached; partial result: " + result.Content
			break
		}

		// Model concluded. Check for a queued follow-up before going
		// terminal — an AwaitingInput round trip keeps the task alive.
		select {
		case follow := <-w.inbound:
			if !w.transition(WorkerAwaitingInput) {
				finalState = WorkerFailed
				detail = "illegal transition to awaiting_input"
				break workerLoop
			}
			messages = append(messages, providers.Message{Role: "user", Content: follow})
			if !w.transition(WorkerRunning) {
				finalState = WorkerFailed
				detail = "illegal transition back to running"
				break workerLoop
			}
			continue workerLoop
		default:
			finalState = WorkerSucceeded
			detail = result.Content
			break workerLoop
		}
	}

	w.transition(finalState)

	if w.eventBus != nil {
		w.eventBus.Publish(bus.ProcessEvent{
			Kind: bus.EventWorkerCompleted, Process: w.id, Channel: w.channel,
			Task: w.taskType, Detail: detail, Err: errText,
		})
		w.eventBus.Publish(bus.ProcessEvent{Kind: bus.EventProcessTerminated, Process: w.id, Channel: w.channel})
	}
}
