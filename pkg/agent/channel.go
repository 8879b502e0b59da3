package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/hook"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/metrics"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/process"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/specialists"
	"github.com/pico-agents/coreagent/pkg/state"
	"github.com/pico-agents/coreagent/pkg/status"
	"github.com/pico-agents/coreagent/pkg/store"
	"github.com/pico-agents/coreagent/pkg/tools"
)

// estimateTokens is a rough chars/4 approximation. No tokenizer is wired for
// every provider in the fallback chain, so the tiered compaction trigger
// works off this estimate rather than an exact count.
func estimateTokens(s string) int { return len(s) / 4 }

// ChannelOptions configures one Channel.
type ChannelOptions struct {
	ID        string // channel/conversation id
	ChatID    string // messaging-layer thread/chat id to reply into
	AgentName string
	Workspace string

	Store    *store.Store
	Searcher *memory.Searcher
	Vector   *memory.VectorStore
	Extractor *memory.Extractor
	Loader   *specialists.SpecialistLoader

	Router *providers.RouterProvider
	Bus    *bus.EventBus

	Defaults   config.AgentDefaults
	Compaction config.CompactionConfig

	Send ReplyFunc
	React ReactFunc

	// TelegramBot, when set, means this channel's messages arrived over the
	// Telegram adapter and it should expose forum-topic/pin management tools
	// bound to that bot. Left nil for every other adapter.
	TelegramBot *telego.Bot
}

// ReplyFunc delivers one outbound fragment through the messaging layer.
type ReplyFunc func(chatID, content string, metadata map[string]string) error

// ReactFunc attaches a lightweight reaction through the messaging layer.
type ReactFunc func(chatID, emoji string) error

// Channel owns one conversation end to end: the single-threaded inbound
// loop, the tool set the model drives it with, and the supervision tree of
// Branches and Workers it spawns but never blocks on.
type Channel struct {
	id        string
	chatID    string
	agentName string
	workspace string

	store    *store.Store
	searcher *memory.Searcher
	vector   *memory.VectorStore
	extractor *memory.Extractor
	loader   *specialists.SpecialistLoader
	topicMappings *state.TopicMappingStore

	router *providers.RouterProvider
	eventBus *bus.EventBus

	defaults   config.AgentDefaults
	compaction config.CompactionConfig

	sendFn  ReplyFunc
	reactFn ReactFunc

	ctxBuilder *ContextBuilder
	statusBlk  *status.Block
	hook       *hook.Hook
	supervisor *process.Supervisor
	compactor  *Compactor
	registry   *tools.ToolRegistry
	tracker    *metrics.Tracker
	telegramBot *telego.Bot

	replyTool *tools.ReplyTool

	mu      sync.Mutex
	history []providers.Message // rolling, in-memory mirror of persisted turns
	summary string               // latest compaction summary, if any

	sub *bus.Subscription

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewChannel wires a Channel's tool set, context builder, and supervision
// tree. Callers must call Start to begin processing and subscribing to the
// event bus.
func NewChannel(opts ChannelOptions) *Channel {
	c := &Channel{
		id:         opts.ID,
		chatID:     opts.ChatID,
		agentName:  opts.AgentName,
		workspace:  opts.Workspace,
		store:      opts.Store,
		searcher:   opts.Searcher,
		vector:     opts.Vector,
		extractor:  opts.Extractor,
		loader:     opts.Loader,
		router:     opts.Router,
		eventBus:   opts.Bus,
		defaults:   opts.Defaults,
		compaction: opts.Compaction,
		sendFn:     opts.Send,
		reactFn:    opts.React,
		statusBlk:  status.NewBlock(),
		telegramBot: opts.TelegramBot,
	}

	c.tracker = metrics.NewTracker(opts.Workspace)
	c.hook = hook.New(opts.Bus)
	c.supervisor = process.NewSupervisor(opts.Defaults.MaxConcurrentBranch, opts.Defaults.MaxConcurrentWorkers, opts.Bus)
	c.compactor = NewCompactor(opts.Store, opts.Router, opts.Router.GetDefaultModel(), CompactorConfig{RetentionFloor: opts.Compaction.RetentionFloor})

	c.ctxBuilder = NewContextBuilder(opts.Workspace, opts.AgentName, opts.Store)
	c.ctxBuilder.SetStatusBlock(c.statusBlk)
	if opts.Loader != nil {
		c.ctxBuilder.SetSpecialistLoader(opts.Loader)
		c.topicMappings = state.NewTopicMappingStore(opts.Workspace)
	}

	c.registry = c.buildToolRegistry()
	c.ctxBuilder.SetToolsRegistry(c.registry)

	return c
}

// Start subscribes the Channel to the event bus so Branch/Worker completion
// and terminal events get folded back into its own history and reaped from
// the supervisor. Call Stop to unsubscribe and cancel any in-flight turn.
func (c *Channel) Start(ctx context.Context) {
	c.sub = c.eventBus.Subscribe()
	go c.watchEvents(ctx)
}

func (c *Channel) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.supervisor.CancelAll()
}

func (c *Channel) buildToolRegistry() *tools.ToolRegistry {
	reg := tools.NewToolRegistry()

	c.replyTool = tools.NewReplyTool()
	c.replyTool.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error {
		return c.sendFn(chatID, content, metadata)
	})
	reg.Register(c.replyTool)

	reg.Register(tools.NewBranchTool(c.spawnBranch))
	reg.Register(tools.NewSpawnWorkerTool(c.spawnWorker))
	reg.Register(tools.NewRouteTool(func(workerID, text string) bool {
		return c.supervisor.Route(workerID, text)
	}))
	reg.Register(tools.NewCancelTool(func(id string) { c.supervisor.Cancel(id) }))
	reg.Register(tools.NewSkipTool())

	reactTool := tools.NewReactTool(func(channel, chatID, emoji string) error {
		if c.reactFn == nil {
			return nil
		}
		return c.reactFn(chatID, emoji)
	})
	reg.Register(reactTool)

	reg.Register(tools.NewSetStatusTool(func(kind, detail string) {
		c.statusBlk.Append(kind, detail)
	}))
	reg.Register(tools.NewThinkTool("channel"))

	if c.telegramBot != nil {
		reg.Register(tools.NewManageTelegramTool(c.telegramBot, c.topicMappings))
	}

	if c.store != nil && c.vector != nil {
		reg.Register(tools.NewMemorySaveTool(c.store, c.vector))
	}
	if c.searcher != nil {
		reg.Register(tools.NewMemoryRecallTool(c.searcher))
	}

	if c.loader != nil {
		reg.Register(tools.NewConsultSpecialistTool(c.loader, c.runSpecialist))
		reg.Register(tools.NewCreateSpecialistTool(c.loader, c.router, c.router.GetDefaultModel(), c.extractor))
		reg.Register(tools.NewFeedSpecialistTool(c.loader, c.extractor))
		if c.topicMappings != nil {
			reg.Register(tools.NewLinkTopicTool(c.topicMappings, c.loader))
		}
	}

	reg.SetContext(c.id, c.chatID)
	return reg
}

// runSpecialist answers one question through a named persona's scoped
// context. A consultation is bounded and synchronous from the caller's
// point of view even though it drives the same tool-calling loop a Worker
// does, just without the async state machine around it.
func (c *Channel) runSpecialist(ctx context.Context, specialistName, question, extraContext string) (string, error) {
	messages := c.ctxBuilder.BuildSpecialistMessages(nil, question, specialistName)
	if extraContext != "" {
		messages = append(messages, providers.Message{Role: "system", Content: "Additional context: " + extraContext})
	}

	taskType := "specialist"
	if c.loader != nil {
		if meta := c.loader.GetMetadata(specialistName); meta != nil && meta.TaskType != "" {
			taskType = meta.TaskType
		}
	}

	entry := c.router.Resolve(taskType, question)
	specialistTools := c.buildWorkerToolRegistry("specialist")

	result, err := RunIteration(ctx, messages, IterationConfig{
		Provider: c.router,
		Model:    entry.Model,
		Tools:    specialistTools,
		MaxTurns: c.defaults.WorkerMaxIterations,
		Process:  model.ProcessID{ID: c.id, Kind: model.KindWorker, TaskType: taskType},
		Channel:  c.id,
		Hook:     c.hook,
	})
	if err != nil {
		return "", err
	}

	if c.extractor != nil {
		go c.extractor.ExtractAndConsolidateSpecialist(context.Background(), result.Content, question, fmt.Sprintf("specialist:%s", specialistName), specialistName)
	}
	return result.Content, nil
}

// HandleInbound runs one full Channel turn for an incoming user message:
// build context, resolve a model, drive the tool-calling loop, persist the
// finalized turn, and run the tiered compaction check.
func (c *Channel) HandleInbound(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer cancel()

	seq, err := c.store.NextSequence(ctx, c.id)
	if err != nil {
		return fmt.Errorf("allocating turn sequence: %w", err)
	}
	turn := &model.ConversationTurn{ChannelID: c.id, Sequence: seq, Inbound: text}
	if err := c.store.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("persisting inbound turn: %w", err)
	}

	c.mu.Lock()
	history := append([]providers.Message(nil), c.history...)
	summary := c.summary
	c.mu.Unlock()

	messages := c.ctxBuilder.BuildMessages(ctx, history, summary, text, c.id)

	entry := c.router.Resolve("channel", text)

	result, err := RunIteration(ctx, messages, IterationConfig{
		Provider: c.router,
		Model:    entry.Model,
		Tools:    c.registry,
		MaxTurns: c.defaults.MaxToolIterations,
		Process:  model.ProcessID{ID: c.id, Kind: model.KindChannel, AgentName: c.agentName, ConversationID: c.id},
		Channel:  c.id,
		Hook:     c.hook,
	})
	if err != nil && ctx.Err() == nil {
		logger.ErrorCF("channel", "turn failed", map[string]interface{}{"channel": c.id, "error": err.Error()})
	}
	if result.Model != "" {
		c.tracker.Record(metrics.TokenEvent{
			SessionKey:   c.id,
			Model:        result.Model,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			CacheRead:    result.CacheReadTokens,
			CacheCreate:  result.CacheCreateTokens,
			Iteration:    result.Turns,
		})
	}

	outbound := result.Content
	if err := c.store.SetOutbound(ctx, c.id, seq, outbound); err != nil {
		logger.WarnCF("channel", "persisting outbound failed", map[string]interface{}{"channel": c.id, "error": err.Error()})
	}

	c.mu.Lock()
	c.history = append(c.history, providers.Message{Role: "user", Content: text}, providers.Message{Role: "assistant", Content: outbound})
	c.mu.Unlock()

	if c.extractor != nil {
		go c.extractor.ExtractAndConsolidate(context.Background(), text, outbound, c.id, "")
	}

	c.maybeCompact(ctx)

	return nil
}

// maybeCompact applies the tiered ratio policy from spec §4.3: background
// and urgent tiers summarize via the Compactor while the Channel keeps
// serving requests; emergency truncates directly without an LLM call.
func (c *Channel) maybeCompact(ctx context.Context) {
	all, err := c.store.AllTurns(ctx, c.id)
	if err != nil || len(all) == 0 {
		return
	}

	used := 0
	for _, t := range all {
		used += estimateTokens(t.Inbound) + estimateTokens(t.Outbound)
	}
	window := c.defaults.MaxTokens
	if window <= 0 {
		window = 180000
	}

	tier := ClassifyCompactionTier(used, window, c.compaction.BackgroundRatio, c.compaction.UrgentRatio, c.compaction.EmergencyRatio)
	if tier == TierNone {
		return
	}

	splitIdx, ok := c.compactor.PlanSplit(all, int(float64(window)*0.6))
	if !ok {
		return
	}

	c.eventBus.Publish(bus.ProcessEvent{Kind: bus.EventCompactionRun, Channel: c.id, Detail: string(tier)})

	if tier == TierEmergency {
		if _, err := c.compactor.EmergencyTruncate(ctx, c.id, all, splitIdx); err != nil {
			logger.WarnCF("channel", "emergency truncation failed", map[string]interface{}{"channel": c.id, "error": err.Error()})
			return
		}
		c.reloadHistoryLocked(ctx)
		return
	}

	// Background/urgent: summarize in the background so the current turn's
	// reply was already sent before this runs.
	go func() {
		summary, err := c.compactor.Compact(context.Background(), c.id, all[:splitIdx])
		if err != nil {
			logger.WarnCF("channel", "compaction failed", map[string]interface{}{"channel": c.id, "error": err.Error()})
			return
		}
		c.mu.Lock()
		c.summary = summary.SummaryText
		c.mu.Unlock()
		c.reloadHistoryLocked(context.Background())
	}()
}

// reloadHistoryLocked rebuilds the in-memory rolling history mirror from
// the store after an out-of-band archive-and-replace swap.
func (c *Channel) reloadHistoryLocked(ctx context.Context) {
	all, err := c.store.AllTurns(ctx, c.id)
	if err != nil {
		return
	}
	msgs := make([]providers.Message, 0, len(all)*2)
	for _, t := range all {
		msgs = append(msgs, providers.Message{Role: "user", Content: t.Inbound})
		if t.Outbound != "" {
			msgs = append(msgs, providers.Message{Role: "assistant", Content: t.Outbound})
		}
	}
	c.mu.Lock()
	c.history = msgs
	c.mu.Unlock()
}

// spawnBranch registers and starts a Branch in the background, returning
// its id immediately. This is the BranchFunc closure wired into BranchTool.
func (c *Channel) spawnBranch(ctx context.Context, task string) (string, error) {
	if c.supervisor.BranchCount() >= c.defaults.MaxConcurrentBranch {
		return "", fmt.Errorf("at max concurrent branches (%d)", c.defaults.MaxConcurrentBranch)
	}

	c.mu.Lock()
	forked := append([]providers.Message(nil), c.history...)
	c.mu.Unlock()

	entry := c.router.Resolve("branch", task)
	branchTools := tools.NewToolRegistry()
	if c.store != nil && c.vector != nil {
		branchTools.Register(tools.NewMemorySaveTool(c.store, c.vector))
	}
	if c.searcher != nil {
		branchTools.Register(tools.NewMemoryRecallTool(c.searcher))
	}

	b := NewBranch(BranchOptions{
		Channel:  c.id,
		Task:     task,
		History:  forked,
		Provider: c.router,
		Model:    entry.Model,
		Tools:    branchTools,
		MaxTurns: c.defaults.BranchMaxIterations,
		Hook:     c.hook,
		Bus:      c.eventBus,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	if err := c.supervisor.RegisterBranch(&process.Handle{ID: model.ProcessID{ID: b.ID(), Kind: model.KindBranch}, Cancel: cancel}); err != nil {
		cancel()
		return "", err
	}

	go b.Run(runCtx)
	return b.ID(), nil
}

// spawnWorker registers and starts a Worker in the background, returning
// its id immediately. This is the WorkerSpawnFunc closure wired into
// SpawnWorkerTool.
func (c *Channel) spawnWorker(ctx context.Context, taskType, prompt string) (string, error) {
	if c.supervisor.WorkerCount() >= c.defaults.MaxConcurrentWorkers {
		return "", fmt.Errorf("at max concurrent workers (%d)", c.defaults.MaxConcurrentWorkers)
	}

	entry := c.router.Resolve(taskType, prompt)
	workerTools := c.buildWorkerToolRegistry(taskType)

	w := NewWorker(WorkerOptions{
		Channel:       c.id,
		TaskType:      taskType,
		Prompt:        prompt,
		Provider:      c.router,
		Model:         entry.Model,
		Tools:         workerTools,
		MaxTurns:      c.defaults.WorkerMaxIterations,
		Hook:          c.hook,
		Bus:           c.eventBus,
		InboundBuffer: c.defaults.InboundQueueSize,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	if err := c.supervisor.RegisterWorker(&process.Handle{
		ID:        model.ProcessID{ID: w.ID(), Kind: model.KindWorker, TaskType: taskType},
		Cancel:    cancel,
		InboundTx: w.InboundTx(),
	}); err != nil {
		cancel()
		return "", err
	}

	go w.Run(runCtx)
	return w.ID(), nil
}

// buildWorkerToolRegistry assembles the task-type-specific tool set a
// Worker runs with. A "specialist" task gets a read-only subset; any other
// task type gets the full general-purpose toolbox.
func (c *Channel) buildWorkerToolRegistry(taskType string) *tools.ToolRegistry {
	reg := tools.NewToolRegistry()

	if c.store != nil && c.vector != nil {
		reg.Register(tools.NewMemorySaveTool(c.store, c.vector))
	}
	if c.searcher != nil {
		reg.Register(tools.NewMemoryRecallTool(c.searcher))
	}

	if taskType == "specialist" {
		// Specialists answer from scoped memory; they don't get shell/file/
		// browser access.
		return reg
	}

	reg.Register(tools.NewShellTool(c.workspace, 60))
	reg.Register(tools.NewFileReadTool(c.workspace))
	reg.Register(tools.NewFileWriteTool(c.workspace))
	reg.Register(tools.NewWebSearchTool())
	reg.Register(tools.NewBrowserTool())
	if c.store != nil {
		reg.Register(tools.NewCronTool(c.store, c.agentName))
	}
	reg.Register(tools.NewSetStatusTool(func(kind, detail string) { c.statusBlk.Append(kind, detail) }))
	return reg
}

// watchEvents folds Branch/Worker lifecycle events back into the Channel:
// completions become a system note injected into the next turn, status-
// block-worthy events get appended, and terminal events get reaped from
// the supervisor.
func (c *Channel) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.sub.Ch:
			if !ok {
				return
			}
			if ev.Channel != c.id {
				continue
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Channel) handleEvent(ev bus.ProcessEvent) {
	switch ev.Kind {
	case bus.EventBranchCompleted:
		note := fmt.Sprintf("[branch %s concluded: %s]", ev.Process.ID, ev.Detail)
		c.injectSystemNote(note)
		c.statusBlk.Append("branch_completed", ev.Detail)
	case bus.EventWorkerCompleted:
		note := fmt.Sprintf("[worker %s (%s) finished: %s]", ev.Process.ID, ev.Task, ev.Detail)
		c.injectSystemNote(note)
		c.statusBlk.Append("worker_completed", ev.Detail)
	case bus.EventProcessTerminated:
		c.supervisor.Reap(ev.Process.ID)
	case bus.EventToolFailed, bus.EventCronFailed:
		c.statusBlk.Append(string(ev.Kind), ev.Detail)
	}
}

// injectSystemNote appends a system-authored turn to the rolling history so
// it surfaces in the model's next turn, without going through the normal
// user/assistant persisted-turn path.
func (c *Channel) injectSystemNote(note string) {
	c.mu.Lock()
	c.history = append(c.history, providers.Message{Role: "system", Content: note})
	c.mu.Unlock()
}

// Cancel aborts the in-flight turn, if any, and every Branch/Worker this
// Channel owns.
func (c *Channel) Cancel() {
	c.cancelMu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancelMu.Unlock()
	c.supervisor.CancelAll()
}
