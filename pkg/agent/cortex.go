package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/specialists"
	"github.com/pico-agents/coreagent/pkg/store"
)

// CortexOptions configures one Cortex.
type CortexOptions struct {
	AgentName string
	Workspace string

	Store     *store.Store
	Vector    *memory.VectorStore
	Searcher  *memory.Searcher
	Provider  providers.LLMProvider
	Model     string
	Loader    *specialists.SpecialistLoader

	Bus    *bus.EventBus
	Cortex config.CortexConfig
	Memory config.MemoryConfig
}

// Cortex watches the whole process tree across every Channel this agent
// runs: it buffers events off the bus, writes a periodic bulletin memory
// summarizing what happened, and on a slower cadence runs memory
// maintenance (decay/prune/merge) and specialist self-review. It never
// participates in a Channel's own turn; its output surfaces only as a
// memory the next turn's context build can recall.
type Cortex struct {
	agentName string
	workspace string

	store    *store.Store
	vector   *memory.VectorStore
	searcher *memory.Searcher
	provider providers.LLMProvider
	model    string
	loader   *specialists.SpecialistLoader

	eventBus *bus.EventBus
	cfg      config.CortexConfig
	memCfg   config.MemoryConfig

	mu      sync.Mutex
	buffer  []bus.ProcessEvent

	sub *bus.Subscription
}

func NewCortex(opts CortexOptions) *Cortex {
	return &Cortex{
		agentName: opts.AgentName,
		workspace: opts.Workspace,
		store:     opts.Store,
		vector:    opts.Vector,
		searcher:  opts.Searcher,
		provider:  opts.Provider,
		model:     opts.Model,
		loader:    opts.Loader,
		eventBus:  opts.Bus,
		cfg:       opts.Cortex,
		memCfg:    opts.Memory,
	}
}

// Run subscribes to the event bus and drives both cadences until ctx is
// cancelled. Intended to run for the lifetime of the agent process, in its
// own goroutine — one Cortex per agent, shared across all of its Channels.
func (cx *Cortex) Run(ctx context.Context) {
	cx.sub = cx.eventBus.Subscribe()
	defer cx.sub.Unsubscribe()

	bulletinEvery := time.Duration(cx.cfg.BulletinIntervalMins) * time.Minute
	if bulletinEvery <= 0 {
		bulletinEvery = time.Hour
	}
	maintenanceEvery := time.Duration(cx.cfg.MaintenanceIntervalMins) * time.Minute
	if maintenanceEvery <= 0 {
		maintenanceEvery = 3 * time.Hour
	}

	bulletinTicker := time.NewTicker(bulletinEvery)
	maintenanceTicker := time.NewTicker(maintenanceEvery)
	defer bulletinTicker.Stop()
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-cx.sub.Ch:
			if !ok {
				return
			}
			cx.mu.Lock()
			cx.buffer = append(cx.buffer, ev)
			cx.mu.Unlock()
		case <-bulletinTicker.C:
			cx.emitBulletin(ctx)
		case <-maintenanceTicker.C:
			cx.runMaintenance(ctx)
		}
	}
}

// emitBulletin drains the buffered events since the last bulletin and, if
// anything notable happened, writes a short summary memory an agent's
// Channels can recall as identity/observation context in future turns.
func (cx *Cortex) emitBulletin(ctx context.Context) {
	cx.mu.Lock()
	events := cx.buffer
	cx.buffer = nil
	cx.mu.Unlock()

	if len(events) == 0 {
		return
	}

	var failures, completions int
	var lines []string
	for _, ev := range events {
		switch ev.Kind {
		case bus.EventBranchCompleted, bus.EventWorkerCompleted:
			completions++
			lines = append(lines, fmt.Sprintf("- %s completed: %s", ev.Process.Kind, truncateLine(ev.Detail, 160)))
		case bus.EventToolFailed, bus.EventCronFailed:
			failures++
			lines = append(lines, fmt.Sprintf("- %s failed: %s", ev.Kind, truncateLine(ev.Detail, 160)))
		case bus.EventMemoryContradict:
			lines = append(lines, fmt.Sprintf("- memory contradiction flagged: %s", truncateLine(ev.Detail, 160)))
		}
	}
	if len(lines) == 0 {
		return
	}

	content := fmt.Sprintf("Bulletin (%d events, %d completions, %d failures):\n%s",
		len(events), completions, failures, strings.Join(lines, "\n"))

	m := &model.Memory{
		Content:    content,
		MemoryType: model.MemoryObservation,
		Importance: 0.4,
		Source:     "cortex",
	}
	m.ClampImportance()
	if err := cx.store.SaveMemory(ctx, m); err != nil {
		logger.WarnCF("cortex", "saving bulletin failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if cx.vector != nil {
		if err := cx.vector.Index(ctx, m.ID, m.Content); err != nil {
			cx.store.SetIndexed(ctx, m.ID, false)
		}
	}
	logger.InfoCF("cortex", "bulletin emitted", map[string]interface{}{"events": len(events)})
}

// runMaintenance executes the slower-cadence sweep: memory decay/prune/
// merge, then a self-review pass for every specialist.
func (cx *Cortex) runMaintenance(ctx context.Context) {
	logger.InfoCF("cortex", "maintenance cycle starting", nil)

	maintainer := memory.NewMaintainer(cx.store, cx.vector, memory.MaintenanceConfig{
		DecayLambda:    cx.memCfg.DecayLambda,
		DecayFloor:     cx.memCfg.DecayFloor,
		PruneThreshold: cx.memCfg.PruneThreshold,
		MergeThreshold: cx.memCfg.MergeThreshold,
	})
	if err := maintainer.Run(ctx); err != nil {
		logger.WarnCF("cortex", "memory maintenance failed", map[string]interface{}{"error": err.Error()})
	}

	if cx.loader != nil && cx.searcher != nil {
		specialists.ReviewAllSpecialists(ctx, cx.loader, cx.provider, cx.model, cx.searcher, cx.workspace)
	}

	logger.InfoCF("cortex", "maintenance cycle finished", nil)
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
