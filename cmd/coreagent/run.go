package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pico-agents/coreagent/pkg/agent"
	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/cron"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/messaging"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/specialists"
	"github.com/pico-agents/coreagent/pkg/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent process: messaging adapters, channels, cortex, and cron",
	RunE:  runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	agentCfg := cfg.Agents[0]
	workspace := agentCfg.Workspace
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	db, err := store.Open(ctx, fmt.Sprintf("%s/agent.db", workspace))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	s := store.New(db)

	embedFn := memory.ResolveEmbeddingFunc(cfg.Providers["openai"].APIKey, cfg.Providers["openai"].APIBase, cfg.Memory.EmbeddingModel)
	vs, err := memory.NewVectorStore(workspace, embedFn)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	searcher := memory.NewSearcher(s, vs)

	llmProviders := map[string]providers.LLMProvider{}
	if cfg.Providers["anthropic"].APIKey != "" {
		llmProviders["anthropic"] = providers.NewClaudeProvider(cfg.Providers["anthropic"].APIKey)
	}
	if cfg.Providers["openai"].APIKey != "" {
		if base := cfg.Providers["openai"].APIBase; base != "" {
			llmProviders["openai"] = providers.NewOpenAICompatProvider(cfg.Providers["openai"].APIKey, base, cfg.Router.StandardModel)
		} else {
			llmProviders["openai"] = providers.NewOpenAIProvider(cfg.Providers["openai"].APIKey, cfg.Router.StandardModel)
		}
	}
	router, err := providers.NewRouterProviderFromConfig(cfg.Router, llmProviders)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	extractor := memory.NewExtractor(router, cfg.Router.StandardModel, s, vs)
	eventBus := bus.NewEventBus()
	loader := specialists.NewSpecialistLoader(workspace)

	cortex := agent.NewCortex(agent.CortexOptions{
		AgentName: agentCfg.Name,
		Workspace: workspace,
		Store:     s,
		Vector:    vs,
		Searcher:  searcher,
		Provider:  router,
		Model:     cfg.Router.LightModel,
		Loader:    loader,
		Bus:       eventBus,
		Cortex:    cfg.Cortex,
		Memory:    cfg.Memory,
	})
	go cortex.Run(ctx)

	channels := &channelRegistry{byConversation: make(map[string]*agent.Channel)}

	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		logger.WarnCF("run", "no messaging adapters configured; agent will idle", nil)
	}

	for _, a := range adapters {
		inbound, err := a.Start(ctx)
		if err != nil {
			logger.ErrorCF("run", "starting adapter failed", map[string]interface{}{"adapter": a.Name(), "error": err.Error()})
			continue
		}
		go consumeAdapter(ctx, a, inbound, channels, s, searcher, vs, extractor, router, eventBus, loader, agentCfg)
	}

	scheduler := cron.NewScheduler(s, eventBus, agentCfg.Name, func(ctx context.Context, job model.CronJob) (string, error) {
		ch, ok := channels.get(job.DeliveryTarget)
		if !ok {
			return "", fmt.Errorf("no active channel bound to delivery target %q", job.DeliveryTarget)
		}
		if err := ch.HandleInbound(ctx, job.Prompt); err != nil {
			return "", err
		}
		return "delivered", nil
	})
	go scheduler.Run(ctx)

	logger.InfoCF("run", "agent started", map[string]interface{}{"agent": agentCfg.Name})
	<-ctx.Done()
	logger.InfoCF("run", "shutting down", nil)
	for _, a := range adapters {
		shutdownCtx := context.Background()
		a.Shutdown(shutdownCtx)
	}
	return nil
}

func buildAdapters(cfg *config.Config) []messaging.Adapter {
	var out []messaging.Adapter
	if tok := os.Getenv("COREAGENT_TELEGRAM_TOKEN"); tok != "" {
		if a, err := messaging.NewTelegramAdapter(tok, nil); err == nil {
			out = append(out, a)
		} else {
			logger.ErrorCF("run", "telegram adapter init failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if tok := os.Getenv("COREAGENT_DISCORD_TOKEN"); tok != "" {
		if a, err := messaging.NewDiscordAdapter(tok, nil); err == nil {
			out = append(out, a)
		} else {
			logger.ErrorCF("run", "discord adapter init failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if addr := os.Getenv("COREAGENT_WEBHOOK_ADDR"); addr != "" {
		out = append(out, messaging.NewWebhookAdapter(addr))
	}
	if botTok, appTok := os.Getenv("COREAGENT_SLACK_BOT_TOKEN"), os.Getenv("COREAGENT_SLACK_APP_TOKEN"); botTok != "" && appTok != "" {
		if a, err := messaging.NewSlackAdapter(botTok, appTok, nil); err == nil {
			out = append(out, a)
		} else {
			logger.ErrorCF("run", "slack adapter init failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return out
}

// channelRegistry guards the conversation-id -> Channel map shared across
// every messaging adapter's own goroutine.
type channelRegistry struct {
	mu             sync.Mutex
	byConversation map[string]*agent.Channel
}

func (r *channelRegistry) get(conversationID string) (*agent.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.byConversation[conversationID]
	return ch, ok
}

func (r *channelRegistry) getOrCreate(conversationID string, create func() *agent.Channel) *agent.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.byConversation[conversationID]; ok {
		return ch
	}
	ch := create()
	r.byConversation[conversationID] = ch
	return ch
}

func consumeAdapter(
	ctx context.Context,
	a messaging.Adapter,
	inbound <-chan messaging.InboundMessage,
	channels *channelRegistry,
	s *store.Store,
	searcher *memory.Searcher,
	vs *memory.VectorStore,
	extractor *memory.Extractor,
	router *providers.RouterProvider,
	eventBus *bus.EventBus,
	loader *specialists.SpecialistLoader,
	agentCfg config.AgentConfig,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			ch := channels.getOrCreate(msg.ConversationID, func() *agent.Channel {
				opts := agent.ChannelOptions{
					ID:        msg.ConversationID,
					ChatID:    msg.ConversationID,
					AgentName: agentCfg.Name,
					Workspace: agentCfg.Workspace,
					Store:     s,
					Searcher:  searcher,
					Vector:    vs,
					Extractor: extractor,
					Loader:    loader,
					Router:    router,
					Bus:       eventBus,
					Defaults:  agentCfg.Defaults,
					Send: func(chatID, content string, metadata map[string]string) error {
						return a.Respond(ctx, msg, messaging.OutboundResponse{Kind: messaging.OutboundText, Text: content})
					},
				}
				if tg, ok := a.(*messaging.TelegramAdapter); ok {
					opts.TelegramBot = tg.Bot()
				}
				ch := agent.NewChannel(opts)
				ch.Start(ctx)
				return ch
			})
			if err := ch.HandleInbound(ctx, msg.Content.Text); err != nil {
				logger.ErrorCF("run", "handling inbound failed", map[string]interface{}{"channel": msg.ConversationID, "error": err.Error()})
			}
		}
	}
}
