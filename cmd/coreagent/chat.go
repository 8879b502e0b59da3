package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/pico-agents/coreagent/pkg/agent"
	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/specialists"
	"github.com/pico-agents/coreagent/pkg/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive terminal session against one local channel, bypassing any messaging adapter",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
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

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", agentCfg.Name),
		HistoryFile:     fmt.Sprintf("%s/.chat_history", workspace),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	ch := agent.NewChannel(agent.ChannelOptions{
		ID:        "local:repl",
		ChatID:    "local:repl",
		AgentName: agentCfg.Name,
		Workspace: workspace,
		Store:     s,
		Searcher:  searcher,
		Vector:    vs,
		Extractor: extractor,
		Loader:    loader,
		Router:    router,
		Bus:       eventBus,
		Defaults:  agentCfg.Defaults,
		Send: func(chatID, content string, metadata map[string]string) error {
			fmt.Fprintf(rl.Stdout(), "%s: %s\n", agentCfg.Name, content)
			return nil
		},
	})
	ch.Start(ctx)
	defer ch.Stop()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}
		if line == "" {
			continue
		}
		if err := ch.HandleInbound(ctx, line); err != nil {
			logger.ErrorCF("chat", "handling message failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}
