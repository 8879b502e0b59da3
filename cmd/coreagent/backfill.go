package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/memory"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/store"
)

var (
	backfillSessionsDir string
	backfillExtract     bool
	backfillDryRun      bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Migrate legacy session log files into the structured memory store",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSessionsDir, "sessions-dir", "", "directory of legacy session JSON files (required)")
	backfillCmd.Flags().BoolVar(&backfillExtract, "extract-knowledge", true, "run knowledge extraction over recovered turns")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "report what would be migrated without writing")
	backfillCmd.MarkFlagRequired("sessions-dir")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	agentCfg := cfg.Agents[0]

	db, err := store.Open(ctx, fmt.Sprintf("%s/agent.db", agentCfg.Workspace))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	s := store.New(db)

	embedFn := memory.ResolveEmbeddingFunc(cfg.Providers["openai"].APIKey, cfg.Providers["openai"].APIBase, cfg.Memory.EmbeddingModel)
	vs, err := memory.NewVectorStore(agentCfg.Workspace, embedFn)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	var provider providers.LLMProvider
	if cfg.Providers["anthropic"].APIKey != "" {
		provider = providers.NewClaudeProvider(cfg.Providers["anthropic"].APIKey)
	} else if cfg.Providers["openai"].APIKey != "" {
		provider = providers.NewOpenAIProvider(cfg.Providers["openai"].APIKey, cfg.Router.StandardModel)
	}
	extractor := memory.NewExtractor(provider, cfg.Router.StandardModel, s, vs)

	stats, err := memory.Backfill(ctx, backfillSessionsDir, s, vs, extractor, memory.BackfillOptions{
		ExtractKnowledge: backfillExtract,
		DryRun:           backfillDryRun,
	})
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	fmt.Printf("backfill complete: %+v\n", stats)
	return nil
}
