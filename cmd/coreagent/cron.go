package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled prompts",
}

var (
	cronPrompt          string
	cronIntervalSecs    int64
	cronDeliveryTarget  string
	cronActiveStartHour int
	cronActiveEndHour   int
)

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled prompt",
	RunE:  runCronAdd,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled prompts",
	RunE:  runCronList,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

func init() {
	cronAddCmd.Flags().StringVar(&cronPrompt, "prompt", "", "prompt text to deliver (required)")
	cronAddCmd.Flags().Int64Var(&cronIntervalSecs, "interval-secs", 0, "delivery interval in seconds (required)")
	cronAddCmd.Flags().StringVar(&cronDeliveryTarget, "target", "", "conversation id to deliver into (required)")
	cronAddCmd.Flags().IntVar(&cronActiveStartHour, "active-start-hour", -1, "local hour active window starts (-1 for always active)")
	cronAddCmd.Flags().IntVar(&cronActiveEndHour, "active-end-hour", -1, "local hour active window ends (-1 for always active)")
	cronAddCmd.MarkFlagRequired("prompt")
	cronAddCmd.MarkFlagRequired("interval-secs")
	cronAddCmd.MarkFlagRequired("target")

	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronRemoveCmd)
}

func runCronAdd(cmd *cobra.Command, args []string) error {
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

	job := &model.CronJob{
		AgentName:       agentCfg.Name,
		Prompt:          cronPrompt,
		IntervalSecs:    cronIntervalSecs,
		DeliveryTarget:  cronDeliveryTarget,
		ActiveStartHour: cronActiveStartHour,
		ActiveEndHour:   cronActiveEndHour,
		Enabled:         true,
	}
	if err := s.SaveCronJob(ctx, job); err != nil {
		return fmt.Errorf("saving cron job: %w", err)
	}
	fmt.Printf("created cron job %s\n", job.ID)
	return nil
}

func runCronList(cmd *cobra.Command, args []string) error {
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

	jobs, err := s.ListCronJobs(ctx, agentCfg.Name)
	if err != nil {
		return fmt.Errorf("listing cron jobs: %w", err)
	}
	for _, j := range jobs {
		status := "enabled"
		if !j.Enabled {
			status = "disabled"
		}
		fmt.Printf("%s\t%s\tevery %ds\t-> %s\t%s\n", j.ID, status, j.IntervalSecs, j.DeliveryTarget, j.Prompt)
	}
	return nil
}

func runCronRemove(cmd *cobra.Command, args []string) error {
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

	if err := s.DeleteCronJob(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting cron job: %w", err)
	}
	fmt.Printf("deleted cron job %s\n", args[0])
	return nil
}
