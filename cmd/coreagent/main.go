// Package main is the coreagent CLI entry point: run the agent process,
// backfill memory from legacy session logs, manage cron jobs, and log in to
// subscription-based LLM providers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "coreagent",
	Short: "Run and administer a coreagent multi-agent runtime",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	viper.SetDefault("log_level", "info")
	viper.SetEnvPrefix("COREAGENT")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
