package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/config"
)

var (
	cfg       *config.Config
	cfgLoader = config.NewLoader(config.Load, config.DefaultConfigTTL)
)

var rootCmd = &cobra.Command{
	Use:   "prospector",
	Short: "Asynchronous prospect-enrichment pipeline",
	Long:  "Imports prospects, enriches them through profile, website and tech-stack sources plus LLM summarization, and generates outreach messages over a durable job queue.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := cfgLoader.Get()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
