package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/monitoring"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker pools",
	Long:  "Starts one worker pool per job family plus the queue-health checker, and drains in-flight jobs on SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mgr, err := buildManager(env)
		if err != nil {
			return err
		}
		mgr.Start(ctx)

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		zap.L().Info("workers started")
		<-ctx.Done()

		grace := time.Duration(cfg.Queue.ShutdownGraceSecs) * time.Second
		zap.L().Info("shutting down workers", zap.Duration("grace", grace))
		mgr.Shutdown(grace)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
