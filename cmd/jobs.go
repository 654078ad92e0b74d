package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and maintain the job queue",
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by family and state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, family := range model.JobFamilies {
			counts, err := env.Queue.Stats(ctx, family)
			if err != nil {
				return eris.Wrapf(err, "stats for %s", family)
			}
			zap.L().Info("queue stats",
				zap.String("family", string(family)),
				zap.Int("waiting", counts[model.JobStateWaiting]),
				zap.Int("active", counts[model.JobStateActive]),
				zap.Int("delayed", counts[model.JobStateDelayed]),
				zap.Int("completed", counts[model.JobStateCompleted]),
				zap.Int("failed", counts[model.JobStateFailed]),
			)
		}
		return nil
	},
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs past the retention windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		purged, err := env.Queue.PurgeExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "purge jobs")
		}

		zap.L().Info("purge complete", zap.Int64("deleted", purged))
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsPurgeCmd)
	rootCmd.AddCommand(jobsCmd)
}
