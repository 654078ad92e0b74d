package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/enrich"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
)

var (
	batchStatus      string
	batchLimit       int
	batchConcurrency int
	batchProvider    string
	batchModel       string
	batchAsync       bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [prospect-id...]",
	Short: "Enrich many prospects in concurrent chunks",
	Long:  "Enriches the given prospect IDs, or every prospect matching --status when no IDs are given. Individual failures are counted and never abort the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ids := args
		if len(ids) == 0 {
			prospects, err := env.Store.ListProspects(ctx, store.ProspectFilter{
				Status: model.ProspectStatus(batchStatus),
				Limit:  batchLimit,
			})
			if err != nil {
				return eris.Wrap(err, "list prospects")
			}
			for _, p := range prospects {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			zap.L().Info("no prospects to enrich")
			return nil
		}

		opts := model.EnrichOptions{Provider: batchProvider, Model: batchModel}

		if batchAsync {
			job, err := env.Queue.Enqueue(ctx, &model.EnrichBatchPayload{
				ProspectIDs: ids,
				Options:     opts,
				Concurrency: batchConcurrency,
			}, "")
			if err != nil {
				return eris.Wrap(err, "enqueue batch")
			}
			zap.L().Info("batch enqueued",
				zap.String("job_id", job.ID),
				zap.Int("prospects", len(ids)),
			)
			return nil
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Enrich.Concurrency
		}
		result, err := env.Orchestrator.EnrichMany(ctx, ids, opts, enrich.BatchOptions{
			Concurrency: concurrency,
			ItemDelay:   cfg.Enrich.ItemDelay(),
			ChunkDelay:  cfg.Enrich.ChunkDelay(),
			OnProgress: func(processed, failed, total int) {
				zap.L().Info("batch progress",
					zap.Int("processed", processed),
					zap.Int("failed", failed),
					zap.Int("total", total),
				)
			},
		})
		if err != nil {
			return eris.Wrap(err, "batch enrich")
		}

		zap.L().Info("batch complete",
			zap.Int("total", result.Total),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchStatus, "status", "", "enrich prospects with this status when no IDs are given")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "cap the number of prospects selected by --status (0 = no cap)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "chunk size (default from config)")
	batchCmd.Flags().StringVar(&batchProvider, "provider", "", "completion provider (anthropic|openai, default from config)")
	batchCmd.Flags().StringVar(&batchModel, "model", "", "completion model id (default from provider)")
	batchCmd.Flags().BoolVar(&batchAsync, "async", false, "enqueue as a background job instead of running inline")
	rootCmd.AddCommand(batchCmd)
}
