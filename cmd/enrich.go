package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
)

var (
	enrichProvider string
	enrichModel    string
	enrichAsync    bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <prospect-id>",
	Short: "Enrich a single prospect through all stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		prospectID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := model.EnrichOptions{Provider: enrichProvider, Model: enrichModel}

		if enrichAsync {
			job, err := env.Queue.Enqueue(ctx, &model.EnrichProspectPayload{
				ProspectID: prospectID,
				Options:    opts,
			}, "")
			if err != nil {
				return eris.Wrap(err, "enqueue enrichment")
			}
			zap.L().Info("enrichment enqueued",
				zap.String("job_id", job.ID),
				zap.String("prospect_id", prospectID),
			)
			return nil
		}

		outcome, err := env.Orchestrator.EnrichOne(ctx, prospectID, opts)
		if err != nil {
			return eris.Wrapf(err, "enrich prospect %s", prospectID)
		}

		for stage, status := range outcome.Stages {
			zap.L().Info("stage finished",
				zap.String("stage", string(stage)),
				zap.String("status", string(status)),
			)
		}
		if !outcome.Success {
			return eris.Errorf("enrichment failed: %v", outcome.Errors)
		}
		zap.L().Info("enrichment complete", zap.String("prospect_id", prospectID))
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichProvider, "provider", "", "completion provider (anthropic|openai, default from config)")
	enrichCmd.Flags().StringVar(&enrichModel, "model", "", "completion model id (default from provider)")
	enrichCmd.Flags().BoolVar(&enrichAsync, "async", false, "enqueue as a background job instead of running inline")
	rootCmd.AddCommand(enrichCmd)
}
