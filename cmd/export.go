package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
)

var (
	exportFormat string
	exportStatus string
)

var exportCmd = &cobra.Command{
	Use:   "export <destination>",
	Short: "Export prospects with their enrichment data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dest := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Exporter.Export(ctx, dest, exportFormat, model.ProspectStatus(exportStatus), func(rows int) {
			zap.L().Info("export progress", zap.Int("rows", rows))
		})
		if err != nil {
			return eris.Wrapf(err, "export to %s", dest)
		}

		zap.L().Info("export complete",
			zap.String("destination", dest),
			zap.Int("rows", rows),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "output format (csv|xlsx, inferred from extension when empty)")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only export prospects with this status")
	rootCmd.AddCommand(exportCmd)
}
