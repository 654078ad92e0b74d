package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importFormat string

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import prospect records from CSV or XLSX",
	Long:  "Reads prospect records from a local file or ftp:// URL. Rows without a valid email and duplicate emails are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Importer.Import(ctx, source, importFormat, func(rows int) {
			zap.L().Info("import progress", zap.Int("rows", rows))
		})
		if err != nil {
			return eris.Wrapf(err, "import %s", source)
		}

		zap.L().Info("import complete",
			zap.String("source", source),
			zap.Int("rows", result.Rows),
			zap.Int("imported", result.Imported),
			zap.Int("skipped", result.Skipped),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFormat, "format", "", "source format (csv|xlsx, inferred from extension when empty)")
	rootCmd.AddCommand(importCmd)
}
