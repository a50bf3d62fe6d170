package cli

import (
	"github.com/spf13/cobra"

	"pool-risk-alerts/internal/app"
)

var trainingOutPath string

var exportTrainingCmd = &cobra.Command{
	Use:   "export-training",
	Short: "Export the labelled feature table for model training",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ExportTraining(cmd.Context(), app.TrainingExportOptions{
			OutPath: trainingOutPath,
		})
	},
}

func init() {
	exportTrainingCmd.Flags().StringVar(&trainingOutPath, "out", "", "Path to write the training CSV")
}
