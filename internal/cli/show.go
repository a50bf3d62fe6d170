package cli

import (
	"github.com/spf13/cobra"

	"pool-risk-alerts/internal/app"
)

var showAlertLimit int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest risk assessments and recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{AlertLimit: showAlertLimit})
	},
}

func init() {
	showCmd.Flags().IntVar(&showAlertLimit, "alerts", 20, "Number of recent alerts to display")
}
