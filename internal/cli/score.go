package cli

import (
	"github.com/spf13/cobra"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Run one scoring and alerting cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ScoreOnce(cmd.Context())
	},
}
