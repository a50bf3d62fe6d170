package cli

import (
	"github.com/spf13/cobra"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CollectOnce(cmd.Context())
	},
}
