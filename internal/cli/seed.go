package cli

import (
	"github.com/spf13/cobra"

	"pool-risk-alerts/internal/app"
)

var (
	seedHours     int
	seedSeed      int64
	seedForceRisk bool
	seedReset     bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Backfill synthetic hourly history for the configured pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Seed(cmd.Context(), app.SeedOptions{
			Hours:     seedHours,
			Seed:      seedSeed,
			ForceRisk: seedForceRisk,
			Reset:     seedReset,
		})
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedHours, "hours", 168, "Hours of history to generate per pool")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "Random seed (0 picks one from the clock)")
	seedCmd.Flags().BoolVar(&seedForceRisk, "force-risk", false, "Steer each series into a stressed regime near its end")
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "Delete existing records for each pool before seeding")
}
