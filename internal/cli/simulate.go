package cli

import (
	"github.com/spf13/cobra"

	"pool-risk-alerts/internal/simulate"
)

var (
	simulatePool       string
	simulateTVLPct     float64
	simulateVolumePct  float64
	simulateVolatility float64
	simulateImbalance  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a what-if scenario against a pool's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var overrides simulate.Overrides
		if cmd.Flags().Changed("tvl-change-pct") {
			overrides.TVLChangePct = &simulateTVLPct
		}
		if cmd.Flags().Changed("volume-change-pct") {
			overrides.VolumeChangePct = &simulateVolumePct
		}
		if cmd.Flags().Changed("volatility") {
			overrides.VolatilityOverride = &simulateVolatility
		}
		if cmd.Flags().Changed("reserve-imbalance") {
			overrides.ReserveImbalanceOverride = &simulateImbalance
		}

		return getApp().Simulate(cmd.Context(), simulatePool, overrides)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePool, "pool", "", "Pool identifier to simulate")
	simulateCmd.Flags().Float64Var(&simulateTVLPct, "tvl-change-pct", 0, "Hypothetical TVL change in percent, -80 to 80")
	simulateCmd.Flags().Float64Var(&simulateVolumePct, "volume-change-pct", 0, "Hypothetical volume change in percent, -100 to 200")
	simulateCmd.Flags().Float64Var(&simulateVolatility, "volatility", 0, "Override 6h volatility, 0.01 to 0.5")
	simulateCmd.Flags().Float64Var(&simulateImbalance, "reserve-imbalance", 0, "Override reserve imbalance, 0 to 1")
}
