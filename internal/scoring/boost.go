package scoring

import (
	"math"

	"pool-risk-alerts/internal/features"
)

// BoostPolicy layers heuristic floors and boosts over the raw classifier
// probability so obviously catastrophic inputs never score low. The constants
// are empirically chosen operational policy, not model output, and apply
// identically at serving and simulation time.
type BoostPolicy struct {
	DeclineFloor6h    float64 `mapstructure:"decline_floor_6h"`
	DeclineFloor24h   float64 `mapstructure:"decline_floor_24h"`
	DeclineFloorBase  float64 `mapstructure:"decline_floor_base"`
	DeclineBoostCap   float64 `mapstructure:"decline_boost_cap"`
	DeclineBoostScale float64 `mapstructure:"decline_boost_scale"`

	AccelThreshold  float64 `mapstructure:"accel_threshold"`
	AccelBoostCap   float64 `mapstructure:"accel_boost_cap"`
	AccelBoostScale float64 `mapstructure:"accel_boost_scale"`

	EWSFloorThreshold float64 `mapstructure:"ews_floor_threshold"`
	EWSFloorScale     float64 `mapstructure:"ews_floor_scale"`
}

// DefaultBoostPolicy returns the reference boost constants.
func DefaultBoostPolicy() BoostPolicy {
	return BoostPolicy{
		DeclineFloor6h:    -0.20,
		DeclineFloor24h:   -0.50,
		DeclineFloorBase:  65,
		DeclineBoostCap:   30,
		DeclineBoostScale: 40,

		AccelThreshold:  -0.05,
		AccelBoostCap:   20,
		AccelBoostScale: 200,

		EWSFloorThreshold: 70,
		EWSFloorScale:     0.8,
	}
}

// Apply folds the policy into a raw risk score given the feature vector the
// scorer saw, and returns the final clamped score.
func (p BoostPolicy) Apply(score float64, v features.Vector) float64 {
	chg6 := v[features.IdxTVLChange6h]
	chg24 := v[features.IdxTVLChange24h]
	accel := v[features.IdxTVLAcceleration]
	ews := v[features.IdxEarlyWarningScore]

	// Severe TVL decline floors the score regardless of the model.
	if chg6 < p.DeclineFloor6h || chg24 < p.DeclineFloor24h {
		worst := math.Min(chg6, chg24)
		boost := math.Min(p.DeclineBoostCap, math.Abs(worst)*p.DeclineBoostScale)
		score = math.Max(score, p.DeclineFloorBase+boost)
	}

	// Accelerating outflows on top of an existing decline add to the score.
	if accel < p.AccelThreshold && (chg6 < -0.10 || chg24 < -0.20) {
		boost := math.Min(p.AccelBoostCap, math.Abs(accel)*p.AccelBoostScale)
		score = math.Min(100, score+boost)
	}

	// A composite early-warning reading past the threshold floors the score.
	if ews > p.EWSFloorThreshold {
		score = math.Max(score, p.DeclineFloorBase+(ews-p.EWSFloorThreshold)*p.EWSFloorScale)
	}

	return Round2(math.Max(0, math.Min(100, score)))
}
