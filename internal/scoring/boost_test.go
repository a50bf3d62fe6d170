package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pool-risk-alerts/internal/features"
)

func neutralVector() features.Vector {
	var v features.Vector
	v[features.IdxVolumeSpikeRatio] = 1
	v[features.IdxVolatilityRatio] = 1
	v[features.IdxEarlyWarningScore] = 50
	return v
}

func TestApplyPassthroughBelowThresholds(t *testing.T) {
	p := DefaultBoostPolicy()

	got := p.Apply(40, neutralVector())
	require.Equal(t, 40.0, got)

	// A mild decline does not trip any floor either.
	v := neutralVector()
	v[features.IdxTVLChange6h] = -0.10
	require.Equal(t, 40.0, p.Apply(40, v))
}

func TestApplySixHourDeclineFloor(t *testing.T) {
	p := DefaultBoostPolicy()

	v := neutralVector()
	v[features.IdxTVLChange6h] = -0.5

	// Floor is 65 + min(30, 0.5*40) = 85, regardless of the model score.
	require.Equal(t, 85.0, p.Apply(10, v))

	// A model score above the floor passes through untouched.
	require.Equal(t, 92.0, p.Apply(92, v))
}

func TestApplyDayDeclineFloor(t *testing.T) {
	p := DefaultBoostPolicy()

	v := neutralVector()
	v[features.IdxTVLChange24h] = -0.6

	require.Equal(t, 89.0, p.Apply(5, v))
}

func TestApplyAccelBoostNeedsDecline(t *testing.T) {
	p := DefaultBoostPolicy()

	// Acceleration alone, with TVL flat, changes nothing.
	v := neutralVector()
	v[features.IdxTVLAcceleration] = -0.1
	require.Equal(t, 30.0, p.Apply(30, v))

	// Paired with an ongoing 6h decline it adds min(20, 0.1*200) = 20.
	v[features.IdxTVLChange6h] = -0.15
	require.Equal(t, 50.0, p.Apply(30, v))
}

func TestApplyEarlyWarningFloor(t *testing.T) {
	p := DefaultBoostPolicy()

	v := neutralVector()
	v[features.IdxEarlyWarningScore] = 80

	// 65 + (80-70)*0.8 = 73.
	require.Equal(t, 73.0, p.Apply(20, v))
	require.Equal(t, 80.0, p.Apply(80, v))
}

func TestApplyCompositionClampsAtHundred(t *testing.T) {
	p := DefaultBoostPolicy()

	v := neutralVector()
	v[features.IdxTVLChange6h] = -0.9
	v[features.IdxTVLAcceleration] = -0.2
	v[features.IdxEarlyWarningScore] = 100

	require.Equal(t, 100.0, p.Apply(0, v))
}

func TestApplyRoundsToTwoDecimals(t *testing.T) {
	p := DefaultBoostPolicy()

	v := neutralVector()
	v[features.IdxEarlyWarningScore] = 75.333

	// 65 + 5.333*0.8 = 69.2664 -> 69.27.
	require.Equal(t, 69.27, p.Apply(0, v))
}
