package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeneratorSeriesShape(t *testing.T) {
	gen := NewGenerator(42)
	end := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	series := gen.Series("pool-1", ProfileSafe, 72, end, false)
	require.Len(t, series, 72)
	require.Equal(t, end, series[len(series)-1].ObservedAt)

	for i, obs := range series {
		require.Equal(t, "pool-1", obs.PoolID)
		require.Equal(t, "synthetic", obs.Source)
		require.True(t, obs.TVL.IsPositive(), "tvl must stay positive at row %d", i)
		require.False(t, obs.ReserveA.IsNegative(), "reserve a negative at row %d", i)
		require.False(t, obs.ReserveB.IsNegative(), "reserve b negative at row %d", i)
		if i > 0 {
			require.Equal(t, time.Hour, obs.ObservedAt.Sub(series[i-1].ObservedAt))
		}
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	end := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	first := NewGenerator(7).Series("pool-1", ProfileRisky, 48, end, false)
	second := NewGenerator(7).Series("pool-1", ProfileRisky, 48, end, false)
	require.Equal(t, first, second)

	other := NewGenerator(7).Series("pool-2", ProfileRisky, 48, end, false)
	require.NotEqual(t, first, other, "different pools must diverge")
}

func TestGeneratorForceRiskEndsUnderStress(t *testing.T) {
	gen := NewGenerator(1)
	end := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	series := gen.Series("pool-1", ProfileCrashProne, 120, end, true)
	require.Len(t, series, 120)

	peak := 0.0
	for _, obs := range series {
		if v := obs.TVL.InexactFloat64(); v > peak {
			peak = v
		}
	}
	last := series[len(series)-1].TVL.InexactFloat64()
	require.Less(t, last, peak*0.9, "forced risk series should end well below its peak")
}

func TestParseProfile(t *testing.T) {
	profile, err := ParseProfile("crash_prone")
	require.NoError(t, err)
	require.Equal(t, ProfileCrashProne, profile)

	profile, err = ParseProfile("")
	require.NoError(t, err)
	require.Equal(t, ProfileSafe, profile)

	_, err = ParseProfile("volatile")
	require.Error(t, err)
}

func TestSyntheticFetcherAdvances(t *testing.T) {
	fetcher := NewSyntheticFetcher(NewGenerator(9))
	pool := Pool{ID: "pool-1", Profile: ProfileMixed}

	first, err := fetcher.Fetch(context.Background(), pool)
	require.NoError(t, err)
	second, err := fetcher.Fetch(context.Background(), pool)
	require.NoError(t, err)

	require.Equal(t, "pool-1", first.PoolID)
	require.NotEqual(t, first.TVL, second.TVL, "walker should advance between calls")
}
