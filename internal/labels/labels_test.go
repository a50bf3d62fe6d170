package labels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pool-risk-alerts/internal/features"
)

func hourlySeries(tvls []float64) []features.Point {
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]features.Point, len(tvls))
	for i, tvl := range tvls {
		pts[i] = features.Point{Hour: base.Add(time.Duration(i) * time.Hour), TVL: tvl}
	}
	return pts
}

func constantSeries(n int, tvl float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = tvl
	}
	return out
}

func TestGenerateDropsUnlabelledTail(t *testing.T) {
	pts := hourlySeries(constantSeries(40, 1_000_000))
	rows, err := Generate(pts, DefaultHorizons())
	require.NoError(t, err)

	// the longest horizon is 24 steps, so the final 24 rows carry no label
	require.Len(t, rows, 40-24)
	for _, row := range rows {
		require.Equal(t, 0, row.Labels["label_6h"])
		require.Equal(t, 0, row.Labels["label_24h"])
	}
}

func TestGenerateCrashLabels(t *testing.T) {
	tvls := constantSeries(40, 1_000_000)
	// collapse at hour 18: a -50% drop visible to both horizons
	for i := 18; i < len(tvls); i++ {
		tvls[i] = 500_000
	}
	rows, err := Generate(hourlySeries(tvls), DefaultHorizons())
	require.NoError(t, err)
	require.Len(t, rows, 16)

	// 6h horizon: (tvl[i+6]-tvl[i])/tvl[i] < -0.10 from row 12 onwards
	require.Equal(t, 0, rows[11].Labels["label_6h"])
	require.Equal(t, 1, rows[12].Labels["label_6h"])

	// 24h horizon: every labelled row looks across the collapse
	require.Equal(t, 1, rows[0].Labels["label_24h"])
	require.Equal(t, 1, rows[15].Labels["label_24h"])
}

func TestGenerateNoPastLeakage(t *testing.T) {
	tvls := constantSeries(40, 1_000_000)
	for i := 30; i < len(tvls); i++ {
		tvls[i] = 500_000
	}
	baseline, err := Generate(hourlySeries(tvls), DefaultHorizons())
	require.NoError(t, err)

	// mutating rows at or before i must never change label(i)
	mutated := append([]float64(nil), tvls...)
	for i := 0; i <= 10; i++ {
		mutated[i] = 5
	}
	changed, err := Generate(hourlySeries(mutated), DefaultHorizons())
	require.NoError(t, err)

	for i := 11; i < len(baseline); i++ {
		require.Equal(t, baseline[i].Labels, changed[i].Labels, "labels for row %d leaked from the past", i)
	}
}

func TestGenerateShortSeries(t *testing.T) {
	rows, err := Generate(hourlySeries(constantSeries(24, 1_000_000)), DefaultHorizons())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestSplitPreservesOrder(t *testing.T) {
	rows, err := Generate(hourlySeries(constantSeries(124, 1_000_000)), DefaultHorizons())
	require.NoError(t, err)
	require.Len(t, rows, 100)

	train, test := Split(rows, 0.8)
	require.Len(t, train, 80)
	require.Len(t, test, 20)
	require.True(t, train[len(train)-1].Point.Hour.Before(test[0].Point.Hour),
		"train partition must end before test begins")
}

func TestPositiveClassWeight(t *testing.T) {
	rows := make([]Row, 10)
	for i := range rows {
		label := 0
		if i < 2 {
			label = 1
		}
		rows[i] = Row{Labels: map[string]int{"label_24h": label}}
	}

	require.Equal(t, 4.0, PositiveClassWeight(rows, "label_24h"))

	// no positives: neutral weight
	none := []Row{{Labels: map[string]int{"label_24h": 0}}}
	require.Equal(t, 1.0, PositiveClassWeight(none, "label_24h"))
}
