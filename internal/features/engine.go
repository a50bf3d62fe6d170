package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const (
	window6h  = 6 * time.Hour
	window24h = 24 * time.Hour

	// Minimum observations inside the 24h window before anything is computed,
	// and before the snapshot is marked as having sufficient data.
	minPoints       = 4
	minPointsFull   = 18
	minPointsAccel  = 7
	minReturnsVol6  = 2
	minReturnsVol24 = 6

	// Denominators below this are treated as zero for the volatility ratio.
	volRatioEpsilon = 1e-3
)

// Weights parameterise the early-warning composite. They sum to 1.0 so no
// single component can push the score across the 0-100 clamp on its own.
type Weights struct {
	TVLChange6h          float64 `mapstructure:"tvl_change_6h"`
	TVLChange24h         float64 `mapstructure:"tvl_change_24h"`
	TVLAcceleration      float64 `mapstructure:"tvl_acceleration"`
	VolumeSpikeRatio     float64 `mapstructure:"volume_spike_ratio"`
	ReserveImbalanceRate float64 `mapstructure:"reserve_imbalance_rate"`
	VolatilityRatio      float64 `mapstructure:"volatility_ratio"`
}

// DefaultWeights returns the reference early-warning weights.
func DefaultWeights() Weights {
	return Weights{
		TVLChange6h:          0.15,
		TVLChange24h:         0.20,
		TVLAcceleration:      0.20,
		VolumeSpikeRatio:     0.15,
		ReserveImbalanceRate: 0.10,
		VolatilityRatio:      0.20,
	}
}

// HistoryReader provides the hourly metric points the engine computes from.
type HistoryReader interface {
	ListPoolPoints(ctx context.Context, poolID string, from, to time.Time) ([]Point, error)
}

// Engine computes backward-looking predictive signals from hourly history.
// All window lookups use at-or-before semantics, never interpolation across
// the as-of boundary, so no future record can influence a snapshot.
type Engine struct {
	store   HistoryReader
	weights Weights
	logger  zerolog.Logger
}

// New constructs a feature engine.
func New(store HistoryReader, weights Weights, logger zerolog.Logger) *Engine {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Engine{
		store:   store,
		weights: weights,
		logger:  logger.With().Str("component", "feature_engine").Logger(),
	}
}

// Compute derives the feature snapshot for one pool as of the given instant,
// reading only records with hour in [asOf-24h, asOf].
func (e *Engine) Compute(ctx context.Context, poolID string, asOf time.Time) (*Snapshot, error) {
	pts, err := e.store.ListPoolPoints(ctx, poolID, asOf.Add(-window24h), asOf)
	if err != nil {
		return nil, fmt.Errorf("list pool points: %w", err)
	}
	sortPoints(pts)

	snap := e.computeRow(poolID, pts, len(pts)-1)
	snap.AsOf = asOf
	return snap, nil
}

// ComputeSeries computes a snapshot per row over a full sorted series for one
// pool. Each row sees exactly the trailing 24h window ending at that row, so
// outputs are numerically identical to the pointwise Compute path.
func (e *Engine) ComputeSeries(poolID string, pts []Point) []*Snapshot {
	sortPoints(pts)

	snaps := make([]*Snapshot, len(pts))
	start := 0
	for i := range pts {
		cutoff := pts[i].Hour.Add(-window24h)
		for pts[start].Hour.Before(cutoff) {
			start++
		}
		snaps[i] = e.computeRow(poolID, pts[start:i+1], i-start)
	}
	return snaps
}

// computeRow computes the snapshot for pts[row], where pts holds only the
// visible trailing window, sorted ascending by hour.
func (e *Engine) computeRow(poolID string, pts []Point, row int) *Snapshot {
	snap := &Snapshot{PoolID: poolID}
	if row < 0 || len(pts) == 0 {
		snap.Warnings = append(snap.Warnings, "insufficient data: 0 points")
		return snap
	}

	visible := pts[:row+1]
	now := visible[row]
	snap.AsOf = now.Hour
	snap.PointsAvailable = len(visible)
	snap.SufficientData = len(visible) >= minPointsFull

	if len(visible) < minPoints {
		snap.Warnings = append(snap.Warnings,
			fmt.Sprintf("insufficient data: %d points", len(visible)))
		return snap
	}

	warn := func(format string, args ...any) {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf(format, args...))
	}

	chg6 := tvlChange(visible, row, window6h, warn)
	chg24 := tvlChange(visible, row, window24h, warn)
	snap.TVLChange6h = chg6
	snap.TVLChange24h = chg24
	snap.TVLAcceleration = e.acceleration(visible, row, warn)

	snap.VolumeSpikeRatio = volumeSpike(visible, row, warn)

	imb := reserveImbalance(now, warn)
	snap.ReserveImbalance = &imb
	snap.ReserveImbalanceRate = imbalanceRate(visible, row, imb)

	vol6 := volatility(visible, row, window6h, minReturnsVol6, warn)
	vol24 := volatility(visible, row, window24h, minReturnsVol24, warn)
	snap.Volatility6h = &vol6
	snap.Volatility24h = &vol24

	ratio := 1.0
	if vol24 > volRatioEpsilon {
		ratio = vol6 / vol24
	}
	snap.VolatilityRatio = &ratio

	ews := e.earlyWarningScore(snap)
	snap.EarlyWarningScore = &ews

	clampSnapshot(snap)
	return snap
}

// earlyWarningScore folds the weighted components onto the neutral midpoint.
// Inputs are the raw (pre-clamp) signals; missing signals contribute nothing.
func (e *Engine) earlyWarningScore(s *Snapshot) float64 {
	score := 50.0
	if s.TVLChange6h != nil {
		score += -*s.TVLChange6h * 100 * e.weights.TVLChange6h
	}
	if s.TVLChange24h != nil {
		score += -*s.TVLChange24h * 100 * e.weights.TVLChange24h
	}
	if s.TVLAcceleration != nil {
		score += -*s.TVLAcceleration * 100 * e.weights.TVLAcceleration
	}
	if s.VolumeSpikeRatio != nil {
		score += math.Max(*s.VolumeSpikeRatio-1.0, 0) * 10 * e.weights.VolumeSpikeRatio
	}
	if s.ReserveImbalanceRate != nil {
		score += *s.ReserveImbalanceRate * 100 * e.weights.ReserveImbalanceRate
	}
	if s.VolatilityRatio != nil {
		score += math.Max(*s.VolatilityRatio-1.0, 0) * 10 * e.weights.VolatilityRatio
	}
	return ClampValue(IdxEarlyWarningScore, score)
}

// tvlChange computes the fractional TVL change over the window ending at
// pts[row], anchoring on the closest record at or before the window start and
// falling back to the oldest visible point.
func tvlChange(pts []Point, row int, window time.Duration, warn func(string, ...any)) *float64 {
	target := pts[row].Hour.Add(-window)
	base := atOrBefore(pts[:row+1], target)
	if base < 0 {
		base = 0
	}
	if pts[base].TVL == 0 {
		warn("tvl change %s: zero baseline tvl", window)
		return nil
	}
	v := (pts[row].TVL - pts[base].TVL) / pts[base].TVL
	return &v
}

// acceleration is the second difference of the 6h change: the change ending
// now minus the change ending 6h earlier.
func (e *Engine) acceleration(pts []Point, row int, warn func(string, ...any)) *float64 {
	if row+1 < minPointsAccel {
		return nil
	}
	prev := atOrBefore(pts[:row+1], pts[row].Hour.Add(-window6h))
	if prev < 0 {
		return nil
	}
	cur := tvlChange(pts, row, window6h, warn)
	lag := tvlChange(pts, prev, window6h, warn)
	if cur == nil || lag == nil {
		return nil
	}
	v := *cur - *lag
	return &v
}

// volumeSpike is current volume over the mean volume in the trailing 24h
// window (current point included); 1.0 with a warning when there is no
// usable baseline.
func volumeSpike(pts []Point, row int, warn func(string, ...any)) *float64 {
	cutoff := pts[row].Hour.Add(-window24h)
	sum, n := 0.0, 0
	for i := row; i >= 0 && !pts[i].Hour.Before(cutoff); i-- {
		sum += pts[i].Volume24h
		n++
	}
	ratio := 1.0
	if n == 0 || sum <= 0 {
		warn("volume spike: no volume baseline")
	} else {
		ratio = pts[row].Volume24h / (sum / float64(n))
	}
	return &ratio
}

func reserveImbalance(p Point, warn func(string, ...any)) float64 {
	total := p.ReserveA + p.ReserveB
	if total <= 0 {
		warn("reserve imbalance: zero total reserves")
		return 0
	}
	return math.Abs(p.ReserveA-p.ReserveB) / total
}

// imbalanceRate is the current imbalance minus the imbalance at the closest
// record at or before 6h ago; nil when no such record exists.
func imbalanceRate(pts []Point, row int, current float64) *float64 {
	prev := atOrBefore(pts[:row+1], pts[row].Hour.Add(-window6h))
	if prev < 0 {
		return nil
	}
	past := reserveImbalance(pts[prev], func(string, ...any) {})
	v := current - past
	return &v
}

// volatility is the sample standard deviation of period-over-period TVL
// returns inside the window; 0 when fewer than minReturns are available.
func volatility(pts []Point, row int, window time.Duration, minReturns int, warn func(string, ...any)) float64 {
	cutoff := pts[row].Hour.Add(-window)
	var returns []float64
	for i := 1; i <= row; i++ {
		if pts[i].Hour.Before(cutoff) {
			continue
		}
		if pts[i-1].TVL == 0 {
			warn("volatility: zero tvl in return series")
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (pts[i].TVL-pts[i-1].TVL)/pts[i-1].TVL)
	}
	if len(returns) < minReturns {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(returns)-1))
}

// atOrBefore returns the index of the newest point with Hour <= t, or -1.
func atOrBefore(pts []Point, t time.Time) int {
	idx := sort.Search(len(pts), func(i int) bool { return pts[i].Hour.After(t) })
	return idx - 1
}

func sortPoints(pts []Point) {
	sort.Slice(pts, func(i, j int) bool { return pts[i].Hour.Before(pts[j].Hour) })
}

func clampSnapshot(s *Snapshot) {
	clamp := func(idx int, p *float64) {
		if p != nil {
			*p = ClampValue(idx, *p)
		}
	}
	clamp(IdxTVLChange6h, s.TVLChange6h)
	clamp(IdxTVLChange24h, s.TVLChange24h)
	clamp(IdxTVLAcceleration, s.TVLAcceleration)
	clamp(IdxVolumeSpikeRatio, s.VolumeSpikeRatio)
	clamp(IdxReserveImbalance, s.ReserveImbalance)
	clamp(IdxReserveImbalanceRate, s.ReserveImbalanceRate)
	clamp(IdxVolatility6h, s.Volatility6h)
	clamp(IdxVolatility24h, s.Volatility24h)
	clamp(IdxVolatilityRatio, s.VolatilityRatio)
	clamp(IdxEarlyWarningScore, s.EarlyWarningScore)
}
