package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/alerting"
	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/scoring"
	"pool-risk-alerts/internal/storage"
)

// ErrOverrideOutOfRange indicates a what-if override outside its documented
// bounds. Overrides are rejected, never silently clamped.
var ErrOverrideOutOfRange = errors.New("simulate: override out of range")

// Overrides are the optional, independently composable what-if inputs.
// Percentages are expressed in percent, not fractions.
type Overrides struct {
	TVLChangePct             *float64 `mapstructure:"tvl_change_pct" json:"tvl_change_pct,omitempty"`
	VolumeChangePct          *float64 `mapstructure:"volume_change_pct" json:"volume_change_pct,omitempty"`
	VolatilityOverride       *float64 `mapstructure:"volatility_override" json:"volatility_override,omitempty"`
	ReserveImbalanceOverride *float64 `mapstructure:"reserve_imbalance_override" json:"reserve_imbalance_override,omitempty"`
}

// Empty reports whether no override is set.
func (o Overrides) Empty() bool {
	return o.TVLChangePct == nil && o.VolumeChangePct == nil &&
		o.VolatilityOverride == nil && o.ReserveImbalanceOverride == nil
}

// Validate checks every set override against its documented bounds.
func (o Overrides) Validate() error {
	check := func(name string, value *float64, lo, hi float64) error {
		if value == nil {
			return nil
		}
		if *value < lo || *value > hi {
			return fmt.Errorf("%w: %s=%g outside [%g, %g]", ErrOverrideOutOfRange, name, *value, lo, hi)
		}
		return nil
	}
	if err := check("tvl_change_pct", o.TVLChangePct, -80, 80); err != nil {
		return err
	}
	if err := check("volume_change_pct", o.VolumeChangePct, -100, 200); err != nil {
		return err
	}
	if err := check("volatility_override", o.VolatilityOverride, 0.01, 0.5); err != nil {
		return err
	}
	return check("reserve_imbalance_override", o.ReserveImbalanceOverride, 0, 1)
}

// Outcome is one scored state, actual or simulated.
type Outcome struct {
	RiskScore  float64               `json:"risk_score"`
	RiskLevel  scoring.RiskLevel     `json:"risk_level"`
	TopReasons []scoring.Attribution `json:"top_reasons,omitempty"`
}

// FeatureChange records one feature the overrides altered.
type FeatureChange struct {
	Feature string  `json:"feature"`
	Before  float64 `json:"before"`
	After   float64 `json:"after"`
}

// Result is the full what-if report for one pool.
type Result struct {
	PoolID        string          `json:"pool_id"`
	AsOf          time.Time       `json:"as_of"`
	Actual        Outcome         `json:"actual"`
	Simulated     Outcome         `json:"simulated"`
	Delta         float64         `json:"delta"`
	RiskIncreased bool            `json:"risk_increased"`
	WouldAlert    bool            `json:"would_alert"`
	Changes       []FeatureChange `json:"changes"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// Engine runs stateless what-if scenarios against the latest feature snapshot.
// It never writes to any store.
type Engine struct {
	features  *features.Engine
	history   storage.RiskHistoryStore
	scorer    scoring.Scorer
	boosts    scoring.BoostPolicy
	highRisk  float64
	spikeGate float64
	logger    zerolog.Logger
}

// NewEngine wires a simulation engine. history may be nil; the actual outcome
// is then derived by scoring the unmodified snapshot.
func NewEngine(featureEngine *features.Engine, history storage.RiskHistoryStore, scorer scoring.Scorer, boosts scoring.BoostPolicy, rules alerting.Rules, logger zerolog.Logger) *Engine {
	return &Engine{
		features:  featureEngine,
		history:   history,
		scorer:    scorer,
		boosts:    boosts,
		highRisk:  rules.HighRiskScore,
		spikeGate: rules.SpikeDelta,
		logger:    logger.With().Str("component", "simulation").Logger(),
	}
}

// Simulate computes the pool's current feature state as of the given instant,
// applies the overrides, re-scores, and reports the delta versus the actual
// assessment.
func (e *Engine) Simulate(ctx context.Context, poolID string, asOf time.Time, overrides Overrides) (*Result, error) {
	if err := overrides.Validate(); err != nil {
		return nil, err
	}

	snapshot, err := e.features.Compute(ctx, poolID, asOf)
	if err != nil {
		return nil, fmt.Errorf("compute features: %w", err)
	}
	base := snapshot.Vector()

	actual, err := e.actualOutcome(ctx, poolID, base)
	if err != nil {
		return nil, err
	}

	simVector := applyOverrides(base, overrides)
	simScore, simReasons, err := e.score(ctx, simVector)
	if err != nil {
		return nil, err
	}

	delta := scoring.Round2(simScore - actual.RiskScore)
	result := &Result{
		PoolID: poolID,
		AsOf:   asOf,
		Actual: actual,
		Simulated: Outcome{
			RiskScore:  simScore,
			RiskLevel:  scoring.LevelFor(simScore),
			TopReasons: simReasons,
		},
		Delta:         delta,
		RiskIncreased: delta > 0,
		WouldAlert:    simScore >= e.highRisk || math.Abs(delta) >= e.spikeGate,
		Changes:       diff(base, simVector),
		Warnings:      snapshot.Warnings,
	}

	e.logger.Debug().
		Str("pool_id", poolID).
		Float64("actual", actual.RiskScore).
		Float64("simulated", simScore).
		Float64("delta", delta).
		Bool("would_alert", result.WouldAlert).
		Msg("simulation complete")
	return result, nil
}

func (e *Engine) actualOutcome(ctx context.Context, poolID string, base features.Vector) (Outcome, error) {
	if e.history != nil {
		latest, err := e.history.LatestAssessment(ctx, poolID)
		if err != nil {
			return Outcome{}, fmt.Errorf("latest assessment: %w", err)
		}
		if latest != nil {
			return Outcome{
				RiskScore:  latest.RiskScore,
				RiskLevel:  latest.RiskLevel,
				TopReasons: latest.TopReasons,
			}, nil
		}
	}

	score, reasons, err := e.score(ctx, base)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RiskScore: score, RiskLevel: scoring.LevelFor(score), TopReasons: reasons}, nil
}

func (e *Engine) score(ctx context.Context, v features.Vector) (float64, []scoring.Attribution, error) {
	prob, reasons, err := e.scorer.Predict(ctx, v)
	if err != nil {
		return 0, nil, fmt.Errorf("predict: %w", err)
	}
	score := e.boosts.Apply(scoring.ScoreFromProbability(prob), v)
	return score, reasons, nil
}

func applyOverrides(base features.Vector, o Overrides) features.Vector {
	v := base

	if o.TVLChangePct != nil {
		pct := *o.TVLChangePct
		fraction := pct / 100
		v[features.IdxTVLChange6h] = fraction
		if pct < -20 {
			v[features.IdxTVLChange24h] = math.Min(v[features.IdxTVLChange24h], fraction*0.8)
			v[features.IdxTVLAcceleration] = fraction * 0.5
			v[features.IdxEarlyWarningScore] += math.Min(50, math.Abs(pct))
		}
	}

	if o.VolumeChangePct != nil {
		pct := *o.VolumeChangePct
		spike := v[features.IdxVolumeSpikeRatio] * (1 + pct/100)
		v[features.IdxVolumeSpikeRatio] = math.Min(10, math.Max(0.1, spike))
		if pct > 100 {
			v[features.IdxEarlyWarningScore] += math.Min(30, pct/10)
		}
	}

	if o.VolatilityOverride != nil {
		vol := *o.VolatilityOverride
		v[features.IdxVolatility6h] = vol
		v[features.IdxVolatility24h] = vol * 0.8
		v[features.IdxVolatilityRatio] = v[features.IdxVolatility6h] / v[features.IdxVolatility24h]
		if vol > 0.15 {
			v[features.IdxEarlyWarningScore] += math.Min(25, (vol-0.15)*200)
		}
	}

	if o.ReserveImbalanceOverride != nil {
		imbalance := *o.ReserveImbalanceOverride
		prior := v[features.IdxReserveImbalance]
		v[features.IdxReserveImbalance] = imbalance
		v[features.IdxReserveImbalanceRate] = imbalance - prior
		if imbalance > 0.3 {
			v[features.IdxEarlyWarningScore] += math.Min(20, (imbalance-0.3)*50)
		}
	}

	return features.ClampVector(v)
}

func diff(before, after features.Vector) []FeatureChange {
	changes := make([]FeatureChange, 0, features.Count)
	for i := 0; i < features.Count; i++ {
		if before[i] == after[i] {
			continue
		}
		changes = append(changes, FeatureChange{Feature: features.Names[i], Before: before[i], After: after[i]})
	}
	return changes
}
