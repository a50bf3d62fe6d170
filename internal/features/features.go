package features

import (
	"time"
)

// Canonical feature ordering shared by the feature engine, the scorer contract,
// and the simulation engine. Index positions are part of the wire contract with
// the model server and must not be reordered.
const (
	IdxTVLChange6h = iota
	IdxTVLChange24h
	IdxTVLAcceleration
	IdxVolumeSpikeRatio
	IdxReserveImbalance
	IdxReserveImbalanceRate
	IdxVolatility6h
	IdxVolatility24h
	IdxVolatilityRatio
	IdxEarlyWarningScore

	Count
)

// Names lists the canonical feature names in vector order.
var Names = [Count]string{
	"tvl_change_6h",
	"tvl_change_24h",
	"tvl_acceleration",
	"volume_spike_ratio",
	"reserve_imbalance",
	"reserve_imbalance_rate",
	"volatility_6h",
	"volatility_24h",
	"volatility_ratio",
	"early_warning_score",
}

// Vector is an ordered feature vector ready for the scorer.
type Vector [Count]float64

// Point is one hourly metric reading, the float view of a stored hourly record.
type Point struct {
	Hour      time.Time
	TVL       float64
	Volume24h float64
	ReserveA  float64
	ReserveB  float64
}

// Snapshot is the backward-looking feature vector for one pool at one instant.
// Nil pointers mark signals that could not be computed from the available
// history; Vector substitutes the documented neutral default per field.
type Snapshot struct {
	PoolID string
	AsOf   time.Time

	TVLChange6h          *float64
	TVLChange24h         *float64
	TVLAcceleration      *float64
	VolumeSpikeRatio     *float64
	ReserveImbalance     *float64
	ReserveImbalanceRate *float64
	Volatility6h         *float64
	Volatility24h        *float64
	VolatilityRatio      *float64
	EarlyWarningScore    *float64

	PointsAvailable int
	SufficientData  bool
	Warnings        []string
}

// Neutral defaults, one per field: 0.0 for changes, rates and volatilities,
// 1.0 for ratios, 50 for the composite score.
var defaults = Vector{0, 0, 0, 1, 0, 0, 0, 0, 1, 50}

// Vector renders the snapshot in canonical order, filling nil fields with
// their neutral defaults.
func (s *Snapshot) Vector() Vector {
	v := defaults
	assign := func(idx int, p *float64) {
		if p != nil {
			v[idx] = *p
		}
	}
	assign(IdxTVLChange6h, s.TVLChange6h)
	assign(IdxTVLChange24h, s.TVLChange24h)
	assign(IdxTVLAcceleration, s.TVLAcceleration)
	assign(IdxVolumeSpikeRatio, s.VolumeSpikeRatio)
	assign(IdxReserveImbalance, s.ReserveImbalance)
	assign(IdxReserveImbalanceRate, s.ReserveImbalanceRate)
	assign(IdxVolatility6h, s.Volatility6h)
	assign(IdxVolatility24h, s.Volatility24h)
	assign(IdxVolatilityRatio, s.VolatilityRatio)
	assign(IdxEarlyWarningScore, s.EarlyWarningScore)
	return v
}

// FromVector builds a fully populated snapshot from an ordered vector. Used by
// the simulation engine after applying overrides.
func FromVector(poolID string, asOf time.Time, v Vector) *Snapshot {
	ptr := func(idx int) *float64 {
		val := v[idx]
		return &val
	}
	return &Snapshot{
		PoolID:               poolID,
		AsOf:                 asOf,
		TVLChange6h:          ptr(IdxTVLChange6h),
		TVLChange24h:         ptr(IdxTVLChange24h),
		TVLAcceleration:      ptr(IdxTVLAcceleration),
		VolumeSpikeRatio:     ptr(IdxVolumeSpikeRatio),
		ReserveImbalance:     ptr(IdxReserveImbalance),
		ReserveImbalanceRate: ptr(IdxReserveImbalanceRate),
		Volatility6h:         ptr(IdxVolatility6h),
		Volatility24h:        ptr(IdxVolatility24h),
		VolatilityRatio:      ptr(IdxVolatilityRatio),
		EarlyWarningScore:    ptr(IdxEarlyWarningScore),
	}
}

// Clamp bounds per feature, applied identically at training and serving time.
type bounds struct{ lo, hi float64 }

var clampBounds = [Count]bounds{
	IdxTVLChange6h:          {-1.0, 1.0},
	IdxTVLChange24h:         {-1.0, 1.0},
	IdxTVLAcceleration:      {-0.5, 0.5},
	IdxVolumeSpikeRatio:     {0.0, 10.0},
	IdxReserveImbalance:     {0.0, 1.0},
	IdxReserveImbalanceRate: {-0.5, 0.5},
	IdxVolatility6h:         {0.0, 1.0},
	IdxVolatility24h:        {0.0, 1.0},
	IdxVolatilityRatio:      {0.0, 10.0},
	IdxEarlyWarningScore:    {0.0, 100.0},
}

// ClampBounds reports the canonical range for one feature.
func ClampBounds(idx int) (lo, hi float64) {
	b := clampBounds[idx]
	return b.lo, b.hi
}

// ClampValue bounds a single feature value to its canonical range.
func ClampValue(idx int, v float64) float64 {
	b := clampBounds[idx]
	if v < b.lo {
		return b.lo
	}
	if v > b.hi {
		return b.hi
	}
	return v
}

// ClampVector bounds every feature in the vector to its canonical range.
func ClampVector(v Vector) Vector {
	for i := range v {
		v[i] = ClampValue(i, v[i])
	}
	return v
}
