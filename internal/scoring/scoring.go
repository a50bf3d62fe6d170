package scoring

import (
	"context"
	"errors"
	"math"

	"pool-risk-alerts/internal/features"
)

// ErrScorerUnavailable indicates the model collaborator could not be reached
// or is not loaded. Callers skip the affected pool for the cycle.
var ErrScorerUnavailable = errors.New("scoring: scorer unavailable")

// RiskLevel buckets a 0-100 risk score.
type RiskLevel string

const (
	LevelLow    RiskLevel = "LOW"
	LevelMedium RiskLevel = "MEDIUM"
	LevelHigh   RiskLevel = "HIGH"
)

// LevelFor categorizes a risk score.
func LevelFor(score float64) RiskLevel {
	switch {
	case score < 30:
		return LevelLow
	case score < 65:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Attribution is one feature's signed contribution to a prediction, ordered
// by descending absolute impact by the scorer.
type Attribution struct {
	Feature   string  `json:"feature"`
	Impact    float64 `json:"impact"`
	Direction string  `json:"direction"`
}

// Scorer is the external model collaborator contract: an ordered feature
// vector in, a crash probability plus ordered attributions out.
type Scorer interface {
	Predict(ctx context.Context, vector features.Vector) (probability float64, attributions []Attribution, err error)
}

// ScoreFromProbability converts a model probability into the 0-100 risk
// score reported everywhere downstream.
func ScoreFromProbability(prob float64) float64 {
	return Round2(math.Max(0, math.Min(1, prob)) * 100)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
