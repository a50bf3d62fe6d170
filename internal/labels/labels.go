// Package labels produces forward-looking crash labels for model training.
//
// Features for a row use only data at or before that row; labels use only
// rows strictly after it. Nothing here is consulted at serving time.
package labels

import (
	"fmt"

	"pool-risk-alerts/internal/features"
)

// Horizon describes one forward-labelling target: a crash is a TVL drop worse
// than -Threshold within Steps rows (hours) ahead.
type Horizon struct {
	Name      string  `mapstructure:"name"`
	Steps     int     `mapstructure:"steps"`
	Threshold float64 `mapstructure:"threshold"`
}

// DefaultHorizons returns the two supported targets. The 24h horizon is the
// primary training target.
func DefaultHorizons() []Horizon {
	return []Horizon{
		{Name: "label_6h", Steps: 6, Threshold: 0.10},
		{Name: "label_24h", Steps: 24, Threshold: 0.20},
	}
}

// Row is one labelled training row for a pool.
type Row struct {
	Point  features.Point
	Labels map[string]int
}

// Generate computes per-row binary labels for a single pool's sorted series.
// The final max(horizon) rows carry no label and are dropped: there is no
// future data to grade them against.
func Generate(pts []features.Point, horizons []Horizon) ([]Row, error) {
	if len(horizons) == 0 {
		return nil, fmt.Errorf("at least one horizon required")
	}
	maxSteps := 0
	for _, h := range horizons {
		if h.Steps <= 0 {
			return nil, fmt.Errorf("horizon %q: steps must be positive", h.Name)
		}
		if h.Steps > maxSteps {
			maxSteps = h.Steps
		}
	}
	if len(pts) <= maxSteps {
		return nil, nil
	}

	rows := make([]Row, 0, len(pts)-maxSteps)
	for i := 0; i < len(pts)-maxSteps; i++ {
		row := Row{Point: pts[i], Labels: make(map[string]int, len(horizons))}
		for _, h := range horizons {
			row.Labels[h.Name] = label(pts, i, h)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func label(pts []features.Point, i int, h Horizon) int {
	current := pts[i].TVL
	if current <= 0 {
		return 0
	}
	future := pts[i+h.Steps].TVL
	if (future-current)/current < -h.Threshold {
		return 1
	}
	return 0
}

// Split cuts labelled rows at a single time-ordered point: the earliest
// trainRatio of rows become the training partition, the rest the test
// partition. No shuffling, so causal ordering is preserved.
func Split(rows []Row, trainRatio float64) (train, test []Row) {
	if trainRatio <= 0 || trainRatio >= 1 {
		trainRatio = 0.8
	}
	cut := int(float64(len(rows)) * trainRatio)
	return rows[:cut], rows[cut:]
}

// PositiveClassWeight computes negatives/positives for the named label in the
// training partition. The scorer applies it as the positive class weight to
// correct class imbalance; 1.0 when there are no positives.
func PositiveClassWeight(train []Row, labelName string) float64 {
	pos, neg := 0, 0
	for _, r := range train {
		if r.Labels[labelName] == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 {
		return 1.0
	}
	return float64(neg) / float64(pos)
}
