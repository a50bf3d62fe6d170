package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/scoring"
)

// HourlyRecord is one de-duplicated hourly metric bucket for a pool. At most
// one record exists per (pool_id, hour); re-collection for the same hour
// updates it in place.
type HourlyRecord struct {
	PoolID    string
	Hour      time.Time
	TVL       decimal.Decimal
	Volume24h decimal.Decimal
	ReserveA  decimal.Decimal
	ReserveB  decimal.Decimal
	Source    string
	CreatedAt time.Time
}

// Point converts the record to the float view the feature engine consumes.
func (r HourlyRecord) Point() features.Point {
	return features.Point{
		Hour:      r.Hour,
		TVL:       r.TVL.InexactFloat64(),
		Volume24h: r.Volume24h.InexactFloat64(),
		ReserveA:  r.ReserveA.InexactFloat64(),
		ReserveB:  r.ReserveB.InexactFloat64(),
	}
}

// RiskAssessment is one produced risk reading for a pool. Immutable once
// written; the previous assessment for a pool is the most recent record with
// an earlier produced_at.
type RiskAssessment struct {
	ID                int64
	PoolID            string
	RiskScore         float64
	RiskLevel         scoring.RiskLevel
	EarlyWarningScore *float64
	TopReasons        []scoring.Attribution
	ModelVersion      string
	Horizon           string
	ProducedAt        time.Time
}

// Alert lifecycle states. Resolution policy belongs to the alert sink; the
// field exists here so listings can filter on it.
const (
	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"
)

// AlertRecord captures an emitted alert for de-duplication and auditing.
type AlertRecord struct {
	ID                int64
	PoolID            string
	AlertType         string
	RiskScore         float64
	RiskLevel         scoring.RiskLevel
	Message           string
	TopReasons        []scoring.Attribution
	Status            string
	PreviousRiskLevel *scoring.RiskLevel
	PreviousRiskScore *float64
	CreatedAt         time.Time
}

// AlertFilter narrows alert listings; zero values mean no filter.
type AlertFilter struct {
	PoolID string
	Status string
	Limit  int
}
