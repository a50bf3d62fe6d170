package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Pool identifies one monitored liquidity pool.
type Pool struct {
	ID      string
	Address string
	Profile RiskProfile
}

// Observation is one raw reading for one pool, prior to hourly bucketing.
type Observation struct {
	PoolID     string
	ObservedAt time.Time
	TVL        decimal.Decimal
	Volume24h  decimal.Decimal
	ReserveA   decimal.Decimal
	ReserveB   decimal.Decimal
	Source     string
}

// Fetcher produces the current observation for a pool.
type Fetcher interface {
	Fetch(ctx context.Context, pool Pool) (Observation, error)
}
