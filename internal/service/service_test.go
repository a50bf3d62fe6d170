package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pool-risk-alerts/internal/alerting"
	"pool-risk-alerts/internal/config"
	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/ingest"
	"pool-risk-alerts/internal/scoring"
	"pool-risk-alerts/internal/storage"
)

type memRecords struct {
	mu   sync.Mutex
	rows map[string]map[time.Time]storage.HourlyRecord
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]map[time.Time]storage.HourlyRecord)}
}

func (m *memRecords) UpsertHourlyRecord(_ context.Context, rec storage.HourlyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[rec.PoolID] == nil {
		m.rows[rec.PoolID] = make(map[time.Time]storage.HourlyRecord)
	}
	m.rows[rec.PoolID][rec.Hour] = rec
	return nil
}

func (m *memRecords) ListPoolRecordsBetween(_ context.Context, poolID string, from, to time.Time) ([]storage.HourlyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]storage.HourlyRecord, 0)
	for hour, rec := range m.rows[poolID] {
		if !hour.Before(from) && !hour.After(to) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Hour.Before(records[j].Hour) })
	return records, nil
}

func (m *memRecords) ListPoolPoints(ctx context.Context, poolID string, from, to time.Time) ([]features.Point, error) {
	records, err := m.ListPoolRecordsBetween(ctx, poolID, from, to)
	if err != nil {
		return nil, err
	}
	points := make([]features.Point, len(records))
	for i, rec := range records {
		points[i] = rec.Point()
	}
	return points, nil
}

func (m *memRecords) DistinctPoolIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memRecords) CountPoolRecords(_ context.Context, poolID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows[poolID])), nil
}

func (m *memRecords) DeletePoolRecords(_ context.Context, poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, poolID)
	return nil
}

type memHistory struct {
	mu   sync.Mutex
	rows []storage.RiskAssessment
}

func (m *memHistory) InsertAssessment(_ context.Context, a storage.RiskAssessment) (storage.RiskAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, a)
	return a, nil
}

func (m *memHistory) LatestAssessment(_ context.Context, poolID string) (*storage.RiskAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *storage.RiskAssessment
	for i := range m.rows {
		row := m.rows[i]
		if row.PoolID != poolID {
			continue
		}
		if latest == nil || row.ProducedAt.After(latest.ProducedAt) {
			latest = &row
		}
	}
	return latest, nil
}

func (m *memHistory) PreviousAssessment(_ context.Context, poolID string, before time.Time) (*storage.RiskAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var previous *storage.RiskAssessment
	for i := range m.rows {
		row := m.rows[i]
		if row.PoolID != poolID || !row.ProducedAt.Before(before) {
			continue
		}
		if previous == nil || row.ProducedAt.After(previous.ProducedAt) {
			previous = &row
		}
	}
	return previous, nil
}

func (m *memHistory) ListPoolAssessmentsBetween(_ context.Context, poolID string, from, to time.Time) ([]storage.RiskAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]storage.RiskAssessment, 0)
	for _, row := range m.rows {
		if row.PoolID == poolID && !row.ProducedAt.Before(from) && !row.ProducedAt.After(to) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (m *memHistory) ListLatestAssessments(ctx context.Context) ([]storage.RiskAssessment, error) {
	m.mu.Lock()
	ids := make(map[string]struct{})
	for _, row := range m.rows {
		ids[row.PoolID] = struct{}{}
	}
	m.mu.Unlock()

	latest := make([]storage.RiskAssessment, 0, len(ids))
	for id := range ids {
		row, err := m.LatestAssessment(ctx, id)
		if err != nil {
			return nil, err
		}
		latest = append(latest, *row)
	}
	return latest, nil
}

type memAlerts struct {
	mu   sync.Mutex
	rows []storage.AlertRecord
}

func (m *memAlerts) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = int64(len(m.rows) + 1)
	alert.CreatedAt = time.Now().UTC()
	m.rows = append(m.rows, alert)
	return alert, nil
}

func (m *memAlerts) HasRecentAlert(_ context.Context, poolID, alertType string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.PoolID == poolID && row.AlertType == alertType && row.Status == storage.AlertStatusActive && !row.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAlerts) ListAlerts(_ context.Context, _ storage.AlertFilter) ([]storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.AlertRecord(nil), m.rows...), nil
}

type stubFetcher struct {
	mu         sync.Mutex
	observedAt time.Time
	tvl        decimal.Decimal
	calls      int
}

func (f *stubFetcher) Fetch(_ context.Context, pool ingest.Pool) (ingest.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return ingest.Observation{
		PoolID:     pool.ID,
		ObservedAt: f.observedAt,
		TVL:        f.tvl,
		Volume24h:  decimal.NewFromInt(10_000),
		ReserveA:   f.tvl.Div(decimal.NewFromInt(2)),
		ReserveB:   f.tvl.Div(decimal.NewFromInt(2)),
		Source:     "test",
	}, nil
}

type fixedScorer struct {
	probability float64
	err         error
}

func (s fixedScorer) Predict(_ context.Context, _ features.Vector) (float64, []scoring.Attribution, error) {
	if s.err != nil {
		return 0, nil, s.err
	}
	return s.probability, []scoring.Attribution{
		{Feature: "tvl_change_24h", Impact: 0.5, Direction: "increases_risk"},
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Jobs: config.JobsConfig{
			CollectionSpec: "0 * * * *",
			ScoringSpec:    "10 * * * *",
			ScoringWorkers: 2,
		},
		Scorer: config.ScorerConfig{
			ModelVersion: "v2.0_predictive",
			Horizon:      "24h",
			Boosts:       scoring.DefaultBoostPolicy(),
		},
	}
}

func newService(records *memRecords, history *memHistory, alerts *memAlerts, scorer scoring.Scorer, fetcher ingest.Fetcher, pools []ingest.Pool) *Service {
	featureEngine := features.New(records, features.DefaultWeights(), zerolog.Nop())
	var alertEngine *alerting.Engine
	if alerts != nil {
		alertEngine = alerting.NewEngine(alerts, nil, alerting.DefaultRules(), zerolog.Nop())
	}
	return New(testConfig(), records, history, featureEngine, scorer, alertEngine, fetcher, pools, zerolog.Nop())
}

func seedDecline(t *testing.T, records *memRecords, poolID string, asOf time.Time) {
	t.Helper()
	// 25 hourly points; final quarter collapses hard enough to trip the
	// decline floor
	tvl := 1_000_000.0
	for i := 24; i >= 0; i-- {
		hour := asOf.Add(-time.Duration(i) * time.Hour)
		if i <= 6 {
			tvl *= 0.90
		}
		rec := storage.HourlyRecord{
			PoolID:    poolID,
			Hour:      hour,
			TVL:       decimal.NewFromFloat(tvl),
			Volume24h: decimal.NewFromInt(50_000),
			ReserveA:  decimal.NewFromFloat(tvl / 2),
			ReserveB:  decimal.NewFromFloat(tvl / 2),
			Source:    "test",
		}
		if err := records.UpsertHourlyRecord(context.Background(), rec); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
}

func TestCollectOnceIdempotentUpsert(t *testing.T) {
	records := newMemRecords()
	hour := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{observedAt: hour.Add(25 * time.Minute), tvl: decimal.NewFromInt(1_000_000)}
	pools := []ingest.Pool{{ID: "pool-1"}}

	svc := newService(records, &memHistory{}, nil, fixedScorer{probability: 0.1}, fetcher, pools)

	if err := svc.CollectOnce(context.Background()); err != nil {
		t.Fatalf("first collect: %v", err)
	}

	// second collection in the same hour must update, not duplicate
	fetcher.tvl = decimal.NewFromInt(900_000)
	fetcher.observedAt = hour.Add(45 * time.Minute)
	if err := svc.CollectOnce(context.Background()); err != nil {
		t.Fatalf("second collect: %v", err)
	}

	count, err := records.CountPoolRecords(context.Background(), "pool-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record for the hour, got %d", count)
	}

	stored, err := records.ListPoolRecordsBetween(context.Background(), "pool-1", hour, hour)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 || !stored[0].TVL.Equal(decimal.NewFromInt(900_000)) {
		t.Fatalf("second write should win: %#v", stored)
	}
}

func TestScoreCycleFullPipeline(t *testing.T) {
	records := newMemRecords()
	history := &memHistory{}
	alerts := &memAlerts{}
	asOf := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	seedDecline(t, records, "pool-1", asOf)

	svc := newService(records, history, alerts, fixedScorer{probability: 0.75}, nil, nil)

	result, err := svc.ScoreCycle(context.Background(), asOf)
	if err != nil {
		t.Fatalf("ScoreCycle: %v", err)
	}
	if result.Scored != 1 || result.Skipped != 0 {
		t.Fatalf("unexpected cycle result: %#v", result)
	}

	latest, err := history.LatestAssessment(context.Background(), "pool-1")
	if err != nil || latest == nil {
		t.Fatalf("assessment should be stored: %v", err)
	}
	if latest.RiskLevel != scoring.LevelHigh {
		t.Fatalf("75+ boosted score should be HIGH, got %s (%.2f)", latest.RiskLevel, latest.RiskScore)
	}
	if latest.ModelVersion != "v2.0_predictive" || latest.Horizon != "24h" {
		t.Fatalf("assessment should carry model metadata: %#v", latest)
	}
	if latest.EarlyWarningScore == nil {
		t.Fatal("early warning score should be populated for a full window")
	}

	if result.Alerts == 0 || len(alerts.rows) == 0 {
		t.Fatal("a HIGH assessment should emit at least one alert")
	}
}

func TestScoreCycleScorerUnavailable(t *testing.T) {
	records := newMemRecords()
	history := &memHistory{}
	asOf := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	seedDecline(t, records, "pool-1", asOf)

	svc := newService(records, history, nil, fixedScorer{err: scoring.ErrScorerUnavailable}, nil, nil)

	result, err := svc.ScoreCycle(context.Background(), asOf)
	if err != nil {
		t.Fatalf("cycle should not fail when one pool is skipped: %v", err)
	}
	if result.Scored != 0 || result.Skipped != 1 {
		t.Fatalf("pool should be skipped: %#v", result)
	}
	if len(history.rows) != 0 {
		t.Fatal("no assessment should be stored when the scorer is unavailable")
	}
}

func TestScoreCycleEmptyStore(t *testing.T) {
	svc := newService(newMemRecords(), &memHistory{}, nil, fixedScorer{probability: 0.5}, nil, nil)

	result, err := svc.ScoreCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ScoreCycle: %v", err)
	}
	if result.Scored != 0 || result.Skipped != 0 {
		t.Fatalf("empty store should score nothing: %#v", result)
	}
}
