package alerting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/scoring"
	"pool-risk-alerts/internal/storage"
)

type fakeAlertStore struct {
	inserted []storage.AlertRecord
	recent   map[string]bool
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{recent: make(map[string]bool)}
}

func (s *fakeAlertStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	alert.ID = int64(len(s.inserted) + 1)
	alert.CreatedAt = time.Now().UTC()
	s.inserted = append(s.inserted, alert)
	return alert, nil
}

func (s *fakeAlertStore) HasRecentAlert(_ context.Context, poolID, alertType string, _ time.Time) (bool, error) {
	return s.recent[poolID+"/"+alertType], nil
}

func (s *fakeAlertStore) ListAlerts(_ context.Context, _ storage.AlertFilter) ([]storage.AlertRecord, error) {
	return s.inserted, nil
}

type recordingNotifier struct {
	delivered []storage.AlertRecord
}

func (n *recordingNotifier) Notify(_ context.Context, alert storage.AlertRecord) error {
	n.delivered = append(n.delivered, alert)
	return nil
}

func assessment(poolID string, score float64, level scoring.RiskLevel, ews float64) storage.RiskAssessment {
	return storage.RiskAssessment{
		PoolID:            poolID,
		RiskScore:         score,
		RiskLevel:         level,
		EarlyWarningScore: &ews,
		TopReasons: []scoring.Attribution{
			{Feature: "tvl_change_6h", Impact: 0.42, Direction: "increases_risk"},
		},
		ProducedAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateHighRisk(t *testing.T) {
	store := newFakeAlertStore()
	notifier := &recordingNotifier{}
	engine := NewEngine(store, notifier, DefaultRules(), zerolog.Nop())

	emitted, err := engine.Evaluate(context.Background(), assessment("pool-1", 78.5, scoring.LevelHigh, 30), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(emitted))
	}
	if emitted[0].AlertType != AlertTypeHighRisk {
		t.Fatalf("expected HIGH_RISK, got %s", emitted[0].AlertType)
	}
	if !strings.Contains(emitted[0].Message, "tvl_change_6h") {
		t.Fatalf("message should name the primary driver: %q", emitted[0].Message)
	}
	if len(notifier.delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(notifier.delivered))
	}
}

func TestEvaluateEarlyWarningNeedsMinimumRisk(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, nil, DefaultRules(), zerolog.Nop())

	// ews above threshold but risk score below the floor
	emitted, err := engine.Evaluate(context.Background(), assessment("pool-1", 12, scoring.LevelLow, 55), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("expected no alerts, got %d", len(emitted))
	}

	emitted, err = engine.Evaluate(context.Background(), assessment("pool-1", 25, scoring.LevelLow, 55), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(emitted) != 1 || emitted[0].AlertType != AlertTypeEarlyWarning {
		t.Fatalf("expected EARLY_WARNING, got %#v", emitted)
	}
}

func TestEvaluateEscalationAndSpike(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, nil, DefaultRules(), zerolog.Nop())

	previous := assessment("pool-1", 20, scoring.LevelLow, 30)
	current := assessment("pool-1", 72, scoring.LevelHigh, 35)

	emitted, err := engine.Evaluate(context.Background(), current, &previous)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	types := make(map[string]storage.AlertRecord, len(emitted))
	for _, alert := range emitted {
		types[alert.AlertType] = alert
	}
	if _, ok := types[AlertTypeHighRisk]; !ok {
		t.Fatal("expected HIGH_RISK")
	}
	escalation, ok := types[AlertTypeRiskEscalation]
	if !ok {
		t.Fatal("expected RISK_ESCALATION for LOW->HIGH")
	}
	if escalation.PreviousRiskLevel == nil || *escalation.PreviousRiskLevel != scoring.LevelLow {
		t.Fatalf("escalation should carry previous level, got %#v", escalation.PreviousRiskLevel)
	}
	spike, ok := types[AlertTypeRiskSpike]
	if !ok {
		t.Fatal("expected RISK_SPIKE for a +52 delta")
	}
	if spike.PreviousRiskScore == nil || *spike.PreviousRiskScore != 20 {
		t.Fatalf("spike should carry previous score, got %#v", spike.PreviousRiskScore)
	}
}

func TestEvaluateNoEscalationOnDecrease(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, nil, DefaultRules(), zerolog.Nop())

	previous := assessment("pool-1", 72, scoring.LevelHigh, 30)
	current := assessment("pool-1", 40, scoring.LevelMedium, 30)

	emitted, err := engine.Evaluate(context.Background(), current, &previous)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("HIGH->MEDIUM should not alert, got %#v", emitted)
	}
}

func TestEvaluateDedup(t *testing.T) {
	store := newFakeAlertStore()
	store.recent["pool-1/"+AlertTypeHighRisk] = true
	engine := NewEngine(store, nil, DefaultRules(), zerolog.Nop())

	emitted, err := engine.Evaluate(context.Background(), assessment("pool-1", 90, scoring.LevelHigh, 10), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("duplicate inside dedup window should be suppressed, got %#v", emitted)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("suppressed alert must not be persisted")
	}
}

func TestEvaluateNoPreviousSkipsTransitionRules(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, nil, DefaultRules(), zerolog.Nop())

	emitted, err := engine.Evaluate(context.Background(), assessment("pool-1", 70, scoring.LevelHigh, 10), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for _, alert := range emitted {
		if alert.AlertType == AlertTypeRiskEscalation || alert.AlertType == AlertTypeRiskSpike {
			t.Fatalf("transition rule fired without a previous assessment: %s", alert.AlertType)
		}
	}
}
