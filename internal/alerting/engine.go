package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/scoring"
	"pool-risk-alerts/internal/storage"
)

const (
	AlertTypeHighRisk       = "HIGH_RISK"
	AlertTypeEarlyWarning   = "EARLY_WARNING"
	AlertTypeRiskEscalation = "RISK_ESCALATION"
	AlertTypeRiskSpike      = "RISK_SPIKE"
)

// Rules holds the thresholds that decide when an assessment becomes an alert.
type Rules struct {
	HighRiskScore         float64
	EarlyWarningScore     float64
	EarlyWarningMinRisk   float64
	SpikeDelta            float64
	DedupWindow           time.Duration
	EscalationTransitions []string
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{
		HighRiskScore:       65,
		EarlyWarningScore:   40,
		EarlyWarningMinRisk: 20,
		SpikeDelta:          30,
		DedupWindow:         time.Hour,
		EscalationTransitions: []string{
			"LOW->MEDIUM",
			"LOW->HIGH",
			"MEDIUM->HIGH",
		},
	}
}

// Engine evaluates assessments against the alert rules, persists emissions,
// and pushes notifications.
type Engine struct {
	store       storage.AlertStore
	notifier    Notifier
	rules       Rules
	escalations map[string]struct{}
	logger      zerolog.Logger
}

// NewEngine builds an alert engine. notifier may be nil when delivery is not
// configured; alerts are still persisted.
func NewEngine(store storage.AlertStore, notifier Notifier, rules Rules, logger zerolog.Logger) *Engine {
	if rules.DedupWindow <= 0 {
		rules.DedupWindow = time.Hour
	}
	escalations := make(map[string]struct{}, len(rules.EscalationTransitions))
	for _, transition := range rules.EscalationTransitions {
		escalations[strings.TrimSpace(transition)] = struct{}{}
	}

	return &Engine{
		store:       store,
		notifier:    notifier,
		rules:       rules,
		escalations: escalations,
		logger:      logger.With().Str("component", "alert_engine").Logger(),
	}
}

// Evaluate applies every rule to the assessment and returns the alerts that
// were actually emitted after deduplication. previous may be nil when the pool
// has no earlier assessment; the escalation and spike rules then stay silent.
func (e *Engine) Evaluate(ctx context.Context, current storage.RiskAssessment, previous *storage.RiskAssessment) ([]storage.AlertRecord, error) {
	candidates := e.collect(current, previous)
	if len(candidates) == 0 {
		return nil, nil
	}

	emitted := make([]storage.AlertRecord, 0, len(candidates))
	cutoff := current.ProducedAt.Add(-e.rules.DedupWindow)
	for _, candidate := range candidates {
		recent, err := e.store.HasRecentAlert(ctx, candidate.PoolID, candidate.AlertType, cutoff)
		if err != nil {
			return emitted, fmt.Errorf("check recent alert: %w", err)
		}
		if recent {
			e.logger.Debug().
				Str("pool_id", candidate.PoolID).
				Str("alert_type", candidate.AlertType).
				Msg("suppress duplicate alert inside dedup window")
			continue
		}

		stored, err := e.store.InsertAlert(ctx, candidate)
		if err != nil {
			return emitted, fmt.Errorf("insert alert: %w", err)
		}
		emitted = append(emitted, stored)

		e.logger.Info().
			Str("pool_id", stored.PoolID).
			Str("alert_type", stored.AlertType).
			Float64("risk_score", stored.RiskScore).
			Msg("alert emitted")

		if e.notifier == nil {
			continue
		}
		if err := e.notifier.Notify(ctx, stored); err != nil {
			// delivery failures must not abort the scoring cycle
			e.logger.Warn().Err(err).
				Str("pool_id", stored.PoolID).
				Str("alert_type", stored.AlertType).
				Msg("alert notification failed")
		}
	}
	return emitted, nil
}

func (e *Engine) collect(current storage.RiskAssessment, previous *storage.RiskAssessment) []storage.AlertRecord {
	candidates := make([]storage.AlertRecord, 0, 4)

	base := storage.AlertRecord{
		PoolID:     current.PoolID,
		RiskScore:  current.RiskScore,
		RiskLevel:  current.RiskLevel,
		TopReasons: current.TopReasons,
		Status:     storage.AlertStatusActive,
	}
	driver := primaryDriver(current.TopReasons)

	if current.RiskScore >= e.rules.HighRiskScore {
		alert := base
		alert.AlertType = AlertTypeHighRisk
		alert.Message = fmt.Sprintf("Pool %s crash risk is %s with score %.2f. Primary driver: %s.",
			current.PoolID, current.RiskLevel, current.RiskScore, driver)
		candidates = append(candidates, alert)
	}

	if current.EarlyWarningScore != nil &&
		*current.EarlyWarningScore >= e.rules.EarlyWarningScore &&
		current.RiskScore >= e.rules.EarlyWarningMinRisk {
		alert := base
		alert.AlertType = AlertTypeEarlyWarning
		alert.Message = fmt.Sprintf("Pool %s early warning score %.2f with risk score %.2f. Primary driver: %s.",
			current.PoolID, *current.EarlyWarningScore, current.RiskScore, driver)
		candidates = append(candidates, alert)
	}

	if previous != nil {
		transition := fmt.Sprintf("%s->%s", previous.RiskLevel, current.RiskLevel)
		if _, ok := e.escalations[transition]; ok {
			alert := base
			alert.AlertType = AlertTypeRiskEscalation
			prevLevel := previous.RiskLevel
			prevScore := previous.RiskScore
			alert.PreviousRiskLevel = &prevLevel
			alert.PreviousRiskScore = &prevScore
			alert.Message = fmt.Sprintf("Pool %s risk escalated %s -> %s with score %.2f. Primary driver: %s.",
				current.PoolID, previous.RiskLevel, current.RiskLevel, current.RiskScore, driver)
			candidates = append(candidates, alert)
		}

		delta := current.RiskScore - previous.RiskScore
		if delta >= e.rules.SpikeDelta {
			alert := base
			alert.AlertType = AlertTypeRiskSpike
			prevLevel := previous.RiskLevel
			prevScore := previous.RiskScore
			alert.PreviousRiskLevel = &prevLevel
			alert.PreviousRiskScore = &prevScore
			alert.Message = fmt.Sprintf("Pool %s risk score jumped %.2f -> %.2f (+%.2f). Primary driver: %s.",
				current.PoolID, previous.RiskScore, current.RiskScore, delta, driver)
			candidates = append(candidates, alert)
		}
	}

	return candidates
}

func primaryDriver(reasons []scoring.Attribution) string {
	if len(reasons) == 0 {
		return "unknown"
	}
	return reasons[0].Feature
}
