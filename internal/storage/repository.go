package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/scoring"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertHourlyRecordSQL = `INSERT INTO hourly_records (
        pool_id,
        hour,
        tvl,
        volume_24h,
        reserve_a,
        reserve_b,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (pool_id, hour) DO UPDATE
    SET
        tvl        = EXCLUDED.tvl,
        volume_24h = EXCLUDED.volume_24h,
        reserve_a  = EXCLUDED.reserve_a,
        reserve_b  = EXCLUDED.reserve_b,
        source     = EXCLUDED.source;`

	listPoolRecordsBetweenSQL = `SELECT
        pool_id, hour, tvl, volume_24h, reserve_a, reserve_b, source, created_at
    FROM hourly_records
    WHERE pool_id = $1
      AND hour >= $2
      AND hour <= $3
    ORDER BY hour;`

	distinctPoolIDsSQL = `SELECT DISTINCT pool_id FROM hourly_records ORDER BY pool_id;`

	countPoolRecordsSQL = `SELECT COUNT(*) FROM hourly_records WHERE pool_id = $1;`

	deletePoolRecordsSQL = `DELETE FROM hourly_records WHERE pool_id = $1;`

	insertAssessmentSQL = `INSERT INTO risk_history (
        pool_id,
        risk_score,
        risk_level,
        early_warning_score,
        top_reasons,
        model_version,
        horizon,
        produced_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	latestAssessmentSQL = `SELECT
        id, pool_id, risk_score, risk_level, early_warning_score,
        top_reasons, model_version, horizon, produced_at
    FROM risk_history
    WHERE pool_id = $1
    ORDER BY produced_at DESC
    LIMIT 1;`

	previousAssessmentSQL = `SELECT
        id, pool_id, risk_score, risk_level, early_warning_score,
        top_reasons, model_version, horizon, produced_at
    FROM risk_history
    WHERE pool_id = $1
      AND produced_at < $2
    ORDER BY produced_at DESC
    LIMIT 1;`

	listPoolAssessmentsBetweenSQL = `SELECT
        id, pool_id, risk_score, risk_level, early_warning_score,
        top_reasons, model_version, horizon, produced_at
    FROM risk_history
    WHERE pool_id = $1
      AND produced_at >= $2
      AND produced_at <= $3
    ORDER BY produced_at;`

	listRecentAssessmentsSQL = `SELECT DISTINCT ON (pool_id)
        id, pool_id, risk_score, risk_level, early_warning_score,
        top_reasons, model_version, horizon, produced_at
    FROM risk_history
    ORDER BY pool_id, produced_at DESC;`

	insertAlertSQL = `INSERT INTO alerts (
        pool_id,
        alert_type,
        risk_score,
        risk_level,
        message,
        top_reasons,
        status,
        previous_risk_level,
        previous_risk_score
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id, created_at;`

	hasRecentAlertSQL = `SELECT EXISTS (
        SELECT 1 FROM alerts
        WHERE pool_id = $1
          AND alert_type = $2
          AND status = 'active'
          AND created_at >= $3
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HourlyRecordStore defines operations for hourly metric persistence.
type HourlyRecordStore interface {
	UpsertHourlyRecord(ctx context.Context, rec HourlyRecord) error
	ListPoolRecordsBetween(ctx context.Context, poolID string, from, to time.Time) ([]HourlyRecord, error)
	ListPoolPoints(ctx context.Context, poolID string, from, to time.Time) ([]features.Point, error)
	DistinctPoolIDs(ctx context.Context) ([]string, error)
	CountPoolRecords(ctx context.Context, poolID string) (int64, error)
	DeletePoolRecords(ctx context.Context, poolID string) error
}

// RiskHistoryStore defines operations for assessment persistence.
type RiskHistoryStore interface {
	InsertAssessment(ctx context.Context, a RiskAssessment) (RiskAssessment, error)
	LatestAssessment(ctx context.Context, poolID string) (*RiskAssessment, error)
	PreviousAssessment(ctx context.Context, poolID string, before time.Time) (*RiskAssessment, error)
	ListPoolAssessmentsBetween(ctx context.Context, poolID string, from, to time.Time) ([]RiskAssessment, error)
	ListLatestAssessments(ctx context.Context) ([]RiskAssessment, error)
}

// AlertStore defines operations for alert persistence and deduplication.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	HasRecentAlert(ctx context.Context, poolID, alertType string, since time.Time) (bool, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers for cross-process job guards.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to hourly records, risk history, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertHourlyRecord persists or updates the hourly bucket for (pool, hour).
func (s *Store) UpsertHourlyRecord(ctx context.Context, rec HourlyRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertHourlyRecordSQL,
		rec.PoolID,
		rec.Hour,
		rec.TVL.String(),
		rec.Volume24h.String(),
		rec.ReserveA.String(),
		rec.ReserveB.String(),
		rec.Source,
	)
	if execErr != nil {
		return fmt.Errorf("upsert hourly record: %w", execErr)
	}
	return nil
}

// ListPoolRecordsBetween lists a pool's records with hour in [from, to].
func (s *Store) ListPoolRecordsBetween(ctx context.Context, poolID string, from, to time.Time) ([]HourlyRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPoolRecordsBetweenSQL, poolID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list pool records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]HourlyRecord, 0)
	for rows.Next() {
		rec, scanErr := scanHourlyRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListPoolPoints is the float view of ListPoolRecordsBetween consumed by the
// feature engine.
func (s *Store) ListPoolPoints(ctx context.Context, poolID string, from, to time.Time) ([]features.Point, error) {
	records, err := s.ListPoolRecordsBetween(ctx, poolID, from, to)
	if err != nil {
		return nil, err
	}
	points := make([]features.Point, len(records))
	for i, rec := range records {
		points[i] = rec.Point()
	}
	return points, nil
}

// DistinctPoolIDs lists every pool with at least one hourly record.
func (s *Store) DistinctPoolIDs(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, distinctPoolIDsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("distinct pool ids: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// CountPoolRecords counts stored hourly records for a pool.
func (s *Store) CountPoolRecords(ctx context.Context, poolID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPoolRecordsSQL, poolID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count pool records: %w", scanErr)
	}
	return count, nil
}

// DeletePoolRecords removes every hourly record for a pool (explicit reset).
func (s *Store) DeletePoolRecords(ctx context.Context, poolID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deletePoolRecordsSQL, poolID); execErr != nil {
		return fmt.Errorf("delete pool records: %w", execErr)
	}
	return nil
}

// InsertAssessment appends one immutable risk assessment.
func (s *Store) InsertAssessment(ctx context.Context, a RiskAssessment) (RiskAssessment, error) {
	pool, err := s.getPool()
	if err != nil {
		return RiskAssessment{}, err
	}

	reasons, err := json.Marshal(a.TopReasons)
	if err != nil {
		return RiskAssessment{}, fmt.Errorf("marshal top reasons: %w", err)
	}

	var ews interface{}
	if a.EarlyWarningScore != nil {
		ews = *a.EarlyWarningScore
	}

	row := pool.QueryRow(ctx, insertAssessmentSQL,
		a.PoolID,
		a.RiskScore,
		string(a.RiskLevel),
		ews,
		reasons,
		a.ModelVersion,
		a.Horizon,
		a.ProducedAt,
	)
	if scanErr := row.Scan(&a.ID); scanErr != nil {
		return RiskAssessment{}, fmt.Errorf("insert assessment: %w", scanErr)
	}
	return a, nil
}

// LatestAssessment returns the most recent assessment for a pool, or nil.
func (s *Store) LatestAssessment(ctx context.Context, poolID string) (*RiskAssessment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanOptionalAssessment(pool.QueryRow(ctx, latestAssessmentSQL, poolID))
}

// PreviousAssessment returns the most recent assessment produced strictly
// before the given instant, or nil.
func (s *Store) PreviousAssessment(ctx context.Context, poolID string, before time.Time) (*RiskAssessment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanOptionalAssessment(pool.QueryRow(ctx, previousAssessmentSQL, poolID, before))
}

// ListPoolAssessmentsBetween lists a pool's assessments in a window, oldest first.
func (s *Store) ListPoolAssessmentsBetween(ctx context.Context, poolID string, from, to time.Time) ([]RiskAssessment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPoolAssessmentsBetweenSQL, poolID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list pool assessments: %w", queryErr)
	}
	defer rows.Close()

	return collectAssessments(rows)
}

// ListLatestAssessments returns the newest assessment per pool.
func (s *Store) ListLatestAssessments(ctx context.Context) ([]RiskAssessment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAssessmentsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list latest assessments: %w", queryErr)
	}
	defer rows.Close()

	return collectAssessments(rows)
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	reasons, err := json.Marshal(alert.TopReasons)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("marshal top reasons: %w", err)
	}

	var prevLevel, prevScore interface{}
	if alert.PreviousRiskLevel != nil {
		prevLevel = string(*alert.PreviousRiskLevel)
	}
	if alert.PreviousRiskScore != nil {
		prevScore = *alert.PreviousRiskScore
	}

	status := alert.Status
	if status == "" {
		status = AlertStatusActive
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.PoolID,
		alert.AlertType,
		alert.RiskScore,
		string(alert.RiskLevel),
		alert.Message,
		reasons,
		status,
		prevLevel,
		prevScore,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	alert.Status = status
	return alert, nil
}

// HasRecentAlert reports whether an active alert of the given type exists for
// the pool created at or after the cutoff.
func (s *Store) HasRecentAlert(ctx context.Context, poolID, alertType string, since time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasRecentAlertSQL, poolID, alertType, since).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has recent alert: %w", scanErr)
	}
	return exists, nil
}

// ListAlerts lists alerts newest-first, optionally filtered by pool and status.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := `SELECT
        id, pool_id, alert_type, risk_score, risk_level, message,
        top_reasons, status, previous_risk_level, previous_risk_score, created_at
    FROM alerts`
	args := make([]interface{}, 0, 3)
	where := ""
	appendCond := func(cond string, val interface{}) {
		args = append(args, val)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}
	if filter.PoolID != "" {
		appendCond("pool_id = $%d", filter.PoolID)
	}
	if filter.Status != "" {
		appendCond("status = $%d", filter.Status)
	}
	query += where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		rec, scanErr := scanAlertRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanHourlyRecord(rows pgx.Rows) (HourlyRecord, error) {
	var (
		rec                                    HourlyRecord
		tvlStr, volStr, reserveAStr, reserveBStr string
	)

	if err := rows.Scan(
		&rec.PoolID,
		&rec.Hour,
		&tvlStr,
		&volStr,
		&reserveAStr,
		&reserveBStr,
		&rec.Source,
		&rec.CreatedAt,
	); err != nil {
		return HourlyRecord{}, err
	}

	var err error
	if rec.TVL, err = decimal.NewFromString(tvlStr); err != nil {
		return HourlyRecord{}, fmt.Errorf("parse tvl: %w", err)
	}
	if rec.Volume24h, err = decimal.NewFromString(volStr); err != nil {
		return HourlyRecord{}, fmt.Errorf("parse volume: %w", err)
	}
	if rec.ReserveA, err = decimal.NewFromString(reserveAStr); err != nil {
		return HourlyRecord{}, fmt.Errorf("parse reserve a: %w", err)
	}
	if rec.ReserveB, err = decimal.NewFromString(reserveBStr); err != nil {
		return HourlyRecord{}, fmt.Errorf("parse reserve b: %w", err)
	}

	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (RiskAssessment, error) {
	var (
		a          RiskAssessment
		level      string
		ews        sql.NullFloat64
		reasonsRaw []byte
	)

	if err := row.Scan(
		&a.ID,
		&a.PoolID,
		&a.RiskScore,
		&level,
		&ews,
		&reasonsRaw,
		&a.ModelVersion,
		&a.Horizon,
		&a.ProducedAt,
	); err != nil {
		return RiskAssessment{}, err
	}

	a.RiskLevel = scoring.RiskLevel(level)
	if ews.Valid {
		value := ews.Float64
		a.EarlyWarningScore = &value
	}
	if len(reasonsRaw) > 0 {
		if err := json.Unmarshal(reasonsRaw, &a.TopReasons); err != nil {
			return RiskAssessment{}, fmt.Errorf("parse top reasons: %w", err)
		}
	}
	return a, nil
}

func scanOptionalAssessment(row pgx.Row) (*RiskAssessment, error) {
	a, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan assessment: %w", err)
	}
	return &a, nil
}

func collectAssessments(rows pgx.Rows) ([]RiskAssessment, error) {
	assessments := make([]RiskAssessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assessments, nil
}

func scanAlertRecord(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec        AlertRecord
		level      string
		reasonsRaw []byte
		prevLevel  sql.NullString
		prevScore  sql.NullFloat64
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.PoolID,
		&rec.AlertType,
		&rec.RiskScore,
		&level,
		&rec.Message,
		&reasonsRaw,
		&rec.Status,
		&prevLevel,
		&prevScore,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	rec.RiskLevel = scoring.RiskLevel(level)
	if len(reasonsRaw) > 0 {
		if err := json.Unmarshal(reasonsRaw, &rec.TopReasons); err != nil {
			return AlertRecord{}, fmt.Errorf("parse top reasons: %w", err)
		}
	}
	if prevLevel.Valid {
		lv := scoring.RiskLevel(prevLevel.String)
		rec.PreviousRiskLevel = &lv
	}
	if prevScore.Valid {
		v := prevScore.Float64
		rec.PreviousRiskScore = &v
	}
	return rec, nil
}
