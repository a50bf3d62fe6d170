package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/alerting"
	"pool-risk-alerts/internal/config"
	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/ingest"
	"pool-risk-alerts/internal/scheduler"
	"pool-risk-alerts/internal/scoring"
	"pool-risk-alerts/internal/storage"
)

// Service orchestrates collection, scoring, and alerting for all pools.
type Service struct {
	records  storage.HourlyRecordStore
	history  storage.RiskHistoryStore
	features *features.Engine
	scorer   scoring.Scorer
	boosts   scoring.BoostPolicy
	alerts   *alerting.Engine
	fetcher  ingest.Fetcher
	pools    []ingest.Pool
	logger   zerolog.Logger

	collectGuard *scheduler.Guard
	scoreGuard   *scheduler.Guard
	locker       storage.AdvisoryLocker

	collectionSpec    string
	scoringSpec       string
	collectionLockKey int64
	scoringLockKey    int64
	workers           int
	modelVersion      string
	horizon           string
}

// New constructs the monitoring service.
func New(cfg *config.Config, records storage.HourlyRecordStore, history storage.RiskHistoryStore, featureEngine *features.Engine, scorer scoring.Scorer, alerts *alerting.Engine, fetcher ingest.Fetcher, pools []ingest.Pool, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := records.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		records:           records,
		history:           history,
		features:          featureEngine,
		scorer:            scorer,
		boosts:            cfg.Scorer.Boosts,
		alerts:            alerts,
		fetcher:           fetcher,
		pools:             pools,
		logger:            logger.With().Str("component", "service").Logger(),
		collectGuard:      scheduler.NewGuard("collection"),
		scoreGuard:        scheduler.NewGuard("scoring"),
		locker:            locker,
		collectionSpec:    cfg.Jobs.CollectionSpec,
		scoringSpec:       cfg.Jobs.ScoringSpec,
		collectionLockKey: cfg.Jobs.CollectionLockKey,
		scoringLockKey:    cfg.Jobs.ScoringLockKey,
		workers:           cfg.Jobs.ScoringWorkers,
		modelVersion:      cfg.Scorer.ModelVersion,
		horizon:           cfg.Scorer.Horizon,
	}
}

// Run schedules both job categories and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	runner := scheduler.NewRunner(s.logger)
	if err := runner.Add(ctx, s.collectionSpec, "collection", s.CollectOnce); err != nil {
		return err
	}
	if err := runner.Add(ctx, s.scoringSpec, "scoring", s.ScoreOnce); err != nil {
		return err
	}

	runner.Start()
	defer runner.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// CollectOnce runs one collection cycle: fetch every pool, floor to the hour,
// upsert. Overlapping invocations are skipped, and per-pool failures never
// abort the rest of the cycle.
func (s *Service) CollectOnce(ctx context.Context) error {
	release, proceed, err := s.acquire(ctx, s.collectGuard, s.collectionLockKey)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	defer release()

	collected := 0
	for _, pool := range s.pools {
		obs, err := s.fetcher.Fetch(ctx, pool)
		if err != nil {
			s.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("fetch observation failed")
			continue
		}

		record := storage.HourlyRecord{
			PoolID:    obs.PoolID,
			Hour:      obs.ObservedAt.UTC().Truncate(time.Hour),
			TVL:       obs.TVL,
			Volume24h: obs.Volume24h,
			ReserveA:  obs.ReserveA,
			ReserveB:  obs.ReserveB,
			Source:    obs.Source,
		}
		if err := s.records.UpsertHourlyRecord(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("upsert hourly record failed")
			continue
		}
		collected++
	}

	s.logger.Info().
		Int("pools", len(s.pools)).
		Int("collected", collected).
		Msg("collection cycle complete")
	return nil
}

// CycleResult summarises one scoring cycle.
type CycleResult struct {
	Scored  int
	Skipped int
	Alerts  int
}

// ScoreOnce runs one scoring cycle across every pool with history. Pools are
// scored in parallel; a pool whose scorer call fails is skipped for the cycle.
func (s *Service) ScoreOnce(ctx context.Context) error {
	_, err := s.ScoreCycle(ctx, time.Now().UTC())
	return err
}

// ScoreCycle scores every pool as of the given instant.
func (s *Service) ScoreCycle(ctx context.Context, asOf time.Time) (CycleResult, error) {
	release, proceed, err := s.acquire(ctx, s.scoreGuard, s.scoringLockKey)
	if err != nil {
		return CycleResult{}, err
	}
	if !proceed {
		return CycleResult{}, nil
	}
	defer release()

	poolIDs, err := s.records.DistinctPoolIDs(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list pools: %w", err)
	}
	if len(poolIDs) == 0 {
		s.logger.Info().Msg("no pools with history, nothing to score")
		return CycleResult{}, nil
	}

	workers := s.workers
	if workers <= 0 {
		workers = 1
	}
	workerPool := pond.NewPool(workers, pond.WithQueueSize(len(poolIDs)))
	defer workerPool.StopAndWait()

	group := workerPool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var scored, skipped, alerts atomic.Int32
	for _, poolID := range poolIDs {
		id := poolID
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			emitted, err := s.scorePool(groupCtx, id, asOf)
			switch {
			case errors.Is(err, scoring.ErrScorerUnavailable):
				s.logger.Warn().Err(err).Str("pool_id", id).Msg("scorer unavailable, pool skipped this cycle")
				skipped.Add(1)
			case err != nil:
				s.logger.Error().Err(err).Str("pool_id", id).Msg("scoring failed, pool skipped this cycle")
				skipped.Add(1)
			default:
				scored.Add(1)
				alerts.Add(int32(emitted))
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return CycleResult{}, err
	}

	result := CycleResult{
		Scored:  int(scored.Load()),
		Skipped: int(skipped.Load()),
		Alerts:  int(alerts.Load()),
	}
	s.logger.Info().
		Int("scored", result.Scored).
		Int("skipped", result.Skipped).
		Int("alerts", result.Alerts).
		Time("as_of", asOf).
		Msg("scoring cycle complete")
	return result, nil
}

func (s *Service) scorePool(ctx context.Context, poolID string, asOf time.Time) (int, error) {
	snapshot, err := s.features.Compute(ctx, poolID, asOf)
	if err != nil {
		return 0, fmt.Errorf("compute features: %w", err)
	}
	vector := snapshot.Vector()

	probability, attributions, err := s.scorer.Predict(ctx, vector)
	if err != nil {
		return 0, err
	}
	score := s.boosts.Apply(scoring.ScoreFromProbability(probability), vector)

	previous, err := s.history.PreviousAssessment(ctx, poolID, asOf)
	if err != nil {
		return 0, fmt.Errorf("previous assessment: %w", err)
	}

	assessment := storage.RiskAssessment{
		PoolID:            poolID,
		RiskScore:         score,
		RiskLevel:         scoring.LevelFor(score),
		EarlyWarningScore: snapshot.EarlyWarningScore,
		TopReasons:        attributions,
		ModelVersion:      s.modelVersion,
		Horizon:           s.horizon,
		ProducedAt:        asOf,
	}
	assessment, err = s.history.InsertAssessment(ctx, assessment)
	if err != nil {
		return 0, fmt.Errorf("insert assessment: %w", err)
	}

	if s.alerts == nil {
		return 0, nil
	}
	emitted, err := s.alerts.Evaluate(ctx, assessment, previous)
	if err != nil {
		return len(emitted), fmt.Errorf("evaluate alerts: %w", err)
	}
	return len(emitted), nil
}

// acquire combines the in-process guard with the cross-process advisory lock.
func (s *Service) acquire(ctx context.Context, guard *scheduler.Guard, lockKey int64) (func(), bool, error) {
	if !guard.TryAcquire() {
		s.logger.Debug().Str("job", guard.Name()).Msg("skip run, previous invocation still in flight")
		return nil, false, nil
	}

	if s.locker == nil || lockKey == 0 {
		return guard.Release, true, nil
	}

	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, lockKey)
	if err != nil {
		guard.Release()
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		guard.Release()
		s.logger.Debug().Str("job", guard.Name()).Msg("skip run, advisory lock held elsewhere")
		return nil, false, nil
	}

	return func() {
		unlock()
		guard.Release()
	}, true, nil
}
