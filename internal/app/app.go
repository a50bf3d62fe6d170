package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/alerting"
	"pool-risk-alerts/internal/config"
	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/ingest"
	"pool-risk-alerts/internal/scoring"
	"pool-risk-alerts/internal/service"
	"pool-risk-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) ingestPools() ([]ingest.Pool, error) {
	pools := make([]ingest.Pool, 0, len(a.Config.Ingest.Pools))
	for _, pc := range a.Config.Ingest.Pools {
		profile, err := ingest.ParseProfile(pc.Profile)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", pc.ID, err)
		}
		pools = append(pools, ingest.Pool{ID: pc.ID, Address: pc.Address, Profile: profile})
	}
	return pools, nil
}

// newFetcher returns the chain fetcher when RPC is configured, otherwise the
// synthetic generator so the pipeline stays exercisable without a node.
func (a *App) newFetcher() ingest.Fetcher {
	if a.Config.Ingest.RPCURL != "" {
		return ingest.NewChainFetcher(ingest.ChainOptions{
			RPCURL:  a.Config.Ingest.RPCURL,
			Timeout: a.Config.Ingest.RequestTimeout,
		}, a.Logger)
	}
	a.Logger.Warn().Msg("ingest.rpc_url not configured; using synthetic observations")
	return ingest.NewSyntheticFetcher(ingest.NewGenerator(time.Now().UnixNano()))
}

func (a *App) newScorer() scoring.Scorer {
	return scoring.NewHTTPScorer(scoring.HTTPOptions{
		BaseURL:   a.Config.Scorer.BaseURL,
		Timeout:   a.Config.Scorer.RequestTimeout,
		UserAgent: a.Config.Scorer.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) alertRules() alerting.Rules {
	cfg := a.Config.Alerting
	return alerting.Rules{
		HighRiskScore:         cfg.HighRiskScore,
		EarlyWarningScore:     cfg.EarlyWarningScore,
		EarlyWarningMinRisk:   cfg.EarlyWarningMinRisk,
		SpikeDelta:            cfg.SpikeDelta,
		DedupWindow:           cfg.DedupWindow,
		EscalationTransitions: cfg.EscalationTransitions,
	}
}

func (a *App) newFeatureEngine(store storage.HourlyRecordStore) *features.Engine {
	return features.New(store, a.Config.Features.Weights, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store) (*service.Service, error) {
	pools, err := a.ingestPools()
	if err != nil {
		return nil, err
	}

	alertEngine := alerting.NewEngine(store, a.newNotifier(), a.alertRules(), a.Logger)
	svc := service.New(
		a.Config,
		store,
		store,
		a.newFeatureEngine(store),
		a.newScorer(),
		alertEngine,
		a.newFetcher(),
		pools,
		a.Logger,
	)
	return svc, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}

	a.Logger.Info().Msg("starting pool risk monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pool risk monitoring service stopped")
	return nil
}

// CollectOnce runs a single collection cycle and exits.
func (a *App) CollectOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	return svc.CollectOnce(ctx)
}

// ScoreOnce runs a single scoring cycle and exits.
func (a *App) ScoreOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	return svc.ScoreOnce(ctx)
}

// SeedOptions configure historical backfill with synthetic data.
type SeedOptions struct {
	Hours     int
	Seed      int64
	ForceRisk bool
	Reset     bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	AlertLimit int
}

// ExportOptions hold parameters for exporting a pool's risk history.
type ExportOptions struct {
	PoolID    string
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// TrainingExportOptions configure the training-table export.
type TrainingExportOptions struct {
	OutPath string
}
