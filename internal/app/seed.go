package app

import (
	"context"
	"errors"
	"time"

	"pool-risk-alerts/internal/ingest"
	"pool-risk-alerts/internal/storage"
)

// Seed backfills synthetic hourly history for every configured pool.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	if opts.Hours <= 0 {
		return errors.New("seed hours must be positive")
	}

	pools, err := a.ingestPools()
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		return errors.New("no pools configured under ingest.pools")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := ingest.NewGenerator(seed)
	end := time.Now().UTC()

	for _, pool := range pools {
		if opts.Reset {
			if err := store.DeletePoolRecords(ctx, pool.ID); err != nil {
				return err
			}
		}

		series := gen.Series(pool.ID, pool.Profile, opts.Hours, end, opts.ForceRisk)
		for _, obs := range series {
			record := storage.HourlyRecord{
				PoolID:    obs.PoolID,
				Hour:      obs.ObservedAt,
				TVL:       obs.TVL,
				Volume24h: obs.Volume24h,
				ReserveA:  obs.ReserveA,
				ReserveB:  obs.ReserveB,
				Source:    obs.Source,
			}
			if err := store.UpsertHourlyRecord(ctx, record); err != nil {
				return err
			}
		}

		a.Logger.Info().
			Str("pool_id", pool.ID).
			Str("profile", string(pool.Profile)).
			Int("hours", len(series)).
			Msg("pool seeded")
	}

	return nil
}
