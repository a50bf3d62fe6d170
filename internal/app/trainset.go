package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/labels"
)

func featureNames() []string {
	return features.Names[:]
}

// ExportTraining writes the flat training table: one row per (pool, hour)
// with the ten features plus one label column per horizon. The class-weight
// ratio for the primary horizon is logged for the external trainer.
func (a *App) ExportTraining(ctx context.Context, opts TrainingExportOptions) error {
	if opts.OutPath == "" {
		return errors.New("--out is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	poolIDs, err := store.DistinctPoolIDs(ctx)
	if err != nil {
		return err
	}
	if len(poolIDs) == 0 {
		return errors.New("no pool history available; run seed or collect first")
	}

	horizons := a.Config.TrainingHorizons()
	primary := horizons[len(horizons)-1].Name
	engine := a.newFeatureEngine(store)

	if err := ensureDir(opts.OutPath); err != nil {
		return err
	}
	file, err := os.Create(opts.OutPath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"pool_id", "hour"}
	header = append(header, featureNames()...)
	for _, h := range horizons {
		header = append(header, h.Name)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	var trainRows, testRows []labels.Row
	written := 0
	for _, poolID := range poolIDs {
		points, err := store.ListPoolPoints(ctx, poolID, time.Time{}, time.Now().UTC())
		if err != nil {
			return err
		}

		rows, err := labels.Generate(points, horizons)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			a.Logger.Warn().Str("pool_id", poolID).Int("points", len(points)).
				Msg("series shorter than the longest horizon, pool excluded")
			continue
		}

		snapshots := engine.ComputeSeries(poolID, points)
		for i, row := range rows {
			record := []string{poolID, row.Point.Hour.UTC().Format(time.RFC3339)}
			vector := snapshots[i].Vector()
			for _, value := range vector {
				record = append(record, strconv.FormatFloat(value, 'f', -1, 64))
			}
			for _, h := range horizons {
				record = append(record, strconv.Itoa(row.Labels[h.Name]))
			}
			if err := writer.Write(record); err != nil {
				return err
			}
			written++
		}
		// the split cut is per pool, along each pool's own timeline
		train, test := labels.Split(rows, a.Config.Training.TrainRatio)
		trainRows = append(trainRows, train...)
		testRows = append(testRows, test...)
	}

	weight := labels.PositiveClassWeight(trainRows, primary)

	a.Logger.Info().
		Int("pools", len(poolIDs)).
		Int("rows", written).
		Int("train_rows", len(trainRows)).
		Int("test_rows", len(testRows)).
		Str("primary_horizon", primary).
		Float64("positive_class_weight", weight).
		Msg("training table exported")
	fmt.Fprintf(os.Stdout, "wrote %d rows to %s (positive class weight for %s: %.4f)\n",
		written, opts.OutPath, primary, weight)
	return nil
}
