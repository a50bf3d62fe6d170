package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"pool-risk-alerts/internal/simulate"
)

// Simulate runs a what-if scenario against a pool's latest feature state and
// prints the report as JSON. Nothing is persisted.
func (a *App) Simulate(ctx context.Context, poolID string, overrides simulate.Overrides) error {
	if poolID == "" {
		return errors.New("--pool is required")
	}
	if overrides.Empty() {
		return errors.New("at least one override must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := simulate.NewEngine(
		a.newFeatureEngine(store),
		store,
		a.newScorer(),
		a.Config.Scorer.Boosts,
		a.alertRules(),
		a.Logger,
	)

	result, err := engine.Simulate(ctx, poolID, time.Now().UTC(), overrides)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}
