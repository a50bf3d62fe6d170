package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.App.Name != "poolwatcher" {
		t.Errorf("app.name = %s", cfg.App.Name)
	}
	if cfg.Jobs.CollectionSpec != "0 * * * *" || cfg.Jobs.ScoringSpec != "10 * * * *" {
		t.Errorf("unexpected job specs %q %q", cfg.Jobs.CollectionSpec, cfg.Jobs.ScoringSpec)
	}
	if cfg.Alerting.DedupWindow != time.Hour {
		t.Errorf("dedup window = %s", cfg.Alerting.DedupWindow)
	}
	if cfg.Scorer.Boosts.DeclineFloorBase != 65 {
		t.Errorf("decline floor base = %f", cfg.Scorer.Boosts.DeclineFloorBase)
	}
	if len(cfg.Alerting.EscalationTransitions) != 3 {
		t.Errorf("escalation transitions = %v", cfg.Alerting.EscalationTransitions)
	}
	if len(cfg.TrainingHorizons()) != 2 {
		t.Errorf("training horizons = %v", cfg.TrainingHorizons())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
jobs:
  scoring_workers: 8
ingest:
  pools:
    - id: usdc-weth
      address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
      profile: mixed
alerting:
  spike_delta: 25
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Jobs.ScoringWorkers != 8 {
		t.Errorf("scoring workers = %d", cfg.Jobs.ScoringWorkers)
	}
	if len(cfg.Ingest.Pools) != 1 || cfg.Ingest.Pools[0].ID != "usdc-weth" {
		t.Errorf("pools = %+v", cfg.Ingest.Pools)
	}
	if cfg.Alerting.SpikeDelta != 25 {
		t.Errorf("spike delta = %f", cfg.Alerting.SpikeDelta)
	}
	// Untouched keys keep their defaults.
	if cfg.Alerting.HighRiskScore != 65 {
		t.Errorf("high risk score = %f", cfg.Alerting.HighRiskScore)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing scoring spec", func(c *Config) { c.Jobs.ScoringSpec = "" }},
		{"zero workers", func(c *Config) { c.Jobs.ScoringWorkers = 0 }},
		{"zero dedup window", func(c *Config) { c.Alerting.DedupWindow = 0 }},
		{"train ratio one", func(c *Config) { c.Training.TrainRatio = 1 }},
		{"telegram without token", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "42"
		}},
		{"malformed transition", func(c *Config) {
			c.Alerting.EscalationTransitions = []string{"LOW-HIGH"}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
