package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pool-risk-alerts/internal/features"
	"pool-risk-alerts/internal/labels"
	"pool-risk-alerts/internal/logging"
	"pool-risk-alerts/internal/scoring"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Features   FeaturesConfig   `mapstructure:"features"`
	Scorer     ScorerConfig     `mapstructure:"scorer"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Training   TrainingConfig   `mapstructure:"training"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// JobsConfig governs the two scheduled job categories. Each job carries its
// own advisory lock key so overlapping invocations are skipped, not queued.
type JobsConfig struct {
	CollectionSpec    string `mapstructure:"collection_spec"`
	ScoringSpec       string `mapstructure:"scoring_spec"`
	CollectionLockKey int64  `mapstructure:"collection_lock_key"`
	ScoringLockKey    int64  `mapstructure:"scoring_lock_key"`
	ScoringWorkers    int    `mapstructure:"scoring_workers"`
}

// PoolConfig identifies one tracked liquidity pool.
type PoolConfig struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
	Profile string `mapstructure:"profile"`
}

// IngestConfig covers observation sources. With no RPC URL configured the
// collector falls back to the synthetic generator.
type IngestConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Pools          []PoolConfig  `mapstructure:"pools"`
}

// FeaturesConfig tunes the early-warning composite.
type FeaturesConfig struct {
	Weights features.Weights `mapstructure:"weights"`
}

// ScorerConfig captures model server connectivity.
type ScorerConfig struct {
	BaseURL        string              `mapstructure:"base_url"`
	RequestTimeout time.Duration       `mapstructure:"request_timeout"`
	UserAgent      string              `mapstructure:"user_agent"`
	ModelVersion   string              `mapstructure:"model_version"`
	Horizon        string              `mapstructure:"horizon"`
	Boosts         scoring.BoostPolicy `mapstructure:"boosts"`
}

// AlertingConfig defines alert thresholds, deduplication, and routing.
type AlertingConfig struct {
	HighRiskScore         float64        `mapstructure:"high_risk_score"`
	EarlyWarningScore     float64        `mapstructure:"early_warning_score"`
	EarlyWarningMinRisk   float64        `mapstructure:"early_warning_min_risk"`
	SpikeDelta            float64        `mapstructure:"spike_delta"`
	DedupWindow           time.Duration  `mapstructure:"dedup_window"`
	EscalationTransitions []string       `mapstructure:"escalation_transitions"`
	Telegram              TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the optional Telegram notification channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SimulationConfig bounds simulation overrides.
type SimulationConfig struct {
	MaxHistoryAge time.Duration `mapstructure:"max_history_age"`
}

// TrainingConfig drives the training-table export.
type TrainingConfig struct {
	TrainRatio float64          `mapstructure:"train_ratio"`
	Horizons   []labels.Horizon `mapstructure:"horizons"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "poolwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	// Collection on the hour, scoring ten minutes past.
	v.SetDefault("jobs.collection_spec", "0 * * * *")
	v.SetDefault("jobs.scoring_spec", "10 * * * *")
	v.SetDefault("jobs.collection_lock_key", int64(0x706f6f6c01))
	v.SetDefault("jobs.scoring_lock_key", int64(0x706f6f6c02))
	v.SetDefault("jobs.scoring_workers", 4)

	v.SetDefault("ingest.request_timeout", "10s")

	v.SetDefault("features.weights.tvl_change_6h", 0.15)
	v.SetDefault("features.weights.tvl_change_24h", 0.20)
	v.SetDefault("features.weights.tvl_acceleration", 0.20)
	v.SetDefault("features.weights.volume_spike_ratio", 0.15)
	v.SetDefault("features.weights.reserve_imbalance_rate", 0.10)
	v.SetDefault("features.weights.volatility_ratio", 0.20)

	v.SetDefault("scorer.request_timeout", "10s")
	v.SetDefault("scorer.user_agent", "poolwatcher/1.0")
	v.SetDefault("scorer.model_version", "v2.0_predictive")
	v.SetDefault("scorer.horizon", "24h")
	v.SetDefault("scorer.boosts.decline_floor_6h", -0.20)
	v.SetDefault("scorer.boosts.decline_floor_24h", -0.50)
	v.SetDefault("scorer.boosts.decline_floor_base", 65.0)
	v.SetDefault("scorer.boosts.decline_boost_cap", 30.0)
	v.SetDefault("scorer.boosts.decline_boost_scale", 40.0)
	v.SetDefault("scorer.boosts.accel_threshold", -0.05)
	v.SetDefault("scorer.boosts.accel_boost_cap", 20.0)
	v.SetDefault("scorer.boosts.accel_boost_scale", 200.0)
	v.SetDefault("scorer.boosts.ews_floor_threshold", 70.0)
	v.SetDefault("scorer.boosts.ews_floor_scale", 0.8)

	v.SetDefault("alerting.high_risk_score", 65.0)
	v.SetDefault("alerting.early_warning_score", 40.0)
	v.SetDefault("alerting.early_warning_min_risk", 20.0)
	v.SetDefault("alerting.spike_delta", 30.0)
	v.SetDefault("alerting.dedup_window", "1h")
	v.SetDefault("alerting.escalation_transitions", []string{
		"LOW->MEDIUM", "LOW->HIGH", "MEDIUM->HIGH",
	})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("simulation.max_history_age", "24h")

	v.SetDefault("training.train_ratio", 0.8)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Jobs.CollectionSpec == "" || c.Jobs.ScoringSpec == "" {
		return fmt.Errorf("jobs.collection_spec and jobs.scoring_spec are required")
	}
	if c.Jobs.ScoringWorkers <= 0 {
		return fmt.Errorf("jobs.scoring_workers must be greater than zero")
	}
	if c.Alerting.DedupWindow <= 0 {
		return fmt.Errorf("alerting.dedup_window must be greater than zero")
	}
	if c.Alerting.HighRiskScore <= 0 || c.Alerting.HighRiskScore > 100 {
		return fmt.Errorf("alerting.high_risk_score must be in (0, 100]")
	}
	if c.Training.TrainRatio <= 0 || c.Training.TrainRatio >= 1 {
		return fmt.Errorf("training.train_ratio must be in (0, 1)")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	for _, t := range c.Alerting.EscalationTransitions {
		if !strings.Contains(t, "->") {
			return fmt.Errorf("alerting.escalation_transitions: %q is not FROM->TO", t)
		}
	}
	return nil
}

// TrainingHorizons returns configured horizons or the supported defaults.
func (c *Config) TrainingHorizons() []labels.Horizon {
	if len(c.Training.Horizons) > 0 {
		return c.Training.Horizons
	}
	return labels.DefaultHorizons()
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
