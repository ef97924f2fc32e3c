// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables, and a
// remote keyed configuration table (internal/remoteconfig) optionally
// merged on top at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"arbd/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Symbol      string            `mapstructure:"symbol"`
	Maker       VenueConfig       `mapstructure:"maker"`
	Taker       VenueConfig       `mapstructure:"taker"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	RemoteConfig RemoteConfigOpts `mapstructure:"remote_config"`
	Alert       AlertConfig       `mapstructure:"alert"`
	Datalog     DatalogConfig     `mapstructure:"datalog"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// VenueConfig describes one side of the pair (maker or taker venue).
type VenueConfig struct {
	Name          string              `mapstructure:"name"`
	RESTBaseURL   string              `mapstructure:"rest_base_url"`
	WSURL         string              `mapstructure:"ws_url"`
	APIKey        string              `mapstructure:"api_key"`
	APISecret     string              `mapstructure:"api_secret"`
	BookStream    types.BookStreamMode `mapstructure:"book_stream_mode"`
	HeartbeatSec  int                 `mapstructure:"heartbeat_sec"`
	ThresholdFloorLong  string        `mapstructure:"threshold_floor_long"`
	ThresholdFloorShort string        `mapstructure:"threshold_floor_short"`
}

// StrategyConfig tunes the signal/execution behavior.
//
//   - OrderQuantity: size of each maker leg attempt.
//   - MaxPosition: per-venue position cap; no new long once maker_pos reaches it
//     (symmetric for short).
//   - ZScoreMultiplier (k): threshold aggressiveness, default 1.5.
//   - FillWaitSec (T_cancel): how long a resting maker order waits before cancel.
//   - TotalAttemptTimeoutSec: full maker->taker cycle budget, default 180.
//   - CooldownSec: sleep after each execution attempt before re-evaluating.
type StrategyConfig struct {
	OrderQuantity          string        `mapstructure:"order_quantity"`
	MaxPosition            string        `mapstructure:"max_position"`
	ZScoreMultiplier       float64       `mapstructure:"z_score_multiplier"`
	FillWaitSec            int           `mapstructure:"fill_wait_sec"`
	TotalAttemptTimeoutSec int           `mapstructure:"total_attempt_timeout_sec"`
	CooldownSec            int           `mapstructure:"cooldown_sec"`
	NoSignalSleep          time.Duration `mapstructure:"no_signal_sleep"`
	NotReadySleep          time.Duration `mapstructure:"not_ready_sleep"`
}

// StatsConfig tunes the rolling spread window and threshold recompute cadence.
type StatsConfig struct {
	WindowCapacity       int           `mapstructure:"window_capacity"`
	MinSamplesForDynamic int           `mapstructure:"min_samples_for_dynamic"`
	RecomputeInterval    time.Duration `mapstructure:"recompute_interval"`
	SuppressDelta        string        `mapstructure:"suppress_delta"`
}

// SafetyConfig governs the delta-neutral safety invariant.
type SafetyConfig struct {
	PositionEpsilon string `mapstructure:"position_epsilon"`
}

// RemoteConfigOpts points at the remote keyed configuration table.
type RemoteConfigOpts struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`
	ConfigKey string `mapstructure:"config_key"`
}

// AlertConfig configures the priority-alert sink.
type AlertConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	User     string `mapstructure:"user"`
}

// DatalogConfig configures CSV trade/BBO/spread-stats logging.
type DatalogConfig struct {
	Dir           string `mapstructure:"dir"`
	FlushInterval int    `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_MAKER_API_KEY, ARB_MAKER_API_SECRET,
// ARB_TAKER_API_KEY, ARB_TAKER_API_SECRET, ARB_REMOTE_CONFIG_TOKEN, ARB_ALERT_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("strategy.z_score_multiplier", 1.5)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_MAKER_API_KEY"); key != "" {
		cfg.Maker.APIKey = key
	}
	if key := os.Getenv("ARB_MAKER_API_SECRET"); key != "" {
		cfg.Maker.APISecret = key
	}
	if key := os.Getenv("ARB_TAKER_API_KEY"); key != "" {
		cfg.Taker.APIKey = key
	}
	if key := os.Getenv("ARB_TAKER_API_SECRET"); key != "" {
		cfg.Taker.APISecret = key
	}
	if tok := os.Getenv("ARB_REMOTE_CONFIG_TOKEN"); tok != "" {
		cfg.RemoteConfig.Token = tok
	}
	if tok := os.Getenv("ARB_ALERT_TOKEN"); tok != "" {
		cfg.Alert.Token = tok
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Maker.RESTBaseURL == "" {
		return fmt.Errorf("maker.rest_base_url is required")
	}
	if c.Taker.RESTBaseURL == "" {
		return fmt.Errorf("taker.rest_base_url is required")
	}
	switch c.Maker.BookStream {
	case types.StreamSnapshot, types.StreamDelta:
	default:
		return fmt.Errorf("maker.book_stream_mode must be %q or %q", types.StreamSnapshot, types.StreamDelta)
	}
	switch c.Taker.BookStream {
	case types.StreamSnapshot, types.StreamDelta:
	default:
		return fmt.Errorf("taker.book_stream_mode must be %q or %q", types.StreamSnapshot, types.StreamDelta)
	}
	if c.Strategy.OrderQuantity == "" {
		return fmt.Errorf("strategy.order_quantity is required")
	}
	if c.Strategy.MaxPosition == "" {
		return fmt.Errorf("strategy.max_position is required")
	}
	if c.Strategy.ZScoreMultiplier <= 0 {
		return fmt.Errorf("strategy.z_score_multiplier must be > 0")
	}
	if c.Stats.WindowCapacity <= 0 {
		return fmt.Errorf("stats.window_capacity must be > 0")
	}
	if c.Stats.MinSamplesForDynamic <= 0 {
		return fmt.Errorf("stats.min_samples_for_dynamic must be > 0")
	}
	return nil
}
