// Package config loads and validates the fabric's configuration, the
// way the teacher repo's internal/config package does: a nested struct
// with mapstructure tags, viper-backed loading with environment
// variable overrides, a process-wide sync.Once singleton, and
// validator-tag enforcement of admissible ranges (spec §6).
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the recognized option set from spec §6, with defaults
// shown in that section.
type Config struct {
	Risk struct {
		MaxDrawdownPct        float64 `mapstructure:"max_drawdown_pct" validate:"gt=0,lt=1"`
		MaxDailyLossPct       float64 `mapstructure:"max_daily_loss_pct" validate:"gt=0,lt=1"`
		MaxPositions          int     `mapstructure:"max_positions" validate:"gte=1"`
		MaxCorrelation        float64 `mapstructure:"max_correlation" validate:"gt=0,le=1"`
		MaxSectorConcentration float64 `mapstructure:"max_sector_concentration" validate:"gt=0,le=1"`
		MaxLeverage           float64 `mapstructure:"max_leverage" validate:"gt=0"`
	} `mapstructure:"risk"`

	Signal struct {
		MinRR        float64 `mapstructure:"min_rr" validate:"gt=0"`
		MinMovePct   float64 `mapstructure:"min_move_pct" validate:"gt=0,lt=1"`
		MaxStopPct   float64 `mapstructure:"max_stop_pct" validate:"gt=0,lt=1"`
	} `mapstructure:"signal"`

	Position struct {
		TrailPct        float64 `mapstructure:"trail_pct" validate:"gt=0,lt=1"`
		TradeNotional   float64 `mapstructure:"trade_notional" validate:"gt=0"`
		EntryTimeoutMin int     `mapstructure:"entry_timeout_min" validate:"gt=0"`
		MaxHoldHours    int     `mapstructure:"max_hold_hours" validate:"gt=0"`
		SingleTradeMode bool    `mapstructure:"single_trade_mode"`

		// EntryRule resolves spec §9 open question (b): "immediate" uses
		// the price_ge_1.001/within-0.2% rule, "pivot_retest" uses the
		// bulletproof retest-zone rule. Configuration, not inference.
		EntryRule string `mapstructure:"entry_rule" validate:"oneof=immediate pivot_retest"`

		// SizingMode chooses between notional-based and risk-based
		// position sizing (spec §4.D "or a risk-based size").
		SizingMode    string  `mapstructure:"sizing_mode" validate:"oneof=notional risk_based"`
		RiskBudget    float64 `mapstructure:"risk_budget" validate:"gte=0"`
		MaxAccountPct float64 `mapstructure:"max_account_pct" validate:"gt=0,le=1"`

		// Target2Mode chooses the default-percent vs. risk-multiple T2
		// projection (spec §4.D "Computes target2 ... or as entry ± 2.5
		// x risk_per_share when risk-reward overrides apply").
		Target2Mode         string  `mapstructure:"target2_mode" validate:"oneof=default_pct risk_multiple"`
		Target2Pct          float64 `mapstructure:"target2_pct" validate:"gt=0,lt=1"`
		Target2RiskMultiple float64 `mapstructure:"target2_risk_multiple" validate:"gt=0"`

		// PrevCloseDropEnabled turns on the optional post-T1 exit mode
		// (spec §4.D point 5); disabled by default since it is marked
		// optional and §9(c) leaves its priority relative to trailing
		// ambiguous (resolved here as trailing-first, drop-second).
		PrevCloseDropEnabled bool    `mapstructure:"prev_close_drop_enabled"`
		PrevCloseDropPct     float64 `mapstructure:"prev_close_drop_pct" validate:"gt=0,lt=1"`
	} `mapstructure:"position"`

	Arbiter struct {
		Layer1BufferSec int `mapstructure:"layer1_buffer_sec" validate:"gt=0"`
		Layer2BatchSec  int `mapstructure:"layer2_batch_sec" validate:"gt=0"`
	} `mapstructure:"arbiter"`

	Verification struct {
		TimeoutMS       int `mapstructure:"verification_timeout_ms" validate:"gt=0"`
		RetryDelayMS    int `mapstructure:"retry_delay_ms" validate:"gt=0"`
		MaxRetryAttempts int `mapstructure:"max_retry_attempts" validate:"gte=0"`
	} `mapstructure:"verification"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	} `mapstructure:"server"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	// MarketData configures the Price Bus's default live-feed adapter
	// (internal/marketdata). FeedURL empty disables it entirely, since
	// a test or backtest deployment drives OnPrice/SubmitPriceTick
	// directly without any network feed.
	MarketData struct {
		FeedURL            string `mapstructure:"feed_url"`
		ReconnectDelayMS   int    `mapstructure:"reconnect_delay_ms" validate:"gt=0"`
	} `mapstructure:"market_data"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port" validate:"gte=0,lte=65535"`
		LogLevel       string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	} `mapstructure:"monitoring"`
}

// EntryTimeoutDuration and MaxHoldDuration convert the config's
// integer minute/hour fields (as specified in spec §6) into
// time.Duration. They are kept as plain accessors rather than custom
// unmarshalers so the mapstructure tags above stay simple integers.
func (c *Config) EntryTimeoutDuration() time.Duration {
	return time.Duration(c.Position.EntryTimeoutMin) * time.Minute
}

func (c *Config) MaxHoldDuration() time.Duration {
	return time.Duration(c.Position.MaxHoldHours) * time.Hour
}

func (c *Config) MarketDataReconnectDelay() time.Duration {
	return time.Duration(c.MarketData.ReconnectDelayMS) * time.Millisecond
}

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Load reads configuration from configPath (a directory containing
// config.yaml) plus TRADEFABRIC_-prefixed environment variables,
// applying spec §6 defaults first. It is safe to call repeatedly; the
// first call wins (sync.Once), matching the teacher's singleton.
func Load(configPath string) (*Config, error) {
	once.Do(func() {
		instance = &Config{}
		setDefaults(instance)

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/tradefabric")
		}
		v.AutomaticEnv()
		v.SetEnvPrefix("TRADEFABRIC")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				loadErr = fmt.Errorf("read config: %w", err)
				return
			}
		}
		if err := v.Unmarshal(instance); err != nil {
			loadErr = fmt.Errorf("unmarshal config: %w", err)
			return
		}
		if err := Validate(instance); err != nil {
			loadErr = err
			return
		}
	})
	return instance, loadErr
}

// Validate enforces each limit's admissible range (spec §4.B
// "Configuration validation at construction: each limit in its
// admissible range; construction fails otherwise").
func Validate(c *Config) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func setDefaults(c *Config) {
	c.Risk.MaxDrawdownPct = 0.15
	c.Risk.MaxDailyLossPct = 0.03
	c.Risk.MaxPositions = 5
	c.Risk.MaxCorrelation = 0.70
	c.Risk.MaxSectorConcentration = 0.40
	c.Risk.MaxLeverage = 2.0

	c.Signal.MinRR = 1.5
	c.Signal.MinMovePct = 0.02
	c.Signal.MaxStopPct = 0.02

	c.Position.TrailPct = 0.01
	c.Position.TradeNotional = 100000
	c.Position.EntryTimeoutMin = 30
	c.Position.MaxHoldHours = 6
	c.Position.SingleTradeMode = false
	c.Position.EntryRule = "immediate"
	c.Position.SizingMode = "notional"
	c.Position.RiskBudget = 0
	c.Position.MaxAccountPct = 0.10
	c.Position.Target2Mode = "default_pct"
	c.Position.Target2Pct = 0.03
	c.Position.Target2RiskMultiple = 2.5
	c.Position.PrevCloseDropEnabled = false
	c.Position.PrevCloseDropPct = 0.01

	c.Arbiter.Layer1BufferSec = 35
	c.Arbiter.Layer2BatchSec = 60

	c.Verification.TimeoutMS = 30000
	c.Verification.RetryDelayMS = 2000
	c.Verification.MaxRetryAttempts = 3

	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8080

	c.Database.DSN = ""

	c.MarketData.FeedURL = ""
	c.MarketData.ReconnectDelayMS = 2000

	c.Monitoring.PrometheusPort = 9090
	c.Monitoring.LogLevel = "info"
}

// NewLogger builds the zap logger the rest of the fabric is
// constructed with, matching the teacher's InitLogger.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	switch cfg.Monitoring.LogLevel {
	case "debug":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}
