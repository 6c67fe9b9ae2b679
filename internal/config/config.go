// Package config loads the discovery service configuration from a YAML file,
// an optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Clickhouse ClickhouseConfig `yaml:"clickhouse"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Screener   ScreenerConfig   `yaml:"screener"`
	Prefilter  PrefilterConfig  `yaml:"prefilter"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	ColdTape   ColdTapeConfig   `yaml:"cold_tape"`
	Outcome    OutcomeConfig    `yaml:"outcome"`
	Provider   ProviderConfig   `yaml:"provider"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ClickhouseConfig struct {
	DSN string `yaml:"dsn"`
}

type SchedulerConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	LabelInterval time.Duration `yaml:"label_interval"`
}

// ScreenerConfig configures the external scan executable.
type ScreenerConfig struct {
	Path           string        `yaml:"path"`
	Args           []string      `yaml:"args"`
	Limit          int           `yaml:"limit"`
	Budget         time.Duration `yaml:"budget"`
	OutputPath     string        `yaml:"output_path"`
	AuthCooldown   time.Duration `yaml:"auth_cooldown"`
	ServerCooldown time.Duration `yaml:"server_cooldown"`
}

type PrefilterConfig struct {
	MinPrice         float64 `yaml:"min_price"`
	MaxPrice         float64 `yaml:"max_price"`
	MinRVOL          float64 `yaml:"min_rvol"`
	MinLiquidity     float64 `yaml:"min_liquidity"`
	TopK             int     `yaml:"top_k"`
	Enhanced         bool    `yaml:"enhanced"`
	MinShortInterest float64 `yaml:"min_short_interest"`
	FloatCap         float64 `yaml:"float_cap"`
	MinUtilization   float64 `yaml:"min_utilization"`
	MinBorrowFee     float64 `yaml:"min_borrow_fee"`
}

type EnrichConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Budget       time.Duration `yaml:"budget"`
	SafetyMargin time.Duration `yaml:"safety_margin"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffMin   time.Duration `yaml:"backoff_min"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// ScoringConfig holds composite weights and tier cut-offs.
type ScoringConfig struct {
	BaseWeight     float64 `yaml:"base_weight"`
	VolumeMomentum float64 `yaml:"volume_momentum"`
	FloatShort     float64 `yaml:"float_short"`
	Catalyst       float64 `yaml:"catalyst"`
	Sentiment      float64 `yaml:"sentiment"`
	Options        float64 `yaml:"options"`
	Technical      float64 `yaml:"technical"`
	TradeReady     int     `yaml:"trade_ready"`
	EarlyReady     int     `yaml:"early_ready"`
	Monitor        int     `yaml:"monitor"`
}

type ColdTapeConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Window          time.Duration `yaml:"window"`
	Ceiling         int           `yaml:"ceiling"`
	RSIMin          float64       `yaml:"rsi_min"`
	ATRPctMin       float64       `yaml:"atr_pct_min"`
	RelVolMin       float64       `yaml:"rel_vol_min"`
	MinSeeds        int           `yaml:"min_seeds"`
	FallbackTickers []string      `yaml:"fallback_tickers"`
}

type OutcomeConfig struct {
	HorizonDays int           `yaml:"horizon_days"`
	BatchSize   int           `yaml:"batch_size"`
	Pace        time.Duration `yaml:"pace"`
}

// ProviderConfig points enrichment at a JSON market-data gateway.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration with every built-in default applied.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{Addr: ":8080"},
		Scheduler: SchedulerConfig{
			TickInterval:  60 * time.Second,
			LabelInterval: time.Hour,
		},
		Screener: ScreenerConfig{
			Limit:          50,
			Budget:         30 * time.Second,
			OutputPath:     "data/screener_output.json",
			AuthCooldown:   5 * time.Minute,
			ServerCooldown: 2 * time.Minute,
		},
		Prefilter: PrefilterConfig{
			MinPrice:         1,
			MaxPrice:         100,
			MinRVOL:          1.5,
			MinLiquidity:     500_000,
			TopK:             15,
			MinShortInterest: 0.15,
			FloatCap:         50_000_000,
			MinUtilization:   0.85,
			MinBorrowFee:     0.20,
		},
		Enrich: EnrichConfig{
			Concurrency:  4,
			Budget:       12 * time.Second,
			SafetyMargin: 300 * time.Millisecond,
			CallTimeout:  4 * time.Second,
			MaxAttempts:  2,
			BackoffMin:   300 * time.Millisecond,
			CacheTTL:     15 * time.Minute,
		},
		Scoring: ScoringConfig{
			BaseWeight:     0.20,
			VolumeMomentum: 0.20,
			FloatShort:     0.16,
			Catalyst:       0.16,
			Sentiment:      0.12,
			Options:        0.08,
			Technical:      0.08,
			TradeReady:     75,
			EarlyReady:     65,
			Monitor:        50,
		},
		ColdTape: ColdTapeConfig{
			Enabled:   true,
			Window:    600 * time.Second,
			Ceiling:   74,
			RSIMin:    50,
			ATRPctMin: 2.0,
			RelVolMin: 1.2,
			MinSeeds:  10,
			FallbackTickers: []string{
				"SPY", "QQQ", "IWM", "AAPL", "TSLA", "AMD", "NVDA", "PLTR", "SOFI", "F",
			},
		},
		Outcome: OutcomeConfig{
			HorizonDays: 5,
			BatchSize:   200,
			Pace:        100 * time.Millisecond,
		},
		Provider: ProviderConfig{Timeout: 4 * time.Second},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Postgres.DSN, "DATABASE_URL")
	setString(&c.Clickhouse.DSN, "CLICKHOUSE_DSN")
	setString(&c.Screener.Path, "SCREENER_PATH")
	setString(&c.Provider.BaseURL, "PROVIDER_BASE_URL")
	setString(&c.Provider.APIKey, "PROVIDER_API_KEY")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Server.Addr, "HTTP_ADDR")

	if v := os.Getenv("COLD_TAPE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COLD_TAPE_ENABLED: %w", err)
		}
		c.ColdTape.Enabled = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Prefilter.MinPrice < 0 || c.Prefilter.MaxPrice < c.Prefilter.MinPrice {
		errs = append(errs, fmt.Errorf("prefilter: price band [%v, %v] is invalid", c.Prefilter.MinPrice, c.Prefilter.MaxPrice))
	}
	if c.Prefilter.TopK <= 0 {
		errs = append(errs, errors.New("prefilter: top_k must be positive"))
	}
	if c.Enrich.Concurrency <= 0 {
		errs = append(errs, errors.New("enrich: concurrency must be positive"))
	}
	if c.Enrich.Budget <= c.Enrich.SafetyMargin {
		errs = append(errs, errors.New("enrich: budget must exceed safety margin"))
	}
	s := c.Scoring
	if !(s.TradeReady > s.EarlyReady && s.EarlyReady > s.Monitor && s.Monitor > 0 && s.TradeReady <= 100) {
		errs = append(errs, fmt.Errorf("scoring: tier cut-offs %d/%d/%d must be strictly decreasing within (0, 100]",
			s.TradeReady, s.EarlyReady, s.Monitor))
	}
	if c.ColdTape.Ceiling >= s.TradeReady {
		errs = append(errs, fmt.Errorf("cold_tape: ceiling %d must stay below trade_ready %d", c.ColdTape.Ceiling, s.TradeReady))
	}
	if c.Outcome.HorizonDays <= 0 {
		errs = append(errs, errors.New("outcome: horizon_days must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
