// Package config loads command configuration from an optional YAML file
// overlaid with MSL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
)

// EnvPrefix prefixes every environment variable, e.g. MSL_BACKTEST_SYMBOLS.
const EnvPrefix = "MSL"

// ErrInvalidConfig is returned when the loaded configuration is unusable.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the complete command configuration.
type Config struct {
	Backtest   BacktestConfig   `yaml:"backtest" envconfig:"BACKTEST"`
	MarketData MarketDataConfig `yaml:"marketdata" envconfig:"MARKETDATA"`
	Storage    StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Metrics    MetricsConfig    `yaml:"metrics" envconfig:"METRICS"`
}

// BacktestConfig holds the walk-forward parameters.
type BacktestConfig struct {
	Symbols             []string `yaml:"symbols" envconfig:"SYMBOLS"`
	TargetSymbol        string   `yaml:"target_symbol" envconfig:"TARGET_SYMBOL"`
	TargetFeature       string   `yaml:"target_feature" envconfig:"TARGET_FEATURE"`
	DiffWindow          int      `yaml:"diff_window" envconfig:"DIFF_WINDOW"`
	DiffFunc            string   `yaml:"diff_func" envconfig:"DIFF_FUNC"`
	VarWindow           int      `yaml:"var_window" envconfig:"VAR_WINDOW"`
	VarFunc             string   `yaml:"var_func" envconfig:"VAR_FUNC"`
	ForecastHorizon     int      `yaml:"forecast_horizon" envconfig:"FORECAST_HORIZON"`
	StartDate           string   `yaml:"start_date" envconfig:"START_DATE"` // YYYY-MM-DD, empty for all rows
	MinTrainExamples    int      `yaml:"min_train_examples" envconfig:"MIN_TRAIN_EXAMPLES"`
	SparsityFilter      float64  `yaml:"sparsity_filter" envconfig:"SPARSITY_FILTER"`
	TopFeatures         int      `yaml:"top_features" envconfig:"TOP_FEATURES"`
	KNearest            int      `yaml:"k_nearest" envconfig:"K_NEAREST"`
	MaxSteps            int      `yaml:"max_steps" envconfig:"MAX_STEPS"`
	IncludeFundamentals bool     `yaml:"include_fundamentals" envconfig:"INCLUDE_FUNDAMENTALS"`
}

// MarketDataConfig configures the HTTP dataset client.
type MarketDataConfig struct {
	Endpoint    string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	AuthToken   string        `yaml:"auth_token" envconfig:"AUTH_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxRetries  int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	Parallelism int           `yaml:"parallelism" envconfig:"PARALLELISM"`
}

// StorageConfig selects the stores. UseMemory ignores both DSNs.
type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory" envconfig:"USE_MEMORY"`
	PostgresDSN   string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	ClickhouseDSN string `yaml:"clickhouse_dsn" envconfig:"CLICKHOUSE_DSN"`

	// MaxConns caps the PostgreSQL pool; zero keeps the driver default.
	MaxConns       int32         `yaml:"max_conns" envconfig:"MAX_CONNS"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// Default returns the configuration used when neither file nor environment
// sets a value.
func Default() Config {
	return Config{
		Backtest: BacktestConfig{
			TargetFeature:    "close",
			DiffWindow:       1,
			DiffFunc:         "delta",
			VarWindow:        5,
			VarFunc:          "stdev",
			ForecastHorizon:  1,
			MinTrainExamples: 10,
			SparsityFilter:   0.5,
			TopFeatures:      5,
			KNearest:         5,
		},
		MarketData: MarketDataConfig{
			Endpoint:   marketdata.DefaultEndpoint,
			Timeout:    marketdata.DefaultTimeout,
			MaxRetries: marketdata.DefaultMaxRetries,
		},
		Storage: StorageConfig{UseMemory: true},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then applies environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// unset variables leave file values in place
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that do not depend on the command being run.
func (c *Config) Validate() error {
	if c.MarketData.MaxRetries < 0 {
		return fmt.Errorf("%w: marketdata.max_retries must be >= 0", ErrInvalidConfig)
	}
	if c.MarketData.Timeout < 0 {
		return fmt.Errorf("%w: marketdata.timeout must be >= 0", ErrInvalidConfig)
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" && c.Storage.ClickhouseDSN == "" {
		return fmt.Errorf("%w: storage needs use_memory or a DSN", ErrInvalidConfig)
	}
	if c.Storage.MaxConns < 0 {
		return fmt.Errorf("%w: storage.max_conns must be >= 0", ErrInvalidConfig)
	}
	if _, err := c.Backtest.startTime(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Params converts the backtest section into run parameters. Symbols are
// normalized with domain.ParseSymbol.
func (b BacktestConfig) Params() (domain.BacktestParams, error) {
	symbols := make([]domain.Symbol, 0, len(b.Symbols))
	for _, s := range b.Symbols {
		sym, err := domain.ParseSymbol(s)
		if err != nil {
			return domain.BacktestParams{}, err
		}
		symbols = append(symbols, sym)
	}

	target, err := domain.ParseSymbol(b.TargetSymbol)
	if err != nil {
		return domain.BacktestParams{}, fmt.Errorf("target symbol: %w", err)
	}

	start, err := b.startTime()
	if err != nil {
		return domain.BacktestParams{}, err
	}

	return domain.BacktestParams{
		Symbols:             symbols,
		TargetSymbol:        target,
		TargetFeature:       b.TargetFeature,
		DiffWindow:          b.DiffWindow,
		DiffFunc:            b.DiffFunc,
		VarWindow:           b.VarWindow,
		VarFunc:             b.VarFunc,
		ForecastHorizon:     b.ForecastHorizon,
		StartTime:           start,
		MinTrainExamples:    b.MinTrainExamples,
		SparsityFilter:      b.SparsityFilter,
		TopFeatures:         b.TopFeatures,
		KNearest:            b.KNearest,
		MaxSteps:            b.MaxSteps,
		IncludeFundamentals: b.IncludeFundamentals,
	}, nil
}

func (b BacktestConfig) startTime() (domain.Timestamp, error) {
	if b.StartDate == "" {
		return 0, nil
	}
	return marketdata.CloseTimestamp(b.StartDate)
}
